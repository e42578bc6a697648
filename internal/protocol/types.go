package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/domain"
)

// CheckPath is the payment-gated price check endpoint.
const CheckPath = "/v1/check"

// CheckRequest carries the sentinel's full configuration. On the paid retry
// it additionally carries the payment proof and the token that was used.
type CheckRequest struct {
	SentinelID    string          `json:"sentinelId"`
	Name          string          `json:"name,omitempty"`
	WalletAddress string          `json:"walletAddress"`
	Threshold     decimal.Decimal `json:"threshold"`
	Condition     string          `json:"condition"`
	Network       string          `json:"network"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	NotifyTarget  string          `json:"notifyTarget,omitempty"`

	PaymentProof string `json:"paymentProof,omitempty"`
	TokenUsed    string `json:"tokenUsed,omitempty"`
}

// NewCheckRequest builds the wire request for a sentinel.
func NewCheckRequest(s domain.Sentinel) CheckRequest {
	return CheckRequest{
		SentinelID:    s.ID.String(),
		Name:          s.Name,
		WalletAddress: s.WalletAddress,
		Threshold:     s.Threshold,
		Condition:     string(s.Condition),
		Network:       string(s.Network),
		PaymentMethod: string(s.PaymentMethod),
		NotifyTarget:  s.NotifyTarget,
	}
}

// Sentinel reconstructs the domain object the request describes.
func (r CheckRequest) Sentinel() (domain.Sentinel, error) {
	id := uuid.Nil
	if r.SentinelID != "" {
		parsed, err := uuid.Parse(r.SentinelID)
		if err != nil {
			return domain.Sentinel{}, fmt.Errorf("parse sentinel id: %w", err)
		}
		id = parsed
	}
	return domain.Sentinel{
		ID:            id,
		Name:          r.Name,
		WalletAddress: r.WalletAddress,
		Threshold:     r.Threshold,
		Condition:     domain.Condition(r.Condition),
		PaymentMethod: domain.TokenKind(r.PaymentMethod),
		Network:       domain.Network(r.Network),
		NotifyTarget:  r.NotifyTarget,
	}, nil
}

// Challenge is the payment-required response. It is ephemeral: generated per
// request and never persisted or reused.
type Challenge struct {
	Amount         decimal.Decimal `json:"amount"`
	Recipient      string          `json:"recipient"`
	AcceptedTokens []string        `json:"acceptedTokens"`
}

// SettledResponse returns the price data once the payment proof is accepted.
type SettledResponse struct {
	Price                decimal.Decimal `json:"price"`
	Triggered            bool            `json:"triggered"`
	Cost                 decimal.Decimal `json:"cost"`
	TokenUsed            string          `json:"tokenUsed"`
	TransactionReference string          `json:"transactionReference"`
	Timestamp            time.Time       `json:"timestamp"`
}
