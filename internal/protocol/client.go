package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/payment"
)

// State tracks where a check exchange is in its lifecycle.
type State int

const (
	StateInit State = iota
	StateRequestSent
	StateChallenged
	StatePaying
	StatePaidRetrySent
	StateSettled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRequestSent:
		return "REQUEST_SENT"
	case StateChallenged:
		return "CHALLENGED"
	case StatePaying:
		return "PAYING"
	case StatePaidRetrySent:
		return "PAID_RETRY_SENT"
	case StateSettled:
		return "SETTLED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// ErrVerificationRejected indicates the server refused the payment proof and
// issued a fresh challenge. The exchange performs one pay-then-retry cycle
// only; whether to try again is the caller's decision.
var ErrVerificationRejected = errors.New("protocol: payment proof rejected")

// Result reports one completed (or failed) check exchange. When payment was
// attempted, Cost and TxRef stay populated on failure so the charge is never
// silently lost.
type Result struct {
	State            State
	Price            decimal.Decimal
	Triggered        bool
	Cost             decimal.Decimal
	TokenUsed        domain.TokenKind
	TxRef            string
	Latency          time.Duration
	Timestamp        time.Time
	PaymentAttempted bool
}

// Checker runs one paid price check for a sentinel.
type Checker interface {
	Check(ctx context.Context, s domain.Sentinel) (Result, error)
}

// ClientOptions parameterise the protocol client.
type ClientOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client drives the payment-gated exchange: request, receive a challenge,
// pay, retry with proof, settle.
type Client struct {
	opts    ClientOptions
	payer   payment.Payer
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewClient constructs a protocol client.
func NewClient(opts ClientOptions, payer payment.Payer, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		opts:    opts,
		payer:   payer,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logger.With().Str("component", "protocol_client").Logger(),
	}
}

// Check runs the full exchange for one sentinel. The loop below is the
// protocol's state machine; every transition is explicit so the
// re-challenge-vs-hard-fail distinction stays visible.
func (c *Client) Check(ctx context.Context, s domain.Sentinel) (Result, error) {
	started := time.Now()
	res := Result{State: StateInit}
	req := NewCheckRequest(s)

	fail := func(err error) (Result, error) {
		from := res.State
		res.State = StateFailed
		res.Latency = time.Since(started)
		return res, fmt.Errorf("check failed in %s: %w", from, err)
	}

	var challenge Challenge
	for {
		switch res.State {
		case StateInit:
			res.State = StateRequestSent
			status, body, err := c.post(ctx, req)
			if err != nil {
				return fail(err)
			}
			switch status {
			case http.StatusPaymentRequired:
				if err := json.Unmarshal(body, &challenge); err != nil {
					return fail(fmt.Errorf("parse challenge: %w", err))
				}
				res.State = StateChallenged
			case http.StatusOK:
				// Free settle. Not part of the paid flow but a valid
				// terminal response.
				if err := c.settle(&res, body); err != nil {
					return fail(err)
				}
				res.Latency = time.Since(started)
				return res, nil
			default:
				return fail(serverError(status, body))
			}

		case StateChallenged:
			token, err := selectToken(s, challenge)
			if err != nil {
				return fail(err)
			}
			if !common.IsHexAddress(challenge.Recipient) {
				return fail(fmt.Errorf("challenge recipient %q is not an address", challenge.Recipient))
			}
			if !common.IsHexAddress(s.WalletAddress) {
				return fail(fmt.Errorf("sentinel wallet %q is not an address", s.WalletAddress))
			}

			res.State = StatePaying
			res.PaymentAttempted = true
			res.TokenUsed = token

			rcpt, err := c.payer.Pay(ctx, payment.PayRequest{
				Wallet:    common.HexToAddress(s.WalletAddress),
				Recipient: common.HexToAddress(challenge.Recipient),
				Amount:    challenge.Amount,
				Token:     token,
				Network:   s.Network,
			})
			if rcpt.TxHash != "" {
				// Submitted. The charge is real even if confirmation failed.
				res.TxRef = rcpt.TxHash
				res.Cost = challenge.Amount
			}
			if err != nil {
				return fail(err)
			}

			req.PaymentProof = rcpt.TxHash
			req.TokenUsed = string(token)
			res.State = StatePaidRetrySent

		case StatePaidRetrySent:
			status, body, err := c.post(ctx, req)
			if err != nil {
				return fail(err)
			}
			switch status {
			case http.StatusOK:
				if err := c.settle(&res, body); err != nil {
					return fail(err)
				}
				res.Latency = time.Since(started)
				return res, nil
			case http.StatusPaymentRequired:
				// A fresh challenge after paying means the proof was
				// rejected. One pay-retry cycle only: surface it.
				return fail(ErrVerificationRejected)
			default:
				return fail(serverError(status, body))
			}

		default:
			return fail(fmt.Errorf("unexpected state %s", res.State))
		}
	}
}

func (c *Client) settle(res *Result, body []byte) error {
	var settled SettledResponse
	if err := json.Unmarshal(body, &settled); err != nil {
		return fmt.Errorf("parse settled response: %w", err)
	}
	res.State = StateSettled
	res.Price = settled.Price
	res.Triggered = settled.Triggered
	res.Timestamp = settled.Timestamp
	if settled.TokenUsed != "" {
		res.TokenUsed = domain.TokenKind(settled.TokenUsed)
	}
	if settled.TransactionReference != "" {
		res.TxRef = settled.TransactionReference
	}
	if !settled.Cost.IsZero() {
		res.Cost = settled.Cost
	}
	return nil
}

func (c *Client) post(ctx context.Context, req CheckRequest) (int, []byte, error) {
	if c.baseURL == "" {
		return 0, nil, errors.New("check endpoint base url required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal check request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+CheckPath, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		httpReq.Header.Set("User-Agent", ua)
	} else {
		httpReq.Header.Set("User-Agent", "sentinel-monitor/1.0")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}

// selectToken picks the payment token. A single-token challenge (test
// networks) forces that token regardless of the sentinel's preference;
// otherwise the preference wins when accepted, falling back to the first
// accepted token.
func selectToken(s domain.Sentinel, ch Challenge) (domain.TokenKind, error) {
	if len(ch.AcceptedTokens) == 0 {
		return "", errors.New("challenge carries no accepted tokens")
	}
	if len(ch.AcceptedTokens) == 1 {
		return domain.TokenKind(ch.AcceptedTokens[0]), nil
	}
	pref := string(s.PaymentPreference())
	for _, tok := range ch.AcceptedTokens {
		if tok == pref {
			return domain.TokenKind(tok), nil
		}
	}
	return domain.TokenKind(ch.AcceptedTokens[0]), nil
}

func serverError(status int, body []byte) error {
	var reply struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &reply); err == nil && reply.Error != "" {
		return fmt.Errorf("check endpoint error (%d): %s", status, reply.Error)
	}
	if len(body) > 0 {
		return fmt.Errorf("check endpoint error (%d): %s", status, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("check endpoint error (%d)", status)
}

var _ Checker = (*Client)(nil)
