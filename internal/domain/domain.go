package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Network identifies which chain environment a sentinel operates on.
// A sentinel's network is fixed at creation and never migrates.
type Network string

const (
	NetworkTest       Network = "test"
	NetworkProduction Network = "production"
)

// Valid reports whether the network names a known environment.
func (n Network) Valid() bool {
	return n == NetworkTest || n == NetworkProduction
}

// TokenKind identifies a supported stablecoin.
type TokenKind string

const (
	TokenUSDC TokenKind = "usdc"
	TokenUSDT TokenKind = "usdt"
)

// DefaultToken is the payment method applied when a sentinel states no
// preference. Preserved from the original product behaviour.
const DefaultToken = TokenUSDC

// Valid reports whether the token kind names a supported stablecoin.
func (k TokenKind) Valid() bool {
	return k == TokenUSDC || k == TokenUSDT
}

// Condition describes which side of the threshold fires an alert.
type Condition string

const (
	ConditionAbove Condition = "above"
	ConditionBelow Condition = "below"
)

// Valid reports whether the condition is a known comparison.
func (c Condition) Valid() bool {
	return c == ConditionAbove || c == ConditionBelow
}

// Sentinel is a configured, wallet-holding monitor that periodically pays
// for a price check. Wallet and network are immutable after creation.
type Sentinel struct {
	ID            uuid.UUID
	Name          string
	WalletAddress string
	Threshold     decimal.Decimal
	Condition     Condition
	PaymentMethod TokenKind
	Network       Network
	NotifyTarget  string
	Active        bool
	CreatedAt     time.Time
}

// PaymentPreference resolves the sentinel's stated payment method,
// falling back to the default token when unset.
func (s Sentinel) PaymentPreference() TokenKind {
	if s.PaymentMethod == "" {
		return DefaultToken
	}
	return s.PaymentMethod
}

// Validate enforces the creation-time invariants. Network and payment
// method compatibility is checked here because one stablecoin is
// production-only.
func (s Sentinel) Validate() error {
	if s.WalletAddress == "" {
		return fmt.Errorf("sentinel %s: wallet address is required", s.ID)
	}
	if !s.Threshold.IsPositive() {
		return fmt.Errorf("sentinel %s: threshold must be greater than zero", s.ID)
	}
	if !s.Condition.Valid() {
		return fmt.Errorf("sentinel %s: condition %q is not supported", s.ID, s.Condition)
	}
	if !s.Network.Valid() {
		return fmt.Errorf("sentinel %s: network %q is not supported", s.ID, s.Network)
	}
	if s.PaymentMethod != "" && !s.PaymentMethod.Valid() {
		return fmt.Errorf("sentinel %s: payment method %q is not supported", s.ID, s.PaymentMethod)
	}
	if s.Network == NetworkTest && s.PaymentMethod == TokenUSDT {
		return fmt.Errorf("sentinel %s: %s is not available on the test network", s.ID, TokenUSDT)
	}
	return nil
}

// Activity record statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ActivityRecord captures the outcome of one completed check cycle.
// Records are append-only: written exactly once per cycle, never updated.
type ActivityRecord struct {
	ID         int64
	SentinelID uuid.UUID
	Price      decimal.Decimal
	Fee        decimal.Decimal
	LatencyMS  int64
	TokenUsed  string
	TxRef      *string
	Triggered  bool
	Status     string
	Error      *string
	CreatedAt  time.Time
}
