package storage

import (
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/domain"
)

// SentinelFilter narrows sentinel listings. Nil fields match everything.
type SentinelFilter struct {
	Active  *bool
	Network *domain.Network
}

// SentinelPatch applies a partial update. Wallet address and network are
// immutable after creation and deliberately have no patch fields.
type SentinelPatch struct {
	Name          *string
	Threshold     *decimal.Decimal
	Condition     *domain.Condition
	PaymentMethod *domain.TokenKind
	NotifyTarget  *string
	Active        *bool
}
