package netprofile

import (
	"time"

	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/domain"
)

// Token describes one accepted stablecoin contract on a network.
type Token struct {
	Address  string
	Decimals int32
}

// Profile carries the per-network parameters that differ between the test
// and production environments. Profiles are read-only after process start.
type Profile struct {
	Network        domain.Network
	RPCURL         string
	ChainID        int64
	Tokens         map[domain.TokenKind]Token
	PaymentCeiling decimal.Decimal
	LowBalanceWarn decimal.Decimal
	ConfirmTimeout time.Duration
	GasLimit       uint64
	RequestTimeout time.Duration
}

// tokenOrder fixes the deterministic ordering of accepted tokens: the first
// entry doubles as the default payment method offered to clients.
var tokenOrder = []domain.TokenKind{domain.TokenUSDC, domain.TokenUSDT}

// AcceptedTokens lists the stablecoins this network settles in. Test
// networks carry exactly one entry, production carries two.
func (p Profile) AcceptedTokens() []domain.TokenKind {
	accepted := make([]domain.TokenKind, 0, len(p.Tokens))
	for _, kind := range tokenOrder {
		if _, ok := p.Tokens[kind]; ok {
			accepted = append(accepted, kind)
		}
	}
	return accepted
}

// Token returns the contract parameters for kind, and whether the network
// accepts it at all.
func (p Profile) Token(kind domain.TokenKind) (Token, bool) {
	tok, ok := p.Tokens[kind]
	return tok, ok
}

// Resolver maps a sentinel's network to its static profile. Pure lookup,
// no state, safe for concurrent use.
type Resolver struct {
	profiles map[domain.Network]Profile
}

// NewResolver builds a resolver from the two configured profiles.
func NewResolver(test, production Profile) *Resolver {
	test.Network = domain.NetworkTest
	production.Network = domain.NetworkProduction
	return &Resolver{profiles: map[domain.Network]Profile{
		domain.NetworkTest:       test,
		domain.NetworkProduction: production,
	}}
}

// Resolve returns the profile for network. Unknown or empty networks fall
// back to the default test profile rather than failing.
func (r *Resolver) Resolve(network domain.Network) Profile {
	if r != nil {
		if profile, ok := r.profiles[network]; ok {
			return profile
		}
		if profile, ok := r.profiles[domain.NetworkTest]; ok {
			return profile
		}
	}
	return DefaultTestProfile()
}

// DefaultTestProfile is the built-in fallback used when no network
// configuration is present at all.
func DefaultTestProfile() Profile {
	return Profile{
		Network: domain.NetworkTest,
		RPCURL:  "https://sepolia.base.org",
		ChainID: 84532,
		Tokens: map[domain.TokenKind]Token{
			domain.TokenUSDC: {Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: 6},
		},
		PaymentCeiling: decimal.NewFromInt(1),
		LowBalanceWarn: decimal.RequireFromString("0.05"),
		ConfirmTimeout: 90 * time.Second,
		GasLimit:       80_000,
		RequestTimeout: 10 * time.Second,
	}
}
