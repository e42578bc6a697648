package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/netprofile"
)

// ProofClaim is what a caller asserts about a payment: this transaction moved
// at least this much of this token to this recipient on this network.
type ProofClaim struct {
	Network   domain.Network
	Token     domain.TokenKind
	TxRef     string
	Recipient common.Address
	Amount    decimal.Decimal
}

// ProofVerifier decides whether a payment proof is acceptable. A (false, nil)
// result means the proof is definitively invalid; an error means verification
// could not be completed and the caller should not judge the proof either way.
type ProofVerifier interface {
	Verify(ctx context.Context, claim ProofClaim) (bool, error)
}

// ChainVerifier checks proofs against chain state: the referenced transaction
// must exist, have succeeded, be recent, and contain a token Transfer to the
// expected recipient for at least the claimed amount.
type ChainVerifier struct {
	backends Backends
	resolver *netprofile.Resolver
	maxAge   uint64
	logger   zerolog.Logger
}

// NewChainVerifier builds a verifier that rejects proofs older than
// maxAgeBlocks behind the current head.
func NewChainVerifier(backends Backends, resolver *netprofile.Resolver, maxAgeBlocks uint64, logger zerolog.Logger) *ChainVerifier {
	return &ChainVerifier{
		backends: backends,
		resolver: resolver,
		maxAge:   maxAgeBlocks,
		logger:   logger.With().Str("component", "proof_verifier").Logger(),
	}
}

func (v *ChainVerifier) Verify(ctx context.Context, claim ProofClaim) (bool, error) {
	profile := v.resolver.Resolve(claim.Network)
	tok, ok := profile.Token(claim.Token)
	if !ok {
		return false, nil
	}
	hash, ok := parseTxRef(claim.TxRef)
	if !ok {
		return false, nil
	}
	atoms, err := atomsFor(claim.Amount, tok.Decimals)
	if err != nil {
		return false, nil
	}

	backend, err := v.backends.Backend(ctx, claim.Network)
	if err != nil {
		return false, fmt.Errorf("payment: backend for %s: %w", claim.Network, err)
	}
	rcpt, err := backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("payment: receipt lookup: %w", err)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return false, nil
	}

	if v.maxAge > 0 && rcpt.BlockNumber != nil {
		head, err := backend.BlockNumber(ctx)
		if err != nil {
			return false, fmt.Errorf("payment: head block: %w", err)
		}
		if mined := rcpt.BlockNumber.Uint64(); head > mined && head-mined > v.maxAge {
			v.logger.Debug().
				Str("tx", claim.TxRef).
				Uint64("mined", mined).
				Uint64("head", head).
				Msg("proof rejected: too old")
			return false, nil
		}
	}

	tokenAddr := common.HexToAddress(tok.Address)
	for _, entry := range rcpt.Logs {
		if entry == nil || entry.Address != tokenAddr {
			continue
		}
		if len(entry.Topics) != 3 || entry.Topics[0] != transferTopic {
			continue
		}
		to := common.BytesToAddress(entry.Topics[2].Bytes())
		if to != claim.Recipient {
			continue
		}
		value := new(big.Int).SetBytes(entry.Data)
		if value.Cmp(atoms) >= 0 {
			return true, nil
		}
	}
	return false, nil
}

func parseTxRef(ref string) (common.Hash, bool) {
	ref = strings.TrimSpace(ref)
	if len(ref) != 66 || !strings.HasPrefix(ref, "0x") {
		return common.Hash{}, false
	}
	for _, r := range ref[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return common.Hash{}, false
		}
	}
	return common.HexToHash(ref), true
}

// AcceptAllVerifier waves every proof through. Local development only.
type AcceptAllVerifier struct{}

func (AcceptAllVerifier) Verify(context.Context, ProofClaim) (bool, error) {
	return true, nil
}

var (
	_ ProofVerifier = (*ChainVerifier)(nil)
	_ ProofVerifier = AcceptAllVerifier{}
)
