package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrUnknownWallet indicates custody holds no key for the requested address.
var ErrUnknownWallet = errors.New("wallet: no key for address")

// Custody supplies signing capability for a sentinel's wallet address.
// Key material never leaves the implementation.
type Custody interface {
	SignerFor(wallet common.Address, chainID *big.Int) (bind.SignerFn, error)
}

// LocalCustody keeps hex-encoded private keys in memory, indexed by their
// derived address. Suitable for single-process deployments; hosted custody
// sits behind the same interface.
type LocalCustody struct {
	keys map[common.Address]*ecdsa.PrivateKey
}

// NewLocalCustody parses the provided hex keys and indexes them by address.
func NewLocalCustody(hexKeys []string) (*LocalCustody, error) {
	keys := make(map[common.Address]*ecdsa.PrivateKey, len(hexKeys))
	for i, raw := range hexKeys {
		cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
		if cleaned == "" {
			continue
		}
		key, err := crypto.HexToECDSA(cleaned)
		if err != nil {
			return nil, fmt.Errorf("parse custody key %d: %w", i, err)
		}
		keys[crypto.PubkeyToAddress(key.PublicKey)] = key
	}
	return &LocalCustody{keys: keys}, nil
}

// Addresses lists every wallet this custody can sign for.
func (c *LocalCustody) Addresses() []common.Address {
	out := make([]common.Address, 0, len(c.keys))
	for addr := range c.keys {
		out = append(out, addr)
	}
	return out
}

// SignerFor returns a signer bound to the wallet and chain. The signer
// refuses to sign for any other address.
func (c *LocalCustody) SignerFor(wallet common.Address, chainID *big.Int) (bind.SignerFn, error) {
	key, ok := c.keys[wallet]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, wallet.Hex())
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("wallet: chain id is required to sign")
	}

	signer := types.LatestSignerForChainID(chainID)
	return func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
		if addr != wallet {
			return nil, fmt.Errorf("wallet: signer bound to %s, asked to sign for %s", wallet.Hex(), addr.Hex())
		}
		return types.SignTx(tx, signer, key)
	}, nil
}

var _ Custody = (*LocalCustody)(nil)
