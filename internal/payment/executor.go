package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/balance"
	"sentinel-monitor/internal/chainrpc"
	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/netprofile"
	"sentinel-monitor/internal/wallet"
)

var (
	// ErrInsufficientFunds indicates the wallet cannot cover the fee (or the
	// gas to move it). The scheduler pauses a sentinel on this error.
	ErrInsufficientFunds = errors.New("payment: insufficient funds")

	// ErrCeilingExceeded indicates the requested fee is above the per-payment
	// ceiling for the network. Nothing is submitted.
	ErrCeilingExceeded = errors.New("payment: fee exceeds ceiling")

	// ErrConfirmTimeout indicates the transfer was submitted but no receipt
	// arrived within the confirmation window. The charge may still land.
	ErrConfirmTimeout = errors.New("payment: confirmation timed out")

	// ErrTransferReverted indicates the transfer was mined but reverted.
	ErrTransferReverted = errors.New("payment: transfer reverted")
)

// erc20ABIJSON carries the minimal ERC-20 surface the executor and verifier
// need: the transfer method and the Transfer event.
const erc20ABIJSON = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

var (
	erc20ABI      abi.ABI
	transferTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	erc20ABI = parsed
	transferTopic = erc20ABI.Events["Transfer"].ID
}

// Backend is the subset of an Ethereum client the executor needs to submit
// and confirm a transfer.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Backends resolves a Backend per network.
type Backends interface {
	Backend(ctx context.Context, network domain.Network) (Backend, error)
}

// DialerBackends adapts the shared RPC dialer to the Backends interface.
type DialerBackends struct {
	Dialer *chainrpc.Dialer
}

func (d DialerBackends) Backend(ctx context.Context, network domain.Network) (Backend, error) {
	return d.Dialer.Client(ctx, network)
}

// PayRequest describes one stablecoin transfer.
type PayRequest struct {
	Wallet    common.Address
	Recipient common.Address
	Amount    decimal.Decimal
	Token     domain.TokenKind
	Network   domain.Network
}

// Receipt reports a settled transfer. TxHash is set as soon as the
// transaction is accepted by the node, so callers can record the charge even
// when confirmation later fails.
type Receipt struct {
	TxHash  string
	GasUsed uint64
	Latency time.Duration
}

// Payer executes confirmed stablecoin transfers.
type Payer interface {
	Pay(ctx context.Context, req PayRequest) (Receipt, error)
}

// Executor moves stablecoins on behalf of sentinel wallets. Every transfer is
// checked against the network's payment ceiling and the wallet's balances
// before anything is signed or submitted.
type Executor struct {
	backends Backends
	balances balance.Source
	custody  wallet.Custody
	resolver *netprofile.Resolver
	logger   zerolog.Logger
}

const receiptPollInterval = 2 * time.Second

func NewExecutor(backends Backends, balances balance.Source, custody wallet.Custody, resolver *netprofile.Resolver, logger zerolog.Logger) *Executor {
	return &Executor{
		backends: backends,
		balances: balances,
		custody:  custody,
		resolver: resolver,
		logger:   logger.With().Str("component", "payment").Logger(),
	}
}

// Pay submits an ERC-20 transfer and waits for its receipt. It never submits
// when the amount is above the network ceiling or the wallet balance cannot
// cover it. A non-empty Receipt.TxHash alongside an error means the transfer
// was submitted but not confirmed; the charge may have landed.
func (e *Executor) Pay(ctx context.Context, req PayRequest) (Receipt, error) {
	if !req.Amount.IsPositive() {
		return Receipt{}, fmt.Errorf("payment: amount must be positive, got %s", req.Amount)
	}
	if req.Recipient == (common.Address{}) {
		return Receipt{}, fmt.Errorf("payment: recipient address is required")
	}

	profile := e.resolver.Resolve(req.Network)
	tok, ok := profile.Token(req.Token)
	if !ok {
		return Receipt{}, fmt.Errorf("payment: token %s not supported on %s", req.Token, req.Network)
	}
	atoms, err := atomsFor(req.Amount, tok.Decimals)
	if err != nil {
		return Receipt{}, err
	}

	// Ceiling gate. Runs before any RPC so a hostile fee can never trigger
	// an oversized transfer.
	if req.Amount.GreaterThan(profile.PaymentCeiling) {
		return Receipt{}, fmt.Errorf("%w: fee %s > ceiling %s on %s",
			ErrCeilingExceeded, req.Amount, profile.PaymentCeiling, req.Network)
	}

	tokenBal, err := e.balances.Token(ctx, req.Network, req.Wallet.Hex(), req.Token)
	if err != nil {
		return Receipt{}, fmt.Errorf("payment: read %s balance: %w", req.Token, err)
	}
	if tokenBal.LessThan(req.Amount) {
		return Receipt{}, fmt.Errorf("%w: %s balance %s < fee %s",
			ErrInsufficientFunds, req.Token, tokenBal, req.Amount)
	}

	backend, err := e.backends.Backend(ctx, req.Network)
	if err != nil {
		return Receipt{}, fmt.Errorf("payment: backend for %s: %w", req.Network, err)
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return Receipt{}, chainrpc.Unavailable(fmt.Errorf("suggest gas price: %w", err))
	}
	gasCost := decimal.NewFromBigInt(new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(profile.GasLimit)), -18)
	nativeBal, err := e.balances.Native(ctx, req.Network, req.Wallet.Hex())
	if err != nil {
		return Receipt{}, fmt.Errorf("payment: read native balance: %w", err)
	}
	if nativeBal.LessThan(gasCost) {
		return Receipt{}, fmt.Errorf("%w: native balance %s < estimated gas %s",
			ErrInsufficientFunds, nativeBal, gasCost)
	}

	nonce, err := backend.PendingNonceAt(ctx, req.Wallet)
	if err != nil {
		return Receipt{}, chainrpc.Unavailable(fmt.Errorf("pending nonce: %w", err))
	}
	calldata, err := erc20ABI.Pack("transfer", req.Recipient, atoms)
	if err != nil {
		return Receipt{}, fmt.Errorf("payment: pack transfer: %w", err)
	}

	sign, err := e.custody.SignerFor(req.Wallet, new(big.Int).SetInt64(profile.ChainID))
	if err != nil {
		return Receipt{}, err
	}
	tokenAddr := common.HexToAddress(tok.Address)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &tokenAddr,
		Value:    big.NewInt(0),
		Gas:      profile.GasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := sign(req.Wallet, tx)
	if err != nil {
		return Receipt{}, fmt.Errorf("payment: sign transfer: %w", err)
	}

	started := time.Now()
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return Receipt{}, chainrpc.Unavailable(fmt.Errorf("send transfer: %w", err))
	}
	rcpt := Receipt{TxHash: signed.Hash().Hex()}

	e.logger.Debug().
		Str("tx", rcpt.TxHash).
		Str("wallet", req.Wallet.Hex()).
		Str("token", string(req.Token)).
		Str("amount", req.Amount.String()).
		Str("network", string(req.Network)).
		Msg("transfer submitted")

	mined, err := e.waitMined(ctx, backend, signed.Hash(), profile.ConfirmTimeout)
	if err != nil {
		return rcpt, err
	}
	rcpt.GasUsed = mined.GasUsed
	rcpt.Latency = time.Since(started)
	if mined.Status != types.ReceiptStatusSuccessful {
		return rcpt, fmt.Errorf("%w: tx %s", ErrTransferReverted, rcpt.TxHash)
	}

	if remaining := tokenBal.Sub(req.Amount); remaining.LessThan(profile.LowBalanceWarn) {
		e.logger.Warn().
			Str("wallet", req.Wallet.Hex()).
			Str("token", string(req.Token)).
			Str("remaining", remaining.String()).
			Str("network", string(req.Network)).
			Msg("wallet balance below warning level")
	}
	return rcpt, nil
}

// waitMined polls for the transaction receipt until the confirmation window
// closes. Transient lookup errors are tolerated; the deadline is the only
// hard stop.
func (e *Executor) waitMined(ctx context.Context, backend Backend, hash common.Hash, window time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		mined, err := backend.TransactionReceipt(waitCtx, hash)
		if err == nil {
			return mined, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			e.logger.Debug().Err(err).Str("tx", hash.Hex()).Msg("receipt lookup failed, retrying")
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: tx %s after %s", ErrConfirmTimeout, hash.Hex(), window)
		case <-ticker.C:
		}
	}
}

// atomsFor converts a human token amount into on-chain integer units.
func atomsFor(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("payment: amount %s has more precision than the token's %d decimals", amount, decimals)
	}
	return shifted.BigInt(), nil
}

var _ Payer = (*Executor)(nil)
