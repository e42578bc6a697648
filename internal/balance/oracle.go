package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/chainrpc"
	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/netprofile"
)

const (
	erc20BalanceABIJSON = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	nativeDecimals = 18
)

var erc20BalanceABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 balance ABI: " + err.Error())
	}
	erc20BalanceABI = parsed
}

// Source is the read-only balance contract consumed by the payment executor.
// An error means the balance is unknown, not zero.
type Source interface {
	Native(ctx context.Context, network domain.Network, address string) (decimal.Decimal, error)
	Token(ctx context.Context, network domain.Network, address string, kind domain.TokenKind) (decimal.Decimal, error)
}

// Options parameterise the on-chain balance oracle.
type Options struct {
	Timeout time.Duration
}

// Oracle queries native and stablecoin balances over the shared RPC dialer.
type Oracle struct {
	dialer   *chainrpc.Dialer
	resolver *netprofile.Resolver
	opts     Options
	logger   zerolog.Logger
}

// NewOracle builds a balance oracle.
func NewOracle(dialer *chainrpc.Dialer, resolver *netprofile.Resolver, opts Options, logger zerolog.Logger) *Oracle {
	return &Oracle{
		dialer:   dialer,
		resolver: resolver,
		opts:     opts,
		logger:   logger.With().Str("component", "balance_oracle").Logger(),
	}
}

// Native returns the wallet's native coin balance in whole units.
func (o *Oracle) Native(ctx context.Context, network domain.Network, address string) (decimal.Decimal, error) {
	if address == "" {
		return decimal.Decimal{}, fmt.Errorf("wallet address is required")
	}

	ctx, cancel := o.withTimeout(ctx, network)
	defer cancel()

	client, err := o.dialer.Client(ctx, network)
	if err != nil {
		return decimal.Decimal{}, err
	}

	wei, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Decimal{}, chainrpc.Unavailable(fmt.Errorf("native balance of %s: %w", address, err))
	}

	return decimal.NewFromBigInt(wei, -nativeDecimals), nil
}

// Token returns the wallet's balance of the given stablecoin in whole units.
func (o *Oracle) Token(ctx context.Context, network domain.Network, address string, kind domain.TokenKind) (decimal.Decimal, error) {
	if address == "" {
		return decimal.Decimal{}, fmt.Errorf("wallet address is required")
	}

	profile := o.resolver.Resolve(network)
	tok, ok := profile.Token(kind)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("token %s is not available on %s network", kind, network)
	}

	ctx, cancel := o.withTimeout(ctx, network)
	defer cancel()

	client, err := o.dialer.Client(ctx, network)
	if err != nil {
		return decimal.Decimal{}, err
	}

	payload, err := erc20BalanceABI.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return decimal.Decimal{}, err
	}

	contract := common.HexToAddress(tok.Address)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, chainrpc.Unavailable(fmt.Errorf("%s balance of %s: %w", kind, address, err))
	}

	outputs, err := erc20BalanceABI.Unpack("balanceOf", res)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode balanceOf response: %w", err)
	}
	if len(outputs) != 1 {
		return decimal.Decimal{}, fmt.Errorf("unexpected balanceOf response shape")
	}

	atoms, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("failed to decode balanceOf output")
	}

	return decimal.NewFromBigInt(atoms, -tok.Decimals), nil
}

func (o *Oracle) withTimeout(ctx context.Context, network domain.Network) (context.Context, context.CancelFunc) {
	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = o.resolver.Resolve(network).RequestTimeout
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

var _ Source = (*Oracle)(nil)
