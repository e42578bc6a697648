package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/oracle"
	"sentinel-monitor/internal/payment"
	"sentinel-monitor/internal/protocol"
)

// Fixed addresses for the simulated exchange. Nothing is signed or
// submitted; the stub payer below never touches a network.
const (
	simulateWallet    = "0x00000000000000000000000000000000DeaDBeef"
	simulateRecipient = "0x000000000000000000000000000000000000dEaD"
)

// SimulateCheck 在本地跑一次完整的 challenge → pay → retry 流程:
// 静态价格源、全收证明校验器、环回端口上的真实协议服务端。
// 不落库、不上链。
func (a *App) SimulateCheck(ctx context.Context, opts SimulateOptions) error {
	if opts.Price <= 0 || opts.Threshold <= 0 {
		return errors.New("--price 与 --threshold 必须大于 0")
	}
	condition := domain.Condition(opts.Condition)
	if !condition.Valid() {
		return fmt.Errorf("--condition must be %s or %s", domain.ConditionAbove, domain.ConditionBelow)
	}

	resolver := a.newResolver()
	server := protocol.NewServer(protocol.ServerOptions{
		Fee:       a.serverFee(),
		Recipient: simulateRecipient,
	}, resolver, oracle.NewStaticSource(decimal.NewFromFloat(opts.Price)), payment.AcceptAllVerifier{}, a.newNotifier(), a.Logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("open loopback listener: %w", err)
	}

	httpServer := &http.Server{Handler: server.Routes(), ReadHeaderTimeout: 5 * time.Second}
	go httpServer.Serve(listener)
	defer httpServer.Close()

	checker := protocol.NewClient(protocol.ClientOptions{
		BaseURL:   "http://" + listener.Addr().String(),
		Timeout:   10 * time.Second,
		UserAgent: a.Config.Checker.UserAgent,
	}, stubPayer{}, a.Logger)

	sentinel := domain.Sentinel{
		ID:            uuid.New(),
		Name:          "simulated",
		WalletAddress: simulateWallet,
		Threshold:     decimal.NewFromFloat(opts.Threshold),
		Condition:     condition,
		Network:       domain.NetworkTest,
		NotifyTarget:  opts.NotifyTarget,
	}

	result, err := checker.Check(ctx, sentinel)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "price:     %s\n", result.Price.String())
	fmt.Fprintf(os.Stdout, "threshold: %s (%s)\n", sentinel.Threshold.String(), sentinel.Condition)
	fmt.Fprintf(os.Stdout, "triggered: %t\n", result.Triggered)
	fmt.Fprintf(os.Stdout, "cost:      %s %s\n", result.Cost.String(), result.TokenUsed)
	fmt.Fprintf(os.Stdout, "tx:        %s\n", result.TxRef)
	return nil
}

// stubPayer pretends the transfer settled instantly.
type stubPayer struct{}

func (stubPayer) Pay(context.Context, payment.PayRequest) (payment.Receipt, error) {
	return payment.Receipt{
		TxHash:  fmt.Sprintf("0x%064x", time.Now().UnixNano()),
		Latency: time.Millisecond,
	}, nil
}

var _ payment.Payer = stubPayer{}
