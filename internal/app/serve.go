package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/chainrpc"
	"sentinel-monitor/internal/oracle"
	"sentinel-monitor/internal/payment"
	"sentinel-monitor/internal/protocol"
)

// Serve runs the payment-gated check endpoint until the process is signalled.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Server.Recipient == "" {
		return errors.New("server.recipient is required: payments need somewhere to go")
	}

	resolver := a.newResolver()
	dialer := chainrpc.NewDialer(resolver, a.Logger)
	defer dialer.Close()

	prices, err := a.newPriceSource()
	if err != nil {
		return err
	}

	var verifier payment.ProofVerifier
	if a.Config.Server.InsecureAcceptAll {
		a.Logger.Warn().Msg("proof verification disabled (server.insecure_accept_all); development only")
		verifier = payment.AcceptAllVerifier{}
	} else {
		verifier = payment.NewChainVerifier(
			payment.DialerBackends{Dialer: dialer},
			resolver,
			a.Config.Server.ProofMaxAgeBlocks,
			a.Logger,
		)
	}

	server := protocol.NewServer(protocol.ServerOptions{
		ListenAddr: a.Config.Server.ListenAddr,
		Fee:        a.serverFee(),
		Recipient:  a.Config.Server.Recipient,
	}, resolver, prices, verifier, a.newNotifier(), a.Logger)

	httpServer := server.HTTPServer()
	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.Config.Server.ListenAddr).Msg("check endpoint listening")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("check endpoint: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown check endpoint: %w", err)
	}
	a.Logger.Info().Msg("check endpoint stopped")
	return nil
}

func (a *App) newPriceSource() (oracle.PriceSource, error) {
	if a.Config.Oracle.StaticPrice > 0 {
		return oracle.NewStaticSource(decimal.NewFromFloat(a.Config.Oracle.StaticPrice)), nil
	}
	if a.Config.Oracle.BaseURL == "" {
		return nil, errors.New("oracle.base_url is required (or set oracle.static_price for dev)")
	}
	return oracle.NewHTTPSource(oracle.HTTPOptions{
		BaseURL:   a.Config.Oracle.BaseURL,
		Timeout:   a.Config.Oracle.RequestTimeout,
		UserAgent: a.Config.Oracle.UserAgent,
	}, a.Logger), nil
}
