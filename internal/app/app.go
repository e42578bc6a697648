package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/activity"
	"sentinel-monitor/internal/alerting"
	"sentinel-monitor/internal/balance"
	"sentinel-monitor/internal/chainrpc"
	"sentinel-monitor/internal/config"
	"sentinel-monitor/internal/netprofile"
	"sentinel-monitor/internal/payment"
	"sentinel-monitor/internal/protocol"
	"sentinel-monitor/internal/scheduler"
	"sentinel-monitor/internal/service"
	"sentinel-monitor/internal/storage"
	"sentinel-monitor/internal/wallet"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newResolver() *netprofile.Resolver {
	test, production := a.Config.NetworkProfiles()
	return netprofile.NewResolver(test, production)
}

func (a *App) newChecker(resolver *netprofile.Resolver, dialer *chainrpc.Dialer) (protocol.Checker, error) {
	custody, err := wallet.NewLocalCustody(a.Config.Wallet.Keys)
	if err != nil {
		return nil, fmt.Errorf("load wallet keys: %w", err)
	}

	balances := balance.NewOracle(dialer, resolver, balance.Options{}, a.Logger)
	payer := payment.NewExecutor(payment.DialerBackends{Dialer: dialer}, balances, custody, resolver, a.Logger)

	return protocol.NewClient(protocol.ClientOptions{
		BaseURL:   a.Config.Checker.BaseURL,
		Timeout:   a.Config.Checker.RequestTimeout,
		UserAgent: a.Config.Checker.UserAgent,
	}, payer, a.Logger), nil
}

func (a *App) newNotifier() alerting.Notifier {
	return alerting.NewWebhookNotifier(a.Config.Notify.Timeout, a.Config.Notify.UserAgent, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring daemon: one periodic check loop
// per active sentinel until the process receives a stop signal.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the monitor needs the sentinel store")
	}
	defer closeStore()

	unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Scheduler.AdvisoryLockKey)
	if err != nil {
		return fmt.Errorf("acquire monitor lock: %w", err)
	}
	if !acquired {
		return errors.New("another monitor instance holds the ledger lock")
	}
	defer unlock()

	resolver := a.newResolver()
	dialer := chainrpc.NewDialer(resolver, a.Logger)
	defer dialer.Close()

	checker, err := a.newChecker(resolver, dialer)
	if err != nil {
		return err
	}

	sink := activity.NewRecorder(store, 5*time.Second, a.Logger)
	svc := service.New(checker, sink, a.Logger)
	notifier := a.newNotifier()

	mgr := scheduler.NewManager(scheduler.Options{
		Interval:           a.Config.Scheduler.Interval,
		Mode:               scheduler.Mode(a.Config.Scheduler.Mode),
		PauseOnRecordError: a.Config.Scheduler.PauseOnRecordError,
	}, svc, store, notifier, a.Logger)

	active := true
	sentinels, err := store.ListSentinels(ctx, storage.SentinelFilter{Active: &active})
	if err != nil {
		return fmt.Errorf("list active sentinels: %w", err)
	}
	if len(sentinels) == 0 {
		a.Logger.Warn().Msg("no active sentinels configured; monitor idles until restarted")
	}

	for _, snt := range sentinels {
		if err := snt.Validate(); err != nil {
			a.Logger.Error().Err(err).Str("sentinel", snt.ID.String()).Msg("skipping invalid sentinel")
			continue
		}
		if err := mgr.Start(ctx, snt); err != nil {
			a.Logger.Error().Err(err).Str("sentinel", snt.ID.String()).Msg("failed to start sentinel loop")
		}
	}

	a.Logger.Info().Int("sentinels", mgr.Len()).Msg("monitoring started")
	<-ctx.Done()

	a.Logger.Info().Msg("shutting down sentinel loops")
	mgr.StopAll()
	a.Logger.Info().Msg("monitor stopped")
	return nil
}

func (a *App) serverFee() decimal.Decimal {
	return decimal.NewFromFloat(a.Config.Server.Fee)
}

// ExportOptions hold parameters for exporting a sentinel's activity history.
type ExportOptions struct {
	SentinelID string
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	SentinelID string
	Limit      int
}

// AgentsOptions configure the agents listing.
type AgentsOptions struct {
	ActiveOnly bool
}

// SimulateOptions configure a one-off check against static collaborators.
type SimulateOptions struct {
	Price        float64
	Threshold    float64
	Condition    string
	NotifyTarget string
}
