package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sentinel-monitor/internal/activity"
	"sentinel-monitor/internal/alerting"
	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/payment"
	"sentinel-monitor/internal/storage"
)

// CycleRunner executes one paid check cycle for a sentinel.
type CycleRunner interface {
	RunCycle(ctx context.Context, s domain.Sentinel) error
}

// Mode selects the exclusivity policy applied when a loop starts.
type Mode string

const (
	// ModeMulti runs any number of sentinel loops side by side.
	ModeMulti Mode = "multi"
	// ModeSingle keeps at most one loop alive: starting a sentinel stops
	// and durably deactivates whichever one was running before it.
	ModeSingle Mode = "single"
)

// Valid reports whether the mode names a known policy.
func (m Mode) Valid() bool {
	return m == ModeMulti || m == ModeSingle
}

// Options tune loop behaviour.
type Options struct {
	Interval time.Duration
	Mode     Mode
	// PauseOnRecordError escalates a failed ledger write to an auto-pause
	// instead of a log line.
	PauseOnRecordError bool
}

// Manager owns one periodic loop per active sentinel, keyed by sentinel ID.
// Loops share no state with each other; a slow cycle for one sentinel never
// delays another's tick. Within a loop, cycles run strictly sequentially.
//
// The Manager is the only component that pauses a sentinel: on a cycle error
// that wraps payment.ErrInsufficientFunds it cancels the loop, flips the
// durable active flag off, and emits a pause notice. Every other cycle error
// is logged and the loop keeps its cadence.
type Manager struct {
	opts      Options
	runner    CycleRunner
	sentinels storage.SentinelStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	mu    sync.Mutex
	loops map[uuid.UUID]*loop
}

type loop struct {
	sentinel domain.Sentinel
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewManager constructs a loop manager. sentinels may be nil when no durable
// store is configured (auto-pause then only stops the loop); notifier may be
// nil to suppress pause notices.
func NewManager(opts Options, runner CycleRunner, sentinels storage.SentinelStore, notifier alerting.Notifier, logger zerolog.Logger) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if !opts.Mode.Valid() {
		opts.Mode = ModeMulti
	}
	return &Manager{
		opts:      opts,
		runner:    runner,
		sentinels: sentinels,
		notifier:  notifier,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		loops:     make(map[uuid.UUID]*loop),
	}
}

// Start launches the periodic loop for a sentinel. The first cycle executes
// immediately rather than waiting out the first interval. Starting an
// already-running sentinel is a no-op; there is never more than one loop per
// ID. In single mode any previously running sentinel is stopped and durably
// deactivated first.
func (m *Manager) Start(ctx context.Context, s domain.Sentinel) error {
	if m.runner == nil {
		return errors.New("scheduler: no cycle runner configured")
	}

	if m.opts.Mode == ModeSingle {
		if err := m.deactivateOthers(ctx, s.ID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if _, exists := m.loops[s.ID]; exists {
		m.mu.Unlock()
		m.logger.Debug().Str("sentinel", s.ID.String()).Msg("loop already running, start ignored")
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &loop{sentinel: s, cancel: cancel, done: make(chan struct{})}
	m.loops[s.ID] = l
	m.mu.Unlock()

	m.logger.Info().
		Str("sentinel", s.ID.String()).
		Str("name", s.Name).
		Dur("interval", m.opts.Interval).
		Msg("starting sentinel loop")

	go m.run(loopCtx, l)
	return nil
}

// Stop cancels the sentinel's loop and blocks until it has fully wound down.
// After Stop returns, no further cycle for this sentinel executes and no
// activity record for it will be written by this manager. Stopping an
// unknown sentinel is a no-op.
func (m *Manager) Stop(id uuid.UUID) {
	m.mu.Lock()
	l, ok := m.loops[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	l.cancel()
	<-l.done
}

// StopAll winds down every running loop. Used on process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	loops := make([]*loop, 0, len(m.loops))
	for _, l := range m.loops {
		loops = append(loops, l)
	}
	m.mu.Unlock()

	for _, l := range loops {
		l.cancel()
		<-l.done
	}
}

// Running reports whether the sentinel currently has a live loop.
func (m *Manager) Running(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[id]
	return ok
}

// Len returns the number of live loops.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

func (m *Manager) run(ctx context.Context, l *loop) {
	defer func() {
		m.remove(l.sentinel.ID)
		close(l.done)
	}()

	// Immediate first cycle, then a timer re-armed after each cycle
	// completes. Re-arming (instead of a free-running ticker) is what
	// guarantees two cycles of the same sentinel never overlap.
	for {
		if stop := m.cycle(ctx, l.sentinel); stop {
			return
		}

		timer := time.NewTimer(m.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info().Str("sentinel", l.sentinel.ID.String()).Msg("sentinel loop stopped")
			return
		case <-timer.C:
		}
	}
}

// cycle runs one check and classifies the outcome. It returns true when the
// loop must not continue (cancellation or auto-pause).
func (m *Manager) cycle(ctx context.Context, s domain.Sentinel) (stop bool) {
	if ctx.Err() != nil {
		return true
	}

	err := m.runner.RunCycle(ctx, s)
	switch {
	case err == nil:
		return false

	case ctx.Err() != nil:
		// Cancelled mid-cycle; the error is a side effect of shutdown,
		// not a verdict on the sentinel.
		return true

	case errors.Is(err, payment.ErrInsufficientFunds):
		m.autoPause(s, err)
		return true

	case errors.Is(err, activity.ErrPersistFailed) && m.opts.PauseOnRecordError:
		m.autoPause(s, err)
		return true

	default:
		m.logger.Warn().Err(err).
			Str("sentinel", s.ID.String()).
			Msg("check cycle failed, retrying next interval")
		return false
	}
}

// autoPause deactivates a sentinel whose funds ran out: flip the durable
// active flag, tell the user. The notice kind is distinct from a price
// trigger so "agent stopped" can never read as "price event".
func (m *Manager) autoPause(s domain.Sentinel, cause error) {
	m.logger.Error().Err(cause).
		Str("sentinel", s.ID.String()).
		Str("name", s.Name).
		Msg("insufficient funds, pausing sentinel")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if m.sentinels != nil {
		inactive := false
		if _, err := m.sentinels.UpdateSentinel(ctx, s.ID, storage.SentinelPatch{Active: &inactive}); err != nil {
			m.logger.Error().Err(err).
				Str("sentinel", s.ID.String()).
				Msg("failed to persist auto-pause")
		}
	}

	if m.notifier != nil {
		note := alerting.PauseNotice(s, "paused: insufficient balance", time.Now().UTC())
		if err := m.notifier.Notify(ctx, note); err != nil {
			m.logger.Warn().Err(err).
				Str("sentinel", s.ID.String()).
				Msg("pause notice delivery failed")
		}
	}
}

// deactivateOthers enforces single mode: every other live loop is stopped
// and its sentinel durably deactivated before the new primary starts.
func (m *Manager) deactivateOthers(ctx context.Context, next uuid.UUID) error {
	m.mu.Lock()
	others := make([]*loop, 0, len(m.loops))
	for id, l := range m.loops {
		if id != next {
			others = append(others, l)
		}
	}
	m.mu.Unlock()

	for _, l := range others {
		l.cancel()
		<-l.done

		if m.sentinels == nil {
			continue
		}
		inactive := false
		if _, err := m.sentinels.UpdateSentinel(ctx, l.sentinel.ID, storage.SentinelPatch{Active: &inactive}); err != nil {
			return err
		}
		m.logger.Info().
			Str("sentinel", l.sentinel.ID.String()).
			Msg("deactivated previous primary sentinel")
	}
	return nil
}

func (m *Manager) remove(id uuid.UUID) {
	m.mu.Lock()
	delete(m.loops, id)
	m.mu.Unlock()
}
