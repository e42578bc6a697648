package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sentinel-monitor/internal/activity"
	"sentinel-monitor/internal/alerting"
	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/payment"
	"sentinel-monitor/internal/storage"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
	errs  map[uuid.UUID]error
	block map[uuid.UUID]chan struct{}
	ran   chan uuid.UUID
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		calls: make(map[uuid.UUID]int),
		errs:  make(map[uuid.UUID]error),
		block: make(map[uuid.UUID]chan struct{}),
		ran:   make(chan uuid.UUID, 128),
	}
}

func (f *fakeRunner) RunCycle(ctx context.Context, s domain.Sentinel) error {
	f.mu.Lock()
	f.calls[s.ID]++
	gate := f.block[s.ID]
	err := f.errs[s.ID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case f.ran <- s.ID:
	default:
	}
	return err
}

func (f *fakeRunner) count(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeRunner) failWith(id uuid.UUID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeRunner) waitCycle(t *testing.T, id uuid.UUID) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-f.ran:
			if got == id {
				return
			}
			// Keep events for other sentinels available to later waiters.
			select {
			case f.ran <- got:
			default:
			}
			time.Sleep(time.Millisecond)
		case <-deadline:
			t.Fatalf("no cycle observed for sentinel %s", id)
		}
	}
}

type fakeSentinelStore struct {
	mu      sync.Mutex
	patches map[uuid.UUID][]storage.SentinelPatch
	err     error
}

func newFakeSentinelStore() *fakeSentinelStore {
	return &fakeSentinelStore{patches: make(map[uuid.UUID][]storage.SentinelPatch)}
}

func (f *fakeSentinelStore) CreateSentinel(_ context.Context, s domain.Sentinel) (domain.Sentinel, error) {
	return s, nil
}

func (f *fakeSentinelStore) GetSentinel(context.Context, uuid.UUID) (domain.Sentinel, error) {
	return domain.Sentinel{}, nil
}

func (f *fakeSentinelStore) ListSentinels(context.Context, storage.SentinelFilter) ([]domain.Sentinel, error) {
	return nil, nil
}

func (f *fakeSentinelStore) UpdateSentinel(_ context.Context, id uuid.UUID, patch storage.SentinelPatch) (domain.Sentinel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Sentinel{}, f.err
	}
	f.patches[id] = append(f.patches[id], patch)
	return domain.Sentinel{ID: id}, nil
}

func (f *fakeSentinelStore) deactivated(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, patch := range f.patches[id] {
		if patch.Active != nil && !*patch.Active {
			return true
		}
	}
	return false
}

var _ storage.SentinelStore = (*fakeSentinelStore)(nil)

type fakeNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
	return nil
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, 0, len(f.notes))
	for _, note := range f.notes {
		kinds = append(kinds, note.Kind)
	}
	return kinds
}

func testSentinel() domain.Sentinel {
	return domain.Sentinel{
		ID:            uuid.New(),
		Name:          "eth-watch",
		WalletAddress: "0x000000000000000000000000000000000000dEaD",
		Condition:     domain.ConditionAbove,
		Network:       domain.NetworkTest,
		Active:        true,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", what)
}

func TestStartRunsFirstCycleImmediately(t *testing.T) {
	runner := newFakeRunner()
	m := NewManager(Options{Interval: time.Hour}, runner, nil, nil, zerolog.Nop())
	defer m.StopAll()

	s := testSentinel()
	if err := m.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	runner.waitCycle(t, s.ID)
	if got := runner.count(s.ID); got != 1 {
		t.Fatalf("expected exactly the immediate cycle, got %d", got)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	runner := newFakeRunner()
	m := NewManager(Options{Interval: time.Hour}, runner, nil, nil, zerolog.Nop())
	defer m.StopAll()

	s := testSentinel()
	for i := 0; i < 3; i++ {
		if err := m.Start(context.Background(), s); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}

	runner.waitCycle(t, s.ID)
	if got := m.Len(); got != 1 {
		t.Fatalf("expected a single loop, got %d", got)
	}
	if got := runner.count(s.ID); got != 1 {
		t.Fatalf("duplicate starts must not duplicate cycles, got %d", got)
	}
}

func TestStopHaltsFurtherCycles(t *testing.T) {
	runner := newFakeRunner()
	m := NewManager(Options{Interval: 10 * time.Millisecond}, runner, nil, nil, zerolog.Nop())

	s := testSentinel()
	if err := m.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	runner.waitCycle(t, s.ID)
	runner.waitCycle(t, s.ID)
	m.Stop(s.ID)

	if m.Running(s.ID) {
		t.Fatal("loop still registered after Stop returned")
	}

	settled := runner.count(s.ID)
	time.Sleep(50 * time.Millisecond)
	if got := runner.count(s.ID); got != settled {
		t.Fatalf("cycles kept running after Stop: %d -> %d", settled, got)
	}
}

func TestStopCancelsInFlightCycle(t *testing.T) {
	runner := newFakeRunner()
	s := testSentinel()
	gate := make(chan struct{})
	runner.block[s.ID] = gate

	m := NewManager(Options{Interval: time.Hour}, runner, nil, nil, zerolog.Nop())
	if err := m.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "cycle entered", func() bool { return runner.count(s.ID) == 1 })

	stopped := make(chan struct{})
	go func() {
		m.Stop(s.ID)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the blocked cycle")
	}
}

func TestTransientErrorsKeepLoopAlive(t *testing.T) {
	runner := newFakeRunner()
	s := testSentinel()
	runner.failWith(s.ID, fmt.Errorf("check %s: %w", s.ID, errors.New("upstream timeout")))

	m := NewManager(Options{Interval: 5 * time.Millisecond}, runner, nil, nil, zerolog.Nop())
	defer m.StopAll()

	if err := m.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	runner.waitCycle(t, s.ID)
	runner.waitCycle(t, s.ID)
	runner.waitCycle(t, s.ID)

	if !m.Running(s.ID) {
		t.Fatal("transient failures must not stop the loop")
	}
}

func TestInsufficientFundsAutoPauses(t *testing.T) {
	runner := newFakeRunner()
	store := newFakeSentinelStore()
	notifier := &fakeNotifier{}
	s := testSentinel()
	runner.failWith(s.ID, fmt.Errorf("check %s: %w", s.ID, payment.ErrInsufficientFunds))

	m := NewManager(Options{Interval: time.Hour}, runner, store, notifier, zerolog.Nop())
	if err := m.Start(context.Background(), s); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "loop wound down", func() bool { return !m.Running(s.ID) })

	if !store.deactivated(s.ID) {
		t.Fatal("auto-pause must flip the durable active flag off")
	}

	kinds := notifier.kinds()
	if len(kinds) != 1 || kinds[0] != alerting.KindSentinelPaused {
		t.Fatalf("expected one %s notice, got %v", alerting.KindSentinelPaused, kinds)
	}
	if got := runner.count(s.ID); got != 1 {
		t.Fatalf("paused sentinel must not be retried, got %d cycles", got)
	}
}

func TestRecordErrorPausesOnlyWhenEscalated(t *testing.T) {
	cases := []struct {
		name      string
		escalate  bool
		wantPause bool
	}{
		{name: "default is log-only", escalate: false, wantPause: false},
		{name: "knob escalates", escalate: true, wantPause: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := newFakeRunner()
			store := newFakeSentinelStore()
			s := testSentinel()
			runner.failWith(s.ID, fmt.Errorf("record: %w", activity.ErrPersistFailed))

			m := NewManager(Options{
				Interval:           5 * time.Millisecond,
				PauseOnRecordError: tc.escalate,
			}, runner, store, nil, zerolog.Nop())
			defer m.StopAll()

			if err := m.Start(context.Background(), s); err != nil {
				t.Fatalf("start: %v", err)
			}

			if tc.wantPause {
				waitFor(t, "escalated pause", func() bool { return !m.Running(s.ID) })
				if !store.deactivated(s.ID) {
					t.Fatal("escalated record failure must deactivate the sentinel")
				}
				return
			}

			runner.waitCycle(t, s.ID)
			runner.waitCycle(t, s.ID)
			if !m.Running(s.ID) {
				t.Fatal("log-only record failure must not stop the loop")
			}
			if store.deactivated(s.ID) {
				t.Fatal("log-only record failure must not touch the active flag")
			}
		})
	}
}

func TestSlowSentinelDoesNotDelayOthers(t *testing.T) {
	runner := newFakeRunner()
	slow := testSentinel()
	fast := testSentinel()
	gate := make(chan struct{})
	runner.block[slow.ID] = gate
	defer close(gate)

	m := NewManager(Options{Interval: 5 * time.Millisecond}, runner, nil, nil, zerolog.Nop())
	defer m.StopAll()

	if err := m.Start(context.Background(), slow); err != nil {
		t.Fatalf("start slow: %v", err)
	}
	if err := m.Start(context.Background(), fast); err != nil {
		t.Fatalf("start fast: %v", err)
	}

	runner.waitCycle(t, fast.ID)
	runner.waitCycle(t, fast.ID)
	runner.waitCycle(t, fast.ID)
}

func TestSingleModeDeactivatesPreviousPrimary(t *testing.T) {
	runner := newFakeRunner()
	store := newFakeSentinelStore()
	first := testSentinel()
	second := testSentinel()

	m := NewManager(Options{Interval: time.Hour, Mode: ModeSingle}, runner, store, nil, zerolog.Nop())
	defer m.StopAll()

	if err := m.Start(context.Background(), first); err != nil {
		t.Fatalf("start first: %v", err)
	}
	runner.waitCycle(t, first.ID)

	if err := m.Start(context.Background(), second); err != nil {
		t.Fatalf("start second: %v", err)
	}
	runner.waitCycle(t, second.ID)

	if m.Running(first.ID) {
		t.Fatal("single mode must stop the previous primary")
	}
	if !store.deactivated(first.ID) {
		t.Fatal("single mode must durably deactivate the previous primary")
	}
	if !m.Running(second.ID) {
		t.Fatal("new primary should be running")
	}
	if got := m.Len(); got != 1 {
		t.Fatalf("single mode allows one loop, got %d", got)
	}
}

func TestMultiModeRunsLoopsSideBySide(t *testing.T) {
	runner := newFakeRunner()
	m := NewManager(Options{Interval: time.Hour}, runner, nil, nil, zerolog.Nop())
	defer m.StopAll()

	a := testSentinel()
	b := testSentinel()
	if err := m.Start(context.Background(), a); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := m.Start(context.Background(), b); err != nil {
		t.Fatalf("start b: %v", err)
	}

	runner.waitCycle(t, a.ID)
	runner.waitCycle(t, b.ID)
	if got := m.Len(); got != 2 {
		t.Fatalf("expected two independent loops, got %d", got)
	}
}
