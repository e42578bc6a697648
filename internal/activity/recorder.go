package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/storage"
)

// ErrPersistFailed wraps a failed ledger write. The cycle that produced the
// record still counts as executed; any stronger policy is the scheduler's.
var ErrPersistFailed = errors.New("activity: persist failed")

// Sink receives exactly one outcome record per completed check cycle.
type Sink interface {
	Record(ctx context.Context, rec domain.ActivityRecord) error
}

// Recorder appends records through the storage layer. The write runs on a
// context detached from the caller's cancellation: a paid check whose loop is
// being stopped must still land its outcome before the loop exits.
type Recorder struct {
	store   storage.ActivityStore
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRecorder constructs a recorder. A nil store turns recording into a
// logged no-op, which keeps one-off commands usable without a database.
func NewRecorder(store storage.ActivityStore, timeout time.Duration, logger zerolog.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{
		store:   store,
		timeout: timeout,
		logger:  logger.With().Str("component", "activity").Logger(),
	}
}

// Record appends one record to the ledger.
func (r *Recorder) Record(ctx context.Context, rec domain.ActivityRecord) error {
	if r.store == nil {
		r.logger.Debug().
			Str("sentinel", rec.SentinelID.String()).
			Str("status", rec.Status).
			Msg("no ledger configured, record dropped")
		return nil
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	inserted, err := r.store.InsertActivity(writeCtx, rec)
	if err != nil {
		r.logger.Error().Err(err).
			Str("sentinel", rec.SentinelID.String()).
			Str("status", rec.Status).
			Msg("failed to append activity record")
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	r.logger.Debug().
		Int64("record", inserted.ID).
		Str("sentinel", rec.SentinelID.String()).
		Str("status", rec.Status).
		Bool("triggered", rec.Triggered).
		Msg("activity recorded")
	return nil
}

var _ Sink = (*Recorder)(nil)
