package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"sentinel-monitor/internal/activity"
	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/protocol"
	"sentinel-monitor/internal/scheduler"
)

// Service executes one paid check cycle per invocation: run the protocol
// exchange, then append the outcome to the activity ledger.
type Service struct {
	checker protocol.Checker
	sink    activity.Sink
	logger  zerolog.Logger
}

// New constructs the cycle service.
func New(checker protocol.Checker, sink activity.Sink, logger zerolog.Logger) *Service {
	return &Service{
		checker: checker,
		sink:    sink,
		logger:  logger.With().Str("component", "service").Logger(),
	}
}

// RunCycle 执行一个哨兵的单次检查并记账。
//
// Record policy: a transport failure before any payment leaves no ledger
// entry (the next tick simply retries); once payment was attempted the
// failure is recorded, including the fee and transaction reference when the
// transfer was submitted, so a charge is never silently lost. Errors keep
// their types on the way up; pausing is the scheduler's decision.
func (s *Service) RunCycle(ctx context.Context, snt domain.Sentinel) error {
	res, err := s.checker.Check(ctx, snt)
	if err != nil {
		if !res.PaymentAttempted {
			return fmt.Errorf("check %s: %w", snt.ID, err)
		}
		if recErr := s.sink.Record(ctx, failedRecord(snt, res, err)); recErr != nil {
			s.logger.Error().Err(recErr).Str("sentinel", snt.ID.String()).Msg("failed cycle could not be recorded")
		}
		return fmt.Errorf("check %s: %w", snt.ID, err)
	}

	s.logger.Info().
		Str("sentinel", snt.ID.String()).
		Str("price", res.Price.String()).
		Bool("triggered", res.Triggered).
		Str("fee", res.Cost.String()).
		Str("token", string(res.TokenUsed)).
		Dur("latency", res.Latency).
		Msg("check settled")

	if err := s.sink.Record(ctx, successRecord(snt, res)); err != nil {
		return err
	}
	return nil
}

func successRecord(snt domain.Sentinel, res protocol.Result) domain.ActivityRecord {
	rec := domain.ActivityRecord{
		SentinelID: snt.ID,
		Price:      res.Price,
		Fee:        res.Cost,
		LatencyMS:  res.Latency.Milliseconds(),
		TokenUsed:  string(res.TokenUsed),
		Triggered:  res.Triggered,
		Status:     domain.StatusSuccess,
	}
	if res.TxRef != "" {
		ref := res.TxRef
		rec.TxRef = &ref
	}
	return rec
}

func failedRecord(snt domain.Sentinel, res protocol.Result, cause error) domain.ActivityRecord {
	msg := cause.Error()
	rec := domain.ActivityRecord{
		SentinelID: snt.ID,
		Price:      res.Price,
		Fee:        res.Cost,
		LatencyMS:  res.Latency.Milliseconds(),
		TokenUsed:  string(res.TokenUsed),
		Status:     domain.StatusFailed,
		Error:      &msg,
	}
	if res.TxRef != "" {
		ref := res.TxRef
		rec.TxRef = &ref
	}
	return rec
}

var _ scheduler.CycleRunner = (*Service)(nil)
