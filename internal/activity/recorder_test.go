package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/storage"
)

type fakeLedger struct {
	mu        sync.Mutex
	records   []domain.ActivityRecord
	ctxLive   []bool
	insertErr error
}

func (f *fakeLedger) InsertActivity(ctx context.Context, rec domain.ActivityRecord) (domain.ActivityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return domain.ActivityRecord{}, f.insertErr
	}
	f.ctxLive = append(f.ctxLive, ctx.Err() == nil)
	rec.ID = int64(len(f.records) + 1)
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeLedger) ListActivitiesBySentinel(context.Context, uuid.UUID, int) ([]domain.ActivityRecord, error) {
	return nil, nil
}

func (f *fakeLedger) ListActivitiesBetween(context.Context, uuid.UUID, time.Time, time.Time) ([]domain.ActivityRecord, error) {
	return nil, nil
}

func (f *fakeLedger) CountActivities(context.Context, uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.records)), nil
}

var _ storage.ActivityStore = (*fakeLedger)(nil)

func sampleRecord() domain.ActivityRecord {
	return domain.ActivityRecord{
		SentinelID: uuid.New(),
		Price:      decimal.RequireFromString("250"),
		Fee:        decimal.RequireFromString("0.0001"),
		LatencyMS:  42,
		TokenUsed:  "usdc",
		Triggered:  true,
		Status:     domain.StatusSuccess,
	}
}

func TestRecordAppends(t *testing.T) {
	ledger := &fakeLedger{}
	recorder := NewRecorder(ledger, time.Second, zerolog.Nop())

	if err := recorder.Record(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Record 失败: %v", err)
	}
	if len(ledger.records) != 1 {
		t.Fatalf("期望 1 条记录, 实际 %d", len(ledger.records))
	}
}

func TestRecordWrapsPersistFailure(t *testing.T) {
	ledger := &fakeLedger{insertErr: errors.New("connection reset")}
	recorder := NewRecorder(ledger, time.Second, zerolog.Nop())

	err := recorder.Record(context.Background(), sampleRecord())
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("期望 ErrPersistFailed, 实际 %v", err)
	}
}

func TestRecordSurvivesCancelledCaller(t *testing.T) {
	ledger := &fakeLedger{}
	recorder := NewRecorder(ledger, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 已付费的周期即使在停止途中也必须落账。
	if err := recorder.Record(ctx, sampleRecord()); err != nil {
		t.Fatalf("取消后的记录应成功: %v", err)
	}
	if len(ledger.ctxLive) != 1 || !ledger.ctxLive[0] {
		t.Fatal("写入上下文应与调用方取消解耦")
	}
}

func TestRecordWithoutStoreIsNoop(t *testing.T) {
	recorder := NewRecorder(nil, time.Second, zerolog.Nop())
	if err := recorder.Record(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("无存储时应为 no-op: %v", err)
	}
}
