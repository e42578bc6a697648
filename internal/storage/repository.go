package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"sentinel-monitor/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")

	// ErrSentinelNotFound indicates the requested sentinel does not exist.
	ErrSentinelNotFound = errors.New("storage: sentinel not found")
)

const (
	sentinelColumns = `id, name, wallet_address, threshold, condition, payment_method, network, notify_target, active, created_at`

	insertSentinelSQL = `INSERT INTO sentinels (
        id,
        name,
        wallet_address,
        threshold,
        condition,
        payment_method,
        network,
        notify_target,
        active
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING ` + sentinelColumns + `;`

	getSentinelSQL = `SELECT ` + sentinelColumns + `
    FROM sentinels
    WHERE id = $1;`

	activityColumns = `id, sentinel_id, price, fee, latency_ms, token_used, tx_ref, triggered, status, error, created_at`

	insertActivitySQL = `INSERT INTO activities (
        sentinel_id,
        price,
        fee,
        latency_ms,
        token_used,
        tx_ref,
        triggered,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING ` + activityColumns + `;`

	listActivitiesBySentinelSQL = `SELECT ` + activityColumns + `
    FROM activities
    WHERE sentinel_id = $1
    ORDER BY created_at DESC
    LIMIT $2;`

	listActivitiesBetweenSQL = `SELECT ` + activityColumns + `
    FROM activities
    WHERE sentinel_id = $1
      AND created_at >= $2
      AND created_at < $3
    ORDER BY created_at;`

	countActivitiesSQL = `SELECT COUNT(*) FROM activities WHERE sentinel_id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SentinelStore defines operations for sentinel persistence.
type SentinelStore interface {
	CreateSentinel(ctx context.Context, s domain.Sentinel) (domain.Sentinel, error)
	GetSentinel(ctx context.Context, id uuid.UUID) (domain.Sentinel, error)
	ListSentinels(ctx context.Context, filter SentinelFilter) ([]domain.Sentinel, error)
	UpdateSentinel(ctx context.Context, id uuid.UUID, patch SentinelPatch) (domain.Sentinel, error)
}

// ActivityStore defines operations on the append-only activity ledger.
type ActivityStore interface {
	InsertActivity(ctx context.Context, rec domain.ActivityRecord) (domain.ActivityRecord, error)
	ListActivitiesBySentinel(ctx context.Context, id uuid.UUID, limit int) ([]domain.ActivityRecord, error)
	ListActivitiesBetween(ctx context.Context, id uuid.UUID, from, to time.Time) ([]domain.ActivityRecord, error)
	CountActivities(ctx context.Context, id uuid.UUID) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to sentinels and the activity ledger.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Used to keep a single monitoring process per ledger.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// CreateSentinel persists a new sentinel and returns the stored row.
func (s *Store) CreateSentinel(ctx context.Context, snt domain.Sentinel) (domain.Sentinel, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Sentinel{}, err
	}
	if snt.ID == uuid.Nil {
		snt.ID = uuid.New()
	}
	if err := snt.Validate(); err != nil {
		return domain.Sentinel{}, err
	}

	row := pool.QueryRow(ctx, insertSentinelSQL,
		snt.ID.String(),
		snt.Name,
		snt.WalletAddress,
		snt.Threshold.String(),
		string(snt.Condition),
		string(snt.PaymentMethod),
		string(snt.Network),
		snt.NotifyTarget,
		snt.Active,
	)

	created, err := scanSentinel(row)
	if err != nil {
		return domain.Sentinel{}, fmt.Errorf("insert sentinel: %w", err)
	}
	return created, nil
}

// GetSentinel loads one sentinel by id.
func (s *Store) GetSentinel(ctx context.Context, id uuid.UUID) (domain.Sentinel, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Sentinel{}, err
	}

	snt, err := scanSentinel(pool.QueryRow(ctx, getSentinelSQL, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Sentinel{}, fmt.Errorf("%w: %s", ErrSentinelNotFound, id)
	}
	if err != nil {
		return domain.Sentinel{}, fmt.Errorf("get sentinel: %w", err)
	}
	return snt, nil
}

// ListSentinels lists sentinels matching the filter, oldest first.
func (s *Store) ListSentinels(ctx context.Context, filter SentinelFilter) ([]domain.Sentinel, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + sentinelColumns + ` FROM sentinels`
	conds := make([]string, 0, 2)
	args := make([]interface{}, 0, 2)
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conds = append(conds, fmt.Sprintf("active = $%d", len(args)))
	}
	if filter.Network != nil {
		args = append(args, string(*filter.Network))
		conds = append(conds, fmt.Sprintf("network = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at;"

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list sentinels: %w", queryErr)
	}
	defer rows.Close()

	sentinels := make([]domain.Sentinel, 0)
	for rows.Next() {
		snt, scanErr := scanSentinel(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		sentinels = append(sentinels, snt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return sentinels, nil
}

// UpdateSentinel applies a partial update and returns the stored row.
func (s *Store) UpdateSentinel(ctx context.Context, id uuid.UUID, patch SentinelPatch) (domain.Sentinel, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Sentinel{}, err
	}

	sets := make([]string, 0, 6)
	args := make([]interface{}, 0, 7)
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Threshold != nil {
		set("threshold", patch.Threshold.String())
	}
	if patch.Condition != nil {
		set("condition", string(*patch.Condition))
	}
	if patch.PaymentMethod != nil {
		set("payment_method", string(*patch.PaymentMethod))
	}
	if patch.NotifyTarget != nil {
		set("notify_target", *patch.NotifyTarget)
	}
	if patch.Active != nil {
		set("active", *patch.Active)
	}
	if len(sets) == 0 {
		return s.GetSentinel(ctx, id)
	}

	args = append(args, id.String())
	query := fmt.Sprintf(`UPDATE sentinels SET %s WHERE id = $%d RETURNING %s;`,
		strings.Join(sets, ", "), len(args), sentinelColumns)

	snt, err := scanSentinel(pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Sentinel{}, fmt.Errorf("%w: %s", ErrSentinelNotFound, id)
	}
	if err != nil {
		return domain.Sentinel{}, fmt.Errorf("update sentinel: %w", err)
	}
	return snt, nil
}

// InsertActivity appends one record to the ledger. Records are never updated.
func (s *Store) InsertActivity(ctx context.Context, rec domain.ActivityRecord) (domain.ActivityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.ActivityRecord{}, err
	}

	var txRef interface{}
	if rec.TxRef != nil {
		txRef = *rec.TxRef
	}
	var errMsg interface{}
	if rec.Error != nil {
		errMsg = *rec.Error
	}

	row := pool.QueryRow(ctx, insertActivitySQL,
		rec.SentinelID.String(),
		rec.Price.String(),
		rec.Fee.String(),
		rec.LatencyMS,
		rec.TokenUsed,
		txRef,
		rec.Triggered,
		rec.Status,
		errMsg,
	)

	inserted, err := scanActivity(row)
	if err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("insert activity: %w", err)
	}
	return inserted, nil
}

// ListActivitiesBySentinel lists the most recent records, newest first.
func (s *Store) ListActivitiesBySentinel(ctx context.Context, id uuid.UUID, limit int) ([]domain.ActivityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActivitiesBySentinelSQL, id.String(), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list activities: %w", queryErr)
	}
	defer rows.Close()

	records := make([]domain.ActivityRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanActivity(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListActivitiesBetween lists records within a time window, oldest first.
func (s *Store) ListActivitiesBetween(ctx context.Context, id uuid.UUID, from, to time.Time) ([]domain.ActivityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActivitiesBetweenSQL, id.String(), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list activities between: %w", queryErr)
	}
	defer rows.Close()

	records := make([]domain.ActivityRecord, 0)
	for rows.Next() {
		rec, scanErr := scanActivity(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// CountActivities counts ledger records for one sentinel.
func (s *Store) CountActivities(ctx context.Context, id uuid.UUID) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countActivitiesSQL, id.String()).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count activities: %w", scanErr)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSentinel(row rowScanner) (domain.Sentinel, error) {
	var (
		idStr        string
		name         string
		wallet       string
		thresholdStr string
		condition    string
		method       string
		network      string
		notifyTarget string
		active       bool
		createdAt    time.Time
	)

	if err := row.Scan(
		&idStr,
		&name,
		&wallet,
		&thresholdStr,
		&condition,
		&method,
		&network,
		&notifyTarget,
		&active,
		&createdAt,
	); err != nil {
		return domain.Sentinel{}, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return domain.Sentinel{}, fmt.Errorf("parse sentinel id: %w", err)
	}
	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return domain.Sentinel{}, fmt.Errorf("parse threshold: %w", err)
	}

	return domain.Sentinel{
		ID:            id,
		Name:          name,
		WalletAddress: wallet,
		Threshold:     threshold,
		Condition:     domain.Condition(condition),
		PaymentMethod: domain.TokenKind(method),
		Network:       domain.Network(network),
		NotifyTarget:  notifyTarget,
		Active:        active,
		CreatedAt:     createdAt,
	}, nil
}

func scanActivity(row rowScanner) (domain.ActivityRecord, error) {
	var (
		id         int64
		sentinelID string
		priceStr   string
		feeStr     string
		latencyMS  int64
		tokenUsed  string
		txRef      sql.NullString
		triggered  bool
		status     string
		errMsg     sql.NullString
		createdAt  time.Time
	)

	if err := row.Scan(
		&id,
		&sentinelID,
		&priceStr,
		&feeStr,
		&latencyMS,
		&tokenUsed,
		&txRef,
		&triggered,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return domain.ActivityRecord{}, err
	}

	sid, err := uuid.Parse(sentinelID)
	if err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("parse sentinel id: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("parse price: %w", err)
	}
	fee, err := decimal.NewFromString(feeStr)
	if err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("parse fee: %w", err)
	}

	rec := domain.ActivityRecord{
		ID:         id,
		SentinelID: sid,
		Price:      price,
		Fee:        fee,
		LatencyMS:  latencyMS,
		TokenUsed:  tokenUsed,
		Triggered:  triggered,
		Status:     status,
		CreatedAt:  createdAt,
	}
	if txRef.Valid {
		ref := txRef.String
		rec.TxRef = &ref
	}
	if errMsg.Valid {
		msg := errMsg.String
		rec.Error = &msg
	}
	return rec, nil
}
