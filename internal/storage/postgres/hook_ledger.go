package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

type hookLedger struct {
	db *sql.DB
}

// NewHookLedger создаёт PostgreSQL-реализацию журнала выполнения хуков.
func NewHookLedger(store *Store) *hookLedger {
	return &hookLedger{db: store.DB()}
}

// Begin вставляет запись в статусе processing. Запись в статусе failed
// перезапускается с увеличением счётчика попыток, остальные конфликты
// означают, что хук уже выполнялся.
func (l *hookLedger) Begin(ctx context.Context, key string, ttlAt time.Time) (domain.HookRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.HookRecord{}, domain.ErrHookKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	var (
		rec       domain.HookRecord
		statusRaw string
	)
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO hook_ledger (key, status, message, attempts, ttl_at, created_at, updated_at)
		VALUES ($1, 'processing', '', 1, $2, $3, $3)
		ON CONFLICT (key) DO UPDATE
		SET status = 'processing',
		    message = '',
		    attempts = hook_ledger.attempts + 1,
		    ttl_at = EXCLUDED.ttl_at,
		    updated_at = EXCLUDED.updated_at
		WHERE hook_ledger.status = 'failed'
		RETURNING key, status, message, attempts, ttl_at, created_at, updated_at
	`, key, ttlAt.UTC(), now).Scan(
		&rec.Key,
		&statusRaw,
		&rec.Message,
		&rec.Attempts,
		&rec.TTLAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		// WHERE в DO UPDATE отфильтровал строку: запись processing или done.
		if errors.Is(err, sql.ErrNoRows) {
			return domain.HookRecord{}, domain.ErrHookAlreadyRecorded
		}
		return domain.HookRecord{}, fmt.Errorf("begin hook record: %w", err)
	}

	rec.Status = domain.HookStatus(statusRaw)
	return normalizeHookRecord(rec), nil
}

// Get возвращает запись журнала по ключу.
func (l *hookLedger) Get(ctx context.Context, key string) (domain.HookRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.HookRecord{}, domain.ErrHookKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		rec       domain.HookRecord
		statusRaw string
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT key, status, message, attempts, ttl_at, created_at, updated_at
		FROM hook_ledger
		WHERE key = $1
	`, key).Scan(
		&rec.Key,
		&statusRaw,
		&rec.Message,
		&rec.Attempts,
		&rec.TTLAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.HookRecord{}, domain.ErrHookRecordNotFound
		}
		return domain.HookRecord{}, fmt.Errorf("get hook record: %w", err)
	}

	rec.Status = domain.HookStatus(statusRaw)
	if !rec.Status.Valid() {
		return domain.HookRecord{}, fmt.Errorf("invalid hook status %q for key %s", statusRaw, key)
	}
	return normalizeHookRecord(rec), nil
}

func (l *hookLedger) MarkDone(ctx context.Context, key string) error {
	return l.markStatus(ctx, key, domain.HookStatusDone, "")
}

func (l *hookLedger) MarkFailed(ctx context.Context, key string, message string) error {
	return l.markStatus(ctx, key, domain.HookStatusFailed, message)
}

func (l *hookLedger) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)

	if limit > 0 {
		res, err = l.db.ExecContext(ctx, `
			DELETE FROM hook_ledger
			WHERE key IN (
				SELECT key
				FROM hook_ledger
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = l.db.ExecContext(ctx, `
			DELETE FROM hook_ledger
			WHERE ttl_at <= $1
		`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired hook records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("hook ledger rows affected: %w", err)
	}

	return int(affected), nil
}

func (l *hookLedger) markStatus(ctx context.Context, key string, status domain.HookStatus, message string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrHookKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		UPDATE hook_ledger
		SET status = $1,
		    message = $2,
		    updated_at = $3
		WHERE key = $4
	`, string(status), message, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("mark hook record as %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("hook ledger rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrHookRecordNotFound
	}

	return nil
}

func normalizeHookRecord(rec domain.HookRecord) domain.HookRecord {
	rec.TTLAt = rec.TTLAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec
}

var _ domain.HookLedger = (*hookLedger)(nil)
