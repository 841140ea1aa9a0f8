package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type eventStore struct {
	db     *sql.DB
	outbox bool
}

// EventStoreOption настраивает PostgreSQL-хранилище событий.
type EventStoreOption func(*eventStore)

// WithTransactionalOutbox включает запись outbox_messages в той же транзакции, что и события.
func WithTransactionalOutbox() EventStoreOption {
	return func(s *eventStore) {
		s.outbox = true
	}
}

// NewEventStore создаёт PostgreSQL-реализацию EventStore.
func NewEventStore(store *Store, opts ...EventStoreOption) domain.EventStore {
	s := &eventStore{db: store.DB()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *eventStore) SaveEvents(ctx context.Context, streamID string, events []domain.Event, expectedVersion int64) (err error) {
	if err := domain.ValidateAppend(streamID, expectedVersion); err != nil {
		return err
	}
	if len(events) == 0 {
		// Пустая пачка ничего не пишет, но версию проверяет так же, как непустая.
		current, err := s.StreamVersion(ctx, streamID)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return domain.ConflictError(streamID, expectedVersion, current)
		}
		return nil
	}

	records, err := domain.EncodeRecords(streamID, events, expectedVersion, time.Now().UTC())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current int64
	if err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), -1)
		FROM event_streams
		WHERE stream_id = $1
	`, streamID).Scan(&current); err != nil {
		return fmt.Errorf("read stream version: %w", err)
	}
	if current != expectedVersion {
		err = domain.ConflictError(streamID, expectedVersion, current)
		return err
	}

	for i, rec := range records {
		// Параллельная запись той же версии упрётся в первичный ключ (stream_id, version).
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO event_streams (
				stream_id, version, event_id, event_type, event_data, recorded_at
			) VALUES ($1,$2,$3,$4,$5,$6)
		`,
			rec.StreamID, rec.Version, rec.EventID, rec.EventType, rec.EventData, rec.Timestamp,
		); err != nil {
			if isUniqueViolation(err) {
				err = domain.ConflictError(streamID, expectedVersion, rec.Version)
				return err
			}
			return fmt.Errorf("insert event: %w", err)
		}

		if s.outbox {
			msg := domain.OutboxMessageFromRecord(rec, events[i].Metadata().OrderID)
			if err = insertOutboxMessage(ctx, tx, msg); err != nil {
				return err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

func (s *eventStore) GetEvents(ctx context.Context, streamID string) ([]domain.Event, error) {
	records, err := s.GetRecords(ctx, streamID)
	if err != nil {
		return nil, err
	}
	return domain.DecodeRecords(records)
}

func (s *eventStore) GetRecords(ctx context.Context, streamID string) ([]domain.StreamRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT stream_id, version, event_id, event_type, event_data, recorded_at
		FROM event_streams
		WHERE stream_id = $1
		ORDER BY version
	`, streamID)
	if err != nil {
		return nil, fmt.Errorf("query stream: %w", err)
	}
	defer rows.Close()

	records := make([]domain.StreamRecord, 0)
	for rows.Next() {
		var rec domain.StreamRecord
		if err := rows.Scan(
			&rec.StreamID,
			&rec.Version,
			&rec.EventID,
			&rec.EventType,
			&rec.EventData,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return records, nil
}

func (s *eventStore) StreamVersion(ctx context.Context, streamID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var version int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), -1)
		FROM event_streams
		WHERE stream_id = $1
	`, streamID).Scan(&version); err != nil {
		return -1, fmt.Errorf("read stream version: %w", err)
	}
	return version, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.EventStore = (*eventStore)(nil)
