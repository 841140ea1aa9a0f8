package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

type eventRow struct {
	StreamID   string `db:"stream_id"`
	Version    int64  `db:"version"`
	EventID    string `db:"event_id"`
	EventType  string `db:"event_type"`
	EventData  []byte `db:"event_data"`
	RecordedAt int64  `db:"recorded_at"`
}

func (r eventRow) record() domain.StreamRecord {
	return domain.StreamRecord{
		StreamID:  r.StreamID,
		EventID:   r.EventID,
		EventType: r.EventType,
		EventData: r.EventData,
		Version:   r.Version,
		Timestamp: fromNanos(r.RecordedAt),
	}
}

type eventStore struct {
	db     *sqlx.DB
	outbox bool
}

// EventStoreOption настраивает SQLite-хранилище событий.
type EventStoreOption func(*eventStore)

// WithTransactionalOutbox пишет сообщения outbox в одной транзакции с событиями.
func WithTransactionalOutbox() EventStoreOption {
	return func(s *eventStore) {
		s.outbox = true
	}
}

// NewEventStore создаёт SQLite-реализацию EventStore.
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

	recordedAt := time.Now().UTC()
	records, err := domain.EncodeRecords(streamID, events, expectedVersion, recordedAt)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current int64
	if err = tx.GetContext(ctx, &current,
		"SELECT COALESCE(MAX(version), -1) FROM event_streams WHERE stream_id = ?", streamID,
	); err != nil {
		return fmt.Errorf("read stream version: %w", err)
	}
	if current != expectedVersion {
		err = domain.ConflictError(streamID, expectedVersion, current)
		return err
	}

	for i, rec := range records {
		if _, err = tx.NamedExecContext(ctx, `
			INSERT INTO event_streams (stream_id, version, event_id, event_type, event_data, recorded_at)
			VALUES (:stream_id, :version, :event_id, :event_type, :event_data, :recorded_at)
		`, eventRow{
			StreamID:   rec.StreamID,
			Version:    rec.Version,
			EventID:    rec.EventID,
			EventType:  rec.EventType,
			EventData:  rec.EventData,
			RecordedAt: recordedAt.UnixNano(),
		}); err != nil {
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

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT stream_id, version, event_id, event_type, event_data, recorded_at
		FROM event_streams
		WHERE stream_id = ?
		ORDER BY version
	`, streamID); err != nil {
		return nil, fmt.Errorf("query stream: %w", err)
	}

	records := make([]domain.StreamRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

func (s *eventStore) StreamVersion(ctx context.Context, streamID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var version int64
	if err := s.db.GetContext(ctx, &version,
		"SELECT COALESCE(MAX(version), -1) FROM event_streams WHERE stream_id = ?", streamID,
	); err != nil {
		return -1, fmt.Errorf("read stream version: %w", err)
	}
	return version, nil
}

var _ domain.EventStore = (*eventStore)(nil)
