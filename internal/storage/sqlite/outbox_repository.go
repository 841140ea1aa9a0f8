package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

type outboxRow struct {
	ID            string `db:"id"`
	AggregateType string `db:"aggregate_type"`
	AggregateID   string `db:"aggregate_id"`
	EventType     string `db:"event_type"`
	StreamVersion int64  `db:"stream_version"`
	Payload       []byte `db:"payload"`
	CreatedAt     int64  `db:"created_at"`
	UpdatedAt     int64  `db:"updated_at"`
}

func (r outboxRow) message() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            r.ID,
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		EventType:     r.EventType,
		StreamVersion: r.StreamVersion,
		Payload:       r.Payload,
		CreatedAt:     fromNanos(r.CreatedAt),
	}
}

type outboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository создаёт SQLite-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) *outboxRepository {
	return &outboxRepository{db: store.DB()}
}

func insertOutboxMessage(ctx context.Context, db sqlx.ExtContext, msg domain.OutboxMessage) error {
	now := nowNanos()
	created := now
	if !msg.CreatedAt.IsZero() {
		created = msg.CreatedAt.UnixNano()
	}
	_, err := sqlx.NamedExecContext(ctx, db, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, stream_version, payload, created_at, updated_at
		) VALUES (:id, :aggregate_type, :aggregate_id, :event_type, :stream_version, :payload, :created_at, :updated_at)
		ON CONFLICT (id) DO NOTHING
	`, outboxRow{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		StreamVersion: msg.StreamVersion,
		Payload:       msg.Payload,
		CreatedAt:     created,
		UpdatedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if len(msg.Payload) == 0 {
		msg.Payload = []byte("{}")
	}
	if err := insertOutboxMessage(ctx, r.db, msg); err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	var rows []outboxRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT id, aggregate_type, aggregate_id, event_type, stream_version, payload, created_at, updated_at
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY seq
		LIMIT ?
	`, limit); err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}

	result := make([]domain.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.message())
	}
	return result, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row struct {
		Count  int           `db:"cnt"`
		Oldest sql.NullInt64 `db:"oldest"`
	}
	if err := r.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS cnt, MIN(created_at) AS oldest
		FROM outbox_messages
		WHERE status = 'pending'
	`); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	stats := domain.OutboxStats{PendingCount: row.Count}
	if row.Oldest.Valid {
		stats.OldestPendingAt = fromNanos(row.Oldest.Int64)
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, "sent", 1)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, "failed", 1)
}

func (r *outboxRepository) markStatus(ctx context.Context, id, status string, increment int) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = ?, attempt_count = attempt_count + ?, updated_at = ?
		WHERE id = ?
	`, status, increment, nowNanos(), id)
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox %s: %w", status, err)
	}
	if affected == 0 {
		return domain.ErrOutboxMessageNotFound
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
