package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

type outboxState uint8

const (
	outboxPending outboxState = iota
	outboxSent
	outboxFailed
)

type outboxEntry struct {
	msg        domain.OutboxMessage
	state      outboxState
	attempts   int
	enqueuedAt time.Time
}

// outboxRepositoryInMemory хранит сообщения в порядке постановки. Событийный store
// пишет в него под тем же mu, что и поток, поэтому коммит и постановка атомарны.
type outboxRepositoryInMemory struct {
	mu      sync.RWMutex
	entries []*outboxEntry
	byID    map[string]*outboxEntry
}

func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{byID: make(map[string]*outboxEntry)}
}

func (r *outboxRepositoryInMemory) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enqueueLocked(msg), nil
}

// enqueueLocked требует r.mu. Сообщение с уже известным id не дублируется.
func (r *outboxRepositoryInMemory) enqueueLocked(msg domain.OutboxMessage) domain.OutboxMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if e, ok := r.byID[msg.ID]; ok {
		return e.msg
	}

	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	e := &outboxEntry{msg: msg, enqueuedAt: now}
	r.entries = append(r.entries, e)
	r.byID[msg.ID] = e
	return msg
}

// PullPending: до limit ожидающих сообщений, старые первыми.
func (r *outboxRepositoryInMemory) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, e := range r.entries {
		if len(out) == limit {
			break
		}
		if e.state == outboxPending {
			out = append(out, e.msg)
		}
	}
	return out, nil
}

func (r *outboxRepositoryInMemory) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.entries {
		if e.state != outboxPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = e.enqueuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *outboxRepositoryInMemory) MarkSent(_ context.Context, id string) error {
	return r.finish(id, outboxSent)
}

func (r *outboxRepositoryInMemory) MarkFailed(_ context.Context, id string) error {
	return r.finish(id, outboxFailed)
}

func (r *outboxRepositoryInMemory) finish(id string, state outboxState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return domain.ErrOutboxMessageNotFound
	}
	e.state = state
	e.attempts++
	return nil
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
