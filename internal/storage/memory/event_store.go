package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

// eventStoreInMemory хранит потоки в памяти процесса. Подходит для тестов и одиночного инстанса.
type eventStoreInMemory struct {
	mu      sync.RWMutex
	streams map[string][]domain.StreamRecord
	outbox  *outboxRepositoryInMemory
	now     func() time.Time
}

// EventStoreOption настраивает in-memory хранилище событий.
type EventStoreOption func(*eventStoreInMemory)

// WithOutbox включает transactional outbox: каждое сохранённое событие ставится в очередь публикации.
func WithOutbox(outbox *outboxRepositoryInMemory) EventStoreOption {
	return func(s *eventStoreInMemory) {
		s.outbox = outbox
	}
}

// WithClock подменяет источник времени записи.
func WithClock(now func() time.Time) EventStoreOption {
	return func(s *eventStoreInMemory) {
		if now != nil {
			s.now = now
		}
	}
}

// NewEventStore создаёт in-memory реализацию EventStore.
func NewEventStore(opts ...EventStoreOption) domain.EventStore {
	s := &eventStoreInMemory{
		streams: make(map[string][]domain.StreamRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *eventStoreInMemory) SaveEvents(ctx context.Context, streamID string, events []domain.Event, expectedVersion int64) error {
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

	// Кодируем до захвата блокировки: ошибка сериализации не должна оставить частичную запись.
	records, err := domain.EncodeRecords(streamID, events, expectedVersion, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	current := int64(len(s.streams[streamID])) - 1
	if current != expectedVersion {
		return domain.ConflictError(streamID, expectedVersion, current)
	}

	s.streams[streamID] = append(s.streams[streamID], records...)

	if s.outbox != nil {
		s.outbox.mu.Lock()
		for i, rec := range records {
			s.outbox.enqueueLocked(domain.OutboxMessageFromRecord(rec, events[i].Metadata().OrderID))
		}
		s.outbox.mu.Unlock()
	}
	return nil
}

func (s *eventStoreInMemory) GetEvents(ctx context.Context, streamID string) ([]domain.Event, error) {
	records, err := s.GetRecords(ctx, streamID)
	if err != nil {
		return nil, err
	}
	return domain.DecodeRecords(records)
}

func (s *eventStoreInMemory) GetRecords(ctx context.Context, streamID string) ([]domain.StreamRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[streamID]
	out := make([]domain.StreamRecord, len(stream))
	for i, rec := range stream {
		rec.EventData = append([]byte(nil), rec.EventData...)
		out[i] = rec
	}
	return out, nil
}

func (s *eventStoreInMemory) StreamVersion(ctx context.Context, streamID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.streams[streamID])) - 1, nil
}

// Ping нужен для health-проверок; in-memory хранилище всегда доступно.
func (s *eventStoreInMemory) Ping(context.Context) error {
	return nil
}

var _ domain.EventStore = (*eventStoreInMemory)(nil)
