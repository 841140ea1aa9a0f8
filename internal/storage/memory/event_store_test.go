package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/storage/memory"
)

type unregisteredEvent struct {
	domain.EventMeta
}

func (unregisteredEvent) EventType() string { return "test.unregistered" }

func orderEvents(orderID string, n int) []domain.Event {
	events := []domain.Event{domain.OrderCreatedEvent{
		EventMeta:       domain.EventMeta{EventID: orderID + "-created", OrderID: orderID},
		Customer:        domain.CustomerInfo{ID: "c-1"},
		BusinessContext: domain.BusinessContextRestaurant,
		Currency:        "USD",
	}}
	for i := 1; i < n; i++ {
		events = append(events, domain.OrderItemAddedEvent{
			EventMeta: domain.EventMeta{OrderID: orderID},
			ProductID: "P",
			Name:      "p",
			UnitPrice: domain.MustMoney("1", "USD"),
			Quantity:  1,
		})
	}
	return events
}

func TestEventStore_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEventStore()

	require.NoError(t, store.SaveEvents(ctx, "order-1", orderEvents("1", 2), -1))

	records, err := store.GetRecords(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.EqualValues(t, 0, records[0].Version)
	assert.EqualValues(t, 1, records[1].Version)
	assert.Equal(t, domain.EventTypeOrderCreated, records[0].EventType)
	assert.Equal(t, "1-created", records[0].EventID)

	require.NoError(t, store.SaveEvents(ctx, "order-1", orderEvents("1", 3)[1:], 1))

	version, err := store.StreamVersion(ctx, "order-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, version)

	events, err := store.GetEvents(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.IsType(t, domain.OrderCreatedEvent{}, events[0])
	assert.IsType(t, domain.OrderItemAddedEvent{}, events[3])
}

func TestEventStore_UnknownStreamIsEmpty(t *testing.T) {
	store := memory.NewEventStore()

	events, err := store.GetEvents(context.Background(), "order-missing")
	require.NoError(t, err)
	assert.Empty(t, events)

	version, err := store.StreamVersion(context.Background(), "order-missing")
	require.NoError(t, err)
	assert.EqualValues(t, -1, version)
}

func TestEventStore_Conflicts(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEventStore()
	require.NoError(t, store.SaveEvents(ctx, "order-1", orderEvents("1", 1), -1))

	err := store.SaveEvents(ctx, "order-1", orderEvents("1", 1), -1)
	assert.True(t, domain.IsVersionConflict(err), "stream must not exist: %v", err)

	err = store.SaveEvents(ctx, "order-1", orderEvents("1", 2)[1:], 5)
	assert.True(t, domain.IsVersionConflict(err))

	err = store.SaveEvents(ctx, "order-1", orderEvents("1", 2)[1:], -2)
	assert.True(t, domain.IsValidation(err))

	version, err := store.StreamVersion(ctx, "order-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, version)
}

func TestEventStore_EmptyBatchChecksVersion(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEventStore()

	err := store.SaveEvents(ctx, "order-1", nil, 7)
	assert.True(t, domain.IsVersionConflict(err), "stale version must conflict: %v", err)
	require.NoError(t, store.SaveEvents(ctx, "order-1", nil, -1))

	require.NoError(t, store.SaveEvents(ctx, "order-1", orderEvents("1", 1), -1))
	require.NoError(t, store.SaveEvents(ctx, "order-1", nil, 0))

	version, err := store.StreamVersion(ctx, "order-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, version)
}

func TestEventStore_NoPartialAppend(t *testing.T) {
	ctx := context.Background()
	outbox := memory.NewOutboxRepository()
	store := memory.NewEventStore(memory.WithOutbox(outbox))

	batch := append(orderEvents("1", 2), unregisteredEvent{})
	err := store.SaveEvents(ctx, "order-1", batch, -1)
	assert.ErrorIs(t, err, domain.ErrUnknownEventType)

	records, err := store.GetRecords(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, records)
	pending, err := outbox.PullPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEventStore_CancelledContextLeavesNoState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := memory.NewEventStore()
	err := store.SaveEvents(ctx, "order-1", orderEvents("1", 1), -1)
	assert.ErrorIs(t, err, context.Canceled)

	version, err := store.StreamVersion(context.Background(), "order-1")
	require.NoError(t, err)
	assert.EqualValues(t, -1, version)
}

// Из N конкурентных записей с одной ожидаемой версией успешна ровно одна.
func TestEventStore_ConcurrentAppendsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEventStore()
	require.NoError(t, store.SaveEvents(ctx, "order-1", orderEvents("1", 1), -1))

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.SaveEvents(ctx, "order-1", orderEvents("1", 2)[1:], 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case domain.IsVersionConflict(err):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)

	version, err := store.StreamVersion(ctx, "order-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
}

func TestEventStore_GetEventsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEventStore()
	require.NoError(t, store.SaveEvents(ctx, "order-1", orderEvents("1", 3), -1))

	first, err := store.GetEvents(ctx, "order-1")
	require.NoError(t, err)
	second, err := store.GetEvents(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	records, err := store.GetRecords(ctx, "order-1")
	require.NoError(t, err)
	records[0].EventData[0] = 'X'

	again, err := store.GetEvents(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestEventStore_EnqueuesOutboxMessages(t *testing.T) {
	ctx := context.Background()
	outbox := memory.NewOutboxRepository()
	store := memory.NewEventStore(memory.WithOutbox(outbox))

	require.NoError(t, store.SaveEvents(ctx, "order-1", orderEvents("1", 2), -1))

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "1-created", pending[0].ID)
	assert.Equal(t, domain.AggregateTypeOrder, pending[0].AggregateType)
	assert.Equal(t, "1", pending[0].AggregateID)
	assert.EqualValues(t, 0, pending[0].StreamVersion)
	assert.Equal(t, domain.EventTypeItemAdded, pending[1].EventType)
	assert.EqualValues(t, 1, pending[1].StreamVersion)
}
