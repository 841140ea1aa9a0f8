package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/storage/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func orderEvents(orderID string, n int) []domain.Event {
	events := []domain.Event{domain.OrderCreatedEvent{
		EventMeta:       domain.EventMeta{EventID: orderID + "-created", OrderID: orderID, SchemaVersion: domain.CurrentSchemaVersion},
		Customer:        domain.CustomerInfo{ID: "customer-1"},
		BusinessContext: domain.BusinessContextBoutique,
		Currency:        "EUR",
	}}
	for i := 1; i < n; i++ {
		events = append(events, domain.OrderItemAddedEvent{
			EventMeta: domain.EventMeta{OrderID: orderID, SchemaVersion: domain.CurrentSchemaVersion},
			ProductID: fmt.Sprintf("SKU-%d", i),
			Name:      "Scarf",
			UnitPrice: domain.MustMoney("25.00", "EUR"),
			Quantity:  2,
		})
	}
	return events
}

func TestStore_AppliesMigrations(t *testing.T) {
	store := openStore(t)

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sqlite.CurrentSchemaVersion, version)
	require.NoError(t, store.Ping(context.Background()))

	// Повторное применение ничего не меняет.
	require.NoError(t, sqlite.ApplyMigrations(context.Background(), store.DB()))
	version, err = store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sqlite.CurrentSchemaVersion, version)
}

func TestStore_RollbackMigration(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, sqlite.RollbackMigration(ctx, store.DB()))
	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	require.NoError(t, sqlite.ApplyMigrations(ctx, store.DB()))
	version, err = store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", version)
}

func TestEventStore_AppendReadAndConflict(t *testing.T) {
	ctx := context.Background()
	es := sqlite.NewEventStore(openStore(t))
	streamID := domain.OrderStreamID("b-1")

	require.NoError(t, es.SaveEvents(ctx, streamID, orderEvents("b-1", 2), -1))

	err := es.SaveEvents(ctx, streamID, orderEvents("b-1", 2)[1:], -1)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	require.NoError(t, es.SaveEvents(ctx, streamID, orderEvents("b-1", 2)[1:], 1))

	records, err := es.GetRecords(ctx, streamID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.EqualValues(t, i, rec.Version)
	}
	assert.Equal(t, "b-1-created", records[0].EventID)
	assert.Equal(t, streamID+"@2", records[2].EventID)

	events, err := es.GetEvents(ctx, streamID)
	require.NoError(t, err)
	order := domain.Replay(events)
	assert.Equal(t, "100.00 EUR", order.Total.String())
	assert.EqualValues(t, 3, order.Version)

	version, err := es.StreamVersion(ctx, domain.OrderStreamID("missing"))
	require.NoError(t, err)
	assert.EqualValues(t, -1, version)
}

func TestEventStore_InvalidArguments(t *testing.T) {
	es := sqlite.NewEventStore(openStore(t))

	require.ErrorIs(t, es.SaveEvents(context.Background(), "", orderEvents("x", 1), -1), domain.ErrInvalidArgument)
	require.ErrorIs(t, es.SaveEvents(context.Background(), "order-x", orderEvents("x", 1), -2), domain.ErrInvalidArgument)
	require.NoError(t, es.SaveEvents(context.Background(), "order-x", nil, 5))
}

func TestEventStore_ConcurrentAppendsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	es := sqlite.NewEventStore(openStore(t))
	streamID := domain.OrderStreamID("race")
	require.NoError(t, es.SaveEvents(ctx, streamID, orderEvents("race", 1), -1))

	const writers = 8
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
			err := es.SaveEvents(ctx, streamID, orderEvents("race", 2)[1:], 0)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if assert.ErrorIs(t, err, domain.ErrConcurrencyConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)
	version, err := es.StreamVersion(ctx, streamID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
}

func TestEventStore_TransactionalOutbox(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	es := sqlite.NewEventStore(store, sqlite.WithTransactionalOutbox())
	outbox := sqlite.NewOutboxRepository(store)

	require.NoError(t, es.SaveEvents(ctx, domain.OrderStreamID("b-2"), orderEvents("b-2", 3), -1))
	require.ErrorIs(t, es.SaveEvents(ctx, domain.OrderStreamID("b-2"), orderEvents("b-2", 1), -1), domain.ErrConcurrencyConflict)

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "b-2-created", pending[0].ID)
	assert.Equal(t, "b-2", pending[0].AggregateID)
	assert.Equal(t, domain.EventTypeOrderCreated, pending[0].EventType)
	assert.EqualValues(t, 2, pending[2].StreamVersion)
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	outbox := sqlite.NewOutboxRepository(openStore(t))

	first, err := outbox.Enqueue(ctx, domain.OutboxMessage{AggregateType: domain.AggregateTypeOrder, AggregateID: "o-1", EventType: domain.EventTypeOrderCreated})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	second, err := outbox.Enqueue(ctx, domain.OutboxMessage{ID: "fixed", AggregateType: domain.AggregateTypeOrder, AggregateID: "o-2", EventType: domain.EventTypeOrderConfirmed, Payload: []byte(`{"x":1}`)})
	require.NoError(t, err)
	_, err = outbox.Enqueue(ctx, second)
	require.NoError(t, err)

	stats, err := outbox.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount)
	assert.False(t, stats.OldestPendingAt.IsZero())

	pending, err := outbox.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []byte(`{"x":1}`), pending[1].Payload)

	require.NoError(t, outbox.MarkSent(ctx, first.ID))
	require.NoError(t, outbox.MarkFailed(ctx, second.ID))
	pending, err = outbox.PullPending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.ErrorIs(t, outbox.MarkSent(ctx, "missing"), domain.ErrOutboxMessageNotFound)
}
