package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/storage"
	"github.com/vladislavdragonenkov/esoms/internal/storage/memory"
)

// fakeRepo: outbox из фиксированного набора сообщений, запоминает отметки sent/failed.
type fakeRepo struct {
	mu      sync.Mutex
	pending []domain.OutboxMessage
	sent    []string
	failed  []string
}

func (r *fakeRepo) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (r *fakeRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.OutboxMessage(nil), r.pending[:min(limit, len(r.pending))]...), nil
}

func (r *fakeRepo) Stats(context.Context) (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.OutboxStats{PendingCount: len(r.pending)}, nil
}

func (r *fakeRepo) MarkSent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, id)
	return nil
}

func (r *fakeRepo) MarkFailed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, id)
	return nil
}

// scriptedPublisher возвращает ошибки из script по очереди, затем fallback.
type scriptedPublisher struct {
	mu        sync.Mutex
	script    []error
	fallback  error
	published []domain.OutboxMessage
}

func (p *scriptedPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	if len(p.script) > 0 {
		err := p.script[0]
		p.script = p.script[1:]
		return err
	}
	return p.fallback
}

func (p *scriptedPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func statusChanged(id, orderID string, version int64) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     domain.EventTypeStatusChanged,
		StreamVersion: version,
		Payload:       []byte(`{"to":"confirmed"}`),
	}
}

func TestWorker_ProcessOnce(t *testing.T) {
	boom := errors.New("broker unavailable")
	tests := []struct {
		name      string
		script    []error
		fallback  error
		wantCalls int
		want      Report
	}{
		{name: "first attempt succeeds", wantCalls: 1, want: Report{Sent: 1}},
		{name: "succeeds on last attempt", script: []error{boom, boom}, wantCalls: 3, want: Report{Sent: 1}},
		{name: "exhausts attempts", fallback: boom, wantCalls: 3, want: Report{Failed: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{pending: []domain.OutboxMessage{statusChanged("m-1", "o-1", 2)}}
			pub := &scriptedPublisher{script: tt.script, fallback: tt.fallback}
			dlq := &scriptedPublisher{}

			w := NewWorker(repo, pub, WithDLQPublisher(dlq), WithMaxAttempts(3), WithRetryBaseDelay(0))
			assert.Equal(t, tt.want, w.ProcessOnce(context.Background()))
			assert.Equal(t, tt.wantCalls, pub.calls())

			if tt.want.Sent == 1 {
				assert.Equal(t, []string{"m-1"}, repo.sent)
				assert.Empty(t, repo.failed)
				assert.Zero(t, dlq.calls())
				return
			}
			assert.Empty(t, repo.sent)
			assert.Equal(t, []string{"m-1"}, repo.failed)
			require.Equal(t, 1, dlq.calls())

			var parked deadLetter
			require.NoError(t, json.Unmarshal(dlq.published[0].Payload, &parked))
			assert.Equal(t, "m-1", parked.OutboxID)
			assert.EqualValues(t, 2, parked.StreamVersion)
			assert.JSONEq(t, `{"to":"confirmed"}`, string(parked.Payload))
			assert.Contains(t, parked.PublishError, "broker unavailable")
		})
	}
}

func TestWorker_ProcessOnce_DefersLaterEventsOfFailedOrder(t *testing.T) {
	repo := &fakeRepo{pending: []domain.OutboxMessage{
		statusChanged("a-0", "a", 0),
		statusChanged("b-0", "b", 0),
		statusChanged("a-1", "a", 1),
	}}
	pub := &scriptedPublisher{script: []error{errors.New("broker down")}}

	report := NewWorker(repo, pub, WithMaxAttempts(1)).ProcessOnce(context.Background())

	assert.Equal(t, Report{Sent: 1, Failed: 1, Deferred: 1}, report)
	assert.Equal(t, []string{"b-0"}, repo.sent)
	assert.Equal(t, []string{"a-0"}, repo.failed)
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	w := NewWorker(&fakeRepo{}, &scriptedPublisher{}, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_RelaysCommittedOrderEvents(t *testing.T) {
	ctx := context.Background()

	outboxRepo := memory.NewOutboxRepository()
	orders := storage.NewOrderRepository(memory.NewEventStore(memory.WithOutbox(outboxRepo)), nil)

	agg := orders.New()
	require.NoError(t, agg.Create(domain.CreateOrderParams{
		ID:              "o-1",
		Customer:        domain.CustomerInfo{ID: "c-1"},
		BusinessContext: domain.BusinessContextRestaurant,
		Currency:        "USD",
	}))
	require.NoError(t, agg.AddItem(domain.AddItemParams{ProductID: "p", Name: "Soup", UnitPrice: domain.MustMoney("7.5", "USD"), Quantity: 1}))
	require.NoError(t, orders.Save(ctx, agg))

	pub := &scriptedPublisher{}
	w := NewWorker(outboxRepo, pub, WithRetryBaseDelay(0))

	assert.Equal(t, Report{Sent: 2}, w.ProcessOnce(ctx))
	require.Len(t, pub.published, 2)
	assert.Equal(t, domain.EventTypeOrderCreated, pub.published[0].EventType)
	assert.EqualValues(t, 1, pub.published[1].StreamVersion)

	stats, err := outboxRepo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.Equal(t, Report{}, w.ProcessOnce(ctx), "sent messages are not relayed twice")
}
