package workflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/metrics"
	"github.com/vladislavdragonenkov/esoms/internal/service/workflow"
	"github.com/vladislavdragonenkov/esoms/internal/storage"
	"github.com/vladislavdragonenkov/esoms/internal/storage/memory"
)

type fixture struct {
	store domain.EventStore
	repo  *storage.OrderRepository
}

func newFixture() fixture {
	store := memory.NewEventStore()
	return fixture{store: store, repo: storage.NewOrderRepository(store, nil)}
}

func (f fixture) order(t *testing.T, id string, bc domain.BusinessContext) {
	t.Helper()

	agg := f.repo.New()
	require.NoError(t, agg.Create(domain.CreateOrderParams{
		ID:              id,
		Customer:        domain.CustomerInfo{ID: "customer-1"},
		DeliveryAddress: domain.Address{Line1: "Main st 1", City: "Austin", Country: "US"},
		BusinessContext: bc,
		Currency:        "USD",
	}))
	require.NoError(t, agg.AddItem(domain.AddItemParams{
		ProductID: "sku-1", Name: "Item", UnitPrice: domain.MustMoney("10", "USD"), Quantity: 1,
	}))
	require.NoError(t, f.repo.Save(context.Background(), agg))
}

func wctx(reason string) domain.WorkflowContext {
	return domain.WorkflowContext{ActorID: "tester", Reason: reason}
}

func TestExecuteTransition_EcommerceCancellationPoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store)

	f.order(t, "a", domain.BusinessContextECommerce)
	_, err := engine.ExecuteTransition(ctx, "a", domain.OrderStatusConfirmed, wctx("confirm"))
	require.NoError(t, err)
	res, err := engine.ExecuteTransition(ctx, "a", domain.OrderStatusCancelled, wctx("customer request"))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, res.Order.Status)
	assert.Equal(t, "customer request", res.Order.CancelReason)

	f.order(t, "b", domain.BusinessContextECommerce)
	for _, to := range []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped} {
		_, err := engine.ExecuteTransition(ctx, "b", to, wctx(""))
		require.NoError(t, err, to)
	}
	before, err := f.store.StreamVersion(ctx, domain.OrderStreamID("b"))
	require.NoError(t, err)

	_, err = engine.ExecuteTransition(ctx, "b", domain.OrderStatusCancelled, wctx("too late"))
	require.Error(t, err)
	assert.True(t, domain.IsIllegalTransition(err))

	after, err := f.store.StreamVersion(ctx, domain.OrderStreamID("b"))
	require.NoError(t, err)
	assert.Equal(t, before, after, "rejected transition must not touch the order stream")

	audit, err := f.store.GetEvents(ctx, domain.AuditStreamID("b"))
	require.NoError(t, err)
	require.Len(t, audit, 1)
	werr, ok := audit[0].(domain.WorkflowErrorEvent)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusShipped, werr.From)
	assert.Equal(t, domain.OrderStatusCancelled, werr.Attempted)
	assert.Contains(t, werr.Reason, "cancellation point")
	assert.Equal(t, "tester", werr.ActorID)
}

func TestExecuteTransition_RestaurantCannotShip(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store)
	f.order(t, "r", domain.BusinessContextRestaurant)

	_, err := engine.ExecuteTransition(ctx, "r", domain.OrderStatusConfirmed, wctx(""))
	require.NoError(t, err)

	err = engine.ValidateTransition(ctx, "r", domain.OrderStatusShipped)
	var ite *domain.IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Contains(t, ite.Reason, "not valid for Restaurant")

	_, err = engine.ExecuteTransition(ctx, "r", domain.OrderStatusShipped, wctx(""))
	assert.True(t, domain.IsIllegalTransition(err))

	valid, err := engine.GetValidTransitions(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusKitchenQueue, domain.OrderStatusCancelled, domain.OrderStatusFailed}, valid)
}

func TestExecuteTransition_RejectionDoesNotTouchLookalikeOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store)

	// ID второго заказа совпадает с хвостом аудит-потока первого.
	f.order(t, "audit-42", domain.BusinessContextRestaurant)
	f.order(t, "42", domain.BusinessContextRestaurant)
	before, err := f.store.StreamVersion(ctx, domain.OrderStreamID("audit-42"))
	require.NoError(t, err)

	_, err = engine.ExecuteTransition(ctx, "42", domain.OrderStatusShipped, wctx(""))
	require.True(t, domain.IsIllegalTransition(err))

	after, err := f.store.StreamVersion(ctx, domain.OrderStreamID("audit-42"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NotEqual(t, domain.OrderStreamID("audit-42"), domain.AuditStreamID("42"))

	order, err := f.repo.Load(ctx, "audit-42")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.State().Status)

	audit, err := f.store.GetEvents(ctx, domain.AuditStreamID("42"))
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestExecuteTransition_RecordsWorkflowTransitionEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store)
	f.order(t, "w", domain.BusinessContextRestaurant)

	res, err := engine.ExecuteTransition(ctx, "w", domain.OrderStatusConfirmed, domain.WorkflowContext{
		BusinessContext: domain.BusinessContextRestaurant,
		ServiceContext:  map[string]string{"table": "12"},
		ActorID:         "waiter-3",
		Reason:          "guest ordered",
		Metadata:        map[string]string{"channel": "pos"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.EventID)

	events, err := f.store.GetEvents(ctx, domain.OrderStreamID("w"))
	require.NoError(t, err)
	require.Len(t, events, 4)
	changed, ok := events[2].(domain.OrderStatusChangedEvent)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusConfirmed, changed.To)
	audit, ok := events[3].(domain.WorkflowTransitionEvent)
	require.True(t, ok)
	assert.Equal(t, res.EventID, audit.EventID)
	assert.Equal(t, "waiter-3", audit.ActorID)
	assert.Equal(t, "12", audit.ServiceContext["table"])
	assert.Equal(t, "pos", audit.Attributes["channel"])
}

func TestExecuteCommand_StatusChangeRunsHooks(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store)
	f.order(t, "cmd", domain.BusinessContextECommerce)

	var seen []workflow.Transition
	require.NoError(t, engine.RegisterHook(workflow.Hook{
		Name:     "on-cancel",
		Statuses: []domain.OrderStatus{domain.OrderStatusCancelled},
		Handler: func(_ context.Context, tr workflow.Transition) error {
			seen = append(seen, tr)
			return nil
		},
	}))

	res, err := engine.ExecuteCommand(ctx, "cmd", wctx("customer request"), func(agg *domain.Aggregate) error {
		return agg.Cancel("customer request")
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, res.From)
	assert.Equal(t, domain.OrderStatusCancelled, res.To)
	assert.NotEmpty(t, res.EventID)
	require.Len(t, res.Hooks, 1)
	assert.True(t, res.Hooks[0].Success)

	require.Len(t, seen, 1)
	assert.Equal(t, domain.OrderStatusPending, seen[0].From)
	assert.Equal(t, "customer request", seen[0].Order.CancelReason)

	events, err := f.store.GetEvents(ctx, domain.OrderStreamID("cmd"))
	require.NoError(t, err)
	require.Len(t, events, 4)
	_, ok := events[2].(domain.OrderCancelledEvent)
	assert.True(t, ok)
	audit, ok := events[3].(domain.WorkflowTransitionEvent)
	require.True(t, ok)
	assert.Equal(t, res.EventID, audit.EventID)
	assert.Equal(t, domain.OrderStatusCancelled, audit.To)
}

func TestExecuteCommand_WithoutStatusChangeSkipsHooks(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store)
	f.order(t, "items", domain.BusinessContextECommerce)

	called := false
	require.NoError(t, engine.RegisterHook(workflow.Hook{Name: "any", Handler: func(context.Context, workflow.Transition) error {
		called = true
		return nil
	}}))

	res, err := engine.ExecuteCommand(ctx, "items", wctx(""), func(agg *domain.Aggregate) error {
		return agg.AddItem(domain.AddItemParams{ProductID: "sku-2", Name: "Other", UnitPrice: domain.MustMoney("5", "USD"), Quantity: 1})
	})
	require.NoError(t, err)
	assert.Empty(t, res.EventID)
	assert.Empty(t, res.Hooks)
	assert.Len(t, res.Order.Items, 2)
	assert.False(t, called)

	version, err := f.store.StreamVersion(ctx, domain.OrderStreamID("items"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)
}

func TestExecuteCommand_RejectedCommandLeavesStream(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store)
	f.order(t, "done", domain.BusinessContextECommerce)

	_, err := engine.ExecuteCommand(ctx, "done", wctx(""), func(agg *domain.Aggregate) error {
		return agg.Cancel("first")
	})
	require.NoError(t, err)
	before, err := f.store.StreamVersion(ctx, domain.OrderStreamID("done"))
	require.NoError(t, err)

	_, err = engine.ExecuteCommand(ctx, "done", wctx(""), func(agg *domain.Aggregate) error {
		return agg.Cancel("second")
	})
	require.Error(t, err)

	after, err := f.store.StreamVersion(ctx, domain.OrderStreamID("done"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExecuteTransition_WrongCallerContext(t *testing.T) {
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store)
	f.order(t, "x", domain.BusinessContextBoutique)

	_, err := engine.ExecuteTransition(context.Background(), "x", domain.OrderStatusScanned, domain.WorkflowContext{
		BusinessContext: domain.BusinessContextRestaurant,
	})
	assert.ErrorIs(t, err, domain.ErrWrongBusinessContext)
}

func TestExecuteTransition_MissingOrder(t *testing.T) {
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store)

	_, err := engine.ExecuteTransition(context.Background(), "nope", domain.OrderStatusConfirmed, wctx(""))
	assert.True(t, domain.IsNotFound(err))
	_, err = engine.GetValidTransitions(context.Background(), "nope")
	assert.True(t, domain.IsNotFound(err))
}

func TestHooks_OrderFilterAndFailureIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store)
	f.order(t, "h", domain.BusinessContextRestaurant)

	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string, err error) workflow.HookHandler {
		return func(context.Context, workflow.Transition) error {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
			return err
		}
	}

	require.NoError(t, engine.RegisterHook(workflow.Hook{Name: "low", Priority: 1, Handler: record("low", nil)}))
	require.NoError(t, engine.RegisterHook(workflow.Hook{Name: "high", Priority: 10, Handler: record("high", errors.New("kitchen offline"))}))
	require.NoError(t, engine.RegisterHook(workflow.Hook{Name: "mid", Priority: 5, Handler: record("mid", nil)}))
	require.NoError(t, engine.RegisterHook(workflow.Hook{
		Name:     "kitchen-only",
		Priority: 100,
		Statuses: []domain.OrderStatus{domain.OrderStatusKitchenQueue},
		Handler:  record("kitchen-only", nil),
	}))
	require.NoError(t, engine.RegisterHook(workflow.Hook{
		Name:     "panics",
		Priority: 0,
		Handler:  func(context.Context, workflow.Transition) error { panic("boom") },
	}))

	names := make([]string, 0)
	for _, h := range engine.Hooks() {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"kitchen-only", "high", "mid", "low", "panics"}, names)

	res, err := engine.ExecuteTransition(ctx, "h", domain.OrderStatusConfirmed, wctx(""))
	require.NoError(t, err, "hook failures never fail the transition")
	assert.Equal(t, domain.OrderStatusConfirmed, res.Order.Status)
	assert.Equal(t, []string{"high", "mid", "low"}, calls)
	require.Len(t, res.Hooks, 4)
	assert.False(t, res.Hooks[0].Success)
	assert.EqualError(t, res.Hooks[0].Err, "kitchen offline")
	assert.Contains(t, res.Hooks[3].Err.Error(), "panicked")
	assert.Len(t, res.FailedHooks(), 2)
	assert.Error(t, res.HookError())

	loaded, err := f.repo.Load(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, loaded.State().Status)

	calls = nil
	_, err = engine.ExecuteTransition(ctx, "h", domain.OrderStatusKitchenQueue, wctx(""))
	require.NoError(t, err)
	assert.Equal(t, []string{"kitchen-only", "high", "mid", "low"}, calls)
}

func TestRegisterHook_Validation(t *testing.T) {
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store)
	noop := func(context.Context, workflow.Transition) error { return nil }

	assert.ErrorIs(t, engine.RegisterHook(workflow.Hook{Name: "", Handler: noop}), workflow.ErrInvalidHook)
	assert.ErrorIs(t, engine.RegisterHook(workflow.Hook{Name: "x"}), workflow.ErrInvalidHook)
	require.NoError(t, engine.RegisterHook(workflow.Hook{Name: "x", Handler: noop}))
	err := engine.RegisterHook(workflow.Hook{Name: "x", Handler: noop})
	assert.ErrorIs(t, err, workflow.ErrDuplicateHook)
	assert.True(t, domain.IsValidation(err))
}

func TestHooks_AsyncModeAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	engine := workflow.NewEngine(f.repo, f.store, workflow.WithAsyncHooks())
	f.order(t, "async", domain.BusinessContextECommerce)

	var executed atomic.Int32
	release := make(chan struct{})
	require.NoError(t, engine.RegisterHook(workflow.Hook{Name: "slow", Handler: func(context.Context, workflow.Transition) error {
		<-release
		executed.Add(1)
		return nil
	}}))

	res, err := engine.ExecuteTransition(ctx, "async", domain.OrderStatusConfirmed, wctx(""))
	require.NoError(t, err)
	assert.True(t, res.HooksAsync)
	assert.Empty(t, res.Hooks)
	assert.Zero(t, executed.Load())

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, engine.Close(shortCtx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, engine.Close(ctx))
	assert.EqualValues(t, 1, executed.Load())

	// После Close хуки выполняются синхронно.
	res, err = engine.ExecuteTransition(ctx, "async", domain.OrderStatusProcessing, wctx(""))
	require.NoError(t, err)
	assert.False(t, res.HooksAsync)
	require.Len(t, res.Hooks, 1)
	assert.EqualValues(t, 2, executed.Load())
}

type conflictingRepo struct {
	*storage.OrderRepository
}

func (conflictingRepo) Save(context.Context, *domain.Aggregate) error {
	return domain.ConflictError("order-c", 1, 2)
}

func TestExecuteTransition_ConflictIsReturnedAndHooksDoNotRun(t *testing.T) {
	f := newFixture()
	f.order(t, "c", domain.BusinessContextECommerce)
	m := metrics.NewWorkflowMetricsWithRegisterer(prometheus.NewRegistry())
	engine := workflow.NewEngine(conflictingRepo{f.repo}, f.store, workflow.WithMetrics(m))

	called := false
	require.NoError(t, engine.RegisterHook(workflow.Hook{Name: "h", Handler: func(context.Context, workflow.Transition) error {
		called = true
		return nil
	}}))

	_, err := engine.ExecuteTransition(context.Background(), "c", domain.OrderStatusConfirmed, wctx(""))
	assert.True(t, domain.IsVersionConflict(err))
	assert.False(t, called)
}
