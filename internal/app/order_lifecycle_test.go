package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/service/orchestration"
)

// OrderLifecycleTestSuite прогоняет заказы всех вертикалей через весь прикладной слой.
type OrderLifecycleTestSuite struct {
	suite.Suite
	ctx  context.Context
	svc  *runtimeServices
	deps *runtimeDependencies
	ext  integrations
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "lifecycle-test")

	s.ctx = context.Background()
	cfg := DefaultConfig()
	deps, err := initRuntimeDependencies(s.ctx, cfg, logger)
	require.NoError(s.T(), err)
	s.deps = deps

	s.ext = mockIntegrations()
	s.svc, err = newRuntimeServicesWith(cfg, deps, s.ext, testWorkflowMetrics(), logger)
	require.NoError(s.T(), err)
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.deps.close()
}

func (s *OrderLifecycleTestSuite) item(productID, price string, qty int) domain.AddItemParams {
	money, err := domain.NewMoney(decimal.RequireFromString(price), "USD")
	require.NoError(s.T(), err)
	return domain.AddItemParams{ProductID: productID, Name: productID, UnitPrice: money, Quantity: qty}
}

func (s *OrderLifecycleTestSuite) createConfirmed(id string, bc domain.BusinessContext) domain.Order {
	_, err := s.svc.orders.CreateOrder(s.ctx, testOrderParams(id, bc), s.item("laptop-pro", "1999.00", 1), s.item("mouse-wireless", "49.99", 2))
	require.NoError(s.T(), err)
	order, err := s.svc.orders.ConfirmOrder(s.ctx, id)
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusConfirmed, order.Status)
	return order
}

func (s *OrderLifecycleTestSuite) status(id string) domain.OrderStatus {
	order, err := s.svc.orders.GetOrder(s.ctx, id)
	require.NoError(s.T(), err)
	return order.Status
}

func (s *OrderLifecycleTestSuite) TestECommerceLifecycle() {
	order := s.createConfirmed("ec-1", domain.BusinessContextECommerce)
	require.True(s.T(), order.Total.Amount.Equal(decimal.RequireFromString("2098.98")))

	res, err := s.svc.orchestration.InitiateWorkflow(s.ctx, "ec-1")
	require.NoError(s.T(), err)
	require.True(s.T(), res.Success, res.Message)
	require.Equal(s.T(), domain.OrderStatusProcessing, s.status("ec-1"))

	processing, err := s.svc.orders.GetOrder(s.ctx, "ec-1")
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.PaymentStatusAuthorized, processing.Payment.Status)

	_, err = s.svc.orders.ShipOrder(s.ctx, "ec-1", "TRACK-1", "ups")
	require.NoError(s.T(), err)
	delivered, err := s.svc.orders.DeliverOrder(s.ctx, "ec-1")
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusDelivered, delivered.Status)
	require.Equal(s.T(), "TRACK-1", delivered.TrackingNumber)

	reserve, release := s.ext.inventory.Calls()
	authorize, refund := s.ext.payment.Calls()
	require.Equal(s.T(), 1, reserve)
	require.Equal(s.T(), 0, release)
	require.Equal(s.T(), 1, authorize)
	require.Equal(s.T(), 0, refund)
	require.NotEmpty(s.T(), s.ext.notification.Sent())

	history, err := s.svc.orders.History(s.ctx, "ec-1")
	require.NoError(s.T(), err)
	require.GreaterOrEqual(s.T(), len(history), 6)
}

func (s *OrderLifecycleTestSuite) TestECommerceCancellationCompensates() {
	s.createConfirmed("ec-2", domain.BusinessContextECommerce)
	res, err := s.svc.orchestration.InitiateWorkflow(s.ctx, "ec-2")
	require.NoError(s.T(), err)
	require.True(s.T(), res.Success, res.Message)

	tr, err := s.svc.engine.ExecuteTransition(s.ctx, "ec-2", domain.OrderStatusCancelled, domain.WorkflowContext{
		ActorID: "support",
		Reason:  "Customer changed mind",
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusProcessing, tr.From)
	require.Equal(s.T(), domain.OrderStatusCancelled, tr.To)

	ran := map[string]bool{}
	for _, h := range tr.Hooks {
		require.True(s.T(), h.Success, "hook %s failed: %v", h.Name, h.Err)
		ran[h.Name] = true
	}
	require.True(s.T(), ran[orchestration.HookInventoryRelease])
	require.True(s.T(), ran[orchestration.HookPaymentRefund])

	_, release := s.ext.inventory.Calls()
	_, refund := s.ext.payment.Calls()
	require.Equal(s.T(), 1, release)
	require.Equal(s.T(), 1, refund)
	require.Equal(s.T(), domain.OrderStatusCancelled, s.status("ec-2"))
}

func (s *OrderLifecycleTestSuite) TestCancelCommandRunsCompensationHooks() {
	s.createConfirmed("ec-5", domain.BusinessContextECommerce)
	res, err := s.svc.orchestration.InitiateWorkflow(s.ctx, "ec-5")
	require.NoError(s.T(), err)
	require.True(s.T(), res.Success, res.Message)

	order, err := s.svc.orders.CancelOrder(s.ctx, "ec-5", "Customer changed mind")
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusCancelled, order.Status)

	_, release := s.ext.inventory.Calls()
	_, refund := s.ext.payment.Calls()
	require.Equal(s.T(), 1, release)
	require.Equal(s.T(), 1, refund)
	require.Zero(s.T(), s.ext.inventory.Reserved("ec-5"))
	_, refunded := s.ext.payment.Refunded("ec-5")
	require.True(s.T(), refunded)
}

func (s *OrderLifecycleTestSuite) TestInventoryRejectionFailsOrder() {
	s.ext.inventory.Reject = true
	s.createConfirmed("ec-3", domain.BusinessContextECommerce)

	res, err := s.svc.orchestration.InitiateWorkflow(s.ctx, "ec-3")
	require.NoError(s.T(), err)
	require.False(s.T(), res.Success)
	require.Equal(s.T(), domain.OrderStatusFailed, s.status("ec-3"))

	_, refund := s.ext.payment.Calls()
	require.Equal(s.T(), 1, refund, "authorized payment must be compensated")

	// После восстановления склада заказ можно вернуть в обработку.
	s.ext.inventory.Reject = false
	tr, err := s.svc.engine.ExecuteTransition(s.ctx, "ec-3", domain.OrderStatusProcessing, domain.WorkflowContext{Reason: "inventory restocked"})
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusFailed, tr.From)
}

func (s *OrderLifecycleTestSuite) TestRestaurantKitchenFlow() {
	s.createConfirmed("rs-1", domain.BusinessContextRestaurant)

	res, err := s.svc.orchestration.InitiateWorkflow(s.ctx, "rs-1")
	require.NoError(s.T(), err)
	require.True(s.T(), res.Success, res.Message)
	require.Equal(s.T(), domain.OrderStatusKitchenQueue, s.status("rs-1"))

	ticket, ok := s.ext.kitchen.Ticket("rs-1")
	require.True(s.T(), ok)
	require.Len(s.T(), ticket.Items, 2)

	for _, st := range []string{"cooking", "cooking", "ready", "served"} {
		res, err := s.svc.orchestration.UpdateFromKitchen(s.ctx, orchestration.KitchenUpdate{OrderID: "rs-1", Status: st, Station: "grill"})
		require.NoError(s.T(), err)
		require.True(s.T(), res.Success, "%s: %s", st, res.Message)
	}
	require.Equal(s.T(), domain.OrderStatusServed, s.status("rs-1"))

	_, err = s.svc.orders.CancelOrder(s.ctx, "rs-1", "too late")
	require.Error(s.T(), err)
}

func (s *OrderLifecycleTestSuite) TestWholesaleQuoteFlow() {
	_, err := s.svc.orders.CreateOrder(s.ctx, testOrderParams("ws-1", domain.BusinessContextWholesale), s.item("pallet", "100.00", 40))
	require.NoError(s.T(), err)

	res, err := s.svc.orchestration.InitiateWorkflow(s.ctx, "ws-1")
	require.NoError(s.T(), err)
	require.True(s.T(), res.Success, res.Message)
	require.Equal(s.T(), domain.OrderStatusQuoteRequested, s.status("ws-1"))

	_, err = s.svc.engine.ExecuteTransition(s.ctx, "ws-1", domain.OrderStatusApproved, domain.WorkflowContext{ActorID: "sales", Reason: "price agreed"})
	require.NoError(s.T(), err)
	_, err = s.svc.orders.ConfirmOrder(s.ctx, "ws-1")
	require.NoError(s.T(), err)

	res, err = s.svc.orchestration.InitiateWorkflow(s.ctx, "ws-1")
	require.NoError(s.T(), err)
	require.True(s.T(), res.Success, res.Message)
	require.Equal(s.T(), domain.OrderStatusBulkProcessing, s.status("ws-1"))
}

func (s *OrderLifecycleTestSuite) TestBoutiquePointOfSale() {
	order, err := s.svc.orders.CreateOrder(s.ctx, testOrderParams("bq-1", domain.BusinessContextBoutique), s.item("scarf", "120.00", 1))
	require.NoError(s.T(), err)

	res, err := s.svc.orchestration.InitiateWorkflow(s.ctx, "bq-1")
	require.NoError(s.T(), err)
	require.True(s.T(), res.Success)
	require.Equal(s.T(), domain.OrderStatusPending, s.status("bq-1"))

	_, err = s.svc.orders.ScanItems(s.ctx, "bq-1", "register-7")
	require.NoError(s.T(), err)
	_, err = s.svc.orders.ProcessPayment(s.ctx, "bq-1", domain.ProcessPaymentParams{
		Amount:         order.Total,
		Method:         "card",
		TransactionRef: "pos-1",
		Status:         domain.PaymentStatusCaptured,
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusPaid, s.status("bq-1"))

	for _, target := range []domain.OrderStatus{domain.OrderStatusReceipted, domain.OrderStatusCompleted} {
		_, err := s.svc.engine.ExecuteTransition(s.ctx, "bq-1", target, domain.WorkflowContext{BusinessContext: domain.BusinessContextBoutique})
		require.NoError(s.T(), err)
	}
	require.Equal(s.T(), domain.OrderStatusCompleted, s.status("bq-1"))
}

func (s *OrderLifecycleTestSuite) TestIllegalTransitionRejected() {
	_, err := s.svc.orders.CreateOrder(s.ctx, testOrderParams("ec-4", domain.BusinessContextECommerce), s.item("book", "15.00", 1))
	require.NoError(s.T(), err)

	_, err = s.svc.engine.ExecuteTransition(s.ctx, "ec-4", domain.OrderStatusDelivered, domain.WorkflowContext{})
	require.True(s.T(), domain.IsIllegalTransition(err), "got %v", err)

	_, err = s.svc.engine.ExecuteTransition(s.ctx, "ec-4", domain.OrderStatusConfirmed, domain.WorkflowContext{BusinessContext: domain.BusinessContextRestaurant})
	require.Error(s.T(), err)
	require.Equal(s.T(), domain.OrderStatusPending, s.status("ec-4"))
}

func TestOrderLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
