// Package orchestration связывает движок переходов с внешними подсистемами:
// кухней, складом, платёжным провайдером и уведомлениями.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/metrics"
	"github.com/vladislavdragonenkov/esoms/internal/service/orders"
	"github.com/vladislavdragonenkov/esoms/internal/service/workflow"
)

// Имена интеграций в метриках, логах и circuit breaker.
const (
	IntegrationKitchen      = "kitchen"
	IntegrationInventory    = "inventory"
	IntegrationPayment      = "payment"
	IntegrationNotification = "notification"
)

const (
	actorOrchestrator = "orchestration"
	actorKitchen      = "kitchen"
	paymentMethod     = "card"
)

// Result: итог операции оркестрации. Бизнес-отказ возвращается как Success=false,
// ошибка: только для инфраструктурных сбоев.
type Result struct {
	Success   bool
	Message   string
	Reference string
}

func ok(msg string) Result { return Result{Success: true, Message: msg} }

func reject(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Dependencies: внешние зависимости сервиса. Неуказанная интеграция считается не настроенной.
type Dependencies struct {
	Orders       domain.OrderRepository
	Engine       *workflow.Engine
	Kitchen      domain.KitchenService
	Inventory    domain.InventoryService
	Payment      domain.PaymentService
	Notification domain.NotificationService
}

// Service координирует переходы статусов и внешние вызовы.
type Service struct {
	orders       domain.OrderRepository
	engine       *workflow.Engine
	kitchen      domain.KitchenService
	inventory    domain.InventoryService
	payment      domain.PaymentService
	notification domain.NotificationService

	logger        *log.Entry
	metrics       *metrics.WorkflowMetrics
	retry         RetryConfig
	conflictRetry orders.RetryConfig

	breakerFailures int
	breakerReset    time.Duration
	breakersMu      sync.Mutex
	breakers        map[string]*CircuitBreaker
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики вызовов интеграций и состояния цепей.
func WithMetrics(m *metrics.WorkflowMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRetryConfig задаёт повтор транспортных ошибок.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Service) {
		s.retry = cfg
	}
}

// WithConflictRetry задаёт повтор переходов при конфликте версий.
func WithConflictRetry(cfg orders.RetryConfig) Option {
	return func(s *Service) {
		s.conflictRetry = cfg
	}
}

// WithCircuitBreaker задаёт порог ошибок и время до полуоткрытого состояния для всех интеграций.
func WithCircuitBreaker(maxFailures int, resetTimeout time.Duration) Option {
	return func(s *Service) {
		s.breakerFailures = maxFailures
		s.breakerReset = resetTimeout
	}
}

// NewService создаёт сервис оркестрации.
func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		orders:        deps.Orders,
		engine:        deps.Engine,
		kitchen:       deps.Kitchen,
		inventory:     deps.Inventory,
		payment:       deps.Payment,
		notification:  deps.Notification,
		logger:        log.New().WithField("component", "orchestration"),
		retry:         DefaultRetryConfig(),
		conflictRetry: orders.DefaultRetryConfig(),
		breakers:      make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.conflictRetry.Logger == nil {
		s.conflictRetry.Logger = s.logger
	}
	return s
}

// Breaker возвращает circuit breaker интеграции, создавая его при первом обращении.
func (s *Service) Breaker(integration string) *CircuitBreaker {
	return s.breaker(integration)
}

func (s *Service) breaker(integration string) *CircuitBreaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()

	cb, found := s.breakers[integration]
	if !found {
		cb = NewCircuitBreaker(integration, s.breakerFailures, s.breakerReset, s.logger)
		m := s.metrics
		cb.onChange = func(open bool) { m.SetCircuitOpen(integration, open) }
		s.breakers[integration] = cb
	}
	return cb
}

// InitiateWorkflow запускает обработку подтверждённого заказа так, как это принято в его вертикали:
// ресторан передаёт заказ на кухню, интернет-магазин и опт резервируют товар и авторизуют оплату,
// опт до подтверждения уходит на согласование цены, бутик ждёт сканирования на кассе.
func (s *Service) InitiateWorkflow(ctx context.Context, orderID string) (Result, error) {
	o, res, err := s.load(ctx, orderID)
	if err != nil || !res.Success {
		return res, err
	}

	switch {
	case domain.RequiresKitchenIntegration(o.Context):
		return s.TriggerKitchenWorkflow(ctx, orderID)
	case domain.RequiresPOSIntegration(o.Context):
		return ok("awaiting scan at the point of sale"), nil
	case o.Context == domain.BusinessContextWholesale && o.Status == domain.OrderStatusPending:
		res, _, err := s.transition(ctx, orderID, domain.OrderStatusQuoteRequested, "wholesale quote requested", actorOrchestrator)
		return res, err
	case o.Context == domain.BusinessContextWholesale:
		return s.startFulfilment(ctx, o, domain.OrderStatusBulkProcessing)
	default:
		return s.startFulfilment(ctx, o, domain.OrderStatusProcessing)
	}
}

// startFulfilment параллельно резервирует товар и авторизует оплату, при частичном
// успехе выполняет компенсацию, затем фиксирует оплату и переводит заказ в target.
func (s *Service) startFulfilment(ctx context.Context, o domain.Order, target domain.OrderStatus) (Result, error) {
	if err := domain.CheckTransition(o, target); err != nil {
		return reject("%s", err.Error()), nil
	}
	if s.inventory == nil || s.payment == nil {
		return reject("inventory and payment integrations are required for %s", domain.DisplayName(o.Context)), nil
	}

	entry := s.logger.WithFields(log.Fields{"order_id": o.ID, "status": o.Status, "target": target})
	paid := o.Payment.Status.Settled()

	var inv, pay domain.IntegrationResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inv, err = s.call(gctx, IntegrationInventory, func(ctx context.Context) (domain.IntegrationResult, error) {
			return s.inventory.Reserve(ctx, o.ID, o.Items)
		})
		return err
	})
	if !paid {
		g.Go(func() error {
			var err error
			pay, err = s.call(gctx, IntegrationPayment, func(ctx context.Context) (domain.IntegrationResult, error) {
				return s.payment.Authorize(ctx, o.ID, o.Total)
			})
			return err
		})
	}
	waitErr := g.Wait()

	if waitErr != nil || !inv.Success || !(paid || pay.Success) {
		s.compensate(ctx, o, inv.Success, !paid && pay.Success)
		if waitErr != nil {
			return Result{}, fmt.Errorf("start fulfilment of order %s: %w", o.ID, waitErr)
		}

		msg := inv.Message
		if inv.Success {
			msg = pay.Message
		}
		entry.WithField("reason", msg).Warn("fulfilment rejected by integration")
		failRes, _, err := s.transition(ctx, o.ID, domain.OrderStatusFailed, msg, actorOrchestrator)
		if err != nil {
			return Result{}, err
		}
		if !failRes.Success {
			entry.WithField("reason", failRes.Message).Warn("could not mark order as failed")
		}
		return reject("fulfilment rejected: %s", msg), nil
	}

	if !paid {
		if _, err := s.recordPayment(ctx, o.ID, o.Total, pay.Reference); err != nil {
			s.compensate(ctx, o, true, true)
			if domain.IsValidation(err) || domain.IsInvalidOperation(err) {
				return reject("record payment: %s", err.Error()), nil
			}
			return Result{}, err
		}
	}

	res, _, err := s.transition(ctx, o.ID, target, "fulfilment started", actorOrchestrator)
	if err != nil || !res.Success {
		// Заказ успели перевести в другой статус: резерв больше никому не нужен.
		s.compensate(ctx, o, true, false)
		if err != nil {
			return Result{}, err
		}
		entry.WithField("reason", res.Message).Warn("fulfilment transition rejected, inventory released")
		return res, nil
	}
	res.Reference = inv.Reference
	return res, nil
}

// compensate откатывает частично выполненные внешние шаги. Ошибки только логируются.
func (s *Service) compensate(ctx context.Context, o domain.Order, reserved, authorized bool) {
	entry := s.logger.WithField("order_id", o.ID)
	if reserved {
		if _, err := s.call(ctx, IntegrationInventory, func(ctx context.Context) (domain.IntegrationResult, error) {
			return s.inventory.Release(ctx, o.ID, o.Items)
		}); err != nil {
			entry.WithError(err).Error("compensation: release inventory failed")
		}
	}
	if authorized {
		if _, err := s.call(ctx, IntegrationPayment, func(ctx context.Context) (domain.IntegrationResult, error) {
			return s.payment.Refund(ctx, o.ID, o.Total)
		}); err != nil {
			entry.WithError(err).Error("compensation: refund payment failed")
		}
	}
}

// TriggerKitchenWorkflow ставит заказ ресторана в очередь кухни и передаёт заявку.
// Повторный вызов для заказа, уже стоящего в очереди, повторно отправляет заявку.
func (s *Service) TriggerKitchenWorkflow(ctx context.Context, orderID string) (Result, error) {
	o, res, err := s.load(ctx, orderID)
	if err != nil || !res.Success {
		return res, err
	}
	if !domain.RequiresKitchenIntegration(o.Context) {
		return reject("%s orders are not prepared by the kitchen", domain.DisplayName(o.Context)), nil
	}
	if s.kitchen == nil {
		return reject("kitchen integration is not configured"), nil
	}
	if o.Status == domain.OrderStatusKitchenQueue {
		return s.dispatchTicket(ctx, o)
	}

	res, tr, err := s.transition(ctx, orderID, domain.OrderStatusKitchenQueue, "sent to kitchen", actorOrchestrator)
	if err != nil || !res.Success {
		return res, err
	}
	if tr.HooksAsync {
		return ok("order queued for the kitchen, dispatch scheduled"), nil
	}
	for _, h := range tr.Hooks {
		if h.Name != HookKitchenDispatch {
			continue
		}
		if h.Err != nil {
			return reject("order queued but kitchen dispatch failed: %v", h.Err), nil
		}
		return ok("order queued for the kitchen"), nil
	}
	// Хуки не зарегистрированы: отправляем заявку сами.
	return s.dispatchTicket(ctx, tr.Order)
}

func (s *Service) dispatchTicket(ctx context.Context, o domain.Order) (Result, error) {
	ticket := domain.KitchenTicket{
		OrderID:        o.ID,
		Items:          append([]domain.OrderItem(nil), o.Items...),
		ServiceContext: o.ServiceContext,
		Notes:          o.ServiceContext["notes"],
	}
	res, err := s.call(ctx, IntegrationKitchen, func(ctx context.Context) (domain.IntegrationResult, error) {
		return s.kitchen.SubmitTicket(ctx, ticket)
	})
	if err != nil {
		return Result{}, fmt.Errorf("submit kitchen ticket for order %s: %w", o.ID, err)
	}
	return fromIntegration(res), nil
}

// KitchenUpdate: статус приготовления, присланный кухней.
type KitchenUpdate struct {
	OrderID string
	Status  string
	Station string
	Notes   string
}

var kitchenStatuses = map[string]domain.OrderStatus{
	"cooking":  domain.OrderStatusCooking,
	"ready":    domain.OrderStatusReady,
	"served":   domain.OrderStatusServed,
	"rejected": domain.OrderStatusFailed,
}

// UpdateFromKitchen применяет статус от кухни. Повторная доставка того же статуса успешна и ничего не меняет.
func (s *Service) UpdateFromKitchen(ctx context.Context, update KitchenUpdate) (Result, error) {
	target, known := kitchenStatuses[update.Status]
	if !known {
		return reject("unknown kitchen status %q", update.Status), nil
	}

	o, res, err := s.load(ctx, update.OrderID)
	if err != nil || !res.Success {
		return res, err
	}
	if !domain.RequiresKitchenIntegration(o.Context) {
		return reject("%s orders are not prepared by the kitchen", domain.DisplayName(o.Context)), nil
	}
	if o.Status == target {
		return ok(fmt.Sprintf("order already %s", target)), nil
	}

	meta := map[string]string{"kitchen_status": update.Status}
	if update.Station != "" {
		meta["station"] = update.Station
	}
	reason := update.Notes
	if reason == "" {
		reason = "kitchen reported " + update.Status
	}

	res, _, err = s.transitionWithMeta(ctx, update.OrderID, target, reason, actorKitchen, meta)
	return res, err
}

// ReserveInventory резервирует товары заказа на складе.
func (s *Service) ReserveInventory(ctx context.Context, orderID string) (Result, error) {
	o, res, err := s.load(ctx, orderID)
	if err != nil || !res.Success {
		return res, err
	}
	if s.inventory == nil {
		return reject("inventory integration is not configured"), nil
	}
	if len(o.Items) == 0 {
		return reject("order has no items to reserve"), nil
	}

	ir, err := s.call(ctx, IntegrationInventory, func(ctx context.Context) (domain.IntegrationResult, error) {
		return s.inventory.Reserve(ctx, o.ID, o.Items)
	})
	if err != nil {
		return Result{}, fmt.Errorf("reserve inventory for order %s: %w", orderID, err)
	}
	return fromIntegration(ir), nil
}

// AuthorizePayment авторизует сумму заказа у провайдера и фиксирует оплату в потоке заказа.
// Если оплату не удалось зафиксировать, авторизация возвращается провайдеру.
func (s *Service) AuthorizePayment(ctx context.Context, orderID string) (Result, error) {
	o, res, err := s.load(ctx, orderID)
	if err != nil || !res.Success {
		return res, err
	}
	if s.payment == nil {
		return reject("payment integration is not configured"), nil
	}
	if o.Payment.Status.Settled() {
		return Result{Success: true, Message: "order is already paid", Reference: o.Payment.TransactionRef}, nil
	}
	if o.Total.IsZero() {
		return reject("order total is zero"), nil
	}

	ir, err := s.call(ctx, IntegrationPayment, func(ctx context.Context) (domain.IntegrationResult, error) {
		return s.payment.Authorize(ctx, o.ID, o.Total)
	})
	if err != nil {
		return Result{}, fmt.Errorf("authorize payment for order %s: %w", orderID, err)
	}
	if !ir.Success {
		return fromIntegration(ir), nil
	}

	if _, err := s.recordPayment(ctx, o.ID, o.Total, ir.Reference); err != nil {
		s.compensate(ctx, o, false, true)
		if domain.IsValidation(err) || domain.IsInvalidOperation(err) {
			return reject("record payment: %s", err.Error()), nil
		}
		return Result{}, err
	}
	return fromIntegration(ir), nil
}

func (s *Service) recordPayment(ctx context.Context, orderID string, amount domain.Money, ref string) (domain.Order, error) {
	return orders.RetryOnConflict(ctx, s.conflictRetry, func(ctx context.Context) (domain.Order, error) {
		agg, err := s.orders.Load(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if err := agg.ProcessPayment(domain.ProcessPaymentParams{
			Amount:         amount,
			Method:         paymentMethod,
			TransactionRef: ref,
		}); err != nil {
			return domain.Order{}, err
		}
		if err := s.orders.Save(ctx, agg); err != nil {
			return domain.Order{}, err
		}
		return agg.State(), nil
	})
}

// SendContextualNotification отправляет клиенту уведомление о текущем статусе заказа
// с текстом и каналом, подобранными под вертикаль.
func (s *Service) SendContextualNotification(ctx context.Context, orderID string) (Result, error) {
	o, res, err := s.load(ctx, orderID)
	if err != nil || !res.Success {
		return res, err
	}
	return s.notify(ctx, o)
}

func (s *Service) notify(ctx context.Context, o domain.Order) (Result, error) {
	if s.notification == nil {
		return reject("notification integration is not configured"), nil
	}
	n, found := BuildNotification(o)
	if !found {
		return reject("customer %s has no contact details", o.Customer.ID), nil
	}

	ir, err := s.call(ctx, IntegrationNotification, func(ctx context.Context) (domain.IntegrationResult, error) {
		return s.notification.Send(ctx, n)
	})
	if err != nil {
		return Result{}, fmt.Errorf("send notification for order %s: %w", o.ID, err)
	}
	return fromIntegration(ir), nil
}

// load возвращает Success=false для отсутствующего заказа; ошибка: только сбой хранилища.
func (s *Service) load(ctx context.Context, orderID string) (domain.Order, Result, error) {
	agg, err := s.orders.Load(ctx, orderID)
	switch {
	case err == nil:
		return agg.State(), ok(""), nil
	case domain.IsNotFound(err):
		return domain.Order{}, reject("order %s not found", orderID), nil
	default:
		return domain.Order{}, Result{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
}

func (s *Service) transition(ctx context.Context, orderID string, target domain.OrderStatus, reason, actor string) (Result, workflow.TransitionResult, error) {
	return s.transitionWithMeta(ctx, orderID, target, reason, actor, nil)
}

// transitionWithMeta выполняет переход через движок, повторяя его при конфликте версий.
// Отклонения домена превращаются в Success=false.
func (s *Service) transitionWithMeta(ctx context.Context, orderID string, target domain.OrderStatus, reason, actor string, meta map[string]string) (Result, workflow.TransitionResult, error) {
	if s.engine == nil {
		return reject("workflow engine is not configured"), workflow.TransitionResult{}, nil
	}

	tr, err := orders.RetryOnConflict(ctx, s.conflictRetry, func(ctx context.Context) (workflow.TransitionResult, error) {
		return s.engine.ExecuteTransition(ctx, orderID, target, domain.WorkflowContext{
			ActorID:  actor,
			Reason:   reason,
			Metadata: meta,
		})
	})
	if err != nil {
		if isRejection(err) {
			return reject("%s", err.Error()), tr, nil
		}
		return Result{}, tr, err
	}
	return ok(fmt.Sprintf("order moved to %s", target)), tr, nil
}

func isRejection(err error) bool {
	return domain.IsIllegalTransition(err) ||
		domain.IsValidation(err) ||
		domain.IsInvalidOperation(err) ||
		domain.IsNotFound(err)
}

func fromIntegration(r domain.IntegrationResult) Result {
	return Result{Success: r.Success, Message: r.Message, Reference: r.Reference}
}
