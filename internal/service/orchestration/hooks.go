package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/service/workflow"
)

// Имена хуков, которые сервис регистрирует в движке.
const (
	HookKitchenDispatch      = "kitchen-dispatch"
	HookKitchenCancel        = "kitchen-cancel"
	HookInventoryRelease     = "inventory-release"
	HookPaymentRefund        = "payment-refund"
	HookCustomerNotification = "customer-notification"
)

// Hooks возвращает хуки интеграций для движка. Хуки без настроенной интеграции не создаются.
func (s *Service) Hooks() []workflow.Hook {
	var hooks []workflow.Hook
	if s.kitchen != nil {
		hooks = append(hooks,
			workflow.Hook{
				Name:     HookKitchenDispatch,
				Priority: 100,
				Statuses: []domain.OrderStatus{domain.OrderStatusKitchenQueue},
				Handler:  s.kitchenDispatchHook,
			},
			workflow.Hook{
				Name:     HookKitchenCancel,
				Priority: 90,
				Statuses: []domain.OrderStatus{domain.OrderStatusCancelled},
				Handler:  s.kitchenCancelHook,
			},
		)
	}
	if s.inventory != nil {
		hooks = append(hooks, workflow.Hook{
			Name:     HookInventoryRelease,
			Priority: 80,
			Statuses: []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusFailed},
			Handler:  s.inventoryReleaseHook,
		})
	}
	if s.payment != nil {
		hooks = append(hooks, workflow.Hook{
			Name:     HookPaymentRefund,
			Priority: 70,
			Statuses: []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusRefunded},
			Handler:  s.paymentRefundHook,
		})
	}
	if s.notification != nil {
		hooks = append(hooks, workflow.Hook{
			Name:     HookCustomerNotification,
			Priority: 10,
			Handler:  s.notificationHook,
		})
	}
	return hooks
}

// RegisterHooks регистрирует хуки сервиса в движке.
func (s *Service) RegisterHooks(engine *workflow.Engine) error {
	for _, h := range s.Hooks() {
		if err := engine.RegisterHook(h); err != nil {
			return fmt.Errorf("register hook %s: %w", h.Name, err)
		}
	}
	return nil
}

func (s *Service) kitchenDispatchHook(ctx context.Context, t workflow.Transition) error {
	if !domain.RequiresKitchenIntegration(t.BusinessContext) {
		return nil
	}
	res, err := s.dispatchTicket(ctx, t.Order)
	return hookError(res, err)
}

func (s *Service) kitchenCancelHook(ctx context.Context, t workflow.Transition) error {
	if !domain.RequiresKitchenIntegration(t.BusinessContext) {
		return nil
	}
	switch t.From {
	case domain.OrderStatusKitchenQueue, domain.OrderStatusCooking:
	default:
		return nil
	}

	res, err := s.call(ctx, IntegrationKitchen, func(ctx context.Context) (domain.IntegrationResult, error) {
		return s.kitchen.CancelTicket(ctx, t.OrderID)
	})
	return hookError(fromIntegration(res), err)
}

// Резерв существует только после старта исполнения заказа.
func (s *Service) inventoryReleaseHook(ctx context.Context, t workflow.Transition) error {
	switch t.From {
	case domain.OrderStatusProcessing, domain.OrderStatusBulkProcessing:
	default:
		return nil
	}

	res, err := s.call(ctx, IntegrationInventory, func(ctx context.Context) (domain.IntegrationResult, error) {
		return s.inventory.Release(ctx, t.OrderID, t.Order.Items)
	})
	return hookError(fromIntegration(res), err)
}

func (s *Service) paymentRefundHook(ctx context.Context, t workflow.Transition) error {
	p := t.Order.Payment
	if p.TransactionRef == "" && !p.Status.Settled() {
		return nil
	}
	if p.Amount.IsZero() {
		return nil
	}

	res, err := s.call(ctx, IntegrationPayment, func(ctx context.Context) (domain.IntegrationResult, error) {
		return s.payment.Refund(ctx, t.OrderID, p.Amount)
	})
	return hookError(fromIntegration(res), err)
}

// Заказ без контактов клиента пропускается без ошибки.
func (s *Service) notificationHook(ctx context.Context, t workflow.Transition) error {
	if _, found := BuildNotification(t.Order); !found {
		return nil
	}
	res, err := s.notify(ctx, t.Order)
	return hookError(res, err)
}

var errIntegrationRejected = errors.New("integration rejected the request")

func hookError(res Result, err error) error {
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", errIntegrationRejected, res.Message)
	}
	return nil
}
