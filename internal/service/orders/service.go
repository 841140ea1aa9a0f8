// Package orders: прикладной сервис команд над заказами: загрузка, команда, сохранение.
package orders

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/service/workflow"
)

// Repository: хранилище агрегатов, которое нужно сервису.
type Repository interface {
	domain.OrderRepository
	New() *domain.Aggregate
	History(ctx context.Context, orderID string) ([]domain.Event, error)
}

// CommandRunner применяет команду агрегата и, если статус сменился, фиксирует переход
// и запускает хуки. Реализуется *workflow.Engine.
type CommandRunner interface {
	ExecuteCommand(ctx context.Context, orderID string, wctx domain.WorkflowContext, command func(*domain.Aggregate) error) (workflow.TransitionResult, error)
}

// Service выполняет команды над заказами. Конфликт версий возвращается вызывающему
// как есть; для повтора используйте RetryOnConflict.
type Service struct {
	repo   Repository
	runner CommandRunner
	logger *log.Entry
}

// Option настраивает Service.
type Option func(*Service)

// WithCommandRunner направляет команды через движок переходов. Без него команды,
// меняющие статус, не запускают хуки интеграций.
func WithCommandRunner(r CommandRunner) Option {
	return func(s *Service) {
		s.runner = r
	}
}

// NewService создаёт сервис команд.
func NewService(repo Repository, logger *log.Entry, opts ...Option) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "orders")
	}
	s := &Service{repo: repo, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder создаёт заказ и, если переданы, его первые позиции одной записью в поток.
func (s *Service) CreateOrder(ctx context.Context, p domain.CreateOrderParams, items ...domain.AddItemParams) (domain.Order, error) {
	agg := s.repo.New()
	if err := agg.Create(p); err != nil {
		return domain.Order{}, err
	}
	for _, it := range items {
		if err := agg.AddItem(it); err != nil {
			return domain.Order{}, err
		}
	}
	if err := s.repo.Save(ctx, agg); err != nil {
		s.logger.WithFields(log.Fields{
			"order_id": agg.ID(),
			"error":    err,
		}).Warn("create order failed")
		return domain.Order{}, err
	}

	order := agg.State()
	s.logger.WithFields(log.Fields{
		"order_id":         order.ID,
		"business_context": order.Context,
		"items":            len(order.Items),
	}).Info("order created")
	return order, nil
}

// AddItem добавляет позицию в заказ.
func (s *Service) AddItem(ctx context.Context, orderID string, p domain.AddItemParams) (domain.Order, error) {
	return s.mutate(ctx, orderID, "add_item", func(agg *domain.Aggregate) error {
		return agg.AddItem(p)
	})
}

// RemoveItem удаляет qty единиц товара.
func (s *Service) RemoveItem(ctx context.Context, orderID, productID string, qty int) (domain.Order, error) {
	return s.mutate(ctx, orderID, "remove_item", func(agg *domain.Aggregate) error {
		return agg.RemoveItem(productID, qty)
	})
}

// ConfirmOrder подтверждает заказ.
func (s *Service) ConfirmOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.mutate(ctx, orderID, "confirm", func(agg *domain.Aggregate) error {
		return agg.Confirm()
	})
}

// CancelOrder отменяет заказ.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string) (domain.Order, error) {
	return s.mutateWithReason(ctx, orderID, "cancel", reason, func(agg *domain.Aggregate) error {
		return agg.Cancel(reason)
	})
}

// ShipOrder отгружает заказ.
func (s *Service) ShipOrder(ctx context.Context, orderID, trackingNumber, carrier string) (domain.Order, error) {
	return s.mutate(ctx, orderID, "ship", func(agg *domain.Aggregate) error {
		return agg.Ship(trackingNumber, carrier)
	})
}

// DeliverOrder фиксирует доставку.
func (s *Service) DeliverOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.mutate(ctx, orderID, "deliver", func(agg *domain.Aggregate) error {
		return agg.Deliver()
	})
}

// SendToKitchen передаёт заказ ресторана на кухню.
func (s *Service) SendToKitchen(ctx context.Context, orderID, station, notes string) (domain.Order, error) {
	return s.mutate(ctx, orderID, "send_to_kitchen", func(agg *domain.Aggregate) error {
		return agg.SendToKitchen(station, notes)
	})
}

// ScanItems фиксирует сканирование товаров на кассе бутика.
func (s *Service) ScanItems(ctx context.Context, orderID, registerID string) (domain.Order, error) {
	return s.mutate(ctx, orderID, "scan_items", func(agg *domain.Aggregate) error {
		return agg.ScanItems(registerID)
	})
}

// RequestQuote запрашивает оптовое ценовое предложение.
func (s *Service) RequestQuote(ctx context.Context, orderID, notes string) (domain.Order, error) {
	return s.mutate(ctx, orderID, "request_quote", func(agg *domain.Aggregate) error {
		return agg.RequestQuote(notes)
	})
}

// ProcessPayment фиксирует оплату.
func (s *Service) ProcessPayment(ctx context.Context, orderID string, p domain.ProcessPaymentParams) (domain.Order, error) {
	return s.mutate(ctx, orderID, "process_payment", func(agg *domain.Aggregate) error {
		return agg.ProcessPayment(p)
	})
}

// ChangeBusinessContext переводит заказ в другую вертикаль.
func (s *Service) ChangeBusinessContext(ctx context.Context, orderID string, to domain.BusinessContext) (domain.Order, error) {
	return s.mutate(ctx, orderID, "change_context", func(agg *domain.Aggregate) error {
		return agg.ChangeBusinessContext(to)
	})
}

// GetOrder возвращает текущее состояние заказа.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	agg, err := s.repo.Load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return agg.State(), nil
}

// History возвращает поток событий заказа.
func (s *Service) History(ctx context.Context, orderID string) ([]domain.Event, error) {
	return s.repo.History(ctx, orderID)
}

func (s *Service) mutate(ctx context.Context, orderID, op string, fn func(*domain.Aggregate) error) (domain.Order, error) {
	return s.mutateWithReason(ctx, orderID, op, "", fn)
}

func (s *Service) mutateWithReason(ctx context.Context, orderID, op, reason string, fn func(*domain.Aggregate) error) (domain.Order, error) {
	if s.runner != nil {
		return s.runCommand(ctx, orderID, op, reason, fn)
	}

	agg, err := s.repo.Load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := fn(agg); err != nil {
		return domain.Order{}, err
	}
	if err := s.repo.Save(ctx, agg); err != nil {
		s.logSaveError(orderID, op, err)
		return domain.Order{}, err
	}

	s.logApplied(orderID, op, agg.Version())
	return agg.State(), nil
}

// runCommand выполняет команду через движок: смена статуса пишет WorkflowTransitionEvent
// и запускает хуки интеграций после фиксации.
func (s *Service) runCommand(ctx context.Context, orderID, op, reason string, fn func(*domain.Aggregate) error) (domain.Order, error) {
	if reason == "" {
		reason = op
	}
	res, err := s.runner.ExecuteCommand(ctx, orderID, domain.WorkflowContext{
		Reason:   reason,
		Metadata: map[string]string{"command": op},
	}, fn)
	if err != nil {
		if domain.IsVersionConflict(err) {
			s.logSaveError(orderID, op, err)
		}
		return domain.Order{}, err
	}

	if hookErr := res.HookError(); hookErr != nil {
		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"command":  op,
			"from":     res.From,
			"to":       res.To,
			"error":    hookErr,
		}).Warn("command committed, some hooks failed")
	}
	s.logApplied(orderID, op, res.Order.Version)
	return res.Order, nil
}

func (s *Service) logSaveError(orderID, op string, err error) {
	entry := s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"command":  op,
		"error":    err,
	})
	if domain.IsVersionConflict(err) {
		entry.Info("concurrent modification detected")
		return
	}
	entry.Error("save order failed")
}

func (s *Service) logApplied(orderID, op string, version int64) {
	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"command":  op,
		"version":  version,
	}).Debug("command applied")
}
