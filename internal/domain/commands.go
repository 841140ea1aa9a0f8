package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Команды: чистые функции (clock, state, args) -> (state, events) | error.
// Новое состояние всегда получается сворачиванием Apply по выпущенным событиям,
// поэтому повторное воспроизведение потока даёт то же состояние.

// CreateOrderParams: параметры создания заказа.
type CreateOrderParams struct {
	// ID можно не заполнять: тогда он будет сгенерирован.
	ID              string
	Customer        CustomerInfo
	DeliveryAddress Address
	BusinessContext BusinessContext
	Currency        string
	ServiceContext  map[string]string
}

// AddItemParams: параметры добавления позиции.
type AddItemParams struct {
	ProductID string
	Name      string
	UnitPrice Money
	Quantity  int
}

// ProcessPaymentParams: результат оплаты, который нужно зафиксировать в заказе.
type ProcessPaymentParams struct {
	Amount         Money
	Method         string
	TransactionRef string
	// Status по умолчанию authorized; для кассы бутика: captured.
	Status PaymentStatus
}

// CreateOrder создаёт заказ в статусе pending.
func CreateOrder(c Clock, o Order, p CreateOrderParams) (Order, []Event, error) {
	if o.Exists() {
		return o, nil, ErrOrderAlreadyExists
	}
	if strings.TrimSpace(p.Customer.ID) == "" {
		return o, nil, ErrCustomerRequired
	}
	if !p.BusinessContext.Valid() {
		return o, nil, ErrUnknownBusinessContext
	}
	currency, err := normalizeCurrency(p.Currency)
	if err != nil {
		return o, nil, err
	}
	if RequiresShippingManagement(p.BusinessContext) && p.DeliveryAddress.IsZero() {
		return o, nil, ErrAddressRequired
	}

	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = c.NewID()
	}

	next, events := emit(o, OrderCreatedEvent{
		EventMeta:       newMeta(c, id),
		Customer:        p.Customer,
		DeliveryAddress: p.DeliveryAddress,
		BusinessContext: p.BusinessContext,
		Currency:        currency,
		ServiceContext:  copyStringMap(p.ServiceContext),
	})
	return next, events, nil
}

// AddItem добавляет позицию; одинаковые товар и цена объединяются в одну строку.
func AddItem(c Clock, o Order, p AddItemParams) (Order, []Event, error) {
	if err := ensureMutable(o); err != nil {
		return o, nil, err
	}
	if o.Status != OrderStatusPending {
		return o, nil, ErrItemsLocked
	}
	switch {
	case strings.TrimSpace(p.ProductID) == "":
		return o, nil, ErrProductIDRequired
	case strings.TrimSpace(p.Name) == "":
		return o, nil, ErrItemNameRequired
	case p.Quantity <= 0:
		return o, nil, ErrItemQtyInvalid
	case p.Quantity > math.MaxInt-o.ItemCount():
		return o, nil, ErrOrderQtyTooLarge
	case p.UnitPrice.IsNegative():
		return o, nil, ErrItemPriceInvalid
	case p.UnitPrice.Currency != o.Currency:
		return o, nil, fmt.Errorf("%w: order is in %s, item priced in %s", ErrCurrencyMismatch, o.Currency, p.UnitPrice.Currency)
	}
	next, events := emit(o, OrderItemAddedEvent{
		EventMeta: newMeta(c, o.ID),
		ProductID: p.ProductID,
		Name:      strings.TrimSpace(p.Name),
		UnitPrice: p.UnitPrice,
		Quantity:  p.Quantity,
	})
	return next, events, nil
}

// RemoveItem уменьшает количество позиции или удаляет её целиком.
func RemoveItem(c Clock, o Order, productID string, qty int) (Order, []Event, error) {
	if err := ensureMutable(o); err != nil {
		return o, nil, err
	}
	if o.Status != OrderStatusPending {
		return o, nil, ErrItemsLocked
	}
	if qty <= 0 {
		return o, nil, ErrItemQtyInvalid
	}

	for _, item := range o.Items {
		if item.ProductID != productID {
			continue
		}
		if qty > item.Quantity {
			return o, nil, fmt.Errorf("%w: have %d, remove %d", ErrItemQtyExceeded, item.Quantity, qty)
		}
		next, events := emit(o, OrderItemRemovedEvent{
			EventMeta: newMeta(c, o.ID),
			ProductID: item.ProductID,
			UnitPrice: item.UnitPrice,
			Quantity:  qty,
		})
		return next, events, nil
	}
	return o, nil, ErrItemNotFound
}

// ConfirmOrder подтверждает заказ с непустым составом.
func ConfirmOrder(c Clock, o Order) (Order, []Event, error) {
	if err := ensureMutable(o); err != nil {
		return o, nil, err
	}
	if len(o.Items) == 0 {
		return o, nil, ErrItemsRequired
	}
	if o.Status != OrderStatusPending && o.Status != OrderStatusApproved {
		return o, nil, ErrStatusPrecondition
	}
	if err := CheckTransition(o, OrderStatusConfirmed); err != nil {
		return o, nil, err
	}

	next, events := emit(o, OrderConfirmedEvent{EventMeta: newMeta(c, o.ID)})
	return next, events, nil
}

// CancelOrder отменяет заказ, если он ещё не прошёл точку отмены своей вертикали.
func CancelOrder(c Clock, o Order, reason string) (Order, []Event, error) {
	if err := ensureMutable(o); err != nil {
		return o, nil, err
	}
	if !IsCancellable(o.Context, o.Status) {
		return o, nil, ErrNotCancellable
	}

	next, events := emit(o, OrderCancelledEvent{
		EventMeta:      newMeta(c, o.ID),
		Reason:         strings.TrimSpace(reason),
		PreviousStatus: o.Status,
	})
	return next, events, nil
}

// ShipOrder отгружает заказ вертикали с доставкой.
func ShipOrder(c Clock, o Order, trackingNumber, carrier string) (Order, []Event, error) {
	if err := ensureMutable(o); err != nil {
		return o, nil, err
	}
	if !RequiresShippingManagement(o.Context) {
		return o, nil, ErrWrongBusinessContext
	}
	if o.Status != OrderStatusProcessing && o.Status != OrderStatusBulkProcessing {
		return o, nil, ErrStatusPrecondition
	}
	if strings.TrimSpace(trackingNumber) == "" {
		return o, nil, ErrTrackingNumberRequired
	}

	next, events := emit(o, OrderShippedEvent{
		EventMeta:      newMeta(c, o.ID),
		TrackingNumber: strings.TrimSpace(trackingNumber),
		Carrier:        carrier,
	})
	return next, events, nil
}

// DeliverOrder фиксирует получение отгруженного заказа.
func DeliverOrder(c Clock, o Order) (Order, []Event, error) {
	if err := ensureMutable(o); err != nil {
		return o, nil, err
	}
	if o.Status != OrderStatusShipped {
		return o, nil, ErrStatusPrecondition
	}

	next, events := emit(o, OrderDeliveredEvent{EventMeta: newMeta(c, o.ID)})
	return next, events, nil
}

// SendToKitchen передаёт подтверждённый заказ ресторана на кухню.
func SendToKitchen(c Clock, o Order, station, notes string) (Order, []Event, error) {
	if err := ensureMutable(o); err != nil {
		return o, nil, err
	}
	if !RequiresKitchenIntegration(o.Context) {
		return o, nil, ErrWrongBusinessContext
	}
	if o.Status != OrderStatusConfirmed {
		return o, nil, ErrStatusPrecondition
	}

	next, events := emit(o, OrderSentToKitchenEvent{
		EventMeta: newMeta(c, o.ID),
		Station:   station,
		Notes:     notes,
	})
	return next, events, nil
}

// ScanItems фиксирует сканирование позиций на кассе бутика.
func ScanItems(c Clock, o Order, registerID string) (Order, []Event, error) {
	if err := ensureMutable(o); err != nil {
		return o, nil, err
	}
	if !RequiresPOSIntegration(o.Context) {
		return o, nil, ErrWrongBusinessContext
	}
	if o.Status != OrderStatusPending {
		return o, nil, ErrStatusPrecondition
	}
	if len(o.Items) == 0 {
		return o, nil, ErrItemsRequired
	}

	next, events := emit(o, OrderItemsScannedEvent{
		EventMeta:  newMeta(c, o.ID),
		RegisterID: registerID,
		ItemCount:  o.ItemCount(),
	})
	return next, events, nil
}

// RequestQuote отправляет оптовый заказ на согласование цены.
func RequestQuote(c Clock, o Order, notes string) (Order, []Event, error) {
	if err := ensureMutable(o); err != nil {
		return o, nil, err
	}
	if o.Context != BusinessContextWholesale {
		return o, nil, ErrWrongBusinessContext
	}
	if o.Status != OrderStatusPending {
		return o, nil, ErrStatusPrecondition
	}
	if len(o.Items) == 0 {
		return o, nil, ErrItemsRequired
	}

	next, events := emit(o, OrderQuoteRequestedEvent{EventMeta: newMeta(c, o.ID), Notes: notes})
	return next, events, nil
}

// ProcessPayment фиксирует оплату на полную сумму заказа.
// В бутике оплата возможна только после сканирования и переводит заказ в paid.
func ProcessPayment(c Clock, o Order, p ProcessPaymentParams) (Order, []Event, error) {
	if err := ensureMutable(o); err != nil {
		return o, nil, err
	}
	if o.Payment.Status.Settled() {
		return o, nil, ErrAlreadyPaid
	}
	if len(o.Items) == 0 {
		return o, nil, ErrItemsRequired
	}
	if !p.Amount.Equal(o.Total) {
		return o, nil, fmt.Errorf("%w: expected %s, got %s", ErrPaymentAmountMismatch, o.Total, p.Amount)
	}
	if strings.TrimSpace(p.Method) == "" {
		return o, nil, fmt.Errorf("%w: payment method is required", ErrInvalidArgument)
	}

	status := p.Status
	if status == PaymentStatusNone {
		status = PaymentStatusAuthorized
	}
	pos := RequiresPOSIntegration(o.Context)
	if pos {
		if o.Status != OrderStatusScanned {
			return o, nil, ErrStatusPrecondition
		}
		status = PaymentStatusCaptured
	}

	events := []Event{OrderPaymentProcessedEvent{
		EventMeta:      newMeta(c, o.ID),
		Amount:         p.Amount,
		Method:         p.Method,
		TransactionRef: p.TransactionRef,
		Status:         status,
	}}
	if pos {
		events = append(events, OrderStatusChangedEvent{
			EventMeta: newMeta(c, o.ID),
			From:      o.Status,
			To:        OrderStatusPaid,
			Reason:    "payment captured at point of sale",
		})
	}

	next, events := emit(o, events...)
	return next, events, nil
}

// ChangeStatus выполняет переход по графу статусов с учётом бизнес-контекста.
// Терминальность здесь не проверяется: путь delivered -> refunded задан графом.
func ChangeStatus(c Clock, o Order, to OrderStatus, reason, actorID string) (Order, []Event, error) {
	if !o.Exists() {
		return o, nil, ErrOrderNotFound
	}
	if err := CheckTransition(o, to); err != nil {
		return o, nil, err
	}
	if to == OrderStatusConfirmed && len(o.Items) == 0 {
		return o, nil, ErrItemsRequired
	}

	next, events := emit(o, OrderStatusChangedEvent{
		EventMeta: newMeta(c, o.ID),
		From:      o.Status,
		To:        to,
		Reason:    reason,
		ActorID:   actorID,
	})
	return next, events, nil
}

// RecordWorkflowTransition добавляет аудит перехода, выполненного движком.
func RecordWorkflowTransition(c Clock, o Order, from, to OrderStatus, wctx WorkflowContext, elapsed time.Duration) (Order, []Event, error) {
	if !o.Exists() {
		return o, nil, ErrOrderNotFound
	}

	next, events := emit(o, WorkflowTransitionEvent{
		EventMeta:       newMeta(c, o.ID),
		From:            from,
		To:              to,
		BusinessContext: o.Context,
		ServiceContext:  copyStringMap(wctx.ServiceContext),
		ActorID:         wctx.ActorID,
		Reason:          wctx.Reason,
		Attributes:      copyStringMap(wctx.Metadata),
		ElapsedMs:       elapsed.Milliseconds(),
	})
	return next, events, nil
}

// ChangeBusinessContext переводит заказ в другую вертикаль. Поддерживается только в pending.
func ChangeBusinessContext(c Clock, o Order, to BusinessContext) (Order, []Event, error) {
	if err := ensureMutable(o); err != nil {
		return o, nil, err
	}
	if !to.Valid() {
		return o, nil, ErrUnknownBusinessContext
	}
	if o.Context == to {
		return o, nil, nil
	}
	if o.Status != OrderStatusPending {
		return o, nil, ErrContextChangeUnsupported
	}
	if RequiresShippingManagement(to) && o.DeliveryAddress.IsZero() {
		return o, nil, ErrAddressRequired
	}

	next, events := emit(o, BusinessContextChangedEvent{
		EventMeta: newMeta(c, o.ID),
		From:      o.Context,
		To:        to,
	})
	return next, events, nil
}

func ensureMutable(o Order) error {
	if !o.Exists() {
		return ErrOrderNotFound
	}
	if o.Status.IsTerminal() {
		return ErrOrderTerminal
	}
	return nil
}

// emit применяет события и проверяет инварианты. Нарушение здесь: ошибка программиста.
func emit(o Order, events ...Event) (Order, []Event) {
	for _, evt := range events {
		o = Apply(o, evt)
	}
	if errs := o.ValidateInvariants(); len(errs) > 0 {
		panic(fmt.Sprintf("domain: command broke order invariants: %v", errors.Join(errs...)))
	}
	return o, events
}
