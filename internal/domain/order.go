package domain

import (
	"fmt"
	"time"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ProductID string
	Name      string
	UnitPrice Money
	Quantity  int
}

// LineTotal: стоимость позиции: цена * количество.
func (i OrderItem) LineTotal() Money {
	return i.UnitPrice.Mul(i.Quantity)
}

// Order: текущее состояние заказа, полученное сворачиванием его потока событий.
// Значение не содержит ссылок на входные данные: Apply всегда копирует срез позиций.
type Order struct {
	ID              string
	Customer        CustomerInfo
	DeliveryAddress Address
	Context         BusinessContext
	ServiceContext  map[string]string
	Currency        string
	Items           []OrderItem
	Total           Money
	Status          OrderStatus
	Payment         PaymentInfo
	CancelReason    string
	TrackingNumber  string
	// Version: количество применённых событий.
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ConfirmedAt time.Time
	ShippedAt   time.Time
	DeliveredAt time.Time
	CancelledAt time.Time
}

// Exists возвращает true, если заказ был создан.
func (o Order) Exists() bool {
	return o.ID != ""
}

// ItemCount: суммарное количество единиц товара.
func (o Order) ItemCount() int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

// Apply: чистый редьюсер: возвращает новое состояние, не изменяя входное.
func Apply(o Order, evt Event) Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	meta := evt.Metadata()

	switch e := evt.(type) {
	case OrderCreatedEvent:
		o = Order{
			ID:              e.OrderID,
			Customer:        e.Customer,
			DeliveryAddress: e.DeliveryAddress,
			Context:         e.BusinessContext,
			ServiceContext:  copyStringMap(e.ServiceContext),
			Currency:        e.Currency,
			Total:           Zero(e.Currency),
			Status:          OrderStatusPending,
			Version:         o.Version,
			CreatedAt:       e.OccurredAt,
		}
	case OrderItemAddedEvent:
		o = applyItemAdded(o, e)
	case OrderItemRemovedEvent:
		o = applyItemRemoved(o, e)
	case OrderConfirmedEvent:
		o.Status = OrderStatusConfirmed
		o.ConfirmedAt = e.OccurredAt
	case OrderCancelledEvent:
		o.Status = OrderStatusCancelled
		o.CancelReason = e.Reason
		o.CancelledAt = e.OccurredAt
	case OrderShippedEvent:
		o.Status = OrderStatusShipped
		o.TrackingNumber = e.TrackingNumber
		o.ShippedAt = e.OccurredAt
	case OrderDeliveredEvent:
		o.Status = OrderStatusDelivered
		o.DeliveredAt = e.OccurredAt
	case OrderSentToKitchenEvent:
		o.Status = OrderStatusKitchenQueue
	case OrderItemsScannedEvent:
		o.Status = OrderStatusScanned
	case OrderQuoteRequestedEvent:
		o.Status = OrderStatusQuoteRequested
	case OrderPaymentProcessedEvent:
		o.Payment = PaymentInfo{
			Status:         e.Status,
			Amount:         e.Amount,
			Method:         e.Method,
			TransactionRef: e.TransactionRef,
			ProcessedAt:    e.OccurredAt,
		}
	case OrderStatusChangedEvent:
		o = applyStatusChanged(o, e)
	case BusinessContextChangedEvent:
		o.Context = e.To
	case WorkflowTransitionEvent, WorkflowErrorEvent:
		// только аудит
	}

	o.Version++
	o.UpdatedAt = meta.OccurredAt
	return o
}

// Replay сворачивает события в состояние, начиная с пустого заказа.
func Replay(events []Event) Order {
	var o Order
	for _, evt := range events {
		o = Apply(o, evt)
	}
	return o
}

func applyItemAdded(o Order, e OrderItemAddedEvent) Order {
	merged := false
	for i := range o.Items {
		if o.Items[i].ProductID == e.ProductID && o.Items[i].UnitPrice.Equal(e.UnitPrice) {
			o.Items[i].Quantity += e.Quantity
			merged = true
			break
		}
	}
	if !merged {
		o.Items = append(o.Items, OrderItem{
			ProductID: e.ProductID,
			Name:      e.Name,
			UnitPrice: e.UnitPrice,
			Quantity:  e.Quantity,
		})
	}
	if total, err := o.Total.Add(e.UnitPrice.Mul(e.Quantity)); err == nil {
		o.Total = total
	}
	return o
}

func applyItemRemoved(o Order, e OrderItemRemovedEvent) Order {
	for i := range o.Items {
		if o.Items[i].ProductID != e.ProductID || !o.Items[i].UnitPrice.Equal(e.UnitPrice) {
			continue
		}
		o.Items[i].Quantity -= e.Quantity
		if o.Items[i].Quantity <= 0 {
			o.Items = append(o.Items[:i], o.Items[i+1:]...)
		}
		break
	}
	if total, err := o.Total.Sub(e.UnitPrice.Mul(e.Quantity)); err == nil {
		o.Total = total
	}
	return o
}

func applyStatusChanged(o Order, e OrderStatusChangedEvent) Order {
	o.Status = e.To
	switch e.To {
	case OrderStatusConfirmed:
		o.ConfirmedAt = e.OccurredAt
	case OrderStatusShipped:
		o.ShippedAt = e.OccurredAt
	case OrderStatusDelivered:
		o.DeliveredAt = e.OccurredAt
	case OrderStatusCancelled:
		o.CancelReason = e.Reason
		o.CancelledAt = e.OccurredAt
	case OrderStatusRefunded:
		if o.Payment.Status.Settled() {
			o.Payment.Status = PaymentStatusRefunded
		}
	}
	return o
}

// ValidateInvariants проверяет инварианты заказа и возвращает список замечаний.
func (o Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.Customer.ID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if _, err := normalizeCurrency(o.Currency); err != nil {
		errs = append(errs, err)
	}
	if !o.Context.Valid() {
		errs = append(errs, ErrUnknownBusinessContext)
	}
	if !IsStatusValid(o.Context, o.Status) {
		errs = append(errs, fmt.Errorf("%w: %s is not valid for %s", ErrUnknownStatus, o.Status, o.Context))
	}
	if o.Total.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	calc := Zero(o.Currency)
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		sum, err := calc.Add(item.LineTotal())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		calc = sum
	}
	if !calc.Equal(o.Total) {
		errs = append(errs, fmt.Errorf("%w: total %s does not match items sum %s", ErrInvalidArgument, o.Total, calc))
	}

	return errs
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
