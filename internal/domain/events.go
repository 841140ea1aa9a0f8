package domain

import (
	"time"

	"github.com/google/uuid"
)

// CurrentSchemaVersion: версия схемы полезной нагрузки событий.
const CurrentSchemaVersion = 1

// Теги событий. Они хранятся в потоке и не должны меняться при переименовании типов.
const (
	EventTypeOrderCreated           = "order.created"
	EventTypeItemAdded              = "order.item_added"
	EventTypeItemRemoved            = "order.item_removed"
	EventTypeOrderConfirmed         = "order.confirmed"
	EventTypeOrderCancelled         = "order.cancelled"
	EventTypeOrderShipped           = "order.shipped"
	EventTypeOrderDelivered         = "order.delivered"
	EventTypeOrderSentToKitchen     = "order.sent_to_kitchen"
	EventTypeOrderItemsScanned      = "order.items_scanned"
	EventTypeOrderQuoteRequested    = "order.quote_requested"
	EventTypePaymentProcessed       = "order.payment_processed"
	EventTypeStatusChanged          = "order.status_changed"
	EventTypeBusinessContextChanged = "order.context_changed"
	EventTypeWorkflowTransition     = "workflow.transition"
	EventTypeWorkflowError          = "workflow.error"
)

// Event: неизменяемый факт об изменении заказа.
type Event interface {
	EventType() string
	Metadata() EventMeta
}

// EventMeta: общие поля каждого события.
type EventMeta struct {
	EventID       string    `json:"event_id"`
	OrderID       string    `json:"order_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	SchemaVersion int       `json:"schema_version"`
}

// Metadata возвращает метаданные события.
func (m EventMeta) Metadata() EventMeta { return m }

// Clock задаёт источник времени и идентификаторов для новых событий.
type Clock interface {
	Now() time.Time
	NewID() string
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
func (systemClock) NewID() string  { return uuid.NewString() }

// SystemClock возвращает часы на time.Now и UUID v4.
func SystemClock() Clock { return systemClock{} }

func newMeta(c Clock, orderID string) EventMeta {
	return EventMeta{
		EventID:       c.NewID(),
		OrderID:       orderID,
		OccurredAt:    c.Now(),
		SchemaVersion: CurrentSchemaVersion,
	}
}

// CustomerInfo: данные клиента на момент создания заказа.
type CustomerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Address: адрес доставки. Для вертикалей без доставки может быть пустым.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// IsZero возвращает true, если адрес не заполнен.
func (a Address) IsZero() bool {
	return a == Address{}
}

type OrderCreatedEvent struct {
	EventMeta
	Customer        CustomerInfo      `json:"customer"`
	DeliveryAddress Address           `json:"delivery_address"`
	BusinessContext BusinessContext   `json:"business_context"`
	Currency        string            `json:"currency"`
	ServiceContext  map[string]string `json:"service_context,omitempty"`
}

func (OrderCreatedEvent) EventType() string { return EventTypeOrderCreated }

type OrderItemAddedEvent struct {
	EventMeta
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice Money  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

func (OrderItemAddedEvent) EventType() string { return EventTypeItemAdded }

type OrderItemRemovedEvent struct {
	EventMeta
	ProductID string `json:"product_id"`
	UnitPrice Money  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

func (OrderItemRemovedEvent) EventType() string { return EventTypeItemRemoved }

type OrderConfirmedEvent struct {
	EventMeta
}

func (OrderConfirmedEvent) EventType() string { return EventTypeOrderConfirmed }

type OrderCancelledEvent struct {
	EventMeta
	Reason         string      `json:"reason"`
	PreviousStatus OrderStatus `json:"previous_status"`
}

func (OrderCancelledEvent) EventType() string { return EventTypeOrderCancelled }

type OrderShippedEvent struct {
	EventMeta
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier,omitempty"`
}

func (OrderShippedEvent) EventType() string { return EventTypeOrderShipped }

type OrderDeliveredEvent struct {
	EventMeta
}

func (OrderDeliveredEvent) EventType() string { return EventTypeOrderDelivered }

type OrderSentToKitchenEvent struct {
	EventMeta
	Station string `json:"station,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

func (OrderSentToKitchenEvent) EventType() string { return EventTypeOrderSentToKitchen }

type OrderItemsScannedEvent struct {
	EventMeta
	RegisterID string `json:"register_id,omitempty"`
	ItemCount  int    `json:"item_count"`
}

func (OrderItemsScannedEvent) EventType() string { return EventTypeOrderItemsScanned }

type OrderQuoteRequestedEvent struct {
	EventMeta
	Notes string `json:"notes,omitempty"`
}

func (OrderQuoteRequestedEvent) EventType() string { return EventTypeOrderQuoteRequested }

type OrderPaymentProcessedEvent struct {
	EventMeta
	Amount         Money         `json:"amount"`
	Method         string        `json:"method"`
	TransactionRef string        `json:"transaction_ref,omitempty"`
	Status         PaymentStatus `json:"status"`
}

func (OrderPaymentProcessedEvent) EventType() string { return EventTypePaymentProcessed }

type OrderStatusChangedEvent struct {
	EventMeta
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
	Reason  string      `json:"reason,omitempty"`
	ActorID string      `json:"actor_id,omitempty"`
}

func (OrderStatusChangedEvent) EventType() string { return EventTypeStatusChanged }

type BusinessContextChangedEvent struct {
	EventMeta
	From BusinessContext `json:"from"`
	To   BusinessContext `json:"to"`
}

func (BusinessContextChangedEvent) EventType() string { return EventTypeBusinessContextChanged }

// WorkflowTransitionEvent фиксирует контекст, в котором движок выполнил переход.
type WorkflowTransitionEvent struct {
	EventMeta
	From            OrderStatus       `json:"from"`
	To              OrderStatus       `json:"to"`
	BusinessContext BusinessContext   `json:"business_context"`
	ServiceContext  map[string]string `json:"service_context,omitempty"`
	ActorID         string            `json:"actor_id,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	ElapsedMs       int64             `json:"elapsed_ms"`
}

func (WorkflowTransitionEvent) EventType() string { return EventTypeWorkflowTransition }

// WorkflowErrorEvent фиксирует отклонённую попытку перехода. Пишется в аудит-поток.
type WorkflowErrorEvent struct {
	EventMeta
	From            OrderStatus     `json:"from"`
	Attempted       OrderStatus     `json:"attempted"`
	BusinessContext BusinessContext `json:"business_context"`
	ActorID         string          `json:"actor_id,omitempty"`
	Reason          string          `json:"reason"`
}

func (WorkflowErrorEvent) EventType() string { return EventTypeWorkflowError }

// NewWorkflowErrorEvent создаёт событие аудита для отклонённого перехода.
func NewWorkflowErrorEvent(c Clock, o Order, attempted OrderStatus, wctx WorkflowContext, reason string) WorkflowErrorEvent {
	return WorkflowErrorEvent{
		EventMeta:       newMeta(c, o.ID),
		From:            o.Status,
		Attempted:       attempted,
		BusinessContext: o.Context,
		ActorID:         wctx.ActorID,
		Reason:          reason,
	}
}
