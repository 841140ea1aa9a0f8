package domain

import "strings"

// OrderStatus описывает жизненный цикл заказа во всех вертикалях.
type OrderStatus string

// Общие статусы.
const (
	// OrderStatusPending: заказ создан, состав ещё можно менять.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed: заказ подтверждён, состав зафиксирован.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing: заказ собирается к отправке.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped: заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered: заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled: заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded: деньги возвращены клиенту.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusFailed: обработка прервана ошибкой, возможно восстановление.
	OrderStatusFailed OrderStatus = "failed"
)

// Статусы ресторана.
const (
	OrderStatusKitchenQueue OrderStatus = "kitchen_queue"
	OrderStatusCooking      OrderStatus = "cooking"
	OrderStatusReady        OrderStatus = "ready"
	OrderStatusServed       OrderStatus = "served"
)

// Статусы бутика (POS).
const (
	OrderStatusScanned   OrderStatus = "scanned"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusReceipted OrderStatus = "receipted"
	OrderStatusCompleted OrderStatus = "completed"
)

// Статусы оптовых заказов.
const (
	OrderStatusQuoteRequested OrderStatus = "quote_requested"
	OrderStatusApproved       OrderStatus = "approved"
	OrderStatusBulkProcessing OrderStatus = "bulk_processing"
)

// AllStatuses перечисляет все известные статусы в порядке объявления.
var AllStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
	OrderStatusFailed,
	OrderStatusKitchenQueue,
	OrderStatusCooking,
	OrderStatusReady,
	OrderStatusServed,
	OrderStatusScanned,
	OrderStatusPaid,
	OrderStatusReceipted,
	OrderStatusCompleted,
	OrderStatusQuoteRequested,
	OrderStatusApproved,
	OrderStatusBulkProcessing,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, что заказ завершён и не принимает изменяющих команд.
// Переход в refunded из завершённого статуса по-прежнему определяется графом переходов.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusServed, OrderStatusCompleted,
		OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrUnknownStatus
	}
	return s, nil
}
