package domain

// transitions: общий граф статусов, не зависящий от вертикали.
// Допустимость перехода для конкретного заказа дополнительно ограничивается его бизнес-контекстом.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {
		OrderStatusConfirmed, OrderStatusQuoteRequested, OrderStatusScanned,
		OrderStatusCancelled, OrderStatusFailed,
	},
	OrderStatusConfirmed: {
		OrderStatusProcessing, OrderStatusKitchenQueue, OrderStatusBulkProcessing,
		OrderStatusCancelled, OrderStatusFailed,
	},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusDelivered:  {OrderStatusRefunded},

	OrderStatusKitchenQueue: {OrderStatusCooking, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusCooking:      {OrderStatusReady, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusReady:        {OrderStatusServed, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusServed:       {OrderStatusRefunded},

	OrderStatusScanned:   {OrderStatusPaid, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusPaid:      {OrderStatusReceipted, OrderStatusRefunded, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusReceipted: {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted: {OrderStatusRefunded},

	OrderStatusQuoteRequested: {OrderStatusApproved, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusApproved:       {OrderStatusConfirmed, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusBulkProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusFailed},

	OrderStatusFailed: {
		OrderStatusProcessing, OrderStatusKitchenQueue, OrderStatusBulkProcessing, OrderStatusCancelled,
	},
	OrderStatusCancelled: nil,
	OrderStatusRefunded:  nil,
}

// CanTransitionTo проверяет ребро общего графа без учёта вертикали.
func CanTransitionTo(from, to OrderStatus) bool {
	return containsStatus(transitions[from], to)
}

// CheckTransition проверяет переход для конкретного заказа: принадлежность цели вертикали,
// ребро графа и точку отмены. Возвращает *IllegalTransitionError.
func CheckTransition(o Order, to OrderStatus) error {
	deny := func(reason string) error {
		return &IllegalTransitionError{From: o.Status, To: to, Context: o.Context, Reason: reason}
	}

	switch {
	case !to.Valid():
		return deny("unknown target status")
	case o.Status == to:
		return deny("order is already in the target status")
	case !IsStatusValid(o.Context, to):
		return deny("target status is not valid for " + DisplayName(o.Context))
	case !CanTransitionTo(o.Status, to):
		return deny("transition is not part of the status graph")
	case to == OrderStatusCancelled && !IsCancellable(o.Context, o.Status):
		return deny("order is past the cancellation point")
	}
	return nil
}

// ValidTransitions возвращает допустимые для заказа целевые статусы в порядке графа.
func ValidTransitions(o Order) []OrderStatus {
	out := make([]OrderStatus, 0, len(transitions[o.Status]))
	for _, to := range transitions[o.Status] {
		if CheckTransition(o, to) == nil {
			out = append(out, to)
		}
	}
	return out
}

// WorkflowContext: параметры перехода, переданные вызывающей стороной.
// Живёт только на время вызова; его след остаётся в WorkflowTransitionEvent.
type WorkflowContext struct {
	BusinessContext BusinessContext
	ServiceContext  map[string]string
	ActorID         string
	Reason          string
	Metadata        map[string]string
}
