package domain

import "strings"

// BusinessContext: вертикаль, в которой обрабатывается заказ.
type BusinessContext string

const (
	BusinessContextECommerce  BusinessContext = "ecommerce"
	BusinessContextRestaurant BusinessContext = "restaurant"
	BusinessContextBoutique   BusinessContext = "boutique"
	BusinessContextWholesale  BusinessContext = "wholesale"
)

// contextPolicy: правила одной вертикали.
type contextPolicy struct {
	displayName string
	description string
	statuses    []OrderStatus
	// nonCancellable: статусы, начиная с которых заказ нельзя отменить.
	nonCancellable []OrderStatus
	kitchen        bool
	pos            bool
	shipping       bool
}

var policies = map[BusinessContext]contextPolicy{
	BusinessContextECommerce: {
		displayName: "E-Commerce",
		description: "Online orders fulfilled from a warehouse and shipped to the customer",
		statuses: []OrderStatus{
			OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
			OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed,
		},
		nonCancellable: []OrderStatus{OrderStatusShipped, OrderStatusDelivered},
		shipping:       true,
	},
	BusinessContextRestaurant: {
		displayName: "Restaurant",
		description: "Dine-in and takeaway orders prepared by the kitchen",
		statuses: []OrderStatus{
			OrderStatusPending, OrderStatusConfirmed, OrderStatusKitchenQueue, OrderStatusCooking,
			OrderStatusReady, OrderStatusServed, OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed,
		},
		nonCancellable: []OrderStatus{OrderStatusReady, OrderStatusServed},
		kitchen:        true,
	},
	BusinessContextBoutique: {
		displayName: "Boutique",
		description: "In-store sales scanned and paid at the point of sale",
		statuses: []OrderStatus{
			OrderStatusPending, OrderStatusScanned, OrderStatusPaid, OrderStatusReceipted,
			OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed,
		},
		nonCancellable: []OrderStatus{OrderStatusReceipted, OrderStatusCompleted},
		pos:            true,
	},
	BusinessContextWholesale: {
		displayName: "Wholesale",
		description: "Bulk B2B orders that go through quote approval before fulfilment",
		statuses: []OrderStatus{
			OrderStatusPending, OrderStatusQuoteRequested, OrderStatusApproved, OrderStatusConfirmed,
			OrderStatusBulkProcessing, OrderStatusShipped, OrderStatusDelivered,
			OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed,
		},
		nonCancellable: []OrderStatus{OrderStatusShipped, OrderStatusDelivered},
		shipping:       true,
	},
}

// AllBusinessContexts перечисляет поддерживаемые вертикали.
var AllBusinessContexts = []BusinessContext{
	BusinessContextECommerce,
	BusinessContextRestaurant,
	BusinessContextBoutique,
	BusinessContextWholesale,
}

// Valid проверяет, что контекст известен.
func (c BusinessContext) Valid() bool {
	_, ok := policies[c]
	return ok
}

// ParseBusinessContext разбирает контекст без учёта регистра.
func ParseBusinessContext(raw string) (BusinessContext, error) {
	c := BusinessContext(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", ErrUnknownBusinessContext
	}
	return c, nil
}

// ValidStatuses возвращает замкнутое множество статусов вертикали.
// Для неизвестного контекста множество пустое.
func ValidStatuses(c BusinessContext) []OrderStatus {
	p, ok := policies[c]
	if !ok {
		return nil
	}
	out := make([]OrderStatus, len(p.statuses))
	copy(out, p.statuses)
	return out
}

// IsStatusValid проверяет принадлежность статуса вертикали.
func IsStatusValid(c BusinessContext, s OrderStatus) bool {
	p, ok := policies[c]
	if !ok {
		return false
	}
	return containsStatus(p.statuses, s)
}

// IsCancellable сообщает, можно ли ещё отменить заказ в статусе s.
func IsCancellable(c BusinessContext, s OrderStatus) bool {
	p, ok := policies[c]
	if !ok || s.IsTerminal() {
		return false
	}
	return !containsStatus(p.nonCancellable, s)
}

// RequiresKitchenIntegration: заказы вертикали готовит кухня.
func RequiresKitchenIntegration(c BusinessContext) bool {
	return policies[c].kitchen
}

// RequiresPOSIntegration: заказы вертикали проходят через кассу.
func RequiresPOSIntegration(c BusinessContext) bool {
	return policies[c].pos
}

// RequiresShippingManagement: заказы вертикали доставляются.
func RequiresShippingManagement(c BusinessContext) bool {
	return policies[c].shipping
}

// DisplayName возвращает человекочитаемое название вертикали.
func DisplayName(c BusinessContext) string {
	if p, ok := policies[c]; ok {
		return p.displayName
	}
	return string(c)
}

// Description возвращает краткое описание вертикали.
func Description(c BusinessContext) string {
	return policies[c].description
}

func containsStatus(list []OrderStatus, s OrderStatus) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
