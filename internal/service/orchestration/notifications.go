package orchestration

import (
	"fmt"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

const (
	channelEmail = "email"
	channelSMS   = "sms"
)

var statusMessages = map[domain.OrderStatus]string{
	domain.OrderStatusPending:        "We have received your order.",
	domain.OrderStatusConfirmed:      "Your order is confirmed.",
	domain.OrderStatusProcessing:     "We are preparing your order for shipment.",
	domain.OrderStatusShipped:        "Your order is on its way.",
	domain.OrderStatusDelivered:      "Your order has been delivered.",
	domain.OrderStatusCancelled:      "Your order has been cancelled.",
	domain.OrderStatusRefunded:       "Your payment has been refunded.",
	domain.OrderStatusFailed:         "We could not process your order. Our team will contact you.",
	domain.OrderStatusKitchenQueue:   "Your order has been sent to the kitchen.",
	domain.OrderStatusCooking:        "The kitchen is cooking your order.",
	domain.OrderStatusReady:          "Your order is ready.",
	domain.OrderStatusServed:         "Enjoy your meal!",
	domain.OrderStatusScanned:        "Your items have been scanned.",
	domain.OrderStatusPaid:           "Payment received, thank you.",
	domain.OrderStatusReceipted:      "Your receipt is ready.",
	domain.OrderStatusCompleted:      "Thank you for shopping with us.",
	domain.OrderStatusQuoteRequested: "Your quote request has been received.",
	domain.OrderStatusApproved:       "Your quote has been approved.",
	domain.OrderStatusBulkProcessing: "Your bulk order is being processed.",
}

// BuildNotification собирает уведомление о текущем статусе заказа.
// Для выдачи на месте (ресторан, бутик) предпочитается SMS, для доставки: email.
// found=false, если у клиента нет ни email, ни телефона.
func BuildNotification(o domain.Order) (domain.Notification, bool) {
	email, phone := o.Customer.Email, o.Customer.Phone

	channel, recipient := channelEmail, email
	inPerson := domain.RequiresKitchenIntegration(o.Context) || domain.RequiresPOSIntegration(o.Context)
	if (inPerson && phone != "") || email == "" {
		channel, recipient = channelSMS, phone
	}
	if recipient == "" {
		return domain.Notification{}, false
	}

	body := statusMessages[o.Status]
	if body == "" {
		body = fmt.Sprintf("Your order status is now %s.", o.Status)
	}
	if o.Status == domain.OrderStatusShipped && o.TrackingNumber != "" {
		body += " Tracking number: " + o.TrackingNumber + "."
	}
	if table := o.ServiceContext["table"]; table != "" && o.Status == domain.OrderStatusReady {
		body += " It will be served at table " + table + "."
	}

	return domain.Notification{
		OrderID:    o.ID,
		CustomerID: o.Customer.ID,
		Recipient:  recipient,
		Channel:    channel,
		Subject:    fmt.Sprintf("%s order %s: %s", domain.DisplayName(o.Context), o.ID, o.Status),
		Body:       body,
	}, true
}
