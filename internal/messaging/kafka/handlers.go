package kafka

import (
	"context"

	"github.com/IBM/sarama"
)

// KitchenUpdateFunc применяет разобранное сообщение кухни к заказу.
// Ошибка означает временный сбой: сообщение будет обработано повторно.
type KitchenUpdateFunc func(ctx context.Context, update KitchenStatusUpdate) error

// NewKitchenUpdateHandler строит MessageHandler для topic oms.kitchen.updates.
// Неразбираемые сообщения возвращают ErrPoisonMessage и сразу уходят в DLQ.
func NewKitchenUpdateHandler(apply KitchenUpdateFunc) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		update, err := ParseKitchenStatusUpdate(message)
		if err != nil {
			return err
		}
		return apply(ctx, *update)
	}
}
