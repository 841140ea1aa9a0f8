package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/esoms/internal/service/orchestration"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// outboxPublisher выбирает, куда outbox-воркер отправляет события.
// Без Kafka события только логируются и помечаются отправленными.
func outboxPublisher(producer *kafka.Producer, logger *log.Entry) domain.OutboxPublisher {
	if producer == nil {
		return logPublisher{logger: logger}
	}
	return kafka.NewOutboxPublisher(producer, "")
}

// dlqPublisher: публикатор исчерпавших попытки сообщений outbox.
func dlqPublisher(producer *kafka.Producer) domain.OutboxPublisher {
	if producer == nil {
		return nil
	}
	return kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)
}

type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.WithFields(log.Fields{
		"event_id":       msg.ID,
		"event_type":     msg.EventType,
		"aggregate_id":   msg.AggregateID,
		"stream_version": msg.StreamVersion,
	}).Debug("outbox event published to log")
	return nil
}

// kitchenUpdater: часть orchestration.Service, нужная consumer'у кухни.
type kitchenUpdater interface {
	UpdateFromKitchen(ctx context.Context, update orchestration.KitchenUpdate) (orchestration.Result, error)
}

// kitchenUpdateApplier переводит сообщения кухни в вызовы оркестрации.
// Инфраструктурная ошибка возвращается consumer'у для повтора. Бизнес-отказ
// (неизвестный заказ, неподходящий статус) повторять бессмысленно: он только логируется.
func kitchenUpdateApplier(orch kitchenUpdater, logger *log.Entry) kafka.KitchenUpdateFunc {
	return func(ctx context.Context, update kafka.KitchenStatusUpdate) error {
		res, err := orch.UpdateFromKitchen(ctx, orchestration.KitchenUpdate{
			OrderID: update.OrderID,
			Status:  update.Status,
			Station: update.Station,
			Notes:   update.Notes,
		})
		if err != nil {
			return err
		}

		entry := logger.WithFields(log.Fields{
			"order_id": update.OrderID,
			"status":   update.Status,
		})
		if !res.Success {
			entry.WithField("reason", res.Message).Warn("kitchen update rejected")
			return nil
		}
		entry.Debug("kitchen update applied")
		return nil
	}
}

// startKitchenConsumer подписывается на обновления кухни. Ошибки обработки
// после исчерпания попыток уходят в DLQ через producer.
func startKitchenConsumer(ctx context.Context, cfg Config, producer *kafka.Producer, orch kitchenUpdater, logger *log.Entry) (*kafka.Consumer, error) {
	handler := kafka.NewKitchenUpdateHandler(kitchenUpdateApplier(orch, logger))
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, []string{cfg.KafkaKitchenTopic}, handler,
		kafka.WithDeadLetterQueue(producer),
		kafka.WithMaxAttempts(cfg.KafkaConsumerRetry),
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, err
	}
	return consumer, nil
}
