package kafka

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher отправляет outbox-сообщения в Kafka в виде EventEnvelope.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher: при пустом topic тема выбирается по типу события (TopicForEvent),
// иначе все сообщения идут в topic (так публикуется DLQ).
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	return &OutboxTopicPublisher{producer: producer, topic: topic, now: time.Now}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	topic := p.topic
	if topic == "" {
		topic = TopicForEvent(msg.EventType)
	}
	return p.producer.PublishEventWithHeaders(topic, partitionKey(msg), NewEventEnvelope(msg, p.now().UTC()), map[string]string{
		HeaderEventType:     msg.EventType,
		HeaderStreamVersion: strconv.FormatInt(msg.StreamVersion, 10),
	})
}

// partitionKey: id заказа, чтобы события одного потока читались по порядку.
func partitionKey(msg domain.OutboxMessage) string {
	if msg.AggregateID != "" {
		return msg.AggregateID
	}
	return msg.ID
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
