package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "oms.order.events"
	TopicWorkflowEvents  = "oms.workflow.events"
	TopicKitchenUpdates  = "oms.kitchen.updates"
	TopicDeadLetterQueue = "oms.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики и маршрутизации
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderStreamVersion = "x-stream-version"
)

// ErrPoisonMessage: сообщение нельзя разобрать, повторять обработку бессмысленно.
var ErrPoisonMessage = errors.New("poison message")

// EventEnvelope: событие потока заказа в том виде, в котором оно уходит в Kafka.
type EventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	StreamVersion int64           `json:"stream_version"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at,omitempty"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEventEnvelope оборачивает сообщение outbox.
func NewEventEnvelope(msg domain.OutboxMessage, publishedAt time.Time) EventEnvelope {
	return EventEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		StreamVersion: msg.StreamVersion,
		Payload:       json.RawMessage(msg.Payload),
		OccurredAt:    msg.CreatedAt,
		PublishedAt:   publishedAt,
	}
}

// Event декодирует payload в типизированное доменное событие.
func (e EventEnvelope) Event() (domain.Event, error) {
	return domain.DecodeEvent(e.EventType, e.Payload)
}

// TopicForEvent выбирает topic по типу события: аудит workflow отделён от событий заказа.
func TopicForEvent(eventType string) string {
	if strings.HasPrefix(eventType, "workflow.") {
		return TopicWorkflowEvents
	}
	return TopicOrderEvents
}

// KitchenStatusUpdate: сообщение кухни о ходе приготовления заказа.
type KitchenStatusUpdate struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	Station   string    `json:"station,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewKitchenStatusUpdate создает сообщение кухни
func NewKitchenStatusUpdate(orderID, status, station string) *KitchenStatusUpdate {
	return &KitchenStatusUpdate{
		OrderID:   orderID,
		Status:    status,
		Station:   station,
		Timestamp: time.Now().UTC(),
	}
}

// ParseEventEnvelope парсит EventEnvelope из сообщения
func ParseEventEnvelope(message *sarama.ConsumerMessage) (*EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal event envelope: %v", ErrPoisonMessage, err)
	}
	if env.AggregateID == "" || env.EventType == "" {
		return nil, fmt.Errorf("%w: event envelope without aggregate id or event type", ErrPoisonMessage)
	}
	return &env, nil
}

// ParseKitchenStatusUpdate парсит KitchenStatusUpdate из сообщения
func ParseKitchenStatusUpdate(message *sarama.ConsumerMessage) (*KitchenStatusUpdate, error) {
	var update KitchenStatusUpdate
	if err := json.Unmarshal(message.Value, &update); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal kitchen update: %v", ErrPoisonMessage, err)
	}
	if update.OrderID == "" || update.Status == "" {
		return nil, fmt.Errorf("%w: kitchen update without order id or status", ErrPoisonMessage)
	}
	return &update, nil
}
