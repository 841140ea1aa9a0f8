package domain

import (
	"encoding/json"
	"fmt"
)

type eventDecoder func(data []byte) (Event, error)

// decoders: явный реестр тег -> тип. Рефлексия по имени типа не используется.
var decoders = map[string]eventDecoder{
	EventTypeOrderCreated:           decodeAs[OrderCreatedEvent],
	EventTypeItemAdded:              decodeAs[OrderItemAddedEvent],
	EventTypeItemRemoved:            decodeAs[OrderItemRemovedEvent],
	EventTypeOrderConfirmed:         decodeAs[OrderConfirmedEvent],
	EventTypeOrderCancelled:         decodeAs[OrderCancelledEvent],
	EventTypeOrderShipped:           decodeAs[OrderShippedEvent],
	EventTypeOrderDelivered:         decodeAs[OrderDeliveredEvent],
	EventTypeOrderSentToKitchen:     decodeAs[OrderSentToKitchenEvent],
	EventTypeOrderItemsScanned:      decodeAs[OrderItemsScannedEvent],
	EventTypeOrderQuoteRequested:    decodeAs[OrderQuoteRequestedEvent],
	EventTypePaymentProcessed:       decodeAs[OrderPaymentProcessedEvent],
	EventTypeStatusChanged:          decodeAs[OrderStatusChangedEvent],
	EventTypeBusinessContextChanged: decodeAs[BusinessContextChangedEvent],
	EventTypeWorkflowTransition:     decodeAs[WorkflowTransitionEvent],
	EventTypeWorkflowError:          decodeAs[WorkflowErrorEvent],
}

func decodeAs[T Event](data []byte) (Event, error) {
	var evt T
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// KnownEventTypes возвращает все зарегистрированные теги.
func KnownEventTypes() []string {
	out := make([]string, 0, len(decoders))
	for tag := range decoders {
		out = append(out, tag)
	}
	return out
}

// EncodeEvent сериализует событие и возвращает его тег.
func EncodeEvent(evt Event) (string, []byte, error) {
	if evt == nil {
		return "", nil, fmt.Errorf("encode event: %w: nil event", ErrInvalidArgument)
	}
	tag := evt.EventType()
	if _, ok := decoders[tag]; !ok {
		return "", nil, fmt.Errorf("encode event: %w: %s", ErrUnknownEventType, tag)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return "", nil, fmt.Errorf("encode event %s: %w", tag, err)
	}
	return tag, data, nil
}

// DecodeEvent восстанавливает типизированное событие по тегу.
func DecodeEvent(eventType string, data []byte) (Event, error) {
	decode, ok := decoders[eventType]
	if !ok {
		return nil, fmt.Errorf("decode event: %w: %s", ErrUnknownEventType, eventType)
	}
	evt, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode event %s: %w", eventType, err)
	}
	return evt, nil
}

// DecodeRecords декодирует записи потока в порядке версий.
func DecodeRecords(records []StreamRecord) ([]Event, error) {
	events := make([]Event, 0, len(records))
	for _, rec := range records {
		evt, err := DecodeEvent(rec.EventType, rec.EventData)
		if err != nil {
			return nil, fmt.Errorf("stream %s version %d: %w", rec.StreamID, rec.Version, err)
		}
		events = append(events, evt)
	}
	return events, nil
}
