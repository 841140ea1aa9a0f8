package domain

import (
	"fmt"
	"time"
)

// EncodeRecords превращает события в записи потока, начиная с версии expectedVersion+1.
func EncodeRecords(streamID string, events []Event, expectedVersion int64, recordedAt time.Time) ([]StreamRecord, error) {
	records := make([]StreamRecord, 0, len(events))
	for i, evt := range events {
		tag, data, err := EncodeEvent(evt)
		if err != nil {
			return nil, err
		}
		version := expectedVersion + 1 + int64(i)
		eventID := evt.Metadata().EventID
		if eventID == "" {
			eventID = fmt.Sprintf("%s@%d", streamID, version)
		}
		records = append(records, StreamRecord{
			StreamID:  streamID,
			EventID:   eventID,
			EventType: tag,
			EventData: data,
			Version:   version,
			Timestamp: recordedAt,
		})
	}
	return records, nil
}

// OutboxMessageFromRecord формирует сообщение outbox для сохранённого события.
// Идентификатор сообщения совпадает с идентификатором события, что делает публикацию идемпотентной.
func OutboxMessageFromRecord(rec StreamRecord, orderID string) OutboxMessage {
	return OutboxMessage{
		ID:            rec.EventID,
		AggregateType: AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     rec.EventType,
		StreamVersion: rec.Version,
		Payload:       append([]byte(nil), rec.EventData...),
		CreatedAt:     rec.Timestamp,
	}
}

// ValidateAppend проверяет аргументы SaveEvents, общие для всех хранилищ.
func ValidateAppend(streamID string, expectedVersion int64) error {
	if streamID == "" {
		return fmt.Errorf("%w: stream id is required", ErrInvalidArgument)
	}
	if expectedVersion < -1 {
		return fmt.Errorf("%w: expected version must be >= -1", ErrInvalidArgument)
	}
	return nil
}

// ConflictError сообщает о несовпадении ожидаемой и фактической версии потока.
func ConflictError(streamID string, expected, actual int64) error {
	return fmt.Errorf("stream %s: expected version %d, actual %d: %w", streamID, expected, actual, ErrConcurrencyConflict)
}
