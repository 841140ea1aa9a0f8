package domain

import (
	"context"
	"time"
)

// StreamRecord: событие в том виде, в котором оно хранится в потоке.
type StreamRecord struct {
	StreamID  string
	EventID   string
	EventType string
	EventData []byte
	// Version: порядковый номер в потоке, начиная с 0, без пропусков.
	Version   int64
	Timestamp time.Time
}

// EventStore: append-only хранилище потоков событий с оптимистичной блокировкой.
type EventStore interface {
	// SaveEvents дописывает события начиная с версии expectedVersion+1.
	// expectedVersion = -1 означает, что поток ещё не должен существовать.
	// При несовпадении версии возвращает ErrConcurrencyConflict и ничего не сохраняет.
	SaveEvents(ctx context.Context, streamID string, events []Event, expectedVersion int64) error
	// GetEvents возвращает события потока по возрастанию версии; для неизвестного потока: пустой срез.
	GetEvents(ctx context.Context, streamID string) ([]Event, error)
	// GetRecords возвращает сырые записи потока.
	GetRecords(ctx context.Context, streamID string) ([]StreamRecord, error)
	// StreamVersion возвращает версию последнего события или -1.
	StreamVersion(ctx context.Context, streamID string) (int64, error)
}

// OrderRepository загружает и сохраняет агрегаты заказов через EventStore.
type OrderRepository interface {
	// Load возвращает ErrOrderNotFound, если поток пуст.
	Load(ctx context.Context, orderID string) (*Aggregate, error)
	// Save дописывает незафиксированные события агрегата. Конфликт возвращается вызывающей стороне.
	Save(ctx context.Context, agg *Aggregate) error
}

// OrderStreamID: имя потока заказа.
func OrderStreamID(orderID string) string {
	return "order-" + orderID
}

// AuditStreamID: имя аудит-потока отклонённых переходов заказа.
// Префикс не начинается с "order-", поэтому аудит не пересекается ни с одним потоком заказа.
func AuditStreamID(orderID string) string {
	return "audit-order-" + orderID
}

// IntegrationResult: ответ внешнего сервиса: флаг успеха и диагностическое сообщение.
// Бизнес-отказ возвращается через Success=false, транспортные сбои: через error.
type IntegrationResult struct {
	Success   bool
	Message   string
	Reference string
}

// KitchenTicket: заявка на приготовление.
type KitchenTicket struct {
	OrderID        string
	Items          []OrderItem
	ServiceContext map[string]string
	Notes          string
}

// KitchenService принимает заказы ресторана на приготовление.
type KitchenService interface {
	SubmitTicket(ctx context.Context, ticket KitchenTicket) (IntegrationResult, error)
	CancelTicket(ctx context.Context, orderID string) (IntegrationResult, error)
}

// InventoryService описывает взаимодействие с сервисом складских резервов.
type InventoryService interface {
	// Reserve пытается зарезервировать товары под заказ.
	Reserve(ctx context.Context, orderID string, items []OrderItem) (IntegrationResult, error)
	// Release снимает резерв по заказу (компенсация).
	Release(ctx context.Context, orderID string, items []OrderItem) (IntegrationResult, error)
}

// PaymentService описывает взаимодействие с платёжным провайдером.
type PaymentService interface {
	// Authorize резервирует сумму заказа.
	Authorize(ctx context.Context, orderID string, amount Money) (IntegrationResult, error)
	// Refund возвращает средства клиенту.
	Refund(ctx context.Context, orderID string, amount Money) (IntegrationResult, error)
}

// Notification: сообщение клиенту.
type Notification struct {
	OrderID    string
	CustomerID string
	Recipient  string
	Channel    string
	Subject    string
	Body       string
}

// NotificationService доставляет уведомления клиентам.
type NotificationService interface {
	Send(ctx context.Context, n Notification) (IntegrationResult, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	StreamVersion int64
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// HookLedger хранит отметки о выполнении хуков, чтобы хук не срабатывал дважды на один переход.
type HookLedger interface {
	// Begin резервирует выполнение. Для уже выполненного или выполняющегося хука
	// возвращает ErrHookAlreadyRecorded; запись в статусе failed можно начать заново.
	Begin(ctx context.Context, key string, ttlAt time.Time) (HookRecord, error)
	MarkDone(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key string, message string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// AggregateTypeOrder: тип агрегата в outbox.
const AggregateTypeOrder = "order"
