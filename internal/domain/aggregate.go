package domain

import (
	"errors"
	"fmt"
	"time"
)

// Aggregate: обёртка над состоянием заказа с буфером незафиксированных событий.
// Не предназначен для совместного использования между горутинами.
type Aggregate struct {
	state           Order
	originalVersion int64
	uncommitted     []Event
	clock           Clock
}

// NewAggregate создаёт пустой агрегат для нового заказа.
func NewAggregate(clock Clock) *Aggregate {
	if clock == nil {
		clock = SystemClock()
	}
	return &Aggregate{clock: clock}
}

// Rehydrate восстанавливает агрегат из потока событий.
func Rehydrate(events []Event, clock Clock) (*Aggregate, error) {
	if len(events) == 0 {
		return nil, ErrOrderNotFound
	}
	if _, ok := events[0].(OrderCreatedEvent); !ok {
		return nil, fmt.Errorf("%w: first event is %s", ErrCorruptStream, events[0].EventType())
	}

	state := Replay(events)
	if errs := state.ValidateInvariants(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrCorruptStream, errors.Join(errs...))
	}

	agg := NewAggregate(clock)
	agg.state = state
	agg.originalVersion = state.Version
	return agg, nil
}

// State возвращает копию текущего состояния.
func (a *Aggregate) State() Order {
	s := a.state
	s.Items = append([]OrderItem(nil), a.state.Items...)
	s.ServiceContext = copyStringMap(a.state.ServiceContext)
	return s
}

// ID возвращает идентификатор заказа.
func (a *Aggregate) ID() string { return a.state.ID }

// Version: количество событий с учётом незафиксированных.
func (a *Aggregate) Version() int64 { return a.state.Version }

// OriginalVersion: количество событий на момент загрузки (0 для нового заказа).
func (a *Aggregate) OriginalVersion() int64 { return a.originalVersion }

// ExpectedStreamVersion: версия последнего сохранённого события потока (-1, если поток пуст).
func (a *Aggregate) ExpectedStreamVersion() int64 { return a.originalVersion - 1 }

// UncommittedEvents возвращает копию буфера событий, ожидающих сохранения.
func (a *Aggregate) UncommittedEvents() []Event {
	return append([]Event(nil), a.uncommitted...)
}

// ClearUncommittedEvents очищает буфер без изменения состояния.
func (a *Aggregate) ClearUncommittedEvents() {
	a.uncommitted = nil
}

// MarkCommitted вызывается после успешного сохранения: буфер очищается, версия фиксируется.
func (a *Aggregate) MarkCommitted() {
	a.uncommitted = nil
	a.originalVersion = a.state.Version
}

func (a *Aggregate) record(next Order, events []Event, err error) error {
	if err != nil {
		return err
	}
	a.state = next
	a.uncommitted = append(a.uncommitted, events...)
	return nil
}

// Create создаёт заказ.
func (a *Aggregate) Create(p CreateOrderParams) error {
	return a.record(CreateOrder(a.clock, a.state, p))
}

// AddItem добавляет позицию.
func (a *Aggregate) AddItem(p AddItemParams) error {
	return a.record(AddItem(a.clock, a.state, p))
}

// RemoveItem удаляет qty единиц товара.
func (a *Aggregate) RemoveItem(productID string, qty int) error {
	return a.record(RemoveItem(a.clock, a.state, productID, qty))
}

// Confirm подтверждает заказ.
func (a *Aggregate) Confirm() error {
	return a.record(ConfirmOrder(a.clock, a.state))
}

// Cancel отменяет заказ.
func (a *Aggregate) Cancel(reason string) error {
	return a.record(CancelOrder(a.clock, a.state, reason))
}

// Ship отгружает заказ.
func (a *Aggregate) Ship(trackingNumber, carrier string) error {
	return a.record(ShipOrder(a.clock, a.state, trackingNumber, carrier))
}

// Deliver фиксирует доставку.
func (a *Aggregate) Deliver() error {
	return a.record(DeliverOrder(a.clock, a.state))
}

// SendToKitchen передаёт заказ на кухню.
func (a *Aggregate) SendToKitchen(station, notes string) error {
	return a.record(SendToKitchen(a.clock, a.state, station, notes))
}

// ScanItems фиксирует сканирование на кассе.
func (a *Aggregate) ScanItems(registerID string) error {
	return a.record(ScanItems(a.clock, a.state, registerID))
}

// RequestQuote запрашивает согласование оптовой цены.
func (a *Aggregate) RequestQuote(notes string) error {
	return a.record(RequestQuote(a.clock, a.state, notes))
}

// ProcessPayment фиксирует оплату.
func (a *Aggregate) ProcessPayment(p ProcessPaymentParams) error {
	return a.record(ProcessPayment(a.clock, a.state, p))
}

// ChangeStatus выполняет переход статуса.
func (a *Aggregate) ChangeStatus(to OrderStatus, reason, actorID string) error {
	return a.record(ChangeStatus(a.clock, a.state, to, reason, actorID))
}

// RecordWorkflowTransition добавляет аудит перехода и возвращает созданное событие.
func (a *Aggregate) RecordWorkflowTransition(from, to OrderStatus, wctx WorkflowContext, elapsed time.Duration) (WorkflowTransitionEvent, error) {
	next, events, err := RecordWorkflowTransition(a.clock, a.state, from, to, wctx, elapsed)
	if err := a.record(next, events, err); err != nil {
		return WorkflowTransitionEvent{}, err
	}
	return events[0].(WorkflowTransitionEvent), nil
}

// ChangeBusinessContext меняет вертикаль заказа.
func (a *Aggregate) ChangeBusinessContext(to BusinessContext) error {
	return a.record(ChangeBusinessContext(a.clock, a.state, to))
}
