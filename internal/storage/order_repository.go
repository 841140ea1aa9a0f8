// Package storage содержит репозиторий заказов поверх любого EventStore.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

// OrderRepository загружает агрегаты воспроизведением потока и сохраняет их незафиксированные события.
type OrderRepository struct {
	store domain.EventStore
	clock domain.Clock
}

// NewOrderRepository создаёт репозиторий. clock используется для команд загруженных агрегатов.
func NewOrderRepository(store domain.EventStore, clock domain.Clock) *OrderRepository {
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &OrderRepository{store: store, clock: clock}
}

// New возвращает пустой агрегат с часами репозитория.
func (r *OrderRepository) New() *domain.Aggregate {
	return domain.NewAggregate(r.clock)
}

// Load восстанавливает заказ. Пустой поток даёт ErrOrderNotFound.
func (r *OrderRepository) Load(ctx context.Context, orderID string) (*domain.Aggregate, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrOrderIDRequired
	}

	events, err := r.store.GetEvents(ctx, domain.OrderStreamID(orderID))
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	agg, err := domain.Rehydrate(events, r.clock)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return agg, nil
}

// Save дописывает незафиксированные события с ожидаемой версией на момент загрузки.
// Конфликт не повторяется: решение о повторе принимает вызывающая сторона.
func (r *OrderRepository) Save(ctx context.Context, agg *domain.Aggregate) error {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	err := r.store.SaveEvents(ctx, domain.OrderStreamID(agg.ID()), events, agg.ExpectedStreamVersion())
	if err != nil {
		if agg.OriginalVersion() == 0 && domain.IsVersionConflict(err) {
			return errors.Join(domain.ErrOrderAlreadyExists, err)
		}
		return fmt.Errorf("save order %s: %w", agg.ID(), err)
	}

	agg.MarkCommitted()
	return nil
}

// History возвращает полный поток событий заказа.
func (r *OrderRepository) History(ctx context.Context, orderID string) ([]domain.Event, error) {
	events, err := r.store.GetEvents(ctx, domain.OrderStreamID(orderID))
	if err != nil {
		return nil, fmt.Errorf("order history %s: %w", orderID, err)
	}
	if len(events) == 0 {
		return nil, domain.ErrOrderNotFound
	}
	return events, nil
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
