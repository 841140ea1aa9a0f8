package inventory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

// MockService: конфигурируемая заглушка InventoryService для тестов и локального запуска.
type MockService struct {
	mu sync.Mutex

	// Reject переводит резерв в бизнес-отказ (Success=false).
	Reject     bool
	ReserveErr error
	ReleaseErr error
	// FailFirst: сколько первых вызовов Reserve вернут ReserveErr, затем успех.
	FailFirst int

	ReserveCalls int
	ReleaseCalls int
	reserved     map[string]int
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{reserved: make(map[string]int)}
}

// Reserve возвращает заранее настроенный результат и считает вызовы.
func (m *MockService) Reserve(_ context.Context, orderID string, items []domain.OrderItem) (domain.IntegrationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReserveCalls++
	if m.ReserveErr != nil && (m.FailFirst == 0 || m.ReserveCalls <= m.FailFirst) {
		return domain.IntegrationResult{}, m.ReserveErr
	}
	if m.Reject {
		return domain.IntegrationResult{Success: false, Message: "insufficient stock"}, nil
	}

	qty := 0
	for _, it := range items {
		qty += it.Quantity
	}
	m.reserved[orderID] = qty
	return domain.IntegrationResult{Success: true, Message: "reserved", Reference: "res-" + orderID}, nil
}

// Release снимает резерв и считает вызовы.
func (m *MockService) Release(_ context.Context, orderID string, _ []domain.OrderItem) (domain.IntegrationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReleaseCalls++
	if m.ReleaseErr != nil {
		return domain.IntegrationResult{}, m.ReleaseErr
	}
	delete(m.reserved, orderID)
	return domain.IntegrationResult{Success: true, Message: "released"}, nil
}

// Reserved возвращает количество зарезервированных единиц по заказу.
func (m *MockService) Reserved(orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserved[orderID]
}

// Calls возвращает счётчики вызовов.
func (m *MockService) Calls() (reserve, release int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReserveCalls, m.ReleaseCalls
}

var _ domain.InventoryService = (*MockService)(nil)
