package payment

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

// MockService: конфигурируемая заглушка PaymentService для тестов и локального запуска.
type MockService struct {
	mu sync.Mutex

	// Decline переводит авторизацию в бизнес-отказ (Success=false).
	Decline      bool
	AuthorizeErr error
	RefundErr    error

	AuthorizeCalls int
	RefundCalls    int
	refunded       map[string]domain.Money
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{refunded: make(map[string]domain.Money)}
}

// Authorize возвращает заранее настроенный результат и считает вызовы.
func (m *MockService) Authorize(_ context.Context, orderID string, amount domain.Money) (domain.IntegrationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AuthorizeCalls++
	if m.AuthorizeErr != nil {
		return domain.IntegrationResult{}, m.AuthorizeErr
	}
	if m.Decline {
		return domain.IntegrationResult{Success: false, Message: "card declined"}, nil
	}
	return domain.IntegrationResult{Success: true, Message: "authorized " + amount.String(), Reference: "txn-" + orderID}, nil
}

// Refund возвращает настроенный результат и считает вызовы.
func (m *MockService) Refund(_ context.Context, orderID string, amount domain.Money) (domain.IntegrationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefundCalls++
	if m.RefundErr != nil {
		return domain.IntegrationResult{}, m.RefundErr
	}
	m.refunded[orderID] = amount
	return domain.IntegrationResult{Success: true, Message: "refunded " + amount.String(), Reference: "rfd-" + orderID}, nil
}

// Refunded возвращает сумму возврата по заказу.
func (m *MockService) Refunded(orderID string) (domain.Money, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, ok := m.refunded[orderID]
	return amount, ok
}

// Calls возвращает счётчики вызовов.
func (m *MockService) Calls() (authorize, refund int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AuthorizeCalls, m.RefundCalls
}

var _ domain.PaymentService = (*MockService)(nil)
