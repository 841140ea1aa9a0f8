package kitchen

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

// MockService: заглушка KitchenService: хранит принятые заявки в памяти.
type MockService struct {
	mu sync.Mutex

	SubmitErr error
	// Busy: кухня не принимает заявки (Success=false).
	Busy      bool
	CancelErr error

	tickets   map[string]domain.KitchenTicket
	cancelled map[string]bool
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{
		tickets:   make(map[string]domain.KitchenTicket),
		cancelled: make(map[string]bool),
	}
}

// SubmitTicket принимает заявку на приготовление.
func (m *MockService) SubmitTicket(_ context.Context, ticket domain.KitchenTicket) (domain.IntegrationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitErr != nil {
		return domain.IntegrationResult{}, m.SubmitErr
	}
	if m.Busy {
		return domain.IntegrationResult{Success: false, Message: "kitchen is at capacity"}, nil
	}
	m.tickets[ticket.OrderID] = ticket
	return domain.IntegrationResult{Success: true, Message: "ticket accepted", Reference: "ticket-" + ticket.OrderID}, nil
}

// CancelTicket снимает заявку.
func (m *MockService) CancelTicket(_ context.Context, orderID string) (domain.IntegrationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CancelErr != nil {
		return domain.IntegrationResult{}, m.CancelErr
	}
	if _, ok := m.tickets[orderID]; !ok {
		return domain.IntegrationResult{Success: false, Message: "no ticket for order"}, nil
	}
	m.cancelled[orderID] = true
	return domain.IntegrationResult{Success: true, Message: "ticket cancelled"}, nil
}

// Ticket возвращает принятую заявку.
func (m *MockService) Ticket(orderID string) (domain.KitchenTicket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[orderID]
	return t, ok
}

// Cancelled сообщает, была ли заявка снята.
func (m *MockService) Cancelled(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[orderID]
}

// TicketCount: количество принятых заявок.
func (m *MockService) TicketCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}

var _ domain.KitchenService = (*MockService)(nil)
