package notification

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

// MockService: заглушка NotificationService, запоминающая отправленные сообщения.
type MockService struct {
	mu sync.Mutex

	SendErr error
	sent    []domain.Notification
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{}
}

// Send сохраняет уведомление.
func (m *MockService) Send(_ context.Context, n domain.Notification) (domain.IntegrationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendErr != nil {
		return domain.IntegrationResult{}, m.SendErr
	}
	m.sent = append(m.sent, n)
	return domain.IntegrationResult{Success: true, Message: "sent via " + n.Channel}, nil
}

// Sent возвращает копию отправленных уведомлений.
func (m *MockService) Sent() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Notification(nil), m.sent...)
}

var _ domain.NotificationService = (*MockService)(nil)
