package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

var (
	// ErrInvalidHook: у хука нет имени или обработчика.
	ErrInvalidHook = fmt.Errorf("%w: hook requires a name and a handler", domain.ErrInvalidArgument)
	// ErrDuplicateHook: хук с таким именем уже зарегистрирован.
	ErrDuplicateHook = fmt.Errorf("%w: hook is already registered", domain.ErrInvalidArgument)
)

// Transition: зафиксированный переход, который получают хуки.
type Transition struct {
	OrderID string
	// EventID: идентификатор WorkflowTransitionEvent, ключ дедупликации хуков.
	EventID         string
	From            domain.OrderStatus
	To              domain.OrderStatus
	BusinessContext domain.BusinessContext
	Context         domain.WorkflowContext
	// Order: состояние заказа после перехода.
	Order      domain.Order
	OccurredAt time.Time
}

// HookHandler выполняет побочный эффект перехода. Ошибка не откатывает переход.
type HookHandler func(ctx context.Context, t Transition) error

// Hook: именованный обработчик, вызываемый после фиксации перехода.
type Hook struct {
	Name string
	// Priority: хуки с большим приоритетом выполняются раньше.
	Priority int
	// Statuses ограничивает целевые статусы; пустой список: любой переход.
	Statuses []domain.OrderStatus
	Handler  HookHandler
}

func (h Hook) validate() error {
	if strings.TrimSpace(h.Name) == "" || h.Handler == nil {
		return ErrInvalidHook
	}
	return nil
}

func (h Hook) matches(to domain.OrderStatus) bool {
	if len(h.Statuses) == 0 {
		return true
	}
	for _, s := range h.Statuses {
		if s == to {
			return true
		}
	}
	return false
}

// HookResult: результат выполнения хука.
type HookResult struct {
	Name    string
	Success bool
	// Skipped: хук уже выполнялся для этого перехода (по журналу).
	Skipped  bool
	Err      error
	Duration time.Duration
}

// TransitionResult: итог ExecuteTransition.
type TransitionResult struct {
	Order   domain.Order
	From    domain.OrderStatus
	To      domain.OrderStatus
	EventID string
	// Hooks заполняется при синхронном выполнении хуков.
	Hooks []HookResult
	// HooksAsync: хуки запущены в фоне и их результаты попадут только в логи и метрики.
	HooksAsync bool
}

// FailedHooks возвращает неуспешные хуки.
func (r TransitionResult) FailedHooks() []HookResult {
	var out []HookResult
	for _, h := range r.Hooks {
		if !h.Success && !h.Skipped {
			out = append(out, h)
		}
	}
	return out
}

// HookError объединяет ошибки хуков в одну, nil если все успешны.
func (r TransitionResult) HookError() error {
	var errs []error
	for _, h := range r.FailedHooks() {
		errs = append(errs, fmt.Errorf("hook %s: %w", h.Name, h.Err))
	}
	return errors.Join(errs...)
}
