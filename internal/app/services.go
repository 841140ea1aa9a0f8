package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/metrics"
	"github.com/vladislavdragonenkov/esoms/internal/service/inventory"
	"github.com/vladislavdragonenkov/esoms/internal/service/kitchen"
	"github.com/vladislavdragonenkov/esoms/internal/service/notification"
	"github.com/vladislavdragonenkov/esoms/internal/service/orchestration"
	"github.com/vladislavdragonenkov/esoms/internal/service/orders"
	"github.com/vladislavdragonenkov/esoms/internal/service/payment"
	"github.com/vladislavdragonenkov/esoms/internal/service/workflow"
	"github.com/vladislavdragonenkov/esoms/internal/storage"
)

// integrations: внешние системы, с которыми работает оркестрация.
// Пока это mock-реализации; тесты читают их счётчики.
type integrations struct {
	kitchen      *kitchen.MockService
	inventory    *inventory.MockService
	payment      *payment.MockService
	notification *notification.MockService
}

func mockIntegrations() integrations {
	return integrations{
		kitchen:      kitchen.NewMockService(),
		inventory:    inventory.NewMockService(),
		payment:      payment.NewMockService(),
		notification: notification.NewMockService(),
	}
}

// runtimeServices: прикладной слой поверх runtimeDependencies.
type runtimeServices struct {
	repo          *storage.OrderRepository
	orders        *orders.Service
	engine        *workflow.Engine
	orchestration *orchestration.Service
	integrations  integrations
}

// newRuntimeServices собирает сервис команд, движок переходов и оркестрацию.
func newRuntimeServices(cfg Config, deps *runtimeDependencies, wm *metrics.WorkflowMetrics, logger *log.Entry) (*runtimeServices, error) {
	return newRuntimeServicesWith(cfg, deps, mockIntegrations(), wm, logger)
}

func newRuntimeServicesWith(cfg Config, deps *runtimeDependencies, ext integrations, wm *metrics.WorkflowMetrics, logger *log.Entry) (*runtimeServices, error) {
	repo := storage.NewOrderRepository(deps.events, domain.SystemClock())

	engineOpts := []workflow.Option{
		workflow.WithLogger(logger.WithField("component", "workflow")),
		workflow.WithMetrics(wm),
	}
	if deps.ledger != nil {
		engineOpts = append(engineOpts, workflow.WithHookLedger(deps.ledger, cfg.HookLedgerTTL))
	}
	if cfg.AsyncHooks {
		engineOpts = append(engineOpts, workflow.WithAsyncHooks())
	}
	engine := workflow.NewEngine(repo, deps.events, engineOpts...)

	orch := orchestration.NewService(orchestration.Dependencies{
		Orders:       repo,
		Engine:       engine,
		Kitchen:      ext.kitchen,
		Inventory:    ext.inventory,
		Payment:      ext.payment,
		Notification: ext.notification,
	},
		orchestration.WithLogger(logger.WithField("component", "orchestration")),
		orchestration.WithMetrics(wm),
		orchestration.WithCircuitBreaker(cfg.CircuitMaxFailures, cfg.CircuitResetTimeout),
	)
	if err := orch.RegisterHooks(engine); err != nil {
		return nil, err
	}

	return &runtimeServices{
		repo:          repo,
		orders:        orders.NewService(repo, logger.WithField("component", "orders"), orders.WithCommandRunner(engine)),
		engine:        engine,
		orchestration: orch,
		integrations:  ext,
	}, nil
}
