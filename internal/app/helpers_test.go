package app

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/metrics"
)

func testWorkflowMetrics() *metrics.WorkflowMetrics {
	return metrics.NewWorkflowMetricsWithRegisterer(prometheus.NewRegistry())
}

func testOrderParams(id string, bc domain.BusinessContext) domain.CreateOrderParams {
	return domain.CreateOrderParams{
		ID:              id,
		Customer:        domain.CustomerInfo{ID: "cust-1", Name: "Ada", Email: "ada@example.com"},
		DeliveryAddress: domain.Address{Line1: "1 Main St", City: "Springfield", Country: "US"},
		BusinessContext: bc,
		Currency:        "USD",
	}
}

// newTestServices собирает прикладной слой поверх in-memory хранилища.
func newTestServices(t *testing.T) (*runtimeServices, *runtimeDependencies) {
	t.Helper()

	cfg := DefaultConfig()
	logger := log.WithField("test", t.Name())
	deps, err := initRuntimeDependencies(t.Context(), cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}
	t.Cleanup(deps.close)

	svc, err := newRuntimeServices(cfg, deps, testWorkflowMetrics(), logger)
	if err != nil {
		t.Fatalf("newRuntimeServices failed: %v", err)
	}
	return svc, deps
}
