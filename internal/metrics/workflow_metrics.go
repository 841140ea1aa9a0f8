package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты выполнения хука и вызова интеграции для меток.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// WorkflowMetrics содержит метрики движка переходов и интеграций.
// Все методы безопасны для nil-получателя, чтобы метрики можно было не подключать.
type WorkflowMetrics struct {
	transitions        *prometheus.CounterVec
	rejected           *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	conflicts          prometheus.Counter

	hookExecutions *prometheus.CounterVec
	hookDuration   *prometheus.HistogramVec
	hooksInFlight  prometheus.Gauge

	integrationCalls *prometheus.CounterVec
	circuitOpen      *prometheus.GaugeVec
}

// NewWorkflowMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewWorkflowMetrics() *WorkflowMetrics {
	return NewWorkflowMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWorkflowMetricsWithRegisterer регистрирует метрики в указанном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewWorkflowMetricsWithRegisterer(registerer prometheus.Registerer) *WorkflowMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &WorkflowMetrics{
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "esoms_workflow_transitions_total",
			Help: "Total number of committed status transitions",
		}, []string{"business_context", "from", "to"}),
		rejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "esoms_workflow_transitions_rejected_total",
			Help: "Total number of status transitions rejected by the graph or business context policy",
		}, []string{"business_context", "to"}),
		transitionDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "esoms_workflow_transition_duration_seconds",
			Help:    "Duration of a transition from load to commit in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"business_context"}),
		conflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "esoms_workflow_concurrency_conflicts_total",
			Help: "Total number of appends rejected because the stream version changed",
		}),
		hookExecutions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "esoms_workflow_hook_executions_total",
			Help: "Total number of post-commit hook executions by result",
		}, []string{"hook", "result"}),
		hookDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "esoms_workflow_hook_duration_seconds",
			Help:    "Duration of post-commit hook executions in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"hook"}),
		hooksInFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "esoms_workflow_hooks_in_flight",
			Help: "Number of asynchronous hook batches currently running",
		}),
		integrationCalls: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "esoms_integration_calls_total",
			Help: "Total number of calls to external integrations by result",
		}, []string{"integration", "result"}),
		circuitOpen: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "esoms_integration_circuit_open",
			Help: "1 when the circuit breaker of an integration is open",
		}, []string{"integration"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerGaugeVec(registerer prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	collector := prometheus.NewGaugeVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.GaugeVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordTransition учитывает зафиксированный переход и его длительность.
func (m *WorkflowMetrics) RecordTransition(businessContext, from, to string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(businessContext, from, to).Inc()
	m.transitionDuration.WithLabelValues(businessContext).Observe(duration.Seconds())
}

// RecordRejected учитывает отклонённый переход.
func (m *WorkflowMetrics) RecordRejected(businessContext, to string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(businessContext, to).Inc()
}

// RecordConflict учитывает конфликт версий при записи.
func (m *WorkflowMetrics) RecordConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// RecordHook учитывает выполнение хука.
func (m *WorkflowMetrics) RecordHook(hook, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.hookExecutions.WithLabelValues(hook, result).Inc()
	if result != ResultSkipped {
		m.hookDuration.WithLabelValues(hook).Observe(duration.Seconds())
	}
}

// HooksStarted увеличивает число выполняющихся асинхронных пакетов хуков.
func (m *WorkflowMetrics) HooksStarted() {
	if m == nil {
		return
	}
	m.hooksInFlight.Inc()
}

// HooksFinished уменьшает число выполняющихся асинхронных пакетов хуков.
func (m *WorkflowMetrics) HooksFinished() {
	if m == nil {
		return
	}
	m.hooksInFlight.Dec()
}

// RecordIntegrationCall учитывает вызов внешнего сервиса.
func (m *WorkflowMetrics) RecordIntegrationCall(integration, result string) {
	if m == nil {
		return
	}
	m.integrationCalls.WithLabelValues(integration, result).Inc()
}

// SetCircuitOpen отражает состояние circuit breaker интеграции.
func (m *WorkflowMetrics) SetCircuitOpen(integration string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.circuitOpen.WithLabelValues(integration).Set(v)
}
