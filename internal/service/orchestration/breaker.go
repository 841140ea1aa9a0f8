package orchestration

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

// CircuitState: состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker защищает внешнюю интеграцию от лавины вызовов, пока она недоступна.
// Считаются только транспортные ошибки; бизнес-отказ (Success=false) цепь не размыкает.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	onChange     func(open bool)
	now          func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        CircuitClosed,
		logger:       logger.WithField("integration", name),
	}
}

// State возвращает текущее состояние цепи.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker.
// При разомкнутой цепи возвращает ошибку, оборачивающую domain.ErrIntegrationUnavailable.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.setState(CircuitHalfOpen)
			cb.logger.Info("circuit breaker half-open")
		} else {
			cb.mu.Unlock()
			return fmt.Errorf("%w: %s circuit is open", domain.ErrIntegrationUnavailable, cb.name)
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()

		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithField("failures", cb.failures).Warn("circuit breaker opened")
			}
			cb.setState(CircuitOpen)
		}
		return err
	}

	if cb.state == CircuitHalfOpen {
		cb.setState(CircuitClosed)
		cb.logger.Info("circuit breaker closed")
	}
	cb.failures = 0
	return nil
}

// setState вызывается под cb.mu.
func (cb *CircuitBreaker) setState(s CircuitState) {
	prev := cb.state
	cb.state = s
	if cb.onChange != nil && (prev == CircuitOpen) != (s == CircuitOpen) {
		cb.onChange(s == CircuitOpen)
	}
}
