// Package health отдаёт сводное состояние сервиса для /healthz и /readyz.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status: состояние отдельного компонента или сервиса в целом.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse возвращает более тяжёлый из двух статусов.
func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

const defaultCheckTimeout = 2 * time.Second

// Check: результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler собирает проверки компонентов. Проверки выполняются параллельно,
// каждая со своим таймаутом.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
	timeout  time.Duration
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		started:  time.Now(),
		timeout:  defaultCheckTimeout,
	}
}

// SetTimeout ограничивает время одной проверки; неположительное значение игнорируется.
func (h *Handler) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	h.mu.Lock()
	h.timeout = d
	h.mu.Unlock()
}

func (h *Handler) RegisterChecker(name string, c Checker) {
	h.mu.Lock()
	h.checkers[name] = c
	h.mu.Unlock()
}

// Evaluate выполняет все проверки. Итоговый статус равен худшему из статусов компонентов.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	timeout := h.timeout
	names := make([]string, 0, len(h.checkers))
	checkers := make([]Checker, 0, len(h.checkers))
	for name, c := range h.checkers {
		names = append(names, name)
		checkers = append(checkers, c)
	}
	h.mu.RUnlock()

	results := make([]Check, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = c.Check(checkCtx)
			return nil
		})
	}
	_ = g.Wait()

	resp := Response{
		Status:        StatusHealthy,
		Timestamp:     time.Now().UTC(),
		Checks:        make(map[string]Check, len(results)),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	for i, check := range results {
		resp.Checks[names[i]] = check
		resp.Status = worse(resp.Status, check.Status)
	}
	return resp
}

// ServeHTTP отвечает 503 только для unhealthy: degraded сервис продолжает принимать команды.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Evaluate(r.Context())

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler: короткий ответ для /readyz.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Evaluate(r.Context()).Status == StatusUnhealthy {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler всегда отвечает 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// measured выполняет fn и заполняет имя и длительность проверки.
func measured(name string, fn func() (Status, string)) Check {
	start := time.Now()
	status, msg := fn()
	return Check{Name: name, Status: status, Message: msg, DurationMs: time.Since(start).Milliseconds()}
}

// SimpleChecker: компонент здоров, пока ping не вернул ошибку.
type SimpleChecker struct {
	name string
	ping func(ctx context.Context) error
}

func NewSimpleChecker(name string, ping func(ctx context.Context) error) *SimpleChecker {
	return &SimpleChecker{name: name, ping: ping}
}

func (c *SimpleChecker) Check(ctx context.Context) Check {
	return measured(c.name, func() (Status, string) {
		if err := c.ping(ctx); err != nil {
			return StatusUnhealthy, err.Error()
		}
		return StatusHealthy, ""
	})
}

// ThresholdChecker переводит компонент в degraded, когда измеренное значение превышает порог.
// Так отслеживается backlog outbox: очередь растёт, но заказы продолжают приниматься.
type ThresholdChecker struct {
	name      string
	threshold float64
	measure   func(ctx context.Context) (float64, error)
}

func NewThresholdChecker(name string, threshold float64, measure func(ctx context.Context) (float64, error)) *ThresholdChecker {
	return &ThresholdChecker{name: name, threshold: threshold, measure: measure}
}

func (c *ThresholdChecker) Check(ctx context.Context) Check {
	return measured(c.name, func() (Status, string) {
		value, err := c.measure(ctx)
		switch {
		case err != nil:
			return StatusUnhealthy, err.Error()
		case value > c.threshold:
			return StatusDegraded, fmt.Sprintf("value %.0f exceeds threshold %.0f", value, c.threshold)
		}
		return StatusHealthy, ""
	})
}
