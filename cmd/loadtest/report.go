package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Outcomes  map[string]int64 `json:"outcomes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ConflictRetries   int64                   `json:"conflict_retries"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

// series: все вызовы одного метода. Сценарий целиком пишется как метод scenarioMethod.
type series struct {
	outcomes  map[string]int64
	latencies []time.Duration
}

func (s *series) report() methodReport {
	calls := int64(len(s.latencies))
	ok := s.outcomes[outcomeOK]
	ms := make([]float64, len(s.latencies))
	for i, d := range s.latencies {
		ms[i] = float64(d.Microseconds()) / 1000
	}
	outcomes := make(map[string]int64, len(s.outcomes))
	for k, v := range s.outcomes {
		outcomes[k] = v
	}
	return methodReport{
		Calls:     calls,
		Success:   ok,
		Failed:    calls - ok,
		ErrorRate: ratio(calls-ok, calls),
		Outcomes:  outcomes,
		LatencyMs: buildLatencySummary(ms),
	}
}

type collector struct {
	mu     sync.Mutex
	series map[string]*series
	// conflicts: повторы команд после конфликта версий.
	conflicts atomic.Int64
}

func newCollector() *collector {
	return &collector{series: make(map[string]*series)}
}

func (c *collector) record(method string, latency time.Duration, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.series[method]
	if s == nil {
		s = &series{outcomes: make(map[string]int64)}
		c.series[method] = s
	}
	s.outcomes[outcome]++
	s.latencies = append(s.latencies, latency)
}

func (c *collector) snapshot(method string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.series[method]; s != nil {
		return s.report(), true
	}
	return methodReport{}, false
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		ConflictRetries: c.conflicts.Load(),
		Methods:         make(map[string]methodReport, len(c.series)),
	}
	for name, s := range c.series {
		r.Methods[name] = s.report()
	}

	if sc, ok := r.Methods[scenarioMethod]; ok {
		r.TotalScenarios, r.SuccessScenarios, r.FailedScenarios = sc.Calls, sc.Success, sc.Failed
		r.ErrorRate = sc.ErrorRate
		r.ScenarioLatencyMs = sc.LatencyMs
	}
	if elapsed > 0 {
		r.RPS = float64(r.TotalScenarios) / elapsed.Seconds()
	}
	return r
}

func buildLatencySummary(ms []float64) latencySummary {
	if len(ms) == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(ms)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile с линейной интерполяцией между соседними рангами; sorted по возрастанию.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo, frac := math.Modf(rank)
	i := int(lo)
	if frac == 0 {
		return sorted[i]
	}
	return sorted[i] + (sorted[i+1]-sorted[i])*frac
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

// writeJSONReport пишет отчёт только внутрь текущего каталога или по абсолютному пути.
func writeJSONReport(path string, r report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(data, '\n'), 0o644)
}

func printReport(out io.Writer, r report, cfg config) {
	lat := r.ScenarioLatencyMs
	lines := []string{
		"Load test summary",
		fmt.Sprintf("target=%s mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f",
			cfg.target, cfg.mode, runTarget(cfg), r.TotalScenarios, r.SuccessScenarios, r.FailedScenarios, r.ErrorRate),
		fmt.Sprintf("duration=%.2fs rps=%.2f conflict_retries=%d", r.DurationSeconds, r.RPS, r.ConflictRetries),
		fmt.Sprintf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f",
			lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max),
	}

	names := make([]string, 0, len(r.Methods))
	for name := range r.Methods {
		if name != scenarioMethod {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		m := r.Methods[name]
		lines = append(lines, fmt.Sprintf("%s: calls=%d success=%d failed=%d conflicts=%d error_rate=%.4f p95=%.2fms",
			name, m.Calls, m.Success, m.Failed, m.Outcomes[outcomeConflict], m.ErrorRate, m.LatencyMs.P95))
	}
	_, _ = io.WriteString(out, strings.Join(lines, "\n")+"\n")
}
