// Package hookledger удаляет из журнала хуков отметки с истёкшим TTL.
package hookledger

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esoms_hook_ledger_cleanup_runs_total",
		Help: "Hook ledger cleanup runs by result.",
	}, []string{"result"})
	cleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esoms_hook_ledger_cleanup_deleted_total",
		Help: "Expired hook ledger records deleted.",
	})
	cleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esoms_hook_ledger_cleanup_last_deleted",
		Help: "Records deleted by the last cleanup run.",
	})
)

// Expirer: часть domain.HookLedger, нужная воркеру.
type Expirer interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// CleanupWorker периодически чистит журнал порциями, чтобы не держать долгие блокировки.
type CleanupWorker struct {
	ledger    Expirer
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(d time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithBatchSize ограничивает число записей, удаляемых одним запросом.
func WithBatchSize(n int) CleanupOption {
	return func(w *CleanupWorker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewCleanupWorker(ledger Expirer, opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		ledger:    ledger,
		logger:    log.WithField("component", "hook-ledger-cleanup"),
		interval:  10 * time.Minute,
		batchSize: 500,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run чистит журнал сразу и затем раз в interval, пока ctx не отменён.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.ledger == nil {
		w.logger.Warn("hook ledger is not configured, cleanup disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, time.Time{})
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		cleanupRuns.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", deleted).Warn("hook ledger cleanup failed")
		return
	}

	cleanupRuns.WithLabelValues("ok").Inc()
	cleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("expired hook marks removed")
	}
}

// DeleteExpired удаляет отметки с ttl <= before, пока порция заполняется целиком.
// Нулевой before означает текущее время часов воркера.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}
	before = before.UTC()

	total := 0
	for ctx.Err() == nil {
		n, err := w.ledger.DeleteExpired(ctx, before, w.batchSize)
		total += n
		cleanupDeleted.Add(float64(n))
		if err != nil {
			return total, err
		}
		if n < w.batchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
