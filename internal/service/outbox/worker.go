package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esoms_outbox_publish_attempts_total",
		Help: "Outbox publish attempts by result.",
	}, []string{"result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esoms_outbox_pending_records",
		Help: "Pending records in the transactional outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "esoms_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record.",
	})
)

// Worker публикует зафиксированные события заказов из outbox в брокер.
// Порядок событий одного заказа сохраняется: после сбоя публикации остальные
// сообщения этого заказа в батче откладываются до следующего цикла.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker. Неположительные значения оставляют значение по умолчанию.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher: куда отправлять сообщение, которое не удалось опубликовать за maxAttempts попыток.
func WithDLQPublisher(p domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = p }
}

func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу экспоненциального backoff; 0 отключает паузы.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = max(d, 0) }
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Report: итог одного цикла публикации.
type Report struct {
	Sent     int
	Failed   int
	Deferred int
}

// ProcessOnce публикует один батч pending-сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) Report {
	var report Report
	if ctx.Err() != nil {
		return report
	}
	defer w.refreshBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages")
		return report
	}

	blocked := make(map[string]bool)
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		if blocked[msg.AggregateID] {
			report.Deferred++
			continue
		}

		entry := w.logger.WithFields(log.Fields{
			"outbox_id":      msg.ID,
			"order_id":       msg.AggregateID,
			"event_type":     msg.EventType,
			"stream_version": msg.StreamVersion,
		})

		err := w.publish(ctx, msg)
		if err == nil {
			report.Sent++
			if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
				entry.WithError(err).Warn("mark outbox message sent")
			}
			continue
		}
		if ctx.Err() != nil {
			break
		}

		entry.WithError(err).Error("outbox publish failed")
		publishAttempts.WithLabelValues("failed").Inc()
		report.Failed++
		blocked[msg.AggregateID] = true

		if err := w.deadLetter(ctx, msg, err); err != nil {
			entry.WithError(err).Warn("publish outbox message to DLQ")
			publishAttempts.WithLabelValues("dlq_failed").Inc()
		}
		if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
			entry.WithError(err).Warn("mark outbox message failed")
		}
	}
	return report
}

func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) error {
	var err error
	delay := w.retryBaseDelay
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(ctx, msg); err == nil {
			publishAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		publishAttempts.WithLabelValues("retry_error").Inc()
		if attempt == w.maxAttempts {
			return fmt.Errorf("publish failed after %d attempts: %w", attempt, err)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, maxRetryDelay)
		}
	}
}

// deadLetter: конверт в DLQ с исходным событием и причиной сбоя.
type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	StreamVersion int64           `json:"stream_version"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}
	original := json.RawMessage(msg.Payload)
	if len(original) == 0 {
		original = json.RawMessage("null")
	}
	payload, err := json.Marshal(deadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		StreamVersion: msg.StreamVersion,
		Payload:       original,
		PublishError:  cause.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	parked := msg
	parked.Payload = payload
	return w.dlq.Publish(ctx, parked)
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("collect outbox backlog stats")
		return
	}
	pendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}
	oldestPendingAge.Set(max(time.Since(stats.OldestPendingAt).Seconds(), 0))
}
