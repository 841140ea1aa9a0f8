package orders

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
)

// RetryConfig задаёт повтор операции при конфликте версий.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Logger        *log.Entry
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// RetryOnConflict повторяет fn целиком (загрузка, команда, сохранение), пока она
// возвращает конфликт версий. Прочие ошибки возвращаются сразу.
func RetryOnConflict[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New().WithField("component", "retry-on-conflict")
	}

	var (
		zero    T
		lastErr error
	)
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.WithField("attempt", attempt).Info("operation succeeded after conflict retry")
			}
			return res, nil
		}
		lastErr = err
		if !domain.IsVersionConflict(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Debug("version conflict, retrying")

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	logger.WithFields(log.Fields{
		"max_attempts": cfg.MaxAttempts,
		"error":        lastErr,
	}).Warn("operation failed after all conflict retries")
	return zero, lastErr
}
