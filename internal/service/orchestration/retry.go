package orchestration

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/esoms/internal/domain"
	"github.com/vladislavdragonenkov/esoms/internal/metrics"
)

// RetryConfig: повтор транспортных ошибок внешних вызовов.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

type integrationCall func(ctx context.Context) (domain.IntegrationResult, error)

// call выполняет внешний вызов через circuit breaker интеграции, повторяя транспортные ошибки
// с экспоненциальной задержкой. Бизнес-отказ (Success=false) не повторяется.
func (s *Service) call(ctx context.Context, integration string, fn integrationCall) (domain.IntegrationResult, error) {
	breaker := s.breaker(integration)
	cfg := s.retry
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	logger := s.logger.WithField("integration", integration)
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		var res domain.IntegrationResult
		err := breaker.Execute(func() error {
			var callErr error
			res, callErr = fn(ctx)
			return callErr
		})
		if err == nil {
			result := metrics.ResultSuccess
			if !res.Success {
				result = metrics.ResultFailure
			}
			s.metrics.RecordIntegrationCall(integration, result)
			if attempt > 1 {
				logger.WithField("attempt", attempt).Info("integration call succeeded after retry")
			}
			return res, nil
		}

		lastErr = err
		s.metrics.RecordIntegrationCall(integration, metrics.ResultFailure)

		if !shouldRetry(ctx, err) {
			logger.WithError(err).Warn("integration call failed with non-retryable error")
			return domain.IntegrationResult{}, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
			"error":   err,
		}).Warn("integration call failed, retrying")

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return domain.IntegrationResult{}, ctx.Err()
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
	}).Error("integration call failed after all retry attempts")
	return domain.IntegrationResult{}, lastErr
}

// shouldRetry определяет, стоит ли повторять вызов при данной ошибке.
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Разомкнутую цепь повторять бессмысленно до истечения resetTimeout.
	if errors.Is(err, domain.ErrIntegrationUnavailable) {
		return false
	}
	if domain.IsValidation(err) || domain.IsInvalidOperation(err) {
		return false
	}
	// Остальные ошибки считаем временными.
	return true
}
