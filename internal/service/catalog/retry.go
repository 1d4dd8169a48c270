package catalog

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// RetryConfig задаёт повторы записи позиции при конфликте версий.
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
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// retryOnConflict повторяет fn, пока она возвращает конфликт версий.
// Остальные ошибки возвращаются сразу; после исчерпания попыток остаётся ErrItemVersionConflict.
func retryOnConflict(ctx context.Context, cfg RetryConfig, logger *log.Entry, itemID string, fn func() error) error {
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !domain.IsVersionConflict(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.WithFields(log.Fields{
			"item_id": itemID,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("item version conflict, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	logger.WithError(lastErr).WithFields(log.Fields{
		"item_id":      itemID,
		"max_attempts": cfg.MaxAttempts,
	}).Error("item update failed after all retry attempts")
	return lastErr
}
