package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 3 {
		t.Fatalf("unexpected MaxAttempts: %d", cfg.MaxAttempts)
	}
	if cfg.InitialDelay <= 0 || cfg.MaxDelay <= 0 {
		t.Fatalf("delays must be positive: %+v", cfg)
	}
	if cfg.BackoffFactor <= 1 {
		t.Fatalf("backoff factor should be > 1: %f", cfg.BackoffFactor)
	}
}

func TestRetryConfigNormalized(t *testing.T) {
	cfg := RetryConfig{InitialDelay: -time.Second, BackoffFactor: 0.5}.normalized()
	if cfg.MaxAttempts != 3 || cfg.InitialDelay != 0 || cfg.BackoffFactor != 2 || cfg.MaxDelay <= 0 {
		t.Fatalf("unexpected normalized config: %+v", cfg)
	}
}

func TestRetryOnConflict(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	logger := log.New().WithField("test", "retry")

	t.Run("retry then success", func(t *testing.T) {
		attempts := 0
		err := retryOnConflict(context.Background(), cfg, logger, "item-1", func() error {
			attempts++
			if attempts < 3 {
				return domain.ErrItemVersionConflict
			}
			return nil
		})
		if err != nil || attempts != 3 {
			t.Fatalf("expected success after 3 attempts, got %d attempts, err %v", attempts, err)
		}
	})

	t.Run("non-retryable", func(t *testing.T) {
		attempts := 0
		err := retryOnConflict(context.Background(), cfg, logger, "item-2", func() error {
			attempts++
			return domain.ItemNotFound("item-2")
		})
		if attempts != 1 || !errors.Is(err, domain.ErrItemNotFound) {
			t.Fatalf("expected single attempt with not found, got %d, %v", attempts, err)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		attempts := 0
		err := retryOnConflict(context.Background(), cfg, logger, "item-3", func() error {
			attempts++
			return domain.ErrItemVersionConflict
		})
		if attempts != 3 || !domain.IsVersionConflict(err) {
			t.Fatalf("expected 3 attempts ending in conflict, got %d, %v", attempts, err)
		}
	})

	t.Run("canceled between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 2}
		err := retryOnConflict(ctx, slow, logger, "item-4", func() error {
			cancel()
			return domain.ErrItemVersionConflict
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
