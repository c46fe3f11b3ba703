package services

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
)

const maxBackoffShift = 62

// Retrier reruns a unit of work that failed with ErrTransientConflict.
// MaxRetries counts retries, so an operation runs at most MaxRetries+1 times.
type Retrier struct {
	MaxRetries int
	BaseDelay  time.Duration

	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetrier(maxRetries int, baseDelay time.Duration, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		logger:     logger.Named("retry"),
		sleep:      sleepWithContext,
	}
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// retry budget is spent. The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil || !errors.Is(err, ErrTransientConflict) {
			return err
		}
		if attempt >= r.MaxRetries {
			r.logger.Warn("retries exhausted", zap.Int("attempts", attempt+1), zap.Error(err))
			return err
		}

		delay := ExponentialBackoff(r.BaseDelay, attempt)
		r.logger.Info("transient conflict, retrying",
			zap.Int("attempt", attempt+1), zap.Duration("delay", delay), zap.Error(err))

		if serr := r.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// ExponentialBackoff returns base * 2^attempt, saturating instead of overflowing.
func ExponentialBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(multiplier)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
