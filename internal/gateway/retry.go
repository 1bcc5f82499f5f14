package gateway

import (
	"context"
	"time"

	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"go.uber.org/zap"
)

// RetryPolicy bounds the exponential-backoff retry wrapper applied at the
// gateway-call boundary.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts  int
	BaseDelay time.Duration
}

// WithRetry runs fn with bounded exponential backoff. Only errors marked
// retryable by the errors package are retried; risk rejections and order
// rejections surface immediately. The delay doubles after each failed
// attempt starting from BaseDelay.
//
// Callers count one circuit-breaker failure per exhausted WithRetry call, not
// per attempt.
func WithRetry(ctx context.Context, log *logger.Logger, policy RetryPolicy, op string, fn func(context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	delay := policy.BaseDelay

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !errors.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt == attempts {
			break
		}

		if log != nil {
			log.Warn("Gateway call failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeGatewayUnavailable, "context cancelled during retry backoff", ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
	}

	return errors.Wrapf(errors.ErrCodeGatewayUnavailable, lastErr, "%s failed after %d attempts", op, attempts)
}
