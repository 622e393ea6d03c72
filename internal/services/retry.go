package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"conversation-service/internal/errs"
	"conversation-service/internal/observability"
)

// Retrier retries transient store failures with exponential backoff. Other
// errors return immediately.
type Retrier struct {
	maxAttempts int
	initial     time.Duration
	log         *zap.Logger
}

func NewRetrier(maxAttempts int, initial time.Duration, log *zap.Logger) Retrier {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if initial <= 0 {
		initial = 50 * time.Millisecond
	}
	return Retrier{maxAttempts: maxAttempts, initial: initial, log: log}
}

// Do runs fn until it succeeds, fails permanently or the attempts run out.
func (r Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initial
	exp.MaxInterval = 20 * r.initial
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.maxAttempts-1)), ctx)
	return backoff.RetryNotify(func() error {
		err := fn(ctx)
		if err != nil && !errs.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		observability.IncStoreRetry(op)
		r.log.Warn("retrying store operation", zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
	})
}

func retryValue[T any](ctx context.Context, r Retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
