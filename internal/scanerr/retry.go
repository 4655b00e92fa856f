package scanerr

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxRetries bounds how many times a transient failure is retried before it
// is downgraded to a per-path error.
const MaxRetries = 3

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = time.Second
	return backoff.WithMaxRetries(b, MaxRetries)
}

// Retry runs op, retrying with exponential backoff while it fails with a
// transient error. Any other error is returned immediately.
func Retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if Classify(err) != KindTransientIO {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(newBackOff(), ctx))
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](ctx context.Context, op func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, func() error {
		var err error
		result, err = op()
		return err
	})
	return result, err
}
