package lifecycle

import (
	"context"
	"time"
)

// retryFixed calls fn up to attempts times, sleeping backoff between calls.
// It returns the number of calls made and the last error.
func retryFixed(ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for try := 1; try <= attempts; try++ {
		if err = fn(ctx); err == nil {
			return try, nil
		}
		if try == attempts {
			return try, err
		}
		if serr := sleepCtx(ctx, backoff); serr != nil {
			return try, err
		}
	}
	return attempts, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
