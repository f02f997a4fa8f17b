package syncer

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// backoff returns a full-jitter delay for the given attempt (1-based):
// uniform in [0, min(maxDelay, base*2^(attempt-1))].
func backoff(attempt int, base, maxDelay time.Duration, jitter func(n int64) int64) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	ceiling := maxDelay
	if shift := attempt - 1; shift < 63 && base <= math.MaxInt64>>shift {
		if d := base << shift; maxDelay <= 0 || d < maxDelay {
			ceiling = d
		}
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(jitter(int64(ceiling) + 1))
}

func randomJitter(n int64) int64 {
	return rand.Int64N(n)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
