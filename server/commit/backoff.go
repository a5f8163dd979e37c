package commit

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Jitter returns an exponential delay with full jitter.
//
//	delay = max(minWait, rand(0, min(maxWait, minWait * 2^attempt)))
func Jitter(attempt int, minWait, maxWait time.Duration) time.Duration {
	if maxWait <= 0 {
		return minWait
	}
	exp := float64(minWait) * math.Pow(2, float64(attempt))
	if exp > float64(maxWait) || exp <= 0 { // overflow guard
		exp = float64(maxWait)
	}
	d := time.Duration(rand.Int64N(int64(exp) + 1))
	if d < minWait {
		d = minWait
	}
	return d
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
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
