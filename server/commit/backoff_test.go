package commit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitterBounds(t *testing.T) {
	minWait := 100 * time.Millisecond
	maxWait := 2 * time.Second

	for _, tc := range []struct {
		attempt int
		ceiling time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{5, 2 * time.Second},  // capped
		{60, 2 * time.Second}, // overflow capped
	} {
		for range 500 {
			d := Jitter(tc.attempt, minWait, maxWait)
			assert.GreaterOrEqual(t, d, minWait)
			assert.LessOrEqual(t, d, tc.ceiling)
		}
	}
}

func TestJitterZeroWaits(t *testing.T) {
	assert.Equal(t, time.Duration(0), Jitter(3, 0, 0))
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
