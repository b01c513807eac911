// Package humanize provides human-like interaction patterns for browser
// automation: Bezier curve mouse movements, per-character typing with
// realistic mistakes, and a timing envelope that scales with a speed
// multiplier while never collapsing below a meaningful floor.
package humanize

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrElementNotVisible is returned when an element cannot be found or has
// no visible bounds.
var ErrElementNotVisible = errors.New("element not visible or has no bounds")

// MinWait is the floor for every deliberate wait. Aggressive speed
// multipliers scale delays down but never below this; a zero-length pause
// is itself a detection signal.
const MinWait = 50 * time.Millisecond

// RandomDuration returns a random duration between min and max milliseconds.
func RandomDuration(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	ms := minMs + rand.Intn(maxMs-minMs+1)
	return time.Duration(ms) * time.Millisecond
}

// UniformSeconds returns a random duration drawn uniformly from
// [minSec, maxSec] seconds.
func UniformSeconds(minSec, maxSec float64) time.Duration {
	if maxSec <= minSec {
		return time.Duration(minSec * float64(time.Second))
	}
	s := minSec + rand.Float64()*(maxSec-minSec)
	return time.Duration(s * float64(time.Second))
}

// sleepWithContext sleeps for the specified duration or until context is
// canceled. Returns true if the sleep completed normally.
// Uses time.NewTimer instead of time.After to prevent timer leak.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// SleepWithContext sleeps for the specified duration or until context is
// canceled. Returns true if the sleep completed normally.
func SleepWithContext(ctx context.Context, d time.Duration) bool {
	return sleepWithContext(ctx, d)
}

// RandomWait waits for a random duration between min and max milliseconds.
func RandomWait(ctx context.Context, minMs, maxMs int) bool {
	return sleepWithContext(ctx, RandomDuration(minMs, maxMs))
}
