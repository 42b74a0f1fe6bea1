// Package deadline derives exam time limits from stored session data and
// runs the per-session monitors that force submission at expiry.
package deadline

import (
	"math"
	"time"
)

// Remaining returns max(0, startedAt+duration-now). It is recomputed from the
// stored start time on every call so a restarted process sees the same value.
func Remaining(startedAt time.Time, duration time.Duration, now time.Time) time.Duration {
	left := startedAt.Add(duration).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

func Expired(startedAt time.Time, duration time.Duration, now time.Time) bool {
	return Remaining(startedAt, duration, now) == 0
}

// Seconds rounds a remaining duration up to whole seconds for display.
func Seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
