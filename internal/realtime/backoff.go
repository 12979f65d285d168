package realtime

import (
	"math"
	"time"
)

// reconnectDelay returns the backoff delay for a retry attempt:
// min(base * factor^attempt, max). Monotonically non-decreasing in attempt
// for factor >= 1 until the cap.
func reconnectDelay(base time.Duration, factor float64, attempt int, max time.Duration) time.Duration {
	d := float64(base) * math.Pow(factor, float64(attempt))
	if d > float64(max) {
		return max
	}
	return time.Duration(d)
}
