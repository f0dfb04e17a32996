package utils

import "time"

const maxBackoff = 5 * time.Second

// Backoff returns the delay before retry number attempt (1-based),
// doubling from base and capped at maxBackoff.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
