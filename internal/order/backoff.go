package order

import "time"

const maxBackoff = 60 * time.Second

// Backoff returns the delay before redelivery attempt n (1-based):
// base * 2^(n-1), capped at maxBackoff.
func Backoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt <= 1 {
		return base
	}
	// 2^30 already far exceeds the cap; avoid shift overflow.
	if attempt > 30 {
		return maxBackoff
	}
	d := base * time.Duration(1<<(attempt-1))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
