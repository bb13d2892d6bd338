package retry

import "time"

// maxShift keeps base * 2^attempt from overflowing time.Duration for sane bases.
const maxShift = 20

// ExponentialBackoff returns delay based on attempt number.
// The delay doubles with each attempt: base * 2^attempt, with attempt clamped to [0, 20].
func ExponentialBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	return base * (1 << attempt)
}
