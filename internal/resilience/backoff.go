package resilience

import (
	"math/rand"
	"time"
)

const maxBackoff = time.Minute

// Backoff returns an exponential backoff duration for the provided attempt,
// capped at one minute. Jitter is a fraction (0.2 == ±20%).
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	d := base * time.Duration(1<<uint(shift))
	if d > maxBackoff {
		d = maxBackoff
	}
	if jitterPct <= 0 {
		return d
	}
	jitter := float64(d) * jitterPct
	delta := (rand.Float64()*2 - 1) * jitter
	return d + time.Duration(delta)
}
