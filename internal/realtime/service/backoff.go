package service

import (
	"math/rand/v2"
	"time"
)

const backoffFactor = 1.5

// backoffDelay computes the un-jittered delay for a reconnect attempt:
// min(base * 1.5^attempt, cap). Attempt numbering starts at zero.
func backoffDelay(base, ceil time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if time.Duration(delay) >= ceil {
			return ceil
		}
	}

	if time.Duration(delay) > ceil {
		return ceil
	}
	return time.Duration(delay)
}

// jitter scales a delay by a random factor in [0.9, 1.1) so a fleet of
// clients dropped by the same outage does not retry in lockstep.
func jitter(d time.Duration) time.Duration {
	factor := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(d) * factor)
}
