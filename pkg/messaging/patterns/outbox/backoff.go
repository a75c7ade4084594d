package outbox

import (
	"math/rand/v2"
	"time"
)

// Backoff is the delay before retry number attempt+1 of a record that has
// failed attempt times before: min(cap, base*2^attempt) plus a uniform
// jitter in [0, base).
func Backoff(attempt int, base, maxDelay time.Duration, jitter func(time.Duration) time.Duration) time.Duration {
	d := maxDelay
	if attempt < 0 {
		attempt = 0
	}
	if attempt < 62 {
		if exp := base << attempt; exp>>attempt == base && exp < maxDelay {
			d = exp
		}
	}
	if base > 0 {
		d += jitter(base)
	}
	return d
}

func uniformJitter(n time.Duration) time.Duration {
	return rand.N(n)
}
