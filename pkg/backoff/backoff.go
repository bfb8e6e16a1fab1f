package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Delay returns base*2^(attempt-1) capped at max, with +/- 20% jitter.
func Delay(base, max time.Duration, attempt int) time.Duration {
	return DelayWithRand(base, max, attempt, rand.Float64)
}

// DelayWithRand is Delay with an injectable randomness source; rnd must
// return values in [0, 1).
func DelayWithRand(base, max time.Duration, attempt int, rnd func() float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	mul := math.Pow(2, float64(attempt-1))
	d := min(time.Duration(float64(base)*mul), max)

	j := time.Duration(float64(d) * 0.2)
	if j == 0 {
		return d
	}
	return d - j + time.Duration(rnd()*float64(2*j))
}
