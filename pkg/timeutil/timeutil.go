package timeutil

import (
	"math"
	"math/rand"
	"time"
)

// DurationPtr is a helper function to create a pointer to a time.Duration
func DurationPtr(d time.Duration) *time.Duration {
	return &d
}

// MaxDuration returns the largest duration in durations, or zero for an
// empty slice. durations is never mutated.
func MaxDuration(durations []time.Duration) time.Duration {
	var result time.Duration
	for i, d := range durations {
		if i == 0 || d > result {
			result = d
		}
	}
	return result
}

// ComputeJitter returns a pseudo-random duration in [0, max). A non-positive
// max always returns 0.
func ComputeJitter(max time.Duration, rng rand.Rand) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(max)))
}

// ExponentialBackoffDelay computes initialDuration * multiplier^(backoffCount-1),
// capped at maxDuration, plus optional jitter in [0, jitter).
func ExponentialBackoffDelay(backoffCount int, jitter time.Duration, rng rand.Rand, backoffParam BackoffParam) time.Duration {
	exponent := float64(backoffCount - 1)
	delay := float64(backoffParam.InitialDuration()) * math.Pow(backoffParam.Multiplier(), exponent)

	if maxDuration := backoffParam.MaxDuration(); maxDuration > 0 && delay > float64(maxDuration) {
		delay = float64(maxDuration)
	}

	result := time.Duration(delay)
	if jitter > 0 {
		result += ComputeJitter(jitter, rng)
	}
	return result
}
