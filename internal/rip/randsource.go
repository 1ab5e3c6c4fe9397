package rip

import (
	"math/rand/v2"
	"time"
)

// JitterSource produces the randomized delays RFC 2453 Section 3.8 and
// Section 3.10.1 call for: periodic update timers are jittered by up to
// ±25% to avoid synchronization, and triggered updates are delayed by a
// random 1-5 second interval. It is an interface, not a bare
// math/rand/v2 call, so tests can inject a deterministic source instead
// of asserting on timing ranges.
type JitterSource interface {
	// PeriodicJitter returns a duration within ±25% of base.
	PeriodicJitter(base time.Duration) time.Duration

	// TriggeredDelay returns a duration in [min, max).
	TriggeredDelay(minDelay, maxDelay time.Duration) time.Duration
}

// SystemJitterSource is the production JitterSource, a PCG generator
// seeded from the values passed to NewSystemJitterSource.
type SystemJitterSource struct {
	rng *rand.Rand
}

// NewSystemJitterSource builds a JitterSource seeded deterministically
// from seed. Passing two different process-derived uint64s keeps
// concurrent dispatchers (if ever run in the same process) from sharing
// a sequence.
func NewSystemJitterSource(seed1, seed2 uint64) *SystemJitterSource {
	return &SystemJitterSource{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

func (s *SystemJitterSource) PeriodicJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}

	spread := base / 4
	offset := time.Duration(s.rng.Int64N(int64(2*spread+1))) - spread

	return base + offset
}

func (s *SystemJitterSource) TriggeredDelay(minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}

	return minDelay + time.Duration(s.rng.Int64N(int64(maxDelay-minDelay)))
}

// FixedJitterSource is a deterministic JitterSource for tests: it always
// returns the configured values instead of sampling.
type FixedJitterSource struct {
	Periodic  time.Duration
	Triggered time.Duration
}

func (f FixedJitterSource) PeriodicJitter(time.Duration) time.Duration   { return f.Periodic }
func (f FixedJitterSource) TriggeredDelay(time.Duration, time.Duration) time.Duration {
	return f.Triggered
}
