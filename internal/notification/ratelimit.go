package notification

import (
	"sync"
	"time"
)

// rateLimiter is a sliding-window event counter protecting the store and
// the push providers from notification storms.
type rateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	maxEvents int
	events    []time.Time
}

func newRateLimiter(window time.Duration, maxEvents int) *rateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if maxEvents <= 0 {
		maxEvents = DefaultRateLimitMaxEvents
	}
	return &rateLimiter{
		window:    window,
		maxEvents: maxEvents,
	}
}

// Allow reports whether another event fits in the current window.
func (rl *rateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	kept := rl.events[:0]
	for _, t := range rl.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rl.events = kept

	if len(rl.events) >= rl.maxEvents {
		return false
	}
	rl.events = append(rl.events, now)
	return true
}
