package server

import (
	"sync"
	"time"
)

// rateLimiter caps the envelopes one websocket stream may submit. Every
// Conn owns one, so a chatty client only exhausts its own budget. It is a
// token bucket: burst envelopes may arrive back to back, after which the
// stream earns burst tokens per refill interval. An envelope refused here
// is answered with a NACK and the stream stays open.
type rateLimiter struct {
	mu      sync.Mutex
	tokens  float64
	burst   float64
	perSec  float64
	updated time.Time
	now     func() time.Time
}

func newRateLimiter(burst int, refill time.Duration) *rateLimiter {
	return newRateLimiterWithClock(burst, refill, time.Now)
}

func newRateLimiterWithClock(burst int, refill time.Duration, now func() time.Time) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if refill <= 0 {
		refill = time.Second
	}
	return &rateLimiter{
		tokens:  float64(burst),
		burst:   float64(burst),
		perSec:  float64(burst) / refill.Seconds(),
		updated: now(),
		now:     now,
	}
}

// allow spends one token for the envelope being processed.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.updated); elapsed > 0 {
		rl.tokens = min(rl.burst, rl.tokens+elapsed.Seconds()*rl.perSec)
	}
	rl.updated = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
