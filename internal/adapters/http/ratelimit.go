package http

import (
	"sync"
	"time"

	"github.com/dkeye/VoiceCoach/internal/domain"
	"github.com/jonboulle/clockwork"
)

// CreateRateLimiter is a per-owner sliding window over session creates.
type CreateRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.OwnerID][]time.Time
	limit    int
	interval time.Duration
	clock    clockwork.Clock
}

func NewCreateRateLimiter(limit int, interval time.Duration, clock clockwork.Clock) *CreateRateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CreateRateLimiter{
		history:  make(map[domain.OwnerID][]time.Time),
		limit:    limit,
		interval: interval,
		clock:    clock,
	}
}

// Allow records an attempt and reports whether it fits in the window.
// A non-positive limit disables limiting.
func (rl *CreateRateLimiter) Allow(owner domain.OwnerID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[owner]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[owner] = fresh
		return false
	}

	rl.history[owner] = append(fresh, now)
	return true
}
