package notify

import (
	"context"
	"sync"
	"time"

	"github.com/arisanid/arisan/internal/ports"
)

// MemoryThrottle is a process-local ReminderThrottle for single-node
// deployments and tests. Multi-node deployments use the Redis throttle.
type MemoryThrottle struct {
	mu    sync.Mutex
	sent  map[string]time.Time
	clock ports.Clock
}

// NewMemoryThrottle creates an in-memory reminder throttle.
func NewMemoryThrottle(clock ports.Clock) *MemoryThrottle {
	return &MemoryThrottle{
		sent:  make(map[string]time.Time),
		clock: clock,
	}
}

// Allow reports whether a reminder may be sent, recording the send time
// when it may.
func (t *MemoryThrottle) Allow(ctx context.Context, userID, category string, window time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := userID + ":" + category
	now := t.clock.Now()
	if last, ok := t.sent[key]; ok && now.Sub(last) < window {
		return false, nil
	}
	t.sent[key] = now
	return true, nil
}
