package activity

import (
	"sync"
	"time"

	"github.com/isdelr/ender-watch/internal/models"
)

// Tracker records the last moment each managed server was seen in use. One
// slot per server, each behind its own lock, so touching one server never
// blocks evaluating another. The slot map is built once from configuration
// and never mutated afterwards, which keeps lookups lock-free.
type Tracker struct {
	slots map[string]*slot
	now   func() time.Time
}

type slot struct {
	mu            sync.Mutex
	lastActive    time.Time
	idleThreshold time.Duration
}

// NewTracker builds a tracker for the configured servers. Every server starts
// out as just-seen so a fresh process never shuts anything down immediately.
func NewTracker(servers []models.ServerDescriptor, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{slots: make(map[string]*slot, len(servers)), now: now}
	start := now()
	for _, s := range servers {
		t.slots[s.Name] = &slot{lastActive: start, idleThreshold: s.IdleThreshold}
	}
	return t
}

// Touch records an activity signal for a server, resetting its idle clock.
// Unknown names are a caller contract violation; the dispatcher validates
// names against configuration before calling in.
func (t *Tracker) Touch(name string) {
	s := t.slots[name]
	s.mu.Lock()
	s.lastActive = t.now()
	s.mu.Unlock()
}

// IsIdle reports whether the server has been inactive for at least its
// configured idle threshold as of the given instant.
func (t *Tracker) IsIdle(name string, now time.Time) bool {
	s := t.slots[name]
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive) >= s.idleThreshold
}

// LastActive returns the last recorded activity time for a server.
func (t *Tracker) LastActive(name string) time.Time {
	s := t.slots[name]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
