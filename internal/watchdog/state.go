package watchdog

import (
	"errors"
	"sync"
	"time"

	"github.com/isdelr/ender-watch/internal/models"
)

// ShutdownState is the per-server lifecycle state of the idle watchdog.
type ShutdownState int

const (
	// StateIdle means no shutdown is in flight and no cooldown applies.
	StateIdle ShutdownState = iota
	// StateShuttingDown means a shutdown sequence is currently executing.
	StateShuttingDown
	// StateCooldownAfterStart suppresses idle evaluation right after a
	// manual start, as a second guard besides the activity touch.
	StateCooldownAfterStart
)

func (s ShutdownState) String() string {
	switch s {
	case StateShuttingDown:
		return "shutting_down"
	case StateCooldownAfterStart:
		return "cooldown"
	default:
		return "idle"
	}
}

// ErrShuttingDown is returned when a manual start arrives while a shutdown
// sequence is in flight. The sequence is never aborted mid-flight; the caller
// gets an explicit rejection instead of a silent race.
var ErrShuttingDown = errors.New("server is currently shutting down")

// StateTable holds the shutdown state for every configured server. Each entry
// is guarded independently; there is no global lock across servers.
type StateTable struct {
	entries map[string]*stateEntry
}

type stateEntry struct {
	mu            sync.Mutex
	state         ShutdownState
	cooldownUntil time.Time
	stopFailures  int // consecutive failed shutdown sequences
}

// NewStateTable builds a table with every server in the Idle state.
func NewStateTable(servers []models.ServerDescriptor) *StateTable {
	t := &StateTable{entries: make(map[string]*stateEntry, len(servers))}
	for _, s := range servers {
		t.entries[s.Name] = &stateEntry{state: StateIdle}
	}
	return t
}

// State returns the current state for a server, resolving an expired cooldown
// back to Idle.
func (t *StateTable) State(name string, now time.Time) ShutdownState {
	e := t.entries[name]
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolveCooldown(now)
	return e.state
}

// BeginShutdown atomically moves a server from Idle to ShuttingDown. It
// returns false when the server is not Idle (sequence already in flight, or
// still cooling down), which is what prevents two ticks or a concurrent
// manual stop from double-triggering the sequence.
func (t *StateTable) BeginShutdown(name string, now time.Time) bool {
	e := t.entries[name]
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolveCooldown(now)
	if e.state != StateIdle {
		return false
	}
	e.state = StateShuttingDown
	return true
}

// FinishShutdown ends a shutdown sequence. succeeded records whether the stop
// call went through; the consecutive-failure count backs alert escalation.
// The returned count is the number of consecutive failures including this one
// (zero on success).
func (t *StateTable) FinishShutdown(name string, succeeded bool) int {
	e := t.entries[name]
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateIdle
	if succeeded {
		e.stopFailures = 0
	} else {
		e.stopFailures++
	}
	return e.stopFailures
}

// BeginManualStart marks a manual start: the server enters a cooldown for the
// grace period so it is not flagged idle by a clock-tick race. A start during
// an in-flight shutdown is rejected with ErrShuttingDown.
func (t *StateTable) BeginManualStart(name string, now time.Time, grace time.Duration) error {
	e := t.entries[name]
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateShuttingDown {
		return ErrShuttingDown
	}
	e.state = StateCooldownAfterStart
	e.cooldownUntil = now.Add(grace)
	return nil
}

// ClearCooldown ends a post-start cooldown early. Called on the first
// activity signal after a manual start.
func (t *StateTable) ClearCooldown(name string) {
	e := t.entries[name]
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateCooldownAfterStart {
		e.state = StateIdle
		e.cooldownUntil = time.Time{}
	}
}

// resolveCooldown flips an expired cooldown back to Idle. Caller holds e.mu.
func (e *stateEntry) resolveCooldown(now time.Time) {
	if e.state == StateCooldownAfterStart && !now.Before(e.cooldownUntil) {
		e.state = StateIdle
		e.cooldownUntil = time.Time{}
	}
}
