package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/isdelr/ender-watch/internal/activity"
	"github.com/isdelr/ender-watch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory stand-in for the management API.
type fakeClient struct {
	mu        sync.Mutex
	statuses  map[string]models.RemoteServerStatus
	statusErr map[string]error
	backupErr map[string]error
	stopErr   map[string]error

	startCalls  map[string]int
	stopCalls   map[string]int
	backupCalls map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		statuses:    make(map[string]models.RemoteServerStatus),
		statusErr:   make(map[string]error),
		backupErr:   make(map[string]error),
		stopErr:     make(map[string]error),
		startCalls:  make(map[string]int),
		stopCalls:   make(map[string]int),
		backupCalls: make(map[string]int),
	}
}

func (f *fakeClient) GetStatus(_ context.Context, id string) (models.RemoteServerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.statusErr[id]; err != nil {
		return models.RemoteServerStatus{}, err
	}
	return f.statuses[id], nil
}

func (f *fakeClient) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls[id]++
	return nil
}

func (f *fakeClient) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls[id]++
	if err := f.stopErr[id]; err != nil {
		return err
	}
	status := f.statuses[id]
	status.Running = false
	f.statuses[id] = status
	return nil
}

func (f *fakeClient) Restart(_ context.Context, _ string) error { return nil }

func (f *fakeClient) Backup(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backupCalls[id]++
	return f.backupErr[id]
}

func (f *fakeClient) CachedStatus(id string) (models.RemoteServerStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[id]
	return status, ok
}

func (f *fakeClient) set(id string, status models.RemoteServerStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
}

func (f *fakeClient) setErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.statusErr, id)
	} else {
		f.statusErr[id] = err
	}
}

func (f *fakeClient) setBackupErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.backupErr, id)
	} else {
		f.backupErr[id] = err
	}
}

func (f *fakeClient) setStopErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.stopErr, id)
	} else {
		f.stopErr[id] = err
	}
}

func (f *fakeClient) stops(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls[id]
}

func (f *fakeClient) backups(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backupCalls[id]
}

// recordedEvent mirrors what the notifier would receive.
type recordedEvent struct {
	Kind    string
	Level   string
	Message string
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) CreateEvent(kind, level, message string, _ *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Kind: kind, Level: level, Message: message})
	return nil
}

func (f *fakeEvents) GetRecentEvents(int) ([]models.Event, error) { return nil, nil }

func (f *fakeEvents) byKind(kind string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, e := range f.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	servers []models.ServerDescriptor
	client  *fakeClient
	tracker *activity.Tracker
	states  *StateTable
	events  *fakeEvents
	sched   *Scheduler
	clock   time.Time
}

func newHarness(t *testing.T, threshold time.Duration) *harness {
	t.Helper()
	h := &harness{
		servers: []models.ServerDescriptor{
			{Name: "survival", RemoteID: "id-1", IdleThreshold: threshold, AutoShutdown: true},
		},
		client: newFakeClient(),
		events: &fakeEvents{},
		clock:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	h.tracker = activity.NewTracker(h.servers, func() time.Time { return h.clock })
	h.states = NewStateTable(h.servers)
	h.sched = NewScheduler(h.servers, h.client, h.tracker, h.states, h.events, Options{})
	return h
}

// passAt advances the clock to base+offset and runs one evaluation pass.
func (h *harness) passAt(offset time.Duration) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	h.clock = base.Add(offset)
	h.sched.runPass(h.clock)
}

func TestIdleServerIsShutDown(t *testing.T) {
	h := newHarness(t, 30*time.Minute)
	h.client.set("id-1", models.RemoteServerStatus{Running: true})

	// Last activity 31 minutes ago, server running: flagged on the next pass.
	h.passAt(31 * time.Minute)

	assert.Equal(t, 1, h.client.backups("id-1"))
	assert.Equal(t, 1, h.client.stops("id-1"))
	require.Len(t, h.events.byKind(models.EventPreShutdown), 1)
	require.Len(t, h.events.byKind(models.EventShutdownComplete), 1)
	assert.Equal(t, "info", h.events.byKind(models.EventShutdownComplete)[0].Level)
	assert.Equal(t, StateIdle, h.states.State("survival", h.clock))
}

func TestFailedStatusCheckNeverStops(t *testing.T) {
	h := newHarness(t, 5*time.Minute)
	h.client.set("id-1", models.RemoteServerStatus{Running: true})
	h.client.setErr("id-1", context.DeadlineExceeded)

	h.passAt(10 * time.Minute)

	assert.Zero(t, h.client.stops("id-1"), "a failed health check must never lead to a stop")
	assert.Zero(t, h.client.backups("id-1"))
	assert.Empty(t, h.events.byKind(models.EventPreShutdown))
}

func TestStoppedServerIsLeftAlone(t *testing.T) {
	h := newHarness(t, 5*time.Minute)
	h.client.set("id-1", models.RemoteServerStatus{Running: false})

	h.passAt(10 * time.Minute)

	assert.Zero(t, h.client.stops("id-1"))
}

func TestPlayersOnlineCountAsActivity(t *testing.T) {
	h := newHarness(t, 5*time.Minute)
	h.client.set("id-1", models.RemoteServerStatus{Running: true, PlayersOnline: 2})

	h.passAt(10 * time.Minute)
	assert.Zero(t, h.client.stops("id-1"))

	// Players leave; the idle clock starts from the last pass that saw them.
	h.client.set("id-1", models.RemoteServerStatus{Running: true, PlayersOnline: 0})
	h.passAt(14 * time.Minute)
	assert.Zero(t, h.client.stops("id-1"))

	h.passAt(15 * time.Minute)
	assert.Equal(t, 1, h.client.stops("id-1"))
}

func TestCooldownAfterManualStartSuppressesShutdown(t *testing.T) {
	h := newHarness(t, 5*time.Minute)
	h.client.set("id-1", models.RemoteServerStatus{Running: true})

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.states.BeginManualStart("survival", base.Add(9*time.Minute), 10*time.Minute))

	// Idle by the tracker's clock, but the cooldown holds.
	h.passAt(10 * time.Minute)
	assert.Zero(t, h.client.stops("id-1"))

	// Cooldown over (and no touches since construction): next pass acts.
	h.passAt(20 * time.Minute)
	assert.Equal(t, 1, h.client.stops("id-1"))
}

func TestPlayersEndPostStartCooldown(t *testing.T) {
	h := newHarness(t, 5*time.Minute)
	h.client.set("id-1", models.RemoteServerStatus{Running: true, PlayersOnline: 3})

	// Manual start with a grace period longer than the idle threshold.
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.states.BeginManualStart("survival", base, 10*time.Minute))

	// Players are on throughout the grace period; the first pass that sees
	// them ends the cooldown and keeps the idle clock current.
	h.passAt(1 * time.Minute)
	assert.Equal(t, StateIdle, h.states.State("survival", h.clock),
		"first activity signal ends the cooldown")
	for i := 2; i <= 9; i++ {
		h.passAt(time.Duration(i) * time.Minute)
	}

	// Everyone leaves just before the grace period would have expired.
	h.client.set("id-1", models.RemoteServerStatus{Running: true, PlayersOnline: 0})
	h.passAt(10 * time.Minute)
	assert.Zero(t, h.client.stops("id-1"),
		"players seen a minute ago must count as activity past the cooldown")

	h.passAt(13 * time.Minute)
	assert.Zero(t, h.client.stops("id-1"))

	// Idle threshold measured from the last pass that saw players (t=9m).
	h.passAt(14 * time.Minute)
	assert.Equal(t, 1, h.client.stops("id-1"))
}

func TestEmptyCooldownHeldUntilExpiry(t *testing.T) {
	h := newHarness(t, 5*time.Minute)
	h.client.set("id-1", models.RemoteServerStatus{Running: true})

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.states.BeginManualStart("survival", base, 10*time.Minute))

	// Nobody ever joins: the cooldown runs its full course.
	h.passAt(9 * time.Minute)
	assert.Zero(t, h.client.stops("id-1"))
	assert.Equal(t, StateCooldownAfterStart, h.states.State("survival", h.clock))

	h.passAt(10 * time.Minute)
	assert.Equal(t, 1, h.client.stops("id-1"))
}

func TestStopFailureRevertsToIdleAndEscalates(t *testing.T) {
	h := newHarness(t, 5*time.Minute)
	h.client.set("id-1", models.RemoteServerStatus{Running: true})
	h.client.setStopErr("id-1", assert.AnError)

	h.passAt(6 * time.Minute)
	h.passAt(7 * time.Minute)
	h.passAt(8 * time.Minute)

	assert.Equal(t, 3, h.client.stops("id-1"), "failed stops are retried on later passes")

	failures := h.events.byKind(models.EventShutdownFailed)
	require.Len(t, failures, 3)
	assert.Equal(t, "warn", failures[0].Level)
	assert.Equal(t, "warn", failures[1].Level)
	assert.Equal(t, "error", failures[2].Level, "third consecutive failure escalates")
	assert.Equal(t, StateIdle, h.states.State("survival", h.clock))
	assert.Empty(t, h.events.byKind(models.EventShutdownComplete))
}

// TestIdleShutdownScenario walks the full lifecycle: four quiet passes, a
// shutdown with a failed backup at the threshold, then a restart with fresh
// activity that buys another full idle window.
func TestIdleShutdownScenario(t *testing.T) {
	h := newHarness(t, 5*time.Minute)
	h.client.set("id-1", models.RemoteServerStatus{Running: true})
	h.client.setBackupErr("id-1", assert.AnError)

	for i := 1; i <= 4; i++ {
		h.passAt(time.Duration(i) * time.Minute)
	}
	assert.Zero(t, h.client.stops("id-1"), "no action before the threshold")

	h.passAt(5 * time.Minute)
	assert.Equal(t, 1, h.client.backups("id-1"))
	assert.Equal(t, 1, h.client.stops("id-1"), "a failed backup does not abort the shutdown")
	require.Len(t, h.events.byKind(models.EventBackupFailed), 1)

	completions := h.events.byKind(models.EventShutdownComplete)
	require.Len(t, completions, 1)
	assert.Equal(t, "warn", completions[0].Level, "completion with a failed backup is a warning")
	assert.Contains(t, completions[0].Message, "backup failed")
	assert.Equal(t, StateIdle, h.states.State("survival", h.clock))

	// Manual restart at t=6m: running again, touched, backups healthy.
	h.client.setBackupErr("id-1", nil)
	h.client.set("id-1", models.RemoteServerStatus{Running: true})
	h.clock = time.Date(2025, 1, 1, 12, 6, 0, 0, time.UTC)
	h.tracker.Touch("survival")

	for i := 7; i <= 10; i++ {
		h.passAt(time.Duration(i) * time.Minute)
	}
	assert.Equal(t, 1, h.client.stops("id-1"), "no action until five more idle minutes elapse")

	h.passAt(11 * time.Minute)
	assert.Equal(t, 2, h.client.stops("id-1"))
	completions = h.events.byKind(models.EventShutdownComplete)
	require.Len(t, completions, 2)
	assert.Equal(t, "info", completions[1].Level)
}

func TestAutoShutdownDisabledServerIgnored(t *testing.T) {
	servers := []models.ServerDescriptor{
		{Name: "survival", RemoteID: "id-1", IdleThreshold: time.Minute, AutoShutdown: false},
	}
	client := newFakeClient()
	client.set("id-1", models.RemoteServerStatus{Running: true})
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker := activity.NewTracker(servers, func() time.Time { return clock })
	states := NewStateTable(servers)
	events := &fakeEvents{}
	sched := NewScheduler(servers, client, tracker, states, events, Options{})

	sched.runPass(clock.Add(time.Hour))

	assert.Zero(t, client.stops("id-1"))
}
