package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/isdelr/ender-watch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable() *StateTable {
	return NewStateTable([]models.ServerDescriptor{
		{Name: "survival", RemoteID: "id-1"},
		{Name: "creative", RemoteID: "id-2"},
	})
}

func TestBeginShutdownMutualExclusion(t *testing.T) {
	table := newTestTable()
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if table.BeginShutdown("survival", now) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one shutdown sequence may begin")
	assert.Equal(t, StateShuttingDown, table.State("survival", now))
}

func TestShutdownStatePerServer(t *testing.T) {
	table := newTestTable()
	now := time.Now()

	require.True(t, table.BeginShutdown("survival", now))
	// A shutdown on one server never blocks another.
	assert.True(t, table.BeginShutdown("creative", now))
}

func TestFinishShutdownReturnsToIdle(t *testing.T) {
	table := newTestTable()
	now := time.Now()

	require.True(t, table.BeginShutdown("survival", now))
	table.FinishShutdown("survival", true)
	assert.Equal(t, StateIdle, table.State("survival", now))

	// After completion the next pass may trigger again.
	assert.True(t, table.BeginShutdown("survival", now))
}

func TestFinishShutdownCountsConsecutiveFailures(t *testing.T) {
	table := newTestTable()
	now := time.Now()

	for i := 1; i <= 3; i++ {
		require.True(t, table.BeginShutdown("survival", now))
		assert.Equal(t, i, table.FinishShutdown("survival", false))
	}

	require.True(t, table.BeginShutdown("survival", now))
	assert.Equal(t, 0, table.FinishShutdown("survival", true), "success resets the failure count")
}

func TestManualStartRejectedDuringShutdown(t *testing.T) {
	table := newTestTable()
	now := time.Now()

	require.True(t, table.BeginShutdown("survival", now))
	err := table.BeginManualStart("survival", now, 5*time.Minute)
	assert.ErrorIs(t, err, ErrShuttingDown)
	// The in-flight sequence is untouched.
	assert.Equal(t, StateShuttingDown, table.State("survival", now))
}

func TestCooldownSuppressesShutdownUntilExpiry(t *testing.T) {
	table := newTestTable()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, table.BeginManualStart("survival", base, 5*time.Minute))
	assert.Equal(t, StateCooldownAfterStart, table.State("survival", base))
	assert.False(t, table.BeginShutdown("survival", base.Add(4*time.Minute)))

	// Cooldown expires on its own.
	assert.Equal(t, StateIdle, table.State("survival", base.Add(5*time.Minute)))
	assert.True(t, table.BeginShutdown("survival", base.Add(5*time.Minute)))
}

func TestClearCooldownOnFirstActivity(t *testing.T) {
	table := newTestTable()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, table.BeginManualStart("survival", base, 5*time.Minute))
	table.ClearCooldown("survival")
	assert.Equal(t, StateIdle, table.State("survival", base.Add(time.Second)))
}

func TestClearCooldownDoesNotTouchShutdown(t *testing.T) {
	table := newTestTable()
	now := time.Now()

	require.True(t, table.BeginShutdown("survival", now))
	table.ClearCooldown("survival")
	assert.Equal(t, StateShuttingDown, table.State("survival", now))
}
