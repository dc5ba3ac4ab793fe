package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/isdelr/ender-watch/internal/activity"
	"github.com/isdelr/ender-watch/internal/crafty"
	"github.com/isdelr/ender-watch/internal/models"
	"github.com/isdelr/ender-watch/internal/probe"
	"github.com/isdelr/ender-watch/internal/services"
	"github.com/rs/zerolog/log"
)

// stopFailureAlertThreshold is the number of consecutive failed shutdown
// sequences after which the failure event escalates to error level.
const stopFailureAlertThreshold = 3

// Options tunes the scheduler. Zero values fall back to sane defaults.
type Options struct {
	// Interval between evaluation passes.
	Interval time.Duration
	// Prober optionally cross-checks player counts over RCON.
	Prober probe.PlayerProber
	// Now is the clock; injectable so tests can drive time.
	Now func() time.Time
}

// Scheduler is the idle watchdog control loop. Each pass it evaluates every
// auto-shutdown server against its idle threshold and, when one qualifies,
// drives the shutdown sequence: notify, backup, stop. The StateTable's CAS
// guarantees at most one in-flight sequence per server.
type Scheduler struct {
	servers  []models.ServerDescriptor
	client   crafty.ClientProvider
	tracker  *activity.Tracker
	states   *StateTable
	eventSvc services.EventServiceProvider

	interval time.Duration
	prober   probe.PlayerProber
	now      func() time.Time

	ticker *time.Ticker
	done   chan bool
}

// NewScheduler creates the idle watchdog.
func NewScheduler(servers []models.ServerDescriptor, client crafty.ClientProvider, tracker *activity.Tracker, states *StateTable, eventSvc services.EventServiceProvider, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		servers:  servers,
		client:   client,
		tracker:  tracker,
		states:   states,
		eventSvc: eventSvc,
		interval: opts.Interval,
		prober:   opts.Prober,
		now:      opts.Now,
		done:     make(chan bool),
	}
}

// Run starts the watchdog's ticking loop.
func (s *Scheduler) Run() {
	log.Info().Dur("interval", s.interval).Int("servers", len(s.servers)).Msg("Starting idle watchdog...")
	s.ticker = time.NewTicker(s.interval)
	defer s.ticker.Stop()

	for {
		select {
		case <-s.done:
			log.Info().Msg("Stopping idle watchdog.")
			return
		case <-s.ticker.C:
			s.runPass(s.now())
		}
	}
}

// Stop halts the watchdog. An in-flight shutdown sequence runs to completion.
func (s *Scheduler) Stop() {
	s.done <- true
}

// runPass evaluates every auto-shutdown server once. Servers are evaluated
// concurrently; a pass only returns when every evaluation (including any
// shutdown sequences it started) has finished.
func (s *Scheduler) runPass(now time.Time) {
	var wg sync.WaitGroup
	for _, srv := range s.servers {
		if !srv.AutoShutdown {
			continue
		}
		server := srv
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.evaluateServer(server, now)
		}()
	}
	wg.Wait()
}

// evaluateServer runs one idle check for one server.
func (s *Scheduler) evaluateServer(server models.ServerDescriptor, now time.Time) {
	state := s.states.State(server.Name, now)
	if state == StateShuttingDown {
		log.Debug().Str("server_name", server.Name).Stringer("state", state).Msg("Watchdog: skipping, shutdown in flight")
		return
	}

	ctx := context.Background()
	status, err := s.client.GetStatus(ctx, server.RemoteID)
	if err != nil {
		// Never act on stale data; wait for the next pass.
		log.Warn().Err(err).Str("server_name", server.Name).Msg("Watchdog: status check failed, skipping this pass")
		return
	}
	if !status.Running {
		return
	}

	// The player check runs during a post-start cooldown too: the first
	// activity signal ends the cooldown, so the idle clock is accurate by the
	// time the grace period would have expired on its own.
	players := status.PlayersOnline
	if s.prober != nil && server.RCONAddress != "" {
		if n, probeErr := s.prober.PlayersOnline(ctx, server); probeErr == nil && n > players {
			players = n
		}
	}
	if players > 0 {
		s.tracker.Touch(server.Name)
		s.states.ClearCooldown(server.Name)
		return
	}

	// With nobody online the cooldown holds; only its expiry ends it.
	if state == StateCooldownAfterStart {
		return
	}

	if !s.tracker.IsIdle(server.Name, now) {
		return
	}

	// CAS from Idle; a concurrent tick or manual stop loses the race here.
	if !s.states.BeginShutdown(server.Name, now) {
		return
	}
	s.runShutdownSequence(ctx, server)
}

// runShutdownSequence executes notify -> backup -> stop. A failed backup is
// reported but does not abort the shutdown; an idle server must not keep
// consuming resources because its backup failed.
func (s *Scheduler) runShutdownSequence(ctx context.Context, server models.ServerDescriptor) {
	name := server.Name
	s.eventSvc.CreateEvent(models.EventPreShutdown, "info",
		fmt.Sprintf("Server '%s' has been idle for over %s. Taking a backup and shutting it down.", name, server.IdleThreshold), &name)

	backupErr := s.client.Backup(ctx, server.RemoteID)
	if backupErr != nil {
		s.eventSvc.CreateEvent(models.EventBackupFailed, "warn",
			fmt.Sprintf("Pre-shutdown backup for server '%s' failed: %v. Shutdown proceeds without it.", name, backupErr), &name)
	}

	if stopErr := s.client.Stop(ctx, server.RemoteID); stopErr != nil {
		failures := s.states.FinishShutdown(name, false)
		level := "warn"
		if failures >= stopFailureAlertThreshold {
			level = "error"
		}
		s.eventSvc.CreateEvent(models.EventShutdownFailed, level,
			fmt.Sprintf("Failed to stop idle server '%s' (%d consecutive failures): %v. Will retry on a later pass.", name, failures, stopErr), &name)
		return
	}

	s.states.FinishShutdown(name, true)
	// A completed shutdown with a failed backup is reported as a warning, not
	// a plain success, so operators notice the missing backup.
	if backupErr != nil {
		s.eventSvc.CreateEvent(models.EventShutdownComplete, "warn",
			fmt.Sprintf("Server '%s' was stopped after idling, but the pre-shutdown backup failed. Use /start %s to start it again.", name, name), &name)
		return
	}
	s.eventSvc.CreateEvent(models.EventShutdownComplete, "info",
		fmt.Sprintf("Server '%s' was automatically stopped after %s of inactivity. A backup was created before shutdown. Use /start %s to start it again.", name, server.IdleThreshold, name), &name)
}
