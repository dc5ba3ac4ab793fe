package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/isdelr/ender-watch/internal/crafty"
	"github.com/isdelr/ender-watch/internal/models"
	"github.com/isdelr/ender-watch/internal/services"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// BackupScheduler triggers remote backups for every running server inside a
// configured cron window (e.g. "0 4 * * *" for 4 AM daily). Servers with a
// shutdown sequence in flight are skipped; the sequence takes its own backup.
type BackupScheduler struct {
	servers  []models.ServerDescriptor
	client   crafty.ClientProvider
	states   *StateTable
	eventSvc services.EventServiceProvider

	schedule cron.Schedule
	nextRun  time.Time
	now      func() time.Time

	ticker *time.Ticker
	done   chan bool
}

// NewBackupScheduler parses the cron expression and prepares the runner.
func NewBackupScheduler(servers []models.ServerDescriptor, client crafty.ClientProvider, states *StateTable, eventSvc services.EventServiceProvider, spec string) (*BackupScheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid backup cron expression %q: %w", spec, err)
	}
	return &BackupScheduler{
		servers:  servers,
		client:   client,
		states:   states,
		eventSvc: eventSvc,
		schedule: schedule,
		nextRun:  schedule.Next(time.Now()),
		now:      time.Now,
		done:     make(chan bool),
	}, nil
}

// Run starts the backup window's ticking loop.
func (b *BackupScheduler) Run() {
	log.Info().Time("next_run", b.nextRun).Msg("Starting scheduled backup runner...")
	b.ticker = time.NewTicker(time.Minute)
	defer b.ticker.Stop()

	for {
		select {
		case <-b.done:
			log.Info().Msg("Stopping scheduled backup runner.")
			return
		case <-b.ticker.C:
			now := b.now()
			if now.After(b.nextRun) {
				b.runBackups(now)
				b.nextRun = b.schedule.Next(now)
			}
		}
	}
}

// Stop halts the backup runner.
func (b *BackupScheduler) Stop() {
	b.done <- true
}

// runBackups backs up every server that is currently running.
func (b *BackupScheduler) runBackups(now time.Time) {
	ctx := context.Background()
	for _, srv := range b.servers {
		server := srv
		if b.states.State(server.Name, now) == StateShuttingDown {
			continue
		}
		status, err := b.client.GetStatus(ctx, server.RemoteID)
		if err != nil {
			log.Warn().Err(err).Str("server_name", server.Name).Msg("Scheduled backup: status check failed, skipping")
			continue
		}
		if !status.Running {
			continue
		}

		name := server.Name
		if err := b.client.Backup(ctx, server.RemoteID); err != nil {
			b.eventSvc.CreateEvent(models.EventBackupFailed, "warn",
				fmt.Sprintf("Scheduled backup for server '%s' failed: %v", name, err), &name)
			continue
		}
		b.eventSvc.CreateEvent(models.EventBackupScheduled, "info",
			fmt.Sprintf("Scheduled backup started for server '%s'.", name), &name)
	}
}
