package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/isdelr/ender-watch/internal/activity"
	"github.com/isdelr/ender-watch/internal/crafty"
	"github.com/isdelr/ender-watch/internal/models"
	"github.com/isdelr/ender-watch/internal/services"
	"github.com/isdelr/ender-watch/internal/watchdog"
	"github.com/rs/zerolog/log"
)

// Boundary errors. Both are caller/config problems and never reach the
// watchdog or the status client.
var (
	ErrUnknownServer     = errors.New("unknown server")
	ErrChannelNotAllowed = errors.New("channel not allowed")
)

// Dispatcher receives user commands from the chat-platform adapter, validates
// the origin channel and server name, and translates outcomes into plain chat
// replies. It is the only component allowed to touch the activity tracker and
// the state table on behalf of users.
type Dispatcher struct {
	servers  map[string]models.ServerDescriptor
	names    []string
	allowed  map[string]bool
	client   crafty.ClientProvider
	tracker  *activity.Tracker
	states   *watchdog.StateTable
	eventSvc services.EventServiceProvider
	grace    time.Duration
	now      func() time.Time
}

// New creates a dispatcher. An empty allowedChannels list permits any origin.
func New(servers []models.ServerDescriptor, allowedChannels []string, client crafty.ClientProvider, tracker *activity.Tracker, states *watchdog.StateTable, eventSvc services.EventServiceProvider, grace time.Duration) *Dispatcher {
	d := &Dispatcher{
		servers:  make(map[string]models.ServerDescriptor, len(servers)),
		allowed:  make(map[string]bool, len(allowedChannels)),
		client:   client,
		tracker:  tracker,
		states:   states,
		eventSvc: eventSvc,
		grace:    grace,
		now:      time.Now,
	}
	for _, s := range servers {
		d.servers[s.Name] = s
		d.names = append(d.names, s.Name)
	}
	sort.Strings(d.names)
	for _, ch := range allowedChannels {
		d.allowed[ch] = true
	}
	return d
}

// ServerView is a server's descriptor plus its last known runtime state,
// suitable for listing.
type ServerView struct {
	Name          string                    `json:"name"`
	AutoShutdown  bool                      `json:"autoShutdown"`
	IdleThreshold string                    `json:"idleThreshold"`
	State         string                    `json:"state"`
	LastActive    time.Time                 `json:"lastActive"`
	Status        *models.RemoteServerStatus `json:"status,omitempty"`
}

// HandleStart processes a start command.
func (d *Dispatcher) HandleStart(serverName, channelID string) (string, error) {
	server, err := d.admit(serverName, channelID, "start")
	if err != nil {
		return "", err
	}

	ctx := context.Background()
	if status, statusErr := d.client.GetStatus(ctx, server.RemoteID); statusErr == nil && status.Running {
		d.tracker.Touch(server.Name)
		return fmt.Sprintf("Server %s is already running!", server.Name), nil
	}

	now := d.now()
	if err := d.states.BeginManualStart(server.Name, now, d.grace); err != nil {
		return "", fmt.Errorf("cannot start server '%s': %w", server.Name, err)
	}
	// Touched at start time as well; cooldown is the second guard against a
	// clock-tick race.
	d.tracker.Touch(server.Name)

	if err := d.client.Start(ctx, server.RemoteID); err != nil {
		d.states.ClearCooldown(server.Name)
		log.Error().Err(err).Str("server_name", server.Name).Msg("Start command failed")
		return "", fmt.Errorf("failed to start server '%s': %w", server.Name, err)
	}

	name := server.Name
	d.eventSvc.CreateEvent(models.EventServerStart, "info",
		fmt.Sprintf("Server '%s' was started via channel %s.", name, channelID), &name)
	return fmt.Sprintf("Starting server %s...", server.Name), nil
}

// HandleStop processes a manual stop command. It goes through the same
// compare-and-set as the watchdog, so it cannot race an automatic shutdown,
// and it takes a backup first like any other shutdown.
func (d *Dispatcher) HandleStop(serverName, channelID string) (string, error) {
	server, err := d.admit(serverName, channelID, "stop")
	if err != nil {
		return "", err
	}

	now := d.now()
	// A stop right after a start is legitimate; lift the cooldown first.
	d.states.ClearCooldown(server.Name)
	if !d.states.BeginShutdown(server.Name, now) {
		return "", fmt.Errorf("cannot stop server '%s': %w", server.Name, watchdog.ErrShuttingDown)
	}

	ctx := context.Background()
	name := server.Name
	backupErr := d.client.Backup(ctx, server.RemoteID)
	if backupErr != nil {
		d.eventSvc.CreateEvent(models.EventBackupFailed, "warn",
			fmt.Sprintf("Pre-stop backup for server '%s' failed: %v. Stop proceeds without it.", name, backupErr), &name)
	}
	if err := d.client.Stop(ctx, server.RemoteID); err != nil {
		d.states.FinishShutdown(server.Name, false)
		log.Error().Err(err).Str("server_name", server.Name).Msg("Stop command failed")
		return "", fmt.Errorf("failed to stop server '%s': %w", server.Name, err)
	}
	d.states.FinishShutdown(server.Name, true)

	d.eventSvc.CreateEvent(models.EventServerStop, "info",
		fmt.Sprintf("Server '%s' was stopped via channel %s.", name, channelID), &name)
	if backupErr != nil {
		return fmt.Sprintf("Server %s stopped, but the backup before it failed.", server.Name), nil
	}
	return fmt.Sprintf("Server %s backed up and stopped.", server.Name), nil
}

// HandleStatus processes a status command. A failed live query falls back to
// the cache, clearly marked as stale.
func (d *Dispatcher) HandleStatus(serverName, channelID string) (string, error) {
	server, err := d.admit(serverName, channelID, "status")
	if err != nil {
		return "", err
	}

	status, statusErr := d.client.GetStatus(context.Background(), server.RemoteID)
	stale := false
	if statusErr != nil {
		cached, ok := d.client.CachedStatus(server.RemoteID)
		if !ok {
			return "", fmt.Errorf("could not reach the management API for '%s': %w", server.Name, statusErr)
		}
		status = cached
		stale = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Server: %s\n", server.Name)
	if status.Running {
		b.WriteString("Status: 🟢 Running\n")
	} else {
		b.WriteString("Status: 🔴 Stopped\n")
	}
	fmt.Fprintf(&b, "Players online: %d", status.PlayersOnline)
	if state := d.states.State(server.Name, d.now()); state != watchdog.StateIdle {
		fmt.Fprintf(&b, "\nNote: %s", state)
	}
	if stale {
		fmt.Fprintf(&b, "\n(last known state from %s; live query failed)", status.LastQueried.Format(time.RFC3339))
	}
	return b.String(), nil
}

// HandleBackup processes a backup command.
func (d *Dispatcher) HandleBackup(serverName, channelID string) (string, error) {
	server, err := d.admit(serverName, channelID, "backup")
	if err != nil {
		return "", err
	}

	if err := d.client.Backup(context.Background(), server.RemoteID); err != nil {
		log.Error().Err(err).Str("server_name", server.Name).Msg("Backup command failed")
		return "", fmt.Errorf("failed to back up server '%s': %w", server.Name, err)
	}
	name := server.Name
	d.eventSvc.CreateEvent(models.EventBackupScheduled, "info",
		fmt.Sprintf("Backup of server '%s' requested via channel %s.", name, channelID), &name)
	return fmt.Sprintf("Backup of server %s started.", server.Name), nil
}

// Servers returns a view over every configured server for listings.
func (d *Dispatcher) Servers() []ServerView {
	now := d.now()
	views := make([]ServerView, 0, len(d.names))
	for _, name := range d.names {
		server := d.servers[name]
		view := ServerView{
			Name:          server.Name,
			AutoShutdown:  server.AutoShutdown,
			IdleThreshold: server.IdleThreshold.String(),
			State:         d.states.State(server.Name, now).String(),
			LastActive:    d.tracker.LastActive(server.Name),
		}
		if cached, ok := d.client.CachedStatus(server.RemoteID); ok {
			view.Status = &cached
		}
		views = append(views, view)
	}
	return views
}

// admit validates the origin channel and server name before any command runs.
func (d *Dispatcher) admit(serverName, channelID, command string) (models.ServerDescriptor, error) {
	if len(d.allowed) > 0 && !d.allowed[channelID] {
		d.eventSvc.CreateEvent(models.EventCommandRejected, "warn",
			fmt.Sprintf("Command '%s %s' rejected: channel %s is not on the allow-list.", command, serverName, channelID), nil)
		return models.ServerDescriptor{}, fmt.Errorf("channel %s: %w", channelID, ErrChannelNotAllowed)
	}
	server, ok := d.servers[serverName]
	if !ok {
		return models.ServerDescriptor{}, fmt.Errorf("server %q: %w", serverName, ErrUnknownServer)
	}
	return server, nil
}
