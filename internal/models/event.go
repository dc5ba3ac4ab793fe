package models

import "time"

// Event represents a loggable action or alert in the system.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`  // e.g. "shutdown.pre", "backup.failed"
	Level      string    `json:"level"` // e.g. "info", "warn", "error"
	Message    string    `json:"message"`
	ServerName *string   `json:"serverName,omitempty"` // Nullable for system-wide events
	CreatedAt  time.Time `json:"createdAt"`
}

// Event kinds emitted by the watchdog and dispatcher.
const (
	EventPreShutdown      = "shutdown.pre"
	EventShutdownComplete = "shutdown.complete"
	EventShutdownFailed   = "shutdown.failed"
	EventBackupFailed     = "backup.failed"
	EventBackupScheduled  = "backup.scheduled"
	EventServerStart      = "server.start"
	EventServerStop       = "server.stop"
	EventCommandRejected  = "command.rejected"
)
