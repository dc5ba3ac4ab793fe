package models

import "time"

// ServerDescriptor identifies one managed Minecraft server. The name is the
// user-facing key used in chat commands; RemoteID is the Crafty-side UUID.
// Descriptors are loaded once from configuration and never mutated.
type ServerDescriptor struct {
	Name          string        `json:"name"`
	RemoteID      string        `json:"remoteId"`
	IdleThreshold time.Duration `json:"idleThreshold"`
	AutoShutdown  bool          `json:"autoShutdown"`

	// Optional direct RCON endpoint used to cross-check player counts.
	RCONAddress  string `json:"-"`
	RCONPassword string `json:"-"`
}

// RemoteServerStatus is the last known state of a server as reported by the
// management API. Stale is set whenever the most recent query failed, so
// consumers never mistake old data for fresh.
type RemoteServerStatus struct {
	Running       bool      `json:"running"`
	PlayersOnline int       `json:"playersOnline"`
	LastQueried   time.Time `json:"lastQueried"`
	Stale         bool      `json:"stale"`
}
