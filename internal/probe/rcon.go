package probe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gorcon/rcon"
	"github.com/isdelr/ender-watch/internal/models"
)

// ErrNoEndpoint is returned when a server has no RCON endpoint configured.
var ErrNoEndpoint = errors.New("no rcon endpoint configured")

// PlayerProber reports how many players are currently on a server. Used by
// the watchdog to cross-check the management API's player count before an
// automatic shutdown.
type PlayerProber interface {
	PlayersOnline(ctx context.Context, server models.ServerDescriptor) (int, error)
}

// RCONProber asks the Minecraft server directly via RCON `list`.
type RCONProber struct {
	timeout time.Duration
}

// NewRCONProber creates a prober with the given per-query timeout.
func NewRCONProber(timeout time.Duration) *RCONProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RCONProber{timeout: timeout}
}

// PlayersOnline runs `list` against the server's RCON endpoint and counts the
// returned player names. A context deadline shorter than the prober's own
// timeout bounds the whole query.
func (p *RCONProber) PlayersOnline(ctx context.Context, server models.ServerDescriptor) (int, error) {
	if server.RCONAddress == "" {
		return 0, ErrNoEndpoint
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := rcon.Dial(server.RCONAddress, server.RCONPassword,
		rcon.SetDialTimeout(timeout), rcon.SetDeadline(timeout))
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	response, err := conn.Execute("list")
	if err != nil {
		return 0, err
	}
	return countListedPlayers(response), nil
}

// countListedPlayers parses a vanilla `list` response, e.g.
// "There are 2 of a max of 20 players online: alice, bob".
func countListedPlayers(response string) int {
	parts := strings.SplitN(response, ":", 2)
	if len(parts) < 2 {
		return 0
	}
	names := strings.TrimSpace(parts[1])
	if names == "" {
		return 0
	}
	return len(strings.Split(names, ", "))
}
