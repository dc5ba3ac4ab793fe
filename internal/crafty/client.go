package crafty

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/isdelr/ender-watch/internal/models"
	"github.com/rs/zerolog/log"
)

// Server actions understood by the Crafty Controller v2 API.
const (
	actionStart   = "start_server"
	actionStop    = "stop_server"
	actionRestart = "restart_server"
	actionBackup  = "backup_server"
)

// ClientProvider defines the interface for the management API client.
type ClientProvider interface {
	GetStatus(ctx context.Context, serverID string) (models.RemoteServerStatus, error)
	Start(ctx context.Context, serverID string) error
	Stop(ctx context.Context, serverID string) error
	Restart(ctx context.Context, serverID string) error
	Backup(ctx context.Context, serverID string) error
	CachedStatus(serverID string) (models.RemoteServerStatus, bool)
}

// Client talks to a Crafty Controller instance. All operations are bounded by
// a per-attempt timeout and share one retry policy; failures are translated
// into *APIError so callers never see raw transport errors.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	retry      RetryPolicy
	now        func() time.Time

	mu    sync.Mutex // guards the cache map itself
	cache map[string]*statusEntry
}

// statusEntry holds the cached status for one server under its own lock, so
// refreshing server A never blocks a read of server B.
type statusEntry struct {
	mu     sync.Mutex
	status models.RemoteServerStatus
}

// Options configures a Client.
type Options struct {
	Host      string
	Port      int
	SSL       bool
	SSLVerify bool
	APIKey    string
	Timeout   time.Duration
	Retry     RetryPolicy
}

// New creates a management API client.
func New(opts Options) *Client {
	scheme := "http"
	transport := http.DefaultTransport
	if opts.SSL {
		scheme = "https"
		if !opts.SSLVerify {
			// Crafty installs commonly run with a self-signed certificate.
			transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    fmt.Sprintf("%s://%s:%d/api/v2", scheme, opts.Host, opts.Port),
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Transport: transport},
		timeout:    timeout,
		retry:      opts.Retry,
		now:        time.Now,
		cache:      make(map[string]*statusEntry),
	}
}

// craftyStats is the subset of the stats payload this service consumes.
type craftyStats struct {
	Running bool `json:"running"`
	Online  int  `json:"online"`
}

// envelope is the Crafty v2 response wrapper.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

// GetStatus queries live server stats and refreshes the shared status cache.
// On failure the cached entry is marked stale and the error is returned.
func (c *Client) GetStatus(ctx context.Context, serverID string) (models.RemoteServerStatus, error) {
	var stats craftyStats
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		return c.request(ctx, http.MethodGet, "/servers/"+serverID+"/stats", &stats)
	})
	if err != nil {
		c.markStale(serverID)
		return models.RemoteServerStatus{}, err
	}

	status := models.RemoteServerStatus{
		Running:       stats.Running,
		PlayersOnline: stats.Online,
		LastQueried:   c.now(),
	}
	entry := c.entry(serverID)
	entry.mu.Lock()
	entry.status = status
	entry.mu.Unlock()
	return status, nil
}

// Start brings a server up. Starting an already-running server is a no-op
// success; the caller never has to care about the current state.
func (c *Client) Start(ctx context.Context, serverID string) error {
	if status, err := c.GetStatus(ctx, serverID); err == nil && status.Running {
		return nil
	}
	return c.action(ctx, serverID, actionStart)
}

// Stop shuts a server down. Stopping an already-stopped server is a no-op
// success and sends no action request.
func (c *Client) Stop(ctx context.Context, serverID string) error {
	if status, err := c.GetStatus(ctx, serverID); err == nil && !status.Running {
		return nil
	}
	return c.action(ctx, serverID, actionStop)
}

// Restart restarts a server.
func (c *Client) Restart(ctx context.Context, serverID string) error {
	return c.action(ctx, serverID, actionRestart)
}

// Backup triggers a server backup on the Crafty side.
func (c *Client) Backup(ctx context.Context, serverID string) error {
	return c.action(ctx, serverID, actionBackup)
}

// CachedStatus returns the last known status for a server without touching
// the network. The second return is false when the server was never queried.
func (c *Client) CachedStatus(serverID string) (models.RemoteServerStatus, bool) {
	c.mu.Lock()
	entry, ok := c.cache[serverID]
	c.mu.Unlock()
	if !ok {
		return models.RemoteServerStatus{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.status.LastQueried.IsZero() {
		return models.RemoteServerStatus{}, false
	}
	return entry.status, true
}

func (c *Client) action(ctx context.Context, serverID, action string) error {
	log.Debug().Str("server_id", serverID).Str("action", action).Msg("Executing server action")
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.request(ctx, http.MethodPost, "/servers/"+serverID+"/action/"+action, nil)
	})
}

// request performs one bounded attempt against the API and decodes the data
// payload into out when non-nil.
func (c *Client) request(ctx context.Context, method, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return &APIError{Kind: KindAPI, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection refused, DNS failure, timeout: all transient.
		return &APIError{Kind: KindTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &APIError{Kind: KindAuthorization, StatusCode: resp.StatusCode, Message: "api key rejected"}
	case resp.StatusCode == http.StatusNotFound:
		return &APIError{Kind: KindUnknownServer, StatusCode: resp.StatusCode, Message: "server not known to remote"}
	case resp.StatusCode >= 500:
		return &APIError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "remote server error"}
	case resp.StatusCode != http.StatusOK:
		return &APIError{Kind: KindAPI, StatusCode: resp.StatusCode, Message: "unexpected response"}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Kind: KindAPI, StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	if env.Status != "ok" {
		msg := env.Error
		if msg == "" {
			msg = "unknown api error"
		}
		return &APIError{Kind: KindAPI, StatusCode: resp.StatusCode, Message: msg}
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &APIError{Kind: KindAPI, StatusCode: resp.StatusCode, Message: "malformed data payload: " + err.Error()}
		}
	}
	return nil
}

func (c *Client) entry(serverID string) *statusEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[serverID]
	if !ok {
		entry = &statusEntry{}
		c.cache[serverID] = entry
	}
	return entry
}

func (c *Client) markStale(serverID string) {
	entry := c.entry(serverID)
	entry.mu.Lock()
	entry.status.Stale = true
	entry.mu.Unlock()
}
