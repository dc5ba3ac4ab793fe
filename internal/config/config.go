package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/isdelr/ender-watch/internal/models"
)

// Config holds the application configuration.
type Config struct {
	ServerPort   int
	DatabasePath string

	// Crafty management API connection.
	CraftyHost      string
	CraftyPort      int
	CraftySSL       bool
	CraftySSLVerify bool
	CraftyAPIKey    string

	// Managed servers, keyed by their user-facing name.
	Servers []models.ServerDescriptor

	// Idle watchdog settings.
	AutoShutdownEnabled bool
	IdleThreshold       time.Duration // default for servers without an override
	CheckInterval       time.Duration
	StartupGrace        time.Duration

	// Status client retry/timeout settings.
	APITimeout      time.Duration
	APIMaxAttempts  int
	APIRetryBackoff time.Duration

	// Chat origins allowed to issue commands.
	AllowedChannels []string

	// Optional cron expression for the global backup window.
	BackupCron string

	JWTSecret         string
	AdminPasswordHash string
	LogLevel          string
}

// Load loads configuration from environment variables or sets defaults.
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	craftyPort, err := strconv.Atoi(getEnv("CRAFTY_PORT", "8443"))
	if err != nil {
		return nil, fmt.Errorf("invalid CRAFTY_PORT: %w", err)
	}

	apiKey := os.Getenv("CRAFTY_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("CRAFTY_API_KEY is required")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	adminHash := os.Getenv("ADMIN_PASSWORD_HASH")
	if adminHash == "" {
		return nil, fmt.Errorf("ADMIN_PASSWORD_HASH is required")
	}

	idleMinutes, err := strconv.Atoi(getEnv("AUTO_SHUTDOWN_MINUTES", "30"))
	if err != nil || idleMinutes <= 0 {
		return nil, fmt.Errorf("invalid AUTO_SHUTDOWN_MINUTES")
	}
	checkSeconds, err := strconv.Atoi(getEnv("CHECK_INTERVAL_SECONDS", "60"))
	if err != nil || checkSeconds <= 0 {
		return nil, fmt.Errorf("invalid CHECK_INTERVAL_SECONDS")
	}
	graceMinutes, err := strconv.Atoi(getEnv("STARTUP_GRACE_MINUTES", "5"))
	if err != nil || graceMinutes < 0 {
		return nil, fmt.Errorf("invalid STARTUP_GRACE_MINUTES")
	}
	timeoutSeconds, err := strconv.Atoi(getEnv("API_TIMEOUT_SECONDS", "10"))
	if err != nil || timeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid API_TIMEOUT_SECONDS")
	}
	maxAttempts, err := strconv.Atoi(getEnv("API_MAX_ATTEMPTS", "3"))
	if err != nil || maxAttempts <= 0 {
		return nil, fmt.Errorf("invalid API_MAX_ATTEMPTS")
	}
	backoffSeconds, err := strconv.Atoi(getEnv("API_RETRY_BACKOFF_SECONDS", "2"))
	if err != nil || backoffSeconds < 0 {
		return nil, fmt.Errorf("invalid API_RETRY_BACKOFF_SECONDS")
	}

	cfg := &Config{
		ServerPort:          port,
		DatabasePath:        getEnv("DATABASE_PATH", "./ender-watch.db"),
		CraftyHost:          getEnv("CRAFTY_HOST", "localhost"),
		CraftyPort:          craftyPort,
		CraftySSL:           getEnvBool("CRAFTY_SSL", true),
		CraftySSLVerify:     getEnvBool("CRAFTY_SSL_VERIFY", false),
		CraftyAPIKey:        apiKey,
		AutoShutdownEnabled: getEnvBool("AUTO_SHUTDOWN_ENABLED", true),
		IdleThreshold:       time.Duration(idleMinutes) * time.Minute,
		CheckInterval:       time.Duration(checkSeconds) * time.Second,
		StartupGrace:        time.Duration(graceMinutes) * time.Minute,
		APITimeout:          time.Duration(timeoutSeconds) * time.Second,
		APIMaxAttempts:      maxAttempts,
		APIRetryBackoff:     time.Duration(backoffSeconds) * time.Second,
		BackupCron:          os.Getenv("BACKUP_CRON"),
		JWTSecret:           jwtSecret,
		AdminPasswordHash:   adminHash,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	cfg.Servers, err = parseServers(os.Getenv("MINECRAFT_SERVERS"), cfg.IdleThreshold)
	if err != nil {
		return nil, err
	}
	if err := applyRCONEndpoints(cfg.Servers, os.Getenv("RCON_ENDPOINTS")); err != nil {
		return nil, err
	}

	if raw := os.Getenv("ALLOWED_CHANNELS"); raw != "" {
		for _, ch := range strings.Split(raw, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				cfg.AllowedChannels = append(cfg.AllowedChannels, ch)
			}
		}
	}

	return cfg, nil
}

// ServerByName looks up a configured server descriptor.
func (c *Config) ServerByName(name string) (models.ServerDescriptor, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return models.ServerDescriptor{}, false
}

// parseServers parses the MINECRAFT_SERVERS list. Each entry is
// "name:remoteID" with an optional third field overriding the idle threshold
// in minutes; a zero override disables auto-shutdown for that server.
func parseServers(raw string, defaultThreshold time.Duration) ([]models.ServerDescriptor, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("MINECRAFT_SERVERS is required (format: name:id[,name:id:idleMinutes])")
	}

	var servers []models.ServerDescriptor
	seen := make(map[string]bool)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid server entry %q", entry)
		}
		desc := models.ServerDescriptor{
			Name:          parts[0],
			RemoteID:      parts[1],
			IdleThreshold: defaultThreshold,
			AutoShutdown:  true,
		}
		if len(parts) >= 3 {
			minutes, err := strconv.Atoi(parts[2])
			if err != nil || minutes < 0 {
				return nil, fmt.Errorf("invalid idle minutes in server entry %q", entry)
			}
			if minutes == 0 {
				desc.AutoShutdown = false
			} else {
				desc.IdleThreshold = time.Duration(minutes) * time.Minute
			}
		}
		if seen[desc.Name] {
			return nil, fmt.Errorf("duplicate server name %q", desc.Name)
		}
		seen[desc.Name] = true
		servers = append(servers, desc)
	}
	return servers, nil
}

// applyRCONEndpoints attaches optional RCON endpoints, formatted as
// "name=host:port/password" entries separated by commas.
func applyRCONEndpoints(servers []models.ServerDescriptor, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, endpoint, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("invalid RCON endpoint entry %q", entry)
		}
		addr, password, ok := strings.Cut(endpoint, "/")
		if !ok || addr == "" || password == "" {
			return fmt.Errorf("invalid RCON endpoint entry %q", entry)
		}
		found := false
		for i := range servers {
			if servers[i].Name == name {
				servers[i].RCONAddress = addr
				servers[i].RCONPassword = password
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("RCON endpoint for unknown server %q", name)
		}
	}
	return nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	return strings.EqualFold(value, "true") || value == "1"
}
