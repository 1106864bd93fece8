// Package config provides configuration loading for the MCP server runtime.
//
// Configuration is loaded from environment variables with sensible defaults,
// per the deployment-facing keys the server recognizes (PORT, HOST,
// PUBLIC_BASE_URL, TRANSPORT, LOG_LEVEL, OAUTH_SIMPLIFIED,
// SESSION_IDLE_SECONDS, TOKEN_TTL_SECONDS, SEARCH_INDEX_PATH).
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TransportKind selects which transport the process serves.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// Config holds the complete server configuration.
type Config struct {
	Server   ServerConfig
	Transport TransportKind
	LogLevel string
	Session  SessionConfig
	OAuth    OAuthConfig
	Search   SearchConfig
}

// ServerConfig holds HTTP listen and discovery configuration.
type ServerConfig struct {
	Host            string
	Port            int
	PublicBaseURL   string
	ShutdownTimeout time.Duration
}

// SessionConfig holds MCP session lifecycle configuration.
type SessionConfig struct {
	IdleTimeout time.Duration
}

// OAuthConfig holds Authorization Subsystem policy configuration.
type OAuthConfig struct {
	// Simplified enables the no-interaction start-auth bypass for
	// whitelisted clients. Default false (full OAuth required).
	Simplified bool

	// RefreshEnabled turns on the optional refresh_token grant.
	RefreshEnabled bool

	// TokenTTL is the bearer access-token lifetime.
	TokenTTL time.Duration

	// AutoApproveClients lists client IDs whose /oauth/authorize
	// requests skip the consent page. This is independent of
	// Simplified, which controls the start-auth bypass.
	AutoApproveClients []string

	// AllowedCallbackHosts lists non-loopback redirect URI hosts
	// dynamic client registration accepts in addition to loopback
	// addresses.
	AllowedCallbackHosts []string
}

// SearchConfig holds search backend selection.
type SearchConfig struct {
	// IndexPath is a filesystem path (embedded chromem-go backend) or a
	// qdrant://host:port/collection URL (remote backend).
	IndexPath string
}

// Load reads configuration from environment variables with defaults applied.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvString("HOST", "0.0.0.0"),
			Port:            getEnvInt("PORT", 8080),
			PublicBaseURL:   getEnvString("PUBLIC_BASE_URL", ""),
			ShutdownTimeout: 10 * time.Second,
		},
		Transport: TransportKind(getEnvString("TRANSPORT", string(TransportHTTP))),
		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		Session: SessionConfig{
			IdleTimeout: time.Duration(getEnvInt("SESSION_IDLE_SECONDS", 300)) * time.Second,
		},
		OAuth: OAuthConfig{
			Simplified:           getEnvBool("OAUTH_SIMPLIFIED", false),
			RefreshEnabled:       getEnvBool("OAUTH_REFRESH_ENABLED", false),
			TokenTTL:             time.Duration(getEnvInt("TOKEN_TTL_SECONDS", 3600)) * time.Second,
			AutoApproveClients:   getEnvList("OAUTH_AUTO_APPROVE_CLIENTS"),
			AllowedCallbackHosts: getEnvList("OAUTH_ALLOWED_CALLBACK_HOSTS"),
		},
		Search: SearchConfig{
			IndexPath: getEnvString("SEARCH_INDEX_PATH", ""),
		},
	}

	if cfg.Server.PublicBaseURL == "" {
		cfg.Server.PublicBaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for startup-fatal errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d (must be 1-65535)", c.Server.Port)
	}
	if err := validateHostname(c.Server.Host); err != nil {
		return fmt.Errorf("invalid HOST: %w", err)
	}
	if c.Transport != TransportStdio && c.Transport != TransportHTTP {
		return fmt.Errorf("invalid TRANSPORT: %q (must be 'stdio' or 'http')", c.Transport)
	}
	if c.Server.PublicBaseURL != "" {
		if err := validateURL(c.Server.PublicBaseURL); err != nil {
			return fmt.Errorf("invalid PUBLIC_BASE_URL: %w", err)
		}
	}
	if c.Session.IdleTimeout < 5*time.Minute {
		return errors.New("SESSION_IDLE_SECONDS must be at least 300 (5 minutes)")
	}
	if c.OAuth.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL_SECONDS must be positive")
	}
	if _, err := LevelFromString(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

// LevelFromString validates a recognized log-level name.
func LevelFromString(level string) (string, error) {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "warn", "error":
		return strings.ToLower(level), nil
	default:
		return "", fmt.Errorf("unrecognized level %q", level)
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable into a
// trimmed, non-empty list of values.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// validateHostname checks if a hostname/bind-address is well-formed.
func validateHostname(host string) error {
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %s", host)
	}
	return nil
}

// validateURL checks if a URL uses an allowed scheme.
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}
