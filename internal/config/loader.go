// Package config provides configuration loading for the MCP server runtime.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// envKeyMap maps the server's flat environment variable names to the
// dotted koanf paths used by koanfConfig's struct tags. Only recognized keys
// are mapped; anything else is dropped by the env provider callback.
var envKeyMap = map[string]string{
	"HOST":                  "server.host",
	"PORT":                  "server.port",
	"PUBLIC_BASE_URL":       "server.public_base_url",
	"TRANSPORT":             "transport",
	"LOG_LEVEL":             "log_level",
	"SESSION_IDLE_SECONDS":  "session.idle_seconds",
	"OAUTH_SIMPLIFIED":      "oauth.simplified",
	"OAUTH_REFRESH_ENABLED": "oauth.refresh_enabled",
	"TOKEN_TTL_SECONDS":     "oauth.token_ttl_seconds",
	"SEARCH_INDEX_PATH":     "search.index_path",
}

// koanfConfig mirrors Config with koanf struct tags for Unmarshal, since
// Config itself stores durations as time.Duration rather than raw seconds.
type koanfConfig struct {
	Server struct {
		Host          string `koanf:"host"`
		Port          int    `koanf:"port"`
		PublicBaseURL string `koanf:"public_base_url"`
	} `koanf:"server"`
	Transport string `koanf:"transport"`
	LogLevel  string `koanf:"log_level"`
	Session   struct {
		IdleSeconds int `koanf:"idle_seconds"`
	} `koanf:"session"`
	OAuth struct {
		Simplified     bool `koanf:"simplified"`
		RefreshEnabled bool `koanf:"refresh_enabled"`
		TokenTTLSeconds int `koanf:"token_ttl_seconds"`
	} `koanf:"oauth"`
	Search struct {
		IndexPath string `koanf:"index_path"`
	} `koanf:"search"`
}

func defaultKoanfMap() map[string]interface{} {
	return map[string]interface{}{
		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.public_base_url":  "",
		"transport":               string(TransportHTTP),
		"log_level":               "info",
		"session.idle_seconds":    300,
		"oauth.simplified":        false,
		"oauth.refresh_enabled":   false,
		"oauth.token_ttl_seconds": 3600,
		"search.index_path":       "",
	}
}

// LoadFromEnv loads configuration using koanf: defaults first, then
// environment variable overrides for the recognized flat keys in
// envKeyMap. This is the production entrypoint; Load() in config.go
// offers a plain-os.Getenv equivalent for callers that don't need the
// koanf provider chain.
func LoadFromEnv() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultKoanfMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(rawKey string) string {
		mapped, ok := envKeyMap[rawKey]
		if !ok {
			return ""
		}
		return mapped
	}), nil); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	var kc koanfConfig
	if err := k.Unmarshal("", &kc); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            kc.Server.Host,
			Port:            kc.Server.Port,
			PublicBaseURL:   kc.Server.PublicBaseURL,
			ShutdownTimeout: 10 * time.Second,
		},
		Transport: TransportKind(kc.Transport),
		LogLevel:  kc.LogLevel,
		Session: SessionConfig{
			IdleTimeout: time.Duration(kc.Session.IdleSeconds) * time.Second,
		},
		OAuth: OAuthConfig{
			Simplified:           kc.OAuth.Simplified,
			RefreshEnabled:       kc.OAuth.RefreshEnabled,
			TokenTTL:             time.Duration(kc.OAuth.TokenTTLSeconds) * time.Second,
			AutoApproveClients:   splitEnvList(os.Getenv("OAUTH_AUTO_APPROVE_CLIENTS")),
			AllowedCallbackHosts: splitEnvList(os.Getenv("OAUTH_ALLOWED_CALLBACK_HOSTS")),
		},
		Search: SearchConfig{
			IndexPath: kc.Search.IndexPath,
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

// splitEnvList splits a comma-separated environment value into a
// trimmed, non-empty list of values.
func splitEnvList(value string) []string {
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
