package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	saveEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, TransportHTTP, cfg.Transport)
	assert.Equal(t, 300*time.Second, cfg.Session.IdleTimeout)
	assert.Equal(t, 3600*time.Second, cfg.OAuth.TokenTTL)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	saveEnv(t)

	os.Setenv("PORT", "9443")
	os.Setenv("TRANSPORT", "stdio")
	os.Setenv("OAUTH_SIMPLIFIED", "true")
	os.Setenv("SEARCH_INDEX_PATH", "qdrant://localhost:6334/corpus")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, TransportStdio, cfg.Transport)
	assert.True(t, cfg.OAuth.Simplified)
	assert.Equal(t, "qdrant://localhost:6334/corpus", cfg.Search.IndexPath)
}

func TestLoadFromEnv_IgnoresUnrecognizedKeys(t *testing.T) {
	saveEnv(t)

	os.Setenv("PATH", "/should/not/leak/into/config")
	os.Setenv("UNRELATED_ENV_VAR", "ignored")
	t.Cleanup(func() {
		os.Unsetenv("UNRELATED_ENV_VAR")
	})

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromEnv_MatchesPlainLoad(t *testing.T) {
	saveEnv(t)

	os.Setenv("PORT", "8081")
	os.Setenv("LOG_LEVEL", "warn")

	plain, err := Load()
	require.NoError(t, err)

	viaKoanf, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, plain.Server.Port, viaKoanf.Server.Port)
	assert.Equal(t, plain.Transport, viaKoanf.Transport)
	assert.Equal(t, plain.Session.IdleTimeout, viaKoanf.Session.IdleTimeout)
}
