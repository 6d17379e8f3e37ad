package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.UsesLocalSequencer())
	assert.Equal(t, 64, cfg.MaxDepth)
	assert.Equal(t, 1000, cfg.MaxNodes)
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"MURELAY_LISTEN":           "127.0.0.1:9000",
		"MURELAY_SEQUENCER_URL":    "https://su.example",
		"MURELAY_CACHE":            "redis://localhost:6379/0",
		"MURELAY_MAX_DEPTH":        "8",
		"MURELAY_CONCURRENCY":      " 2 ",
		"MURELAY_RETRY_BASE_DELAY": "50ms",
		"MURELAY_LOG_FORMAT":       "json",
	}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, "https://su.example", cfg.SequencerURL)
	assert.False(t, cfg.UsesLocalSequencer())
	assert.Equal(t, "redis://localhost:6379/0", cfg.CacheName)
	assert.Equal(t, 8, cfg.MaxDepth)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "nodes.yaml", cfg.NodesFile, "unset keys keep defaults")
	require.NoError(t, cfg.Validate())
}

func TestFromEnvRejectsMalformedValues(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"MURELAY_MAX_NODES":       "lots",
		"MURELAY_REQUEST_TIMEOUT": "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MURELAY_MAX_NODES")
	assert.Contains(t, err.Error(), "MURELAY_REQUEST_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty sequencer", func(c *Config) { c.SequencerURL = "" }, "sequencer url is required"},
		{"bad sequencer scheme", func(c *Config) { c.SequencerURL = "ftp://su" }, "must be http(s)"},
		{"empty cache", func(c *Config) { c.CacheName = "" }, "cache name is required"},
		{"no nodes", func(c *Config) { c.NodesFile = "" }, "nodes file is required"},
		{"zero nodes", func(c *Config) { c.MaxNodes = 0 }, "max nodes"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"zero attempts", func(c *Config) { c.RetryAttempts = 0 }, "retry attempts"},
		{"no timeout", func(c *Config) { c.RequestTimeout = 0 }, "request timeout"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("MURELAY_TEST_ONLY_MAX_DEPTH=3\nMURELAY_MAX_DEPTH=5\n"), 0o600))

	// Process environment wins over the file.
	t.Setenv("MURELAY_MAX_DEPTH", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxDepth)
	assert.Equal(t, "3", os.Getenv("MURELAY_TEST_ONLY_MAX_DEPTH"))
	os.Unsetenv("MURELAY_TEST_ONLY_MAX_DEPTH")
}

func TestLoadMissingEnvFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}
