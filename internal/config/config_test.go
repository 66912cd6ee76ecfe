package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"offsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("OFFSYNC_TEST_KEY", "secret")

	path := writeConfig(t, `
database:
  path: "test.db"
upstream:
  base_url: "http://upstream.local/api"
  api_key: "${OFFSYNC_TEST_KEY}"
  timeout: 5s
synchronization:
  poll_interval: 10m
  forbid_sending: [AuditEvent]
  overwrite_server: true
  page_size: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Upstream.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Synchronization.PollInterval)
	assert.Equal(t, []string{"AuditEvent"}, cfg.Synchronization.ForbidSending)
	assert.True(t, cfg.Synchronization.OverwriteServer)
	assert.Equal(t, 50, cfg.Synchronization.PageSize)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
upstream:
  base_url: "http://upstream.local"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "offsync", cfg.App.Name)
	assert.Equal(t, BackendSQLite, cfg.Queue.Backend)
	assert.Equal(t, "json", cfg.Queue.Codec)
	assert.Equal(t, models.DefaultInlineThreshold, cfg.Queue.InlineThreshold)

	s := cfg.Synchronization
	assert.Equal(t, models.DefaultPageSize, s.PageSize)
	assert.Equal(t, models.DefaultPageTargetWindow, s.PageTargetWindow)
	assert.Equal(t, models.DefaultMaxPageSize, s.MaxPageSize)
	assert.Equal(t, models.DefaultMaxPageSizeSmall, s.MaxPageSizeSmall)
	assert.Equal(t, models.DefaultQueryStaleness, s.QueryStaleness)
	assert.Equal(t, models.DefaultLockTimeout, s.LockTimeout)
	assert.Equal(t, "partial|online", s.Mode)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "upstream: [not, a, map"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "database:\n  path: x.db\n"))
	assert.Error(t, err, "upstream base_url is required")
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{
			Database: DatabaseConfig{Path: "path"},
			Upstream: UpstreamConfig{BaseURL: "http://x"},
		}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Queue.Backend = "etcd" }, wantErr: true},
		{name: "redis without address", mutate: func(c *Config) { c.Queue.Backend = BackendRedis }, wantErr: true},
		{
			name: "redis with address",
			mutate: func(c *Config) {
				c.Queue.Backend = BackendRedis
				c.Redis.Address = "localhost:6379"
			},
		},
		{name: "unknown codec", mutate: func(c *Config) { c.Queue.Codec = "xml" }, wantErr: true},
		{name: "cbor codec", mutate: func(c *Config) { c.Queue.Codec = "cbor" }},
		{name: "bad mode", mutate: func(c *Config) { c.Synchronization.Mode = "sometimes" }, wantErr: true},
		{name: "negative page size", mutate: func(c *Config) { c.Synchronization.PageSize = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
