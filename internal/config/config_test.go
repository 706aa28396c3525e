package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fenceworks/estimator/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "fence-bom.db", cfg.Store.Path)
	assert.Equal(t, "file", cfg.Catalog.Source)
	assert.Equal(t, "catalog.yaml", cfg.Catalog.Path)
	assert.Equal(t, 3, cfg.Catalog.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Catalog.Breaker.FailureThreshold)
	assert.InDelta(t, 5.0, cfg.Adjust.FlagPercent, 0.001)
	assert.InDelta(t, 10.0, cfg.Adjust.ApprovalPercent, 0.001)
	assert.Zero(t, cfg.Adjust.FlagAmount)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentRuns)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/fence
  pool:
    max_conns: 4
catalog:
  source: postgres
adjust:
  flag_percent: 3
  approval_amount: 500
log:
  level: debug
  format: console
batch:
  max_concurrent_runs: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(4), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "postgres", cfg.Catalog.Source)
	assert.Equal(t, "postgres://localhost/fence", cfg.CatalogDatabaseURL())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Batch.MaxConcurrentRuns)
	assert.Equal(t, model.Thresholds{FlagPercent: 3, ApprovalPercent: 10, ApprovalAmount: 500}, cfg.Adjust.Thresholds())
	// Defaults still apply for unset values
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("FENCEBOM_STORE_DRIVER", "postgres")
	t.Setenv("FENCEBOM_LOG_LEVEL", "warn")
	t.Setenv("FENCEBOM_ADJUST_APPROVAL_PERCENT", "12.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.InDelta(t, 12.5, cfg.Adjust.ApprovalPercent, 0.001)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestPolicies(t *testing.T) {
	c := CatalogConfig{
		Retry:   RetryConfig{MaxAttempts: 5, InitialBackoffMs: 50},
		Breaker: BreakerConfig{FailureThreshold: 2, ResetTimeoutSecs: 10},
	}

	retry := c.RetryPolicy()
	assert.Equal(t, 5, retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, retry.InitialBackoff)
	assert.Equal(t, 2*time.Second, retry.MaxBackoff)

	breaker := c.BreakerPolicy()
	assert.Equal(t, 2, breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, breaker.ResetTimeout)
	assert.Equal(t, "catalog", breaker.Name)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "runs.db"
	cfg.Catalog.Source = "file"
	cfg.Batch.MaxConcurrentRuns = 4
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "compute defaults", mode: "compute"},
		{name: "serve defaults", mode: "serve"},
		{
			name:    "postgres store needs url",
			mode:    "compute",
			mutate:  func(c *Config) { c.Store.Driver = "postgres" },
			wantErr: "store.database_url is required",
		},
		{
			name:    "unknown driver",
			mode:    "compute",
			mutate:  func(c *Config) { c.Store.Driver = "mysql" },
			wantErr: "store.driver must be sqlite or postgres",
		},
		{
			name: "postgres catalog falls back to store url",
			mode: "compute",
			mutate: func(c *Config) {
				c.Catalog.Source = "postgres"
				c.Store.DatabaseURL = "postgres://localhost/main"
			},
		},
		{
			name:    "postgres catalog without any url",
			mode:    "compute",
			mutate:  func(c *Config) { c.Catalog.Source = "postgres" },
			wantErr: "catalog.database_url is required",
		},
		{
			name:    "invalid port",
			mode:    "serve",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port must be > 0",
		},
		{
			name:    "concurrency bounds",
			mode:    "compute",
			mutate:  func(c *Config) { c.Batch.MaxConcurrentRuns = 0 },
			wantErr: "max_concurrent_runs must be between 1 and 64",
		},
		{
			name:    "catalog mode needs a database",
			mode:    "catalog",
			wantErr: "catalog.database_url (or store.database_url) is required",
		},
		{
			name:    "unknown mode",
			mode:    "unknown",
			wantErr: "unknown mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
