package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHEETFLOW_DIR", dir)
	t.Setenv("SHEETFLOW_DATABASE_URL", "")
	t.Setenv("SHEETFLOW_SQLITE_DATABASE", "")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "sheetflow.db"), cfg.Database.DSN)
	assert.Equal(t, 5*time.Second, cfg.Updater.TickInterval)
	assert.Equal(t, 10, cfg.Updater.BatchSize)
	assert.True(t, cfg.Updater.RobotsMode)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, dir, cfg.Directory.DataDir)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("SHEETFLOW_DATABASE_URL", "postgres://u:p@localhost:5432/sheets")
	t.Setenv("SHEETFLOW_TICK_INTERVAL", "250ms")
	t.Setenv("SHEETFLOW_BATCH_SIZE", "25")
	t.Setenv("SHEETFLOW_ROBOTS_MODE", "false")
	t.Setenv("SHEETFLOW_API_KEYS", "key-a:user-a, key-b:user-b,broken")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@localhost:5432/sheets", cfg.Database.DSN)
	assert.Equal(t, 250*time.Millisecond, cfg.Updater.TickInterval)
	assert.Equal(t, 25, cfg.Updater.BatchSize)
	assert.False(t, cfg.Updater.RobotsMode)

	user, ok := cfg.Server.UserForAPIKey("key-b")
	assert.True(t, ok)
	assert.Equal(t, "user-b", user)
	_, ok = cfg.Server.UserForAPIKey("broken")
	assert.False(t, ok)
}

func TestLoadConfigFromFile_EnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  env: development
  log_level: debug
updater:
  tick_interval: 2s
  batch_size: 3
  robots_mode: false
operator:
  model: gemini-test
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SHEETFLOW_BATCH_SIZE", "7")
	t.Setenv("SHEETFLOW_OPERATOR_MODEL", "")

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.ENV)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Updater.TickInterval)
	assert.Equal(t, 7, cfg.Updater.BatchSize)
	assert.False(t, cfg.Updater.RobotsMode)
	assert.Equal(t, "gemini-test", cfg.Operator.Model)
}

func TestLoadConfigFromFile_EnvWinsForTickLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
updater:
  tick_timeout: 30s
  stale_after: 1m
  max_concurrent_sheets: 2
  max_concurrent_dispatch: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SHEETFLOW_TICK_TIMEOUT", "45s")
	t.Setenv("SHEETFLOW_STALE_AFTER", "5m")
	t.Setenv("SHEETFLOW_MAX_CONCURRENT_SHEETS", "16")
	t.Setenv("SHEETFLOW_MAX_CONCURRENT_DISPATCH", "6")

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Updater.TickTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Updater.StaleAfter)
	assert.Equal(t, 16, cfg.Updater.MaxConcurrentSheets)
	assert.Equal(t, 6, cfg.Updater.MaxConcurrentDispatch)
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{DSN: "x.db"},
		Updater:  UpdaterConfig{BatchSize: 0, TickInterval: time.Second},
	}
	require.Error(t, cfg.Validate())

	cfg.Updater.BatchSize = 1
	require.NoError(t, cfg.Validate())

	cfg.Database.DSN = ""
	require.Error(t, cfg.Validate())
}

func TestConfigValidate_StaleAfterExceedsTickTimeout(t *testing.T) {
	tests := []struct {
		name        string
		tickTimeout time.Duration
		staleAfter  time.Duration
		wantErr     bool
	}{
		{"defaults", 0, 0, false},
		{"explicit ok", 30 * time.Second, time.Minute, false},
		{"equal", time.Minute, time.Minute, true},
		{"stale shorter", 5 * time.Minute, time.Minute, true},
		{"stale shorter than default timeout", 0, time.Minute, true},
		{"timeout longer than default stale", 20 * time.Minute, 0, true},
		{"negative", -time.Second, time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database: DatabaseConfig{DSN: "x.db"},
				Updater: UpdaterConfig{
					BatchSize:    1,
					TickInterval: time.Second,
					TickTimeout:  tt.tickTimeout,
					StaleAfter:   tt.staleAfter,
				},
			}
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, parseLogLevel("silent"))
	assert.Equal(t, gormlogger.Info, parseLogLevel("INFO"))
	assert.Equal(t, gormlogger.Warn, parseLogLevel("unknown"))
}

func TestIsPostgresDSN(t *testing.T) {
	assert.True(t, IsPostgresDSN("postgres://localhost/db"))
	assert.True(t, IsPostgresDSN("host=localhost user=x dbname=y"))
	assert.False(t, IsPostgresDSN("/tmp/sheetflow.db"))
	assert.False(t, IsPostgresDSN("file::memory:?cache=shared"))
}
