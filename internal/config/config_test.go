package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("POS_TERMINAL_PROFILE_DIR", dir)

	cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "rest", cfg.Remote.Driver)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 60, cfg.Scheduler.ReservationTTLMinutes)
	assert.Equal(t, filepath.Join(dir, "pos-local.db"), cfg.Local.DatabasePath)
	assert.Equal(t, filepath.Join(dir, "credentials.enc"), cfg.Local.CredentialPath)
	assert.Equal(t, 5*time.Second, cfg.Sync.GetUploadInterval())
	assert.Contains(t, cfg.Sync.DownloadTables, "products")
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
terminal:
  id: caja-2
  branch_id: sucursal-centro
  profile_dir: ` + dir + `
remote:
  driver: postgres
  dsn: postgres://pos@localhost/pos
sync:
  batch_size: 10
  backoff_base: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("POS_SERVER_PORT", "9999")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "caja-2", cfg.Terminal.ID)
	assert.Equal(t, "sucursal-centro", cfg.Terminal.BranchID)
	assert.Equal(t, "postgres", cfg.Remote.Driver)
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, time.Second, cfg.Sync.GetBackoffBase())
	assert.Equal(t, 9999, cfg.Server.Port)
}

// Keys without a non-empty default are still reachable from the environment.
func TestLoadConfig_EnvOnly(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("POS_TERMINAL_PROFILE_DIR", dir)
	t.Setenv("POS_TERMINAL_BRANCH_ID", "sucursal-norte")
	t.Setenv("POS_REMOTE_BASE_URL", "https://pos.example.com")
	t.Setenv("POS_REMOTE_API_KEY", "anon-key")
	t.Setenv("POS_REMOTE_DSN", "root:secret@tcp(db:3306)/pos")
	t.Setenv("POS_REMOTE_BINLOG_ENABLED", "true")
	t.Setenv("POS_SERVER_AUTH_TOKEN", "till-token")
	t.Setenv("POS_TELEMETRY_ENDPOINT", "otel:4318")
	t.Setenv("POS_LOCAL_DATABASE_PATH", filepath.Join(dir, "custom.db"))

	cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sucursal-norte", cfg.Terminal.BranchID)
	assert.Equal(t, "https://pos.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "anon-key", cfg.Remote.APIKey)
	assert.Equal(t, "root:secret@tcp(db:3306)/pos", cfg.Remote.DSN)
	assert.True(t, cfg.Remote.Binlog.Enabled)
	assert.Equal(t, "till-token", cfg.Server.AuthToken)
	assert.Equal(t, "otel:4318", cfg.Telemetry.Endpoint)
	assert.Equal(t, filepath.Join(dir, "custom.db"), cfg.Local.DatabasePath)
	assert.Equal(t, filepath.Join(dir, "credentials.enc"), cfg.Local.CredentialPath)
}

func TestDurationFallbacks(t *testing.T) {
	s := SyncConfig{UploadInterval: "nope", BackoffMax: "-1s"}
	assert.Equal(t, 5*time.Second, s.GetUploadInterval())
	assert.Equal(t, 30*time.Second, s.GetBackoffMax())
	assert.Equal(t, 15*time.Second, RemoteConfig{}.GetTimeout())
}
