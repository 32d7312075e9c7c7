package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-terminal/internal/config"
)

func TestWipeTargets_ProfileOverride(t *testing.T) {
	cfg := &config.Config{Local: config.LocalConfig{
		DatabasePath:   "/var/pos/pos-local.db",
		CredentialPath: "/var/pos/credentials.enc",
	}}

	assert.Equal(t, []string{
		"/var/pos/pos-local.db", "/var/pos/pos-local.db-wal", "/var/pos/pos-local.db-shm", "/var/pos/credentials.enc",
	}, wipeTargets(cfg, ""))

	got := wipeTargets(cfg, "/tmp/profile")
	assert.Equal(t, filepath.Join("/tmp/profile", "pos-local.db"), got[0])
	assert.Equal(t, filepath.Join("/tmp/profile", "credentials.enc"), got[3])
}

func TestWipe_SkipsMissing(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "pos-local.db")
	require.NoError(t, os.WriteFile(db, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(db+"-wal", []byte("x"), 0o600))

	removed, err := wipe([]string{db, db + "-wal", db + "-shm", filepath.Join(dir, "credentials.enc")})
	require.NoError(t, err)
	assert.Equal(t, []string{db, db + "-wal"}, removed)
	assert.NoFileExists(t, db)
}
