package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load(New(""))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 64, cfg.SchemaCacheSize)
	assert.Equal(t, 24*time.Hour, cfg.ReminderDelay)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.False(t, cfg.DevAuthHeaders)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendorbox.yaml"), []byte(`
store: memory
addr: ":9090"
reminder_delay: 2h
schema_cache_size: 8
`), 0o644))
	t.Setenv("VENDORBOX_ADDR", ":7070")
	t.Setenv("VENDORBOX_DEV_AUTH_HEADERS", "true")

	cfg, err := Load(New(""))
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, 2*time.Hour, cfg.ReminderDelay)
	assert.Equal(t, 8, cfg.SchemaCacheSize)
	assert.True(t, cfg.DevAuthHeaders)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(New(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{Store: StoreMemory, SchemaCacheSize: 1, TokenTTL: time.Hour}
	assert.NoError(t, base.Validate())

	bad := base
	bad.Store = "mongo"
	assert.ErrorContains(t, bad.Validate(), "unknown store")

	bad = base
	bad.Store = StorePostgres
	assert.ErrorContains(t, bad.Validate(), KeyDatabaseURL)

	bad = base
	bad.SchemaCacheSize = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.TokenTTL = 0
	assert.ErrorContains(t, bad.Validate(), KeyTokenTTL)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
