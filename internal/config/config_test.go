package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "holod.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadParsesKnownKeys(t *testing.T) {
	path := writeConfig(t, `
user = "holod"
group = "holod"
database_path = "/var/lib/holod/rollback.db"

[logging.journald]
enabled = true

[logging.file]
enabled = true
dir = "/var/log/holod"
name = "holod.log"
rotation = "daily"
style = "json"

[event_recorder]
enabled = true
dir = "/var/lib/holod/events"

[plugins.grpc]
enabled = true
address = "127.0.0.1:9000"

[plugins.grpc.tls]
certificate = "/etc/holod/tls.crt"
key = "/etc/holod/tls.key"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "holod", cfg.User)
	assert.Equal(t, "holod", cfg.Group)
	assert.True(t, cfg.Logging.Journald.Enabled)
	assert.Equal(t, "daily", cfg.Logging.File.Rotation)
	assert.Equal(t, "json", cfg.Logging.File.Style)
	assert.True(t, cfg.EventRecorder.Enabled)
	assert.Equal(t, "127.0.0.1:9000", cfg.Plugins.GRPC.Address)
	assert.Equal(t, "/etc/holod/tls.crt", cfg.Plugins.GRPC.TLS.Certificate)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `
user = "holod"
not_a_real_key = true
`)

	_, err := Load(path)
	require.Error(t, err)
	var unknown *UnknownKeyError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, path, unknown.Path)
	assert.Len(t, unknown.Keys, 1)
}

func TestLoadRejectsUnknownNestedKey(t *testing.T) {
	path := writeConfig(t, `
[logging.file]
enabled = true
typo_field = "oops"
`)

	_, err := Load(path)
	require.Error(t, err)
	var unknown *UnknownKeyError
	require.ErrorAs(t, err, &unknown)
}
