package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
database_path = %q

[event_recorder]
enabled = false
`, filepath.Join(dir, "rollback.db"))
	path := filepath.Join(dir, "holod.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestDaemonLifecycle builds a single Daemon and exercises both New and
// Run against it. yang.SetGlobal may only run once per process, so every
// assertion that needs a built Daemon lives in this one test rather than
// constructing a second instance elsewhere in this package.
func TestDaemonLifecycle(t *testing.T) {
	d, err := New(writeTestConfig(t))
	require.NoError(t, err)
	require.NotNil(t, d.engine)
	require.NotNil(t, d.schema)

	_, err = d.schema.PathLookup("/interfaces/interface")
	assert.NoError(t, err)
	_, err = d.schema.PathLookup("/bfd/session")
	assert.NoError(t, err)

	assert.Empty(t, d.cfg.Plugins.GRPC.Address)
	assert.False(t, d.cfg.Plugins.GRPC.Enabled)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, d.Run(ctx))
}
