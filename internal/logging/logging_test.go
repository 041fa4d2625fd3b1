package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holocore/holod/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithNothingEnabledDiscards(t *testing.T) {
	logger, closeFn, err := New(config.Logging{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("should be discarded")
	require.NoError(t, closeFn())
}

func TestNewStdoutAndFileBothWrite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Logging{
		Stdout: config.FileLogger{Enabled: true, Style: "json"},
		File:   config.FileLogger{Enabled: true, Dir: dir, Name: "holod", Rotation: "never", Style: "compact"},
	}

	logger, closeFn, err := New(cfg)
	require.NoError(t, err)
	logger.Info("hello", "key", "value")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(filepath.Join(dir, "holod.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "key=value")
}

func TestRotatingFileRotatesAtBoundary(t *testing.T) {
	dir := t.TempDir()
	rf, err := newRotatingFile(config.FileLogger{Dir: dir, Name: "holod", Rotation: "hourly"})
	require.NoError(t, err)

	_, err = rf.Write([]byte("first\n"))
	require.NoError(t, err)

	// Force the boundary into the past so the next write rotates.
	rf.boundary = time.Now().Add(-time.Second)
	_, err = rf.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, rf.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 1)
}

func TestPrettyHandlerColorizesWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	h := newPrettyHandler(&buf, true)
	assert.True(t, h.Enabled(nil, 0))
	require.NoError(t, h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0)))
	assert.Contains(t, buf.String(), "\x1b[36mINFO\x1b[0m")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
