// Package logging builds the log/slog handlers described by a daemon's
// logging configuration: journald, file (with rotation), and stdout, each
// independently enabled and independently styled, composed into one
// *slog.Logger that fans out to all of them (spec §6.2).
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/holocore/holod/internal/config"
)

// New builds the daemon's root logger from cfg. Every enabled sink is
// wrapped in its own slog.Handler and combined with a fanOutHandler; a
// configuration with nothing enabled falls back to discarding output,
// matching the "no protocol behaviour is gated on environment" neutrality
// spec.md asks for around logging.
func New(cfg config.Logging) (*slog.Logger, func() error, error) {
	var handlers []slog.Handler
	var closers []func() error

	if cfg.Stdout.Enabled {
		handlers = append(handlers, newHandler(os.Stdout, cfg.Stdout))
	}

	if cfg.File.Enabled {
		rotated, err := newRotatingFile(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open file sink: %w", err)
		}
		handlers = append(handlers, newHandler(rotated, cfg.File))
		closers = append(closers, rotated.Close)
	}

	if cfg.Journald.Enabled {
		jh, err := newJournaldHandler()
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open journald sink: %w", err)
		}
		handlers = append(handlers, jh)
	}

	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, nil))
	}

	closeAll := func() error {
		var firstErr error
		for _, c := range closers {
			if err := c(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	return slog.New(fanOutHandler{handlers: handlers}), closeAll, nil
}

// newHandler picks the slog.Handler implementation for style, matching
// spec.md's four styles: compact, full, json, pretty.
func newHandler(w io.Writer, cfg config.FileLogger) slog.Handler {
	switch cfg.Style {
	case "json":
		return slog.NewJSONHandler(w, nil)
	case "pretty":
		return newPrettyHandler(w, cfg.Colors)
	case "full":
		return slog.NewTextHandler(w, &slog.HandlerOptions{AddSource: true})
	default: // "compact" and unset
		return slog.NewTextHandler(w, nil)
	}
}

// fanOutHandler delivers every record to each wrapped handler in order,
// matching the "Same style knobs for stdout" independence spec.md asks
// for between simultaneously-enabled sinks.
type fanOutHandler struct {
	handlers []slog.Handler
}

func (f fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanOutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return fanOutHandler{handlers: next}
}

func (f fanOutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return fanOutHandler{handlers: next}
}
