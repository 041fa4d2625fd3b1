// Package recorder implements the per-instance event recorder described in
// spec §4.6: every message an instance processes is appended, in order, to
// a newline-delimited JSON log before it is handled, so a later replay
// reproduces the exact same state trajectory.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/holocore/holod/internal/northbound"
)

// Kind tags which of an instance's input sources produced a recorded
// event. The instance runtime records northbound requests, ibus messages,
// protocol input and forwarded notifications; KindTimer is defined for
// timer fires, but the runtime has no timer source and never records it.
type Kind string

const (
	KindNorthbound   Kind = "northbound"
	KindIbus         Kind = "ibus"
	KindProtocol     Kind = "protocol"
	KindTimer        Kind = "timer"
	KindNotification Kind = "notification"
)

// Event is one recorded line: a tagged, timestamped, opaque payload. The
// payload is whatever the caller already serialised — the recorder does
// not know how to marshal a northbound.Request (it carries channels) or
// an ibus.Msg (an interface with no embedded type tag), so callers pass
// in an already-JSON-able snapshot of what they received.
type Event struct {
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Recorder appends Events to a single instance's log file. Safe for
// concurrent use, though in practice only the owning instance's
// single-threaded event loop ever calls Record.
type Recorder struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// Open creates (or appends to) the JSONL log file for instance under dir,
// named "<protocol>-<name>.jsonl".
func Open(dir string, instance northbound.InstanceKey) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: prepare dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.jsonl", instance.Protocol, instance.Name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	return &Recorder{f: f, w: bufio.NewWriter(f)}, nil
}

// Record appends one event. v is marshalled to JSON as the event payload;
// pass an already-tagged envelope if v's own type does not round-trip
// through a bare interface (e.g. an ibus.Msg).
func (r *Recorder) Record(kind Kind, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("recorder: marshal payload: %w", err)
	}
	line, err := json.Marshal(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("recorder: marshal event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(line); err != nil {
		return err
	}
	if err := r.w.WriteByte('\n'); err != nil {
		return err
	}
	return r.w.Flush()
}

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}
