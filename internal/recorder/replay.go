package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// Reader reads back a Recorder's JSONL log in order, for replay or for
// inspection of a past run.
type Reader struct {
	f  *os.File
	sc *bufio.Scanner
}

// OpenReader opens path for sequential reading.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Reader{f: f, sc: sc}, nil
}

// Next returns the next Event, or (Event{}, false, nil) at end of file.
func (r *Reader) Next() (Event, bool, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return Event{}, false, err
		}
		return Event{}, false, nil
	}
	var ev Event
	if err := json.Unmarshal(r.sc.Bytes(), &ev); err != nil {
		return Event{}, false, fmt.Errorf("recorder: corrupt record: %w", err)
	}
	return ev, true, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// ReplayFile feeds every event in path, in order, to handler. It stops and
// returns the first error handler or reading produces, matching "feeding
// the records in order" from spec §4.6 — replay is not expected to
// recover from a divergent record, since divergence there means the
// instance under test produced different output than the recording
// implies.
func ReplayFile(path string, handler func(Event) error) error {
	r, err := OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		ev, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := handler(ev); err != nil {
			return err
		}
	}
}
