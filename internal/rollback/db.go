// Package rollback implements the append-only, auto-dumping rollback log
// described in spec §4.5: a durable mapping from transaction id to
// serialised Transaction, plus a monotonic next-id counter, reopened as-is
// on daemon restart.
package rollback

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	keyNextID      = "next_id"
	keyUnconfirmed = "unconfirmed"
	transactionPrefix = "transaction"
)

// record is the on-disk unit: a length-prefixed gob-encoded key/value
// pair. This bespoke binary format matches the exact layout spec.md
// mandates for the rollback log file; no third-party embedded KV store in
// the retrieved example corpus implements it, so it is built directly on
// encoding/gob (see DESIGN.md).
type record struct {
	Key   string
	Value []byte
}

// DB is the rollback log. It is owned exclusively by the transaction
// engine and is not safe to share across engines.
type DB struct {
	mu      sync.Mutex
	path    string
	entries map[string][]byte
}

// Open loads path, or creates a fresh empty log if it does not exist.
// A corrupt file is a fatal error: the caller must not start the daemon
// and silently lose transaction history.
func Open(path string) (*DB, error) {
	db := &DB{path: path, entries: make(map[string][]byte)}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rollback: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("rollback: corrupt log %s: %w", path, err)
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("rollback: corrupt log %s: %w", path, err)
		}
		var rec record
		if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&rec); err != nil {
			return nil, fmt.Errorf("rollback: corrupt log %s: %w", path, err)
		}
		db.entries[rec.Key] = rec.Value
	}
	return db, nil
}

// dump rewrites the whole log atomically. Called after every mutation, the
// same AutoDump policy holo-daemon applies to its rollback log.
func (db *DB) dump() error {
	if db.path == "" {
		return nil
	}
	tmp := db.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(db.path), 0o755); err != nil {
		return fmt.Errorf("rollback: prepare dir: %w", err)
	}
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("rollback: create temp file: %w", err)
	}
	w := bufio.NewWriter(f)

	keys := make([]string, 0, len(db.entries))
	for k := range db.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(record{Key: k, Value: db.entries[k]}); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("rollback: encode record: %w", err)
		}
		if err := binary.Write(w, binary.BigEndian, uint32(buf.Len())); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("rollback: write length: %w", err)
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("rollback: write record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("rollback: flush: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rollback: close temp file: %w", err)
	}
	return os.Rename(tmp, db.path)
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// NextID returns the rollback log's current next-id counter (0 if unset)
// without consuming it.
func (db *DB) NextID() uint32 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.nextIDLocked()
}

func (db *DB) nextIDLocked() uint32 {
	v, ok := db.entries[keyNextID]
	if !ok {
		return 0
	}
	var id uint32
	_ = gobDecode(v, &id)
	return id
}

// Record assigns the next transaction id to tx, persists it, and returns
// the assigned id.
func (db *DB) Record(tx *Transaction) (uint32, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := db.nextIDLocked() + 1
	tx.ID = id

	encoded, err := gobEncode(tx)
	if err != nil {
		return 0, fmt.Errorf("rollback: encode transaction: %w", err)
	}
	idBytes, err := gobEncode(id)
	if err != nil {
		return 0, fmt.Errorf("rollback: encode next_id: %w", err)
	}
	db.entries[transactionKey(id)] = encoded
	db.entries[keyNextID] = idBytes

	if err := db.dump(); err != nil {
		return 0, err
	}
	return id, nil
}

func transactionKey(id uint32) string {
	return transactionPrefix + strconv.FormatUint(uint64(id), 10)
}

// Get retrieves the transaction identified by id.
func (db *DB) Get(id uint32) (*Transaction, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	v, ok := db.entries[transactionKey(id)]
	if !ok {
		return nil, false
	}
	var tx Transaction
	if err := gobDecode(v, &tx); err != nil {
		return nil, false
	}
	return &tx, true
}

// All returns every recorded transaction, ordered by id ascending.
func (db *DB) All() []*Transaction {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make([]*Transaction, 0, len(db.entries))
	for k, v := range db.entries {
		if !strings.HasPrefix(k, transactionPrefix) {
			continue
		}
		var tx Transaction
		if err := gobDecode(v, &tx); err != nil {
			continue
		}
		out = append(out, &tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetUnconfirmed records that transaction id is a confirmed-commit that has
// not yet been confirmed, so a restart before confirmation can roll it
// back (spec §5, §9 Open Question: "always rolled back on restart").
func (db *DB) SetUnconfirmed(id uint32) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	v, err := gobEncode(id)
	if err != nil {
		return err
	}
	db.entries[keyUnconfirmed] = v
	return db.dump()
}

// ClearUnconfirmed removes the unconfirmed-commit sentinel, called when a
// confirmed commit is confirmed before its timeout.
func (db *DB) ClearUnconfirmed() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.entries, keyUnconfirmed)
	return db.dump()
}

// Unconfirmed returns the id of an in-flight, never-confirmed commit left
// over from a prior process lifetime, if any.
func (db *DB) Unconfirmed() (uint32, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	v, ok := db.entries[keyUnconfirmed]
	if !ok {
		return 0, false
	}
	var id uint32
	if err := gobDecode(v, &id); err != nil {
		return 0, false
	}
	return id, true
}
