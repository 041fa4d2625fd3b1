package yang

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DataTree is an in-memory, schema-validated instance of configuration or
// state data. Nodes are addressed by their fully qualified data path,
// including list-key predicates (e.g. "/interfaces/interface[name='eth0']
// /enabled"). Every node in a DataTree points back to the shared
// SchemaContext it was built against.
//
// DataTree is a value-oriented, copy-on-write structure: Clone does a
// single top-level map copy and the two resulting trees never alias each
// other's entries, so mutating one after Clone never affects the other.
type DataTree struct {
	Schema *SchemaContext
	values map[string]any
}

// New returns an empty DataTree bound to schema.
func New(schema *SchemaContext) *DataTree {
	return &DataTree{Schema: schema, values: make(map[string]any)}
}

// Clone returns a copy-on-write snapshot of t. Cheap relative to rebuilding
// the tree from scratch; the underlying map is copied once, not lazily,
// which keeps subsequent Get/Set O(1) with no indirection chain to walk.
func (t *DataTree) Clone() *DataTree {
	cp := make(map[string]any, len(t.values))
	for k, v := range t.values {
		cp[k] = v
	}
	return &DataTree{Schema: t.Schema, values: cp}
}

// Get returns the raw value stored at path, materialising the schema
// default if the path is absent but has one registered.
func (t *DataTree) Get(path string) (any, bool) {
	if v, ok := t.values[path]; ok {
		return v, true
	}
	if t.Schema != nil {
		if d, ok := t.Schema.DefaultValue(path); ok {
			return d, true
		}
	}
	return nil, false
}

// Set stores value at path. The caller is responsible for path validity;
// the transaction engine validates paths against the SchemaContext before
// any Set reaches a committed tree.
func (t *DataTree) Set(path string, value any) {
	t.values[path] = value
}

// Delete removes path and everything nested under it (i.e. every stored
// path that has path as a strict prefix followed by '/').
func (t *DataTree) Delete(path string) {
	delete(t.values, path)
	prefix := path + "/"
	for k := range t.values {
		if strings.HasPrefix(k, prefix) {
			delete(t.values, k)
		}
	}
}

// Paths returns every concrete path stored in the tree, sorted.
func (t *DataTree) Paths() []string {
	out := make([]string, 0, len(t.values))
	for k := range t.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two trees hold identical path/value sets. Used by
// the round-trip testable property (spec §8.2).
func (t *DataTree) Equal(other *DataTree) bool {
	if len(t.values) != len(other.values) {
		return false
	}
	for k, v := range t.values {
		ov, ok := other.values[k]
		if !ok || fmt.Sprintf("%v", v) != fmt.Sprintf("%v", ov) {
			return false
		}
	}
	return true
}

// ListKeyPredicate formats a list entry's key values into the YANG-style
// "[key='value'][key2='value2']" suffix, the pre-built key-formatting
// function the path registry promises for list nodes (spec §4.1).
func ListKeyPredicate(keys []string, values []string) string {
	if len(keys) != len(values) {
		panic("yang: ListKeyPredicate key/value length mismatch")
	}
	var b strings.Builder
	for i, k := range keys {
		fmt.Fprintf(&b, "[%s='%s']", k, values[i])
	}
	return b.String()
}

// MarshalJSON serialises the tree's path/value map. Used by the rollback
// log and the event recorder to persist a DataTree without exposing its
// internal representation.
func (t *DataTree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.values)
}

// UnmarshalJSON restores a tree's path/value map. The schema reference, if
// any, must be set separately by the caller (WithSchema).
func (t *DataTree) UnmarshalJSON(data []byte) error {
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	t.values = m
	return nil
}

// WithSchema attaches schema to an already-built tree (used after
// UnmarshalJSON, which cannot know the schema by itself) and returns t for
// chaining.
func (t *DataTree) WithSchema(schema *SchemaContext) *DataTree {
	t.Schema = schema
	return t
}

// ListEntryPaths returns the set of distinct list-entry prefixes found
// under listPath (e.g. "/interfaces/interface[name='eth0']",
// "/interfaces/interface[name='eth1']") by scanning stored paths. This is
// the Go-native equivalent of the provider's GetIterate callback walking a
// real YANG list.
func (t *DataTree) ListEntryPaths(listPath string) []string {
	seen := make(map[string]bool)
	prefix := listPath + "["
	for k := range t.values {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		end := strings.Index(k, "]")
		if end < 0 {
			continue
		}
		// Entries may have compound keys ("[a='x'][b='y']"); walk forward
		// while additional bracket groups immediately follow.
		for strings.HasPrefix(k[end+1:], "[") {
			next := strings.Index(k[end+1:], "]")
			if next < 0 {
				break
			}
			end = end + 1 + next
		}
		seen[k[:end+1]] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
