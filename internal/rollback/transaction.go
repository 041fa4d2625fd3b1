package rollback

import (
	"encoding/json"
	"time"

	"github.com/holocore/holod/internal/yang"
)

// Transaction is a persisted, committed change to running configuration.
// PreImage/PostImage are stored as their own JSON encoding (not as a gob-
// native map[string]any) because DataTree's path/value map may hold
// netip.Addr/netip.Prefix values whose unexported internals gob cannot see
// through a bare interface{}; JSON round-trips them via their
// TextMarshaler implementations instead (see DESIGN.md).
type Transaction struct {
	ID            uint32
	Comment       string
	Timestamp     time.Time
	PreImageJSON  []byte
	PostImageJSON []byte
}

// NewTransaction builds an (unrecorded) Transaction from a pre/post image
// pair. Call DB.Record to assign it an id and persist it.
func NewTransaction(comment string, pre, post *yang.DataTree, now time.Time) (*Transaction, error) {
	preJSON, err := json.Marshal(pre)
	if err != nil {
		return nil, err
	}
	postJSON, err := json.Marshal(post)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Comment:       comment,
		Timestamp:     now,
		PreImageJSON:  preJSON,
		PostImageJSON: postJSON,
	}, nil
}

// PreImage decodes the transaction's pre-commit tree, bound to schema.
func (tx *Transaction) PreImage(schema *yang.SchemaContext) (*yang.DataTree, error) {
	t := &yang.DataTree{}
	if err := json.Unmarshal(tx.PreImageJSON, t); err != nil {
		return nil, err
	}
	return t.WithSchema(schema), nil
}

// PostImage decodes the transaction's post-commit tree, bound to schema.
func (tx *Transaction) PostImage(schema *yang.SchemaContext) (*yang.DataTree, error) {
	t := &yang.DataTree{}
	if err := json.Unmarshal(tx.PostImageJSON, t); err != nil {
		return nil, err
	}
	return t.WithSchema(schema), nil
}
