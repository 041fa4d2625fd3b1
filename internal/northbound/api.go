// Package northbound defines the trait surface every protocol instance
// implements: configuration callbacks, state-get callbacks, RPC callbacks,
// and notification production, plus the request/response types the
// transaction engine uses to drive them. It is the Go realisation of
// holo-northbound's api.rs, configuration.rs, rpc.rs and state.rs.
package northbound

import "github.com/holocore/holod/internal/yang"

// Operation identifies what kind of change a CallbackKey dispatches.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpGetIterate
	OpGetObject
	OpGetElement
	OpRpc
	OpLookup
)

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpGetIterate:
		return "get-iterate"
	case OpGetObject:
		return "get-object"
	case OpGetElement:
		return "get-element"
	case OpRpc:
		return "rpc"
	case OpLookup:
		return "lookup"
	default:
		return "unknown"
	}
}

// CallbackKey dispatches a changed or queried node to the right provider
// callback. Every schema path that may carry configuration or state must
// have at least one registered callback (spec §3), otherwise validation
// rejects the tree with UnknownPathError.
type CallbackKey struct {
	Path string
	Op   Operation
}

// ConfigChange is produced by diffing two DataTrees. ListKeys carries the
// key values of every list entry along the path, outermost first, so a
// nested callback can be invoked without re-walking the tree.
type ConfigChange struct {
	Key      CallbackKey
	ListKeys []string
	Op       Operation
}

// CommitPhase identifies which of the two-phase-commit callbacks is being
// invoked for a given ConfigChange.
type CommitPhase int

const (
	PhaseValidate CommitPhase = iota
	PhasePrepare
	PhaseApply
	PhaseAbort
)

func (p CommitPhase) String() string {
	switch p {
	case PhaseValidate:
		return "validate"
	case PhasePrepare:
		return "prepare"
	case PhaseApply:
		return "apply"
	case PhaseAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Resource is a provider-owned handle representing a kernel or external
// acquisition made during Prepare. Exactly one Resource exists per
// successfully prepared change; it is released by Abort or consumed by
// Apply.
type Resource interface {
	Release() error
}

// CallbackArgs is passed to every configuration callback.
type CallbackArgs struct {
	Change   ConfigChange
	Old      *yang.DataTree
	New      *yang.DataTree
	Resource Resource // set on PhaseApply/PhaseAbort, the value returned by Prepare
}

// DataType selects which half of a DataTree Get returns.
type DataType int

const (
	DataAll DataType = iota
	DataConfiguration
	DataState
)
