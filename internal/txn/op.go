// Package txn implements the transaction engine described in spec §4.4: it
// turns a candidate DataTree into an atomic, two-phase-committed change to
// running configuration, persists the result to the rollback log, and
// serves Get/Rpc against the committed state plus provider-owned
// operational state.
package txn

// CommitOp names the three client-facing commit semantics spec.md
// distinguishes. Internally the engine always diffs the full candidate
// tree against running (see diff.go); Op only appears in the engine's
// "committed transaction" log line, not in the recorded Transaction,
// since this repository
// does not implement a separate candidate-datastore merge/replace/change
// editing layer upstream of the engine (out of scope: see DESIGN.md).
type CommitOp int

const (
	OpMerge CommitOp = iota
	OpReplace
	OpChange
)

func (o CommitOp) String() string {
	switch o {
	case OpMerge:
		return "merge"
	case OpReplace:
		return "replace"
	case OpChange:
		return "change"
	default:
		return "unknown"
	}
}
