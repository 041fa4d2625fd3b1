package northbound

import "fmt"

// InstanceKey identifies a protocol instance by its (protocol, name) pair,
// the same identity every ibus and rollback reference uses. The
// transaction engine's own providers/callbackOwner maps (internal/txn)
// are the arena-plus-index realisation of the Design Notes' cyclic-
// relationship strategy: the engine owns the table of InstanceKey ->
// *Channel, and instances hold only that opaque send-handle back, never a
// pointer to the engine itself.
type InstanceKey struct {
	Protocol string
	Name     string
}

func (k InstanceKey) String() string {
	return fmt.Sprintf("%s/%s", k.Protocol, k.Name)
}
