package txn

import (
	"fmt"

	"github.com/holocore/holod/internal/northbound"
	"github.com/holocore/holod/internal/yang"
)

// InvokeConfigCallback calls cb, recovering any panic and converting it to
// a *northbound.CfgCallbackError. This is the single panic-recovery
// boundary spec §7 requires between provider code and the engine: a
// misbehaving instance can fail a commit, it cannot crash the daemon.
// Callers (the per-instance event loop) invoke this for every ConfigChange
// in a CommitRequest's batch.
func InvokeConfigCallback(cb northbound.ConfigCallback, phase northbound.CommitPhase, args northbound.CallbackArgs) (res northbound.Resource, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &northbound.CfgCallbackError{Path: args.Change.Key.Path, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return cb(phase, args)
}

// InvokeRpcCallback calls cb, recovering any panic and converting it to a
// *northbound.RpcCallbackError.
func InvokeRpcCallback(path string, cb northbound.RpcCallback, input *yang.DataTree) (out *yang.DataTree, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &northbound.RpcCallbackError{Path: path, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return cb(input)
}
