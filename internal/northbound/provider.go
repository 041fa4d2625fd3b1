package northbound

import "github.com/holocore/holod/internal/yang"

// ProviderBase is the minimal trait every protocol instance satisfies,
// mirroring holo-northbound's ProviderBase.
type ProviderBase interface {
	// TopLevelNode returns the data path of the module's top-level node.
	// Neither the daemon nor the engine consults it when routing requests.
	TopLevelNode() string
}

// ConfigurationProvider is implemented by instances that own configuration
// subtrees. Validate, Prepare, Apply and Abort correspond 1:1 to the
// commit phases in spec §4.4. A provider registers one Go method per
// (path, operation) pair conceptually, but to keep dispatch a map lookup
// rather than a type switch, the transaction engine looks up a
// *ConfigCallback by CallbackKey from Callbacks().
type ConfigurationProvider interface {
	ProviderBase
	Callbacks() map[CallbackKey]ConfigCallback
}

// ConfigCallback is invoked once per ConfigChange per phase. It must be
// pure (no mutation, no resource acquisition) on PhaseValidate, may
// acquire a Resource on PhasePrepare (returned via CallbackArgs.Resource
// on the *next* phase for that same change), must release it on
// PhaseAbort, and must not fail on PhaseApply.
type ConfigCallback func(phase CommitPhase, args CallbackArgs) (Resource, error)

// StateProvider is implemented by instances that expose operational state.
// GetIterate walks a list and yields opaque per-entry handles reused by
// nested GetObject/GetElement callbacks, matching spec §4.4.
type StateProvider interface {
	ProviderBase
	StateCallbacks() map[CallbackKey]StateCallback
}

// StateCallback returns the value(s) at path. For OpGetIterate it returns
// the list of opaque entry handles (as a []any); for OpGetObject/
// OpGetElement it returns the leaf or nested-object value for the given
// entry handle (nil for container-rooted queries).
type StateCallback func(path string, entry any) (any, error)

// RpcProvider is implemented by instances that own RPCs/actions. Relaying
// an RPC to a child instance that does not own the path itself is handled
// one layer up, by the transaction engine's own InstanceKey -> *Channel
// routing table (internal/txn.Engine), not by this interface: a provider
// never holds a reference to another provider, in-process or otherwise.
type RpcProvider interface {
	ProviderBase
	RpcCallbacks() map[CallbackKey]RpcCallback
}

// RpcCallback invokes a YANG rpc/action and returns the output tree.
type RpcCallback func(input *yang.DataTree) (*yang.DataTree, error)

// NotificationProducer is implemented by instances that emit YANG
// notifications (spec §6: "fully qualified YANG notification trees over a
// dedicated channel"). The Instance runtime forwards whatever this channel
// yields onto its own Channel.Notifications for the daemon to consume.
type NotificationProducer interface {
	ProviderBase
	Notifications() <-chan *yang.DataTree
}

// LookupCallback materialises a list entry's identity from its key values.
// Neither the engine nor the instance runtime invokes one: a config
// callback receives the entry's key values directly in ConfigChange.ListKeys.
type LookupCallback func(listKeys []string) (any, error)
