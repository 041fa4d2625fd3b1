// Package instance implements the per-protocol-instance task runtime of
// spec §4.3: a single goroutine that owns all of an instance's state and
// multiplexes its input sources — northbound requests from the
// transaction engine, ibus messages, (for protocols that need one) a
// protocol-specific input channel, and (for providers that emit them) YANG
// notifications to forward — recording every message before it is
// processed and shutting down in an orderly way when its northbound
// channel closes.
package instance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/holocore/holod/internal/ibus"
	"github.com/holocore/holod/internal/northbound"
	"github.com/holocore/holod/internal/recorder"
	"github.com/holocore/holod/internal/txn"
	"github.com/holocore/holod/internal/yang"
)

// ErrCancelled is returned to any northbound request still pending when
// the instance shuts down.
var ErrCancelled = &CancelledError{}

// CancelledError implements error; defined as a type (not a sentinel
// value wrapped by errors.New) so the daemon can errors.As it in logs if
// it ever needs to distinguish "shut down mid-request" from other
// failures.
type CancelledError struct{}

func (*CancelledError) Error() string { return "instance: shutting down, request cancelled" }

// Releaser is implemented by protocol providers that hold resources
// needing an orderly teardown on shutdown (open sockets, subscriptions,
// timers). Release is called once, after the northbound channel closes
// and any pending requests have been cancelled.
type Releaser interface {
	Release() error
}

// Instance wires one protocol provider into the runtime. Capability
// interfaces (ConfigurationProvider, StateProvider, RpcProvider,
// NotificationProducer) are probed once at construction instead of
// required up front, so a protocol only implements what it needs.
type Instance struct {
	Key     northbound.InstanceKey
	Channel *northbound.Channel

	schema  *yang.SchemaContext
	rec     *recorder.Recorder
	log     *slog.Logger
	ibusIn  <-chan ibus.Msg
	protoIn <-chan any

	provider any
	cfg      northbound.ConfigurationProvider
	statep   northbound.StateProvider
	rpcp     northbound.RpcProvider
	notifp   northbound.NotificationProducer

	mu        sync.Mutex
	resources map[string]northbound.Resource
}

// New returns an Instance ready to Run. ibusIn and protoIn may be nil if
// the protocol does not consume that input source.
func New(key northbound.InstanceKey, provider any, schema *yang.SchemaContext, rec *recorder.Recorder, log *slog.Logger, ibusIn <-chan ibus.Msg, protoIn <-chan any) *Instance {
	if log == nil {
		log = slog.Default()
	}
	inst := &Instance{
		Key:       key,
		Channel:   northbound.NewChannel(),
		schema:    schema,
		rec:       rec,
		log:       log,
		ibusIn:    ibusIn,
		protoIn:   protoIn,
		provider:  provider,
		resources: make(map[string]northbound.Resource),
	}
	inst.cfg, _ = provider.(northbound.ConfigurationProvider)
	inst.statep, _ = provider.(northbound.StateProvider)
	inst.rpcp, _ = provider.(northbound.RpcProvider)
	inst.notifp, _ = provider.(northbound.NotificationProducer)
	return inst
}

// Run is the instance's event loop. It returns when ctx is cancelled or
// the northbound channel is closed by the engine/daemon.
func (inst *Instance) Run(ctx context.Context) {
	inst.log.Info("instance starting", "key", inst.Key.String())
	defer inst.shutdown()

	var notifIn <-chan *yang.DataTree
	if inst.notifp != nil {
		notifIn = inst.notifp.Notifications()
	}

	for {
		select {
		case req, ok := <-inst.Channel.Requests:
			if !ok {
				return
			}
			inst.recordNorthbound(req)
			inst.handle(req)

		case msg, ok := <-inst.ibusIn:
			if !ok {
				inst.ibusIn = nil
				continue
			}
			inst.recordIbus(msg)
			inst.handleIbus(msg)

		case in, ok := <-inst.protoIn:
			if !ok {
				inst.protoIn = nil
				continue
			}
			inst.record(recorder.KindProtocol, in)

		case notif, ok := <-notifIn:
			if !ok {
				notifIn = nil
				continue
			}
			inst.record(recorder.KindNotification, notif)
			inst.forwardNotification(ctx, notif)

		case <-ctx.Done():
			return
		}
	}
}

// forwardNotification relays one YANG notification tree onto this
// instance's own Channel.Notifications for the daemon to consume
// (spec §6: notifications flow over a dedicated channel, separate from
// the request/reply Requests channel).
func (inst *Instance) forwardNotification(ctx context.Context, notif *yang.DataTree) {
	select {
	case inst.Channel.Notifications <- notif:
	case <-ctx.Done():
	}
}

func (inst *Instance) shutdown() {
	inst.drainPending()

	if releaser, ok := inst.provider.(Releaser); ok {
		if err := releaser.Release(); err != nil {
			inst.log.Error("release failed during shutdown", "key", inst.Key.String(), "error", err)
		}
	}
	inst.log.Info("instance stopped", "key", inst.Key.String())
}

// drainPending answers every request already buffered in the channel
// (queued before it closed) with ErrCancelled, instead of leaving a
// caller blocked forever waiting on a reply that will never come.
func (inst *Instance) drainPending() {
	for {
		select {
		case req, ok := <-inst.Channel.Requests:
			if !ok {
				return
			}
			cancelRequest(req)
		default:
			return
		}
	}
}

func cancelRequest(req northbound.Request) {
	switch {
	case req.GetCallbacks != nil:
		req.GetCallbacks.Responder.Reply(northbound.GetCallbacksResponse{})
	case req.Commit != nil:
		req.Commit.Responder.Reply(ErrCancelled)
	case req.Get != nil:
		req.Get.Responder.Reply(northbound.GetResponse{Err: ErrCancelled})
	case req.Rpc != nil:
		req.Rpc.Responder.Reply(northbound.RpcResponse{Err: ErrCancelled})
	}
}

func (inst *Instance) handle(req northbound.Request) {
	switch {
	case req.GetCallbacks != nil:
		req.GetCallbacks.Responder.Reply(northbound.GetCallbacksResponse{Callbacks: inst.callbackKeys()})
	case req.Commit != nil:
		err := inst.handleCommit(*req.Commit)
		req.Commit.Responder.Reply(err)
	case req.Get != nil:
		data, err := inst.handleGet(req.Get.Path, req.Get.DataType)
		req.Get.Responder.Reply(northbound.GetResponse{Data: data, Err: err})
	case req.Rpc != nil:
		out, err := inst.handleRpc(req.Rpc.Input)
		req.Rpc.Responder.Reply(northbound.RpcResponse{Output: out, Err: err})
	}
}

// callbackKeys returns the union of every CallbackKey this instance owns,
// across configuration, state and rpc providers, used by the engine to
// build its path-ownership routing table.
func (inst *Instance) callbackKeys() []northbound.CallbackKey {
	var keys []northbound.CallbackKey
	if inst.cfg != nil {
		for k := range inst.cfg.Callbacks() {
			keys = append(keys, k)
		}
	}
	if inst.statep != nil {
		for k := range inst.statep.StateCallbacks() {
			keys = append(keys, k)
		}
	}
	if inst.rpcp != nil {
		for k := range inst.rpcp.RpcCallbacks() {
			keys = append(keys, k)
		}
	}
	return keys
}

// handleCommit dispatches every ConfigChange in the batch, in order, to
// this instance's own Callbacks() map via txn.InvokeConfigCallback — the
// one panic-recovery boundary shared with the engine's tests. Resources
// acquired on PhasePrepare are held on the instance between calls, keyed
// by the change's identity, and consumed on PhaseApply/PhaseAbort.
func (inst *Instance) handleCommit(cr northbound.CommitRequest) error {
	if inst.cfg == nil {
		return &northbound.CfgCallbackError{Reason: "instance has no configuration provider"}
	}
	callbacks := inst.cfg.Callbacks()
	for _, change := range cr.Changes {
		cb, ok := callbacks[change.Key]
		if !ok {
			return &northbound.CfgCallbackError{Path: change.Key.Path, Reason: "no callback registered for this path/operation"}
		}
		args := northbound.CallbackArgs{Change: change, Old: cr.Old, New: cr.New}
		key := changeKey(change)
		if cr.Phase == northbound.PhaseApply || cr.Phase == northbound.PhaseAbort {
			inst.mu.Lock()
			args.Resource = inst.resources[key]
			inst.mu.Unlock()
		}

		res, err := txn.InvokeConfigCallback(cb, cr.Phase, args)
		if err != nil {
			return err
		}

		switch cr.Phase {
		case northbound.PhasePrepare:
			inst.mu.Lock()
			inst.resources[key] = res
			inst.mu.Unlock()
		case northbound.PhaseApply, northbound.PhaseAbort:
			inst.mu.Lock()
			delete(inst.resources, key)
			inst.mu.Unlock()
		}
	}
	return nil
}

func changeKey(c northbound.ConfigChange) string {
	return c.Key.Path + "|" + strings.Join(c.ListKeys, ",")
}

// handleGet walks this instance's StateCallbacks the way spec §4.4
// describes: every OpGetIterate callback is invoked first to enumerate a
// list's entries, each opaque entry handle it returns is turned into a
// concrete list-entry path via the schema's key leaves, and that handle is
// then passed to any OpGetObject/OpGetElement callback registered under the
// same list so nested leaves resolve relative to the entry the iterate
// callback just yielded, not a schema template path. Bare (non-list)
// OpGetObject/OpGetElement callbacks are handled in a second pass.
func (inst *Instance) handleGet(path string, datatype northbound.DataType) (*yang.DataTree, error) {
	if inst.statep == nil {
		return yang.New(inst.schema), nil
	}
	result := yang.New(inst.schema)
	callbacks := inst.statep.StateCallbacks()
	nested := make(map[northbound.CallbackKey]bool)

	for key, cb := range callbacks {
		if key.Op != northbound.OpGetIterate {
			continue
		}
		if path != "" && !strings.HasPrefix(key.Path, path) && !strings.HasPrefix(path, key.Path) {
			continue
		}
		entries, err := cb(key.Path, nil)
		if err != nil {
			return nil, &northbound.CfgCallbackError{Path: key.Path, Reason: err.Error()}
		}
		handles, _ := entries.([]any)
		for _, handle := range handles {
			entryPath := inst.listEntryPath(key.Path, handle)
			result.Set(entryPath, true)

			for nestedKey, nestedCb := range callbacks {
				if nestedKey.Op != northbound.OpGetObject && nestedKey.Op != northbound.OpGetElement {
					continue
				}
				if !strings.HasPrefix(nestedKey.Path, key.Path+"/") {
					continue
				}
				nested[nestedKey] = true
				v, err := nestedCb(entryPath, handle)
				if err != nil {
					return nil, &northbound.CfgCallbackError{Path: nestedKey.Path, Reason: err.Error()}
				}
				if v != nil {
					result.Set(entryPath+strings.TrimPrefix(nestedKey.Path, key.Path), v)
				}
			}
		}
	}

	for key, cb := range callbacks {
		if key.Op != northbound.OpGetObject && key.Op != northbound.OpGetElement {
			continue
		}
		if nested[key] {
			continue
		}
		if path != "" && !strings.HasPrefix(key.Path, path) && !strings.HasPrefix(path, key.Path) {
			continue
		}
		v, err := cb(key.Path, nil)
		if err != nil {
			return nil, &northbound.CfgCallbackError{Path: key.Path, Reason: err.Error()}
		}
		if v != nil {
			result.Set(key.Path, v)
		}
	}
	return result, nil
}

// listEntryPath turns the opaque handle an OpGetIterate callback returned
// for one list entry into a concrete "[key='value']..."-suffixed data path,
// resolving key leaf names from the schema when they're available and
// falling back to positional names otherwise.
func (inst *Instance) listEntryPath(listPath string, handle any) string {
	var values []string
	switch h := handle.(type) {
	case string:
		values = []string{h}
	case []string:
		values = h
	default:
		values = []string{fmt.Sprintf("%v", handle)}
	}

	keys := make([]string, len(values))
	for i := range keys {
		keys[i] = fmt.Sprintf("key%d", i)
	}
	if inst.schema != nil {
		if node, err := inst.schema.PathLookup(listPath); err == nil && len(node.Keys) == len(values) {
			keys = node.Keys
		}
	}
	return listPath + yang.ListKeyPredicate(keys, values)
}

func (inst *Instance) handleRpc(input *yang.DataTree) (*yang.DataTree, error) {
	if inst.rpcp == nil {
		return nil, &northbound.RpcNotFoundError{}
	}
	for key, cb := range inst.rpcp.RpcCallbacks() {
		if _, ok := input.Get(key.Path); ok {
			return txn.InvokeRpcCallback(key.Path, cb, input)
		}
	}
	return nil, &northbound.RpcNotFoundError{}
}

func (inst *Instance) handleIbus(msg ibus.Msg) {
	if consumer, ok := inst.provider.(IbusConsumer); ok {
		consumer.HandleIbus(msg)
	}
}

// IbusConsumer is implemented by protocols that react to bus messages
// (spec §4.2's "Instance ... polymorphic over ... ibus-consumer").
type IbusConsumer interface {
	HandleIbus(msg ibus.Msg)
}

func (inst *Instance) record(kind recorder.Kind, v any) {
	if inst.rec == nil {
		return
	}
	if err := inst.rec.Record(kind, v); err != nil {
		inst.log.Error("event recorder write failed", "key", inst.Key.String(), "error", err)
	}
}

type ibusEnvelope struct {
	Topic ibus.Topic      `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func (inst *Instance) recordIbus(msg ibus.Msg) {
	if inst.rec == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		inst.log.Error("failed to marshal ibus message for recording", "error", err)
		return
	}
	inst.record(recorder.KindIbus, ibusEnvelope{Topic: msg.Topic(), Data: data})
}

// nbSnapshot is the JSON-serialisable projection of a northbound.Request:
// the Request itself carries Responder channels, which json.Marshal
// cannot serialise, so recording takes only the parts of a request that
// matter for replaying its effect on state.
type nbSnapshot struct {
	Kind      string                     `json:"kind"`
	Phase     string                     `json:"phase,omitempty"`
	Path      string                     `json:"path,omitempty"`
	Old       *yang.DataTree             `json:"old,omitempty"`
	New       *yang.DataTree             `json:"new,omitempty"`
	Changes   []northbound.ConfigChange  `json:"changes,omitempty"`
	Input     *yang.DataTree             `json:"input,omitempty"`
}

func (inst *Instance) recordNorthbound(req northbound.Request) {
	if inst.rec == nil {
		return
	}
	var snap nbSnapshot
	switch {
	case req.GetCallbacks != nil:
		snap = nbSnapshot{Kind: "get_callbacks"}
	case req.Commit != nil:
		snap = nbSnapshot{Kind: "commit", Phase: req.Commit.Phase.String(), Old: req.Commit.Old, New: req.Commit.New, Changes: req.Commit.Changes}
	case req.Get != nil:
		snap = nbSnapshot{Kind: "get", Path: req.Get.Path}
	case req.Rpc != nil:
		snap = nbSnapshot{Kind: "rpc", Input: req.Rpc.Input}
	default:
		snap = nbSnapshot{Kind: "unknown"}
	}
	inst.record(recorder.KindNorthbound, snap)
}
