package txn

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/holocore/holod/internal/northbound"
	"github.com/holocore/holod/internal/rollback"
	"github.com/holocore/holod/internal/yang"
)

// DefaultRequestTimeout bounds how long the engine waits for a single
// provider to answer one phase of one commit before treating it as a
// timeout failure (spec §7 TimeoutError).
const DefaultRequestTimeout = 10 * time.Second

type pendingConfirm struct {
	id    uint32
	timer *time.Timer
}

// Engine is the transaction engine of spec §4.4. It holds no provider
// state itself: every provider is reached exclusively through the
// northbound.Channel registered for it, so all callback execution happens
// on that provider's own single-threaded event loop (internal/instance),
// never on the engine's goroutine.
type Engine struct {
	commitMu       sync.Mutex // serialises Commit calls
	mu             sync.Mutex
	schema         *yang.SchemaContext
	db             *rollback.DB
	log            *slog.Logger
	running        *yang.DataTree
	providers      map[northbound.InstanceKey]*northbound.Channel
	callbackOwner  map[northbound.CallbackKey]northbound.InstanceKey
	confirm        *pendingConfirm
	requestTimeout time.Duration
}

// NewEngine returns an Engine seeded with the given running configuration
// (typically an empty tree at first boot, or the last-known-good tree
// reconstructed from the rollback log's most recent transaction).
func NewEngine(schema *yang.SchemaContext, db *rollback.DB, running *yang.DataTree, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if running == nil {
		running = yang.New(schema)
	}
	return &Engine{
		schema:         schema,
		db:             db,
		log:            logger,
		running:        running,
		providers:      make(map[northbound.InstanceKey]*northbound.Channel),
		callbackOwner:  make(map[northbound.CallbackKey]northbound.InstanceKey),
		requestTimeout: DefaultRequestTimeout,
	}
}

// RegisterProvider asks the instance behind ch which CallbackKeys it owns
// and records the mapping, so later commits route each ConfigChange to
// the right instance without walking every provider on every commit.
func (e *Engine) RegisterProvider(ctx context.Context, key northbound.InstanceKey, ch *northbound.Channel) error {
	resp := northbound.NewResponder[northbound.GetCallbacksResponse]()
	if err := ch.Send(ctx, northbound.Request{GetCallbacks: &northbound.GetCallbacksRequest{Responder: resp}}); err != nil {
		return err
	}
	var got northbound.GetCallbacksResponse
	select {
	case got = <-resp:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range got.Callbacks {
		if owner, exists := e.callbackOwner[k]; exists && owner != key {
			return fmt.Errorf("txn: callback %s/%s already owned by %s, cannot also register %s", k.Path, k.Op, owner, key)
		}
		e.callbackOwner[k] = key
	}
	e.providers[key] = ch
	return nil
}

// UnregisterProvider removes an instance and every callback it owned, used
// on instance shutdown.
func (e *Engine) UnregisterProvider(key northbound.InstanceKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.providers, key)
	for k, owner := range e.callbackOwner {
		if owner == key {
			delete(e.callbackOwner, k)
		}
	}
}

// Running returns the engine's current committed configuration tree.
// Callers must not mutate the result; Clone it first.
func (e *Engine) Running() *yang.DataTree {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Validate runs the Diff and Validate phases against candidate without
// mutating running state or scheduling anything.
func (e *Engine) Validate(ctx context.Context, candidate *yang.DataTree) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	changes, err := diff(e.schema, running, candidate)
	if err != nil {
		return err
	}
	order, grouped, err := e.group(changes)
	if err != nil {
		return err
	}
	return e.invokePhase(ctx, order, grouped, northbound.PhaseValidate, running, candidate)
}

// Commit runs Diff, Validate, Prepare (with reverse-order Abort on
// failure) and Apply, records the resulting Transaction, and — if
// confirmedTimeout is nonzero — arms an automatic revert. Any prior
// unconfirmed commit is implicitly confirmed (its timer cancelled) by the
// arrival of this commit, matching spec §4.4's "unless a second commit
// with confirmed_timeout = 0 arrives first".
func (e *Engine) Commit(ctx context.Context, op CommitOp, candidate *yang.DataTree, comment string, confirmedTimeout time.Duration) (uint32, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	e.mu.Lock()
	running := e.running
	if e.confirm != nil {
		e.confirm.timer.Stop()
		e.confirm = nil
	}
	e.mu.Unlock()

	changes, err := diff(e.schema, running, candidate)
	if err != nil {
		return 0, err
	}
	order, grouped, err := e.group(changes)
	if err != nil {
		return 0, err
	}

	if err := e.invokePhase(ctx, order, grouped, northbound.PhaseValidate, running, candidate); err != nil {
		return 0, err
	}
	if err := e.prepareAndAbortOnFailure(ctx, order, grouped, running, candidate); err != nil {
		return 0, err
	}
	if err := e.invokePhase(ctx, order, grouped, northbound.PhaseApply, running, candidate); err != nil {
		e.log.Error("apply failed; this is a programming bug, terminating", "error", err)
		panic(fmt.Sprintf("txn: apply failed (bug): %v", err))
	}

	tx, err := rollback.NewTransaction(comment, running, candidate, time.Now())
	if err != nil {
		return 0, err
	}
	id, err := e.db.Record(tx)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	e.running = candidate
	e.mu.Unlock()

	if confirmedTimeout > 0 {
		if err := e.db.SetUnconfirmed(id); err != nil {
			e.log.Error("failed to persist unconfirmed sentinel", "transaction", id, "error", err)
		}
		e.armConfirm(id, running, confirmedTimeout)
	} else if err := e.db.ClearUnconfirmed(); err != nil {
		e.log.Error("failed to clear unconfirmed sentinel", "error", err)
	}

	e.log.Info("committed transaction", "id", id, "op", op.String(), "comment", comment)
	return id, nil
}

func (e *Engine) armConfirm(id uint32, preImage *yang.DataTree, timeout time.Duration) {
	var timer *time.Timer
	timer = time.AfterFunc(timeout, func() {
		e.mu.Lock()
		if e.confirm == nil || e.confirm.id != id {
			e.mu.Unlock()
			return
		}
		e.confirm = nil
		e.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout)
		defer cancel()
		comment := fmt.Sprintf("auto-revert of unconfirmed transaction %d", id)
		if _, err := e.Commit(ctx, OpReplace, preImage, comment, 0); err != nil {
			e.log.Error("confirmed-commit auto-revert failed", "transaction", id, "error", err)
		}
	})
	e.mu.Lock()
	e.confirm = &pendingConfirm{id: id, timer: timer}
	e.mu.Unlock()
}

// Rollback applies transaction id's pre-image as a fresh commit and
// returns the new transaction's id.
func (e *Engine) Rollback(ctx context.Context, id uint32) (uint32, error) {
	tx, ok := e.db.Get(id)
	if !ok {
		return 0, &northbound.TransactionIdNotFoundError{ID: id}
	}
	pre, err := tx.PreImage(e.schema)
	if err != nil {
		return 0, err
	}
	comment := fmt.Sprintf("rollback of transaction %d", id)
	return e.Commit(ctx, OpReplace, pre, comment, 0)
}

// ResumeUnconfirmed rolls back any unconfirmed commit left over from a
// prior process lifetime, per the Design Notes resolution "always rolled
// back on restart". Called once during daemon bootstrap after the engine
// and its providers are fully wired.
func (e *Engine) ResumeUnconfirmed(ctx context.Context) error {
	id, ok := e.db.Unconfirmed()
	if !ok {
		return nil
	}
	e.log.Warn("rolling back unconfirmed transaction from prior run", "transaction", id)
	_, err := e.Rollback(ctx, id)
	if err == nil {
		err = e.db.ClearUnconfirmed()
	}
	return err
}

// Get returns the union of configuration (from running) and/or
// operational state (queried live from each provider) under path.
func (e *Engine) Get(ctx context.Context, path string, datatype northbound.DataType) (*yang.DataTree, error) {
	e.mu.Lock()
	running := e.running
	providers := e.providerOrder()
	channels := make(map[northbound.InstanceKey]*northbound.Channel, len(providers))
	for _, k := range providers {
		channels[k] = e.providers[k]
	}
	e.mu.Unlock()

	result := yang.New(e.schema)
	if datatype == northbound.DataAll || datatype == northbound.DataConfiguration {
		for _, p := range running.Paths() {
			if path == "" || hasPathPrefix(p, path) {
				if v, ok := running.Get(p); ok {
					result.Set(p, v)
				}
			}
		}
	}
	if datatype == northbound.DataAll || datatype == northbound.DataState {
		for _, key := range providers {
			ch := channels[key]
			resp := northbound.NewResponder[northbound.GetResponse]()
			req := northbound.Request{Get: &northbound.GetRequest{Path: path, DataType: northbound.DataState, Responder: resp}}
			if err := ch.Send(ctx, req); err != nil {
				return nil, err
			}
			select {
			case got := <-resp:
				if got.Err != nil {
					return nil, got.Err
				}
				if got.Data != nil {
					for _, p := range got.Data.Paths() {
						if v, ok := got.Data.Get(p); ok {
							result.Set(p, v)
						}
					}
				}
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return result, nil
}

// Rpc locates the single rpc/action node in input and relays it over the
// owning provider's channel (spec §7: a relay failure — the channel send
// or reply wait failing, as opposed to the callback itself returning an
// error — is reported as RpcRelayError, distinct from RpcNotFoundError
// and RpcCallbackError).
func (e *Engine) Rpc(ctx context.Context, input *yang.DataTree) (*yang.DataTree, error) {
	rpcPath, err := e.findRpcPath(input)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	owner, ok := e.callbackOwner[northbound.CallbackKey{Path: rpcPath, Op: northbound.OpRpc}]
	var ch *northbound.Channel
	if ok {
		ch = e.providers[owner]
	}
	e.mu.Unlock()
	if !ok {
		return nil, &northbound.RpcNotFoundError{Path: rpcPath}
	}

	resp := northbound.NewResponder[northbound.RpcResponse]()
	req := northbound.Request{Rpc: &northbound.RpcRequest{Input: input, Responder: resp}}
	if err := ch.Send(ctx, req); err != nil {
		return nil, &northbound.RpcRelayError{Path: rpcPath, Reason: err.Error()}
	}
	select {
	case got := <-resp:
		if got.Err != nil {
			return nil, got.Err
		}
		return got.Output, nil
	case <-ctx.Done():
		return nil, &northbound.RpcRelayError{Path: rpcPath, Reason: ctx.Err().Error()}
	}
}

func (e *Engine) findRpcPath(input *yang.DataTree) (string, error) {
	if e.schema == nil {
		return "", &northbound.InvalidDataError{Reason: "no schema context loaded"}
	}
	for _, p := range input.Paths() {
		tmpl := templatePath(p)
		if node, err := e.schema.PathLookup(tmpl); err == nil && node.Kind == yang.KindRPC {
			return tmpl, nil
		}
	}
	return "", &northbound.InvalidDataError{Reason: "no rpc node found in input tree"}
}

// group partitions changes by owning provider, preserving the relative
// order changes were produced in (first-seen order of provider appearance)
// so Validate/Prepare/Apply visit providers deterministically.
func (e *Engine) group(changes []northbound.ConfigChange) ([]northbound.InstanceKey, map[northbound.InstanceKey][]northbound.ConfigChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	grouped := make(map[northbound.InstanceKey][]northbound.ConfigChange)
	seen := make(map[northbound.InstanceKey]bool)
	var order []northbound.InstanceKey
	for _, c := range changes {
		owner, ok := e.callbackOwner[c.Key]
		if !ok {
			return nil, nil, &yang.UnknownPathError{Path: c.Key.Path}
		}
		grouped[owner] = append(grouped[owner], c)
		if !seen[owner] {
			seen[owner] = true
			order = append(order, owner)
		}
	}
	return order, grouped, nil
}

func (e *Engine) invokePhase(ctx context.Context, order []northbound.InstanceKey, grouped map[northbound.InstanceKey][]northbound.ConfigChange, phase northbound.CommitPhase, old, new_ *yang.DataTree) error {
	for _, key := range order {
		if err := e.invokePhaseOne(ctx, key, grouped[key], phase, old, new_); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) invokePhaseOne(ctx context.Context, key northbound.InstanceKey, changes []northbound.ConfigChange, phase northbound.CommitPhase, old, new_ *yang.DataTree) error {
	e.mu.Lock()
	ch, ok := e.providers[key]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("txn: provider %s not registered", key)
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		reqCtx, cancel = context.WithTimeout(ctx, e.requestTimeout)
		defer cancel()
	}

	resp := northbound.NewResponder[error]()
	req := northbound.Request{Commit: &northbound.CommitRequest{Phase: phase, Old: old, New: new_, Changes: changes, Responder: resp}}
	if err := ch.Send(reqCtx, req); err != nil {
		return &northbound.TimeoutError{Phase: phase}
	}
	select {
	case err := <-resp:
		return err
	case <-reqCtx.Done():
		return &northbound.TimeoutError{Phase: phase}
	}
}

func (e *Engine) prepareAndAbortOnFailure(ctx context.Context, order []northbound.InstanceKey, grouped map[northbound.InstanceKey][]northbound.ConfigChange, old, new_ *yang.DataTree) error {
	var prepared []northbound.InstanceKey
	for _, key := range order {
		if err := e.invokePhaseOne(ctx, key, grouped[key], northbound.PhasePrepare, old, new_); err != nil {
			for i := len(prepared) - 1; i >= 0; i-- {
				if abortErr := e.invokePhaseOne(ctx, prepared[i], grouped[prepared[i]], northbound.PhaseAbort, old, new_); abortErr != nil {
					e.log.Error("abort callback failed during prepare-failure unwind", "provider", prepared[i], "error", abortErr)
				}
			}
			path := ""
			if len(grouped[key]) > 0 {
				path = grouped[key][0].Key.Path
			}
			return &northbound.PrepareFailedError{Path: path, Reason: err.Error()}
		}
		prepared = append(prepared, key)
	}
	return nil
}

func (e *Engine) providerOrder() []northbound.InstanceKey {
	keys := make([]northbound.InstanceKey, 0, len(e.providers))
	for k := range e.providers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Protocol != keys[j].Protocol {
			return keys[i].Protocol < keys[j].Protocol
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}

func hasPathPrefix(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}
