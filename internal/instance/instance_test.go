package instance

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/holocore/holod/internal/ibus"
	"github.com/holocore/holod/internal/northbound"
	"github.com/holocore/holod/internal/protocols/bfdmgr"
	"github.com/holocore/holod/internal/recorder"
	"github.com/holocore/holod/internal/rollback"
	"github.com/holocore/holod/internal/txn"
	"github.com/holocore/holod/internal/yang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// toyProvider is a small in-memory protocol instance used to exercise
// the event loop: one boolean leaf under /toy/enabled, one counter fed by
// ibus interface updates, and a Release flag for shutdown ordering.
type toyProvider struct {
	mu          sync.Mutex
	enabled     bool
	prepareErr  error
	mtuTotal    int
	released    bool
	releaseErr  error
}

func (p *toyProvider) TopLevelNode() string { return "/toy" }

func (p *toyProvider) Callbacks() map[northbound.CallbackKey]northbound.ConfigCallback {
	return map[northbound.CallbackKey]northbound.ConfigCallback{
		{Path: "/toy/enabled", Op: northbound.OpModify}: p.setEnabled,
		{Path: "/toy/enabled", Op: northbound.OpCreate}: p.setEnabled,
	}
}

func (p *toyProvider) setEnabled(phase northbound.CommitPhase, args northbound.CallbackArgs) (northbound.Resource, error) {
	switch phase {
	case northbound.PhasePrepare:
		if p.prepareErr != nil {
			return nil, p.prepareErr
		}
		return nil, nil
	case northbound.PhaseApply:
		p.mu.Lock()
		defer p.mu.Unlock()
		v, _ := args.New.Get("/toy/enabled")
		p.enabled, _ = v.(bool)
	}
	return nil, nil
}

func (p *toyProvider) HandleIbus(msg ibus.Msg) {
	if upd, ok := msg.(ibus.InterfaceUpd); ok {
		p.mu.Lock()
		p.mtuTotal += upd.MTU
		p.mu.Unlock()
	}
}

func (p *toyProvider) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = true
	return p.releaseErr
}

func (p *toyProvider) isEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *toyProvider) isReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func testSchema(t *testing.T) *yang.SchemaContext {
	t.Helper()
	schema, err := yang.Load(yang.Module{
		Name: "toy",
		Nodes: []yang.NodeSpec{
			{Path: "/toy", Kind: yang.KindContainer},
			{Path: "/toy/enabled", Kind: yang.KindLeaf},
		},
	})
	require.NoError(t, err)
	return schema
}

func commitChange(t *testing.T, inst *Instance, phase northbound.CommitPhase, old, newTree *yang.DataTree) error {
	t.Helper()
	resp := northbound.NewResponder[error]()
	req := northbound.Request{Commit: &northbound.CommitRequest{
		Phase: phase,
		Old:   old,
		New:   newTree,
		Changes: []northbound.ConfigChange{
			{Key: northbound.CallbackKey{Path: "/toy/enabled", Op: northbound.OpModify}},
		},
		Responder: resp,
	}}
	require.NoError(t, inst.Channel.Send(context.Background(), req))
	select {
	case err := <-resp:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for commit reply")
		return nil
	}
}

func TestInstanceCommitAppliesChange(t *testing.T) {
	schema := testSchema(t)
	provider := &toyProvider{}
	inst := New(northbound.InstanceKey{Protocol: "toy", Name: "default"}, provider, schema, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	newTree := yang.New(schema)
	newTree.Set("/toy/enabled", true)

	require.NoError(t, commitChange(t, inst, northbound.PhaseValidate, yang.New(schema), newTree))
	require.NoError(t, commitChange(t, inst, northbound.PhasePrepare, yang.New(schema), newTree))
	require.NoError(t, commitChange(t, inst, northbound.PhaseApply, yang.New(schema), newTree))

	assert.True(t, provider.isEnabled())
}

func TestInstancePrepareFailurePropagates(t *testing.T) {
	schema := testSchema(t)
	provider := &toyProvider{prepareErr: assert.AnError}
	inst := New(northbound.InstanceKey{Protocol: "toy", Name: "default"}, provider, schema, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	newTree := yang.New(schema)
	newTree.Set("/toy/enabled", true)

	err := commitChange(t, inst, northbound.PhasePrepare, yang.New(schema), newTree)
	require.Error(t, err)
}

func TestInstanceConsumesIbusMessages(t *testing.T) {
	schema := testSchema(t)
	provider := &toyProvider{}
	ibusCh := make(chan ibus.Msg, 4)
	inst := New(northbound.InstanceKey{Protocol: "toy", Name: "default"}, provider, schema, nil, nil, ibusCh, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	ibusCh <- ibus.InterfaceUpd{IfName: "eth0", MTU: 1500}
	ibusCh <- ibus.InterfaceUpd{IfName: "eth1", MTU: 9000}

	require.Eventually(t, func() bool {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		return provider.mtuTotal == 10500
	}, time.Second, 10*time.Millisecond)
}

func TestInstanceShutdownReleasesProvider(t *testing.T) {
	schema := testSchema(t)
	provider := &toyProvider{}
	inst := New(northbound.InstanceKey{Protocol: "toy", Name: "default"}, provider, schema, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go inst.Run(ctx)

	// Cancel first so the loop shuts down, then drop a request into the
	// channel buffer if there is room (bypassing Send, which would race
	// against ctx.Done()). The loop has already stopped, so nothing answers
	// it; the test checks only that shutdown released the provider.
	resp := northbound.NewResponder[error]()
	cancel()
	time.Sleep(20 * time.Millisecond)

	select {
	case inst.Channel.Requests <- northbound.Request{Commit: &northbound.CommitRequest{Responder: resp}}:
	default:
	}

	require.Eventually(t, provider.isReleased, time.Second, 10*time.Millisecond)
}

func TestInstanceRecordsNorthboundAndIbusEvents(t *testing.T) {
	schema := testSchema(t)
	provider := &toyProvider{}
	dir := t.TempDir()
	key := northbound.InstanceKey{Protocol: "toy", Name: "default"}
	rec, err := recorder.Open(dir, key)
	require.NoError(t, err)

	ibusCh := make(chan ibus.Msg, 2)
	inst := New(key, provider, schema, rec, nil, ibusCh, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	ibusCh <- ibus.InterfaceUpd{IfName: "eth0", MTU: 1500}

	newTree := yang.New(schema)
	newTree.Set("/toy/enabled", true)
	require.NoError(t, commitChange(t, inst, northbound.PhaseValidate, yang.New(schema), newTree))

	require.Eventually(t, func() bool {
		provider.mu.Lock()
		defer provider.mu.Unlock()
		return provider.mtuTotal == 1500
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, rec.Close())

	path := filepath.Join(dir, "toy-default.jsonl")
	var kinds []recorder.Kind
	require.NoError(t, recorder.ReplayFile(path, func(ev recorder.Event) error {
		kinds = append(kinds, ev.Kind)
		var raw map[string]json.RawMessage
		return json.Unmarshal(ev.Payload, &raw)
	}))

	assert.Contains(t, kinds, recorder.KindIbus)
	assert.Contains(t, kinds, recorder.KindNorthbound)
}

// TestInstanceForwardsProviderNotifications confirms a provider's
// NotificationProducer capability is actually probed and drained by the
// Instance event loop, not just declared on the struct (spec §6).
func TestInstanceForwardsProviderNotifications(t *testing.T) {
	schema, err := yang.Load(bfdmgr.Module)
	require.NoError(t, err)

	p := bfdmgr.New(nil, nil)
	inst := New(northbound.InstanceKey{Protocol: "bfdmgr", Name: "default"}, p, schema, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	candidate := yang.New(schema)
	candidate.Set("/bfd/session[discriminator='1']/min-tx-ms", 150)
	require.NoError(t, commitChangeTo(t, inst, "/bfd/session", northbound.OpCreate, []string{"1"}, northbound.PhaseApply, yang.New(schema), candidate))

	select {
	case notif := <-inst.Channel.Notifications:
		v, _ := notif.Get("/bfd/session-state-change[discriminator='1']/discriminator")
		assert.Equal(t, "1", v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded notification")
	}
}

func commitChangeTo(t *testing.T, inst *Instance, path string, op northbound.Operation, listKeys []string, phase northbound.CommitPhase, old, newTree *yang.DataTree) error {
	t.Helper()
	resp := northbound.NewResponder[error]()
	req := northbound.Request{Commit: &northbound.CommitRequest{
		Phase: phase,
		Old:   old,
		New:   newTree,
		Changes: []northbound.ConfigChange{
			{Key: northbound.CallbackKey{Path: path, Op: op}, ListKeys: listKeys, Op: op},
		},
		Responder: resp,
	}}
	require.NoError(t, inst.Channel.Send(context.Background(), req))
	select {
	case err := <-resp:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for commit reply")
		return nil
	}
}

// TestStateGetSurfacesCommittedListEntryViaEngine drives a real commit
// through a txn.Engine into a bfdmgr.Provider-backed Instance and then
// asserts the session is visible through Engine.Get(DataState) — the path
// an external northbound client actually takes — rather than calling the
// provider's own listSessions method directly. This is what exercises
// handleGet's OpGetIterate dispatch end to end (spec §4.4).
func TestStateGetSurfacesCommittedListEntryViaEngine(t *testing.T) {
	schema, err := yang.Load(bfdmgr.Module)
	require.NoError(t, err)

	db, err := rollback.Open(filepath.Join(t.TempDir(), "rollback.db"))
	require.NoError(t, err)

	engine := txn.NewEngine(schema, db, nil, nil)

	key := northbound.InstanceKey{Protocol: "bfdmgr", Name: "default"}
	inst := New(key, bfdmgr.New(nil, nil), schema, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go inst.Run(ctx)

	require.NoError(t, engine.RegisterProvider(ctx, key, inst.Channel))

	candidate := engine.Running().Clone()
	candidate.Set("/bfd/session[discriminator='1']", true)
	_, err = engine.Commit(ctx, txn.OpReplace, candidate, "add session 1", 0)
	require.NoError(t, err)

	state, err := engine.Get(ctx, "", northbound.DataState)
	require.NoError(t, err)

	entries := state.ListEntryPaths("/bfd/session")
	assert.Equal(t, []string{"/bfd/session[discriminator='1']"}, entries)
}
