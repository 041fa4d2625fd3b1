// Package bfdmgr implements the toy BFD session manager from
// SPEC_FULL.md §4.8, exercising scenario S3 (prepare-failure rollback)
// and the Resource-lifecycle invariant from spec.md §3: for every
// successfully prepared change exactly one Resource exists, and every
// aborted change has its Resource released before abort returns.
package bfdmgr

import (
	"fmt"
	"sync"

	"github.com/holocore/holod/internal/ibus"
	"github.com/holocore/holod/internal/northbound"
	"github.com/holocore/holod/internal/yang"
)

// BindFunc stands in for a kernel socket bind for a BFD session. Tests
// inject a BindFunc that fails for a chosen discriminator to drive S3's
// "preparing the second session fails" scenario without a real socket.
type BindFunc func(discriminator string) error

// socketResource is the Resource acquired on PhasePrepare and released on
// PhaseAbort; deleting a session does not release anything.
type socketResource struct {
	discriminator string
	released      bool
}

func (r *socketResource) Release() error {
	r.released = true
	return nil
}

type sessionState struct {
	minTxMs, minRxMs int
	state            ibus.BfdState
}

// Provider owns the /bfd/session[discriminator] subtree.
type Provider struct {
	bind   BindFunc
	broker *ibus.Broker
	notify chan *yang.DataTree

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New builds a Provider. bind defaults to always succeeding if nil;
// broker may be nil, in which case Apply's BfdStateUpd notification is
// silently skipped (useful for callback-level unit tests that don't
// need a live bus).
func New(bind BindFunc, broker *ibus.Broker) *Provider {
	if bind == nil {
		bind = func(string) error { return nil }
	}
	return &Provider{
		bind:     bind,
		broker:   broker,
		notify:   make(chan *yang.DataTree, 8),
		sessions: make(map[string]*sessionState),
	}
}

// Notifications exposes the bfd-session-state-change YANG notification
// tree emitted each time Apply installs a session (spec §6), independent
// of the BfdStateUpd event this Provider also publishes on the ibus.
func (p *Provider) Notifications() <-chan *yang.DataTree {
	return p.notify
}

func (p *Provider) TopLevelNode() string { return "/bfd" }

func (p *Provider) Callbacks() map[northbound.CallbackKey]northbound.ConfigCallback {
	return map[northbound.CallbackKey]northbound.ConfigCallback{
		{Path: "/bfd/session", Op: northbound.OpCreate}: p.createSession,
		{Path: "/bfd/session", Op: northbound.OpDelete}: p.deleteSession,
	}
}

func discriminatorOf(change northbound.ConfigChange) (string, error) {
	if len(change.ListKeys) == 0 {
		return "", fmt.Errorf("bfdmgr: change %s missing discriminator key", change.Key.Path)
	}
	return change.ListKeys[0], nil
}

// createSession acquires a Resource standing in for a socket bind on
// PhasePrepare — the injection point S3 exercises — and on PhaseApply
// installs the session's state and emits a BfdStateUpd(Up) notification.
func (p *Provider) createSession(phase northbound.CommitPhase, args northbound.CallbackArgs) (northbound.Resource, error) {
	disc, err := discriminatorOf(args.Change)
	if err != nil {
		return nil, err
	}

	switch phase {
	case northbound.PhasePrepare:
		if err := p.bind(disc); err != nil {
			return nil, &northbound.PrepareFailedError{
				Path:   fmt.Sprintf("/bfd/session[discriminator='%s']", disc),
				Reason: err.Error(),
			}
		}
		return &socketResource{discriminator: disc}, nil

	case northbound.PhaseAbort:
		if res, ok := args.Resource.(*socketResource); ok && res != nil {
			return nil, res.Release()
		}
		return nil, nil

	case northbound.PhaseApply:
		minTx, _ := args.New.Get(fmt.Sprintf("/bfd/session[discriminator='%s']/min-tx-ms", disc))
		minRx, _ := args.New.Get(fmt.Sprintf("/bfd/session[discriminator='%s']/min-rx-ms", disc))

		p.mu.Lock()
		p.sessions[disc] = &sessionState{
			minTxMs: intOrZero(minTx),
			minRxMs: intOrZero(minRx),
			state:   ibus.BfdStateUp,
		}
		p.mu.Unlock()

		if p.broker != nil {
			p.broker.Publish(ibus.BfdStateUpd{
				Key:   ibus.BfdSessionKey{},
				State: ibus.BfdStateUp,
			})
		}

		notif := yang.New(nil)
		notif.Set(fmt.Sprintf("/bfd/session-state-change[discriminator='%s']/discriminator", disc), disc)
		notif.Set(fmt.Sprintf("/bfd/session-state-change[discriminator='%s']/state", disc), ibus.BfdStateUp)
		select {
		case p.notify <- notif:
		default:
			// Dedicated channel is best-effort, matching the ibus broker's own
			// fire-and-forget semantics for a consumer that isn't keeping up.
		}
	}
	return nil, nil
}

func (p *Provider) deleteSession(phase northbound.CommitPhase, args northbound.CallbackArgs) (northbound.Resource, error) {
	if phase != northbound.PhaseApply {
		return nil, nil
	}
	disc, err := discriminatorOf(args.Change)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	delete(p.sessions, disc)
	p.mu.Unlock()
	return nil, nil
}

func intOrZero(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// StateCallbacks exposes the currently established sessions for
// Get(State) queries — S3 asserts this lists zero sessions after a
// failed prepare.
func (p *Provider) StateCallbacks() map[northbound.CallbackKey]northbound.StateCallback {
	return map[northbound.CallbackKey]northbound.StateCallback{
		{Path: "/bfd/session", Op: northbound.OpGetIterate}: p.listSessions,
	}
}

func (p *Provider) listSessions(string, any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	discs := make([]any, 0, len(p.sessions))
	for disc := range p.sessions {
		discs = append(discs, disc)
	}
	return discs, nil
}
