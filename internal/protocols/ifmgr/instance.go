// Package ifmgr implements the toy interface-manager protocol instance
// from SPEC_FULL.md §4.8, exercising scenario S1 and Testable Property 1
// (atomicity): an interface with enabled=true must carry at least one
// address family, or the commit is rejected in its Validate phase before
// any state changes.
package ifmgr

import (
	"fmt"
	"sync"

	"github.com/holocore/holod/internal/northbound"
	"github.com/holocore/holod/internal/yang"
)

type ifaceState struct {
	enabled        bool
	addressFamilies []string
}

// Provider owns the /interfaces/interface[name] subtree. It has no
// kernel or socket dependency — spec.md scopes those out — so Prepare
// and Apply never fail and never acquire a Resource; only Validate does
// meaningful work.
type Provider struct {
	mu    sync.Mutex
	ifaces map[string]*ifaceState
}

func New() *Provider {
	return &Provider{ifaces: make(map[string]*ifaceState)}
}

func (p *Provider) TopLevelNode() string { return "/interfaces" }

func (p *Provider) Callbacks() map[northbound.CallbackKey]northbound.ConfigCallback {
	return map[northbound.CallbackKey]northbound.ConfigCallback{
		{Path: "/interfaces/interface/enabled", Op: northbound.OpCreate}:        p.setEnabled,
		{Path: "/interfaces/interface/enabled", Op: northbound.OpModify}:        p.setEnabled,
		{Path: "/interfaces/interface/address-family", Op: northbound.OpCreate}: p.setAddressFamily,
		{Path: "/interfaces/interface/address-family", Op: northbound.OpModify}: p.setAddressFamily,
		{Path: "/interfaces/interface", Op: northbound.OpDelete}:                p.deleteInterface,
	}
}

func ifName(change northbound.ConfigChange) (string, error) {
	if len(change.ListKeys) == 0 {
		return "", fmt.Errorf("ifmgr: change %s missing interface name key", change.Key.Path)
	}
	return change.ListKeys[0], nil
}

// setEnabled validates the S1 invariant during PhaseValidate: an
// interface that ends up enabled must have at least one address family
// in the candidate tree. Prepare and Apply only mutate local state.
func (p *Provider) setEnabled(phase northbound.CommitPhase, args northbound.CallbackArgs) (northbound.Resource, error) {
	name, err := ifName(args.Change)
	if err != nil {
		return nil, err
	}

	switch phase {
	case northbound.PhaseValidate:
		enabled, _ := args.New.Get(fmt.Sprintf("/interfaces/interface[name='%s']/enabled", name))
		if b, ok := enabled.(bool); ok && b {
			families := addressFamiliesOf(args.New, name)
			if len(families) == 0 {
				return nil, &northbound.ValidationFailedError{
					Path:   fmt.Sprintf("/interfaces/interface[name='%s']", name),
					Reason: "requires at least one address family",
				}
			}
		}
	case northbound.PhaseApply:
		p.mu.Lock()
		defer p.mu.Unlock()
		st := p.iface(name)
		v, _ := args.New.Get(fmt.Sprintf("/interfaces/interface[name='%s']/enabled", name))
		st.enabled, _ = v.(bool)
	}
	return nil, nil
}

func (p *Provider) setAddressFamily(phase northbound.CommitPhase, args northbound.CallbackArgs) (northbound.Resource, error) {
	if phase != northbound.PhaseApply {
		return nil, nil
	}
	name, err := ifName(args.Change)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.iface(name)
	st.addressFamilies = addressFamiliesOf(args.New, name)
	return nil, nil
}

func (p *Provider) deleteInterface(phase northbound.CommitPhase, args northbound.CallbackArgs) (northbound.Resource, error) {
	if phase != northbound.PhaseApply {
		return nil, nil
	}
	name, err := ifName(args.Change)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ifaces, name)
	return nil, nil
}

func (p *Provider) iface(name string) *ifaceState {
	st, ok := p.ifaces[name]
	if !ok {
		st = &ifaceState{}
		p.ifaces[name] = st
	}
	return st
}

func addressFamiliesOf(tree *yang.DataTree, name string) []string {
	v, ok := tree.Get(fmt.Sprintf("/interfaces/interface[name='%s']/address-family", name))
	if !ok {
		return nil
	}
	families, _ := v.([]string)
	return families
}

// StateCallbacks lists the names of the currently applied interfaces for
// Get(State) queries, the same pattern bfdmgr uses for its sessions. The
// enabled and address-family values are not exposed as state.
func (p *Provider) StateCallbacks() map[northbound.CallbackKey]northbound.StateCallback {
	return map[northbound.CallbackKey]northbound.StateCallback{
		{Path: "/interfaces/interface", Op: northbound.OpGetIterate}: p.listInterfaces,
	}
}

func (p *Provider) listInterfaces(string, any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]any, 0, len(p.ifaces))
	for name := range p.ifaces {
		names = append(names, name)
	}
	return names, nil
}
