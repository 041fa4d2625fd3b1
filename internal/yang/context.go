// Package yang holds the process-wide schema context: the merged set of
// loaded modules, the precomputed data-path registry, and default-value
// lookup. It stands in for holo's yang3-backed SchemaContext, with modules
// described by plain Go structs instead of parsed .yang files (YANG
// codegen is out of scope for this repository).
package yang

import (
	"fmt"
	"strings"
	"sync"
)

// Kind distinguishes the handful of schema node shapes this repository
// needs to dispatch callbacks correctly.
type Kind int

const (
	KindContainer Kind = iota
	KindLeaf
	KindLeafList
	KindList
	KindRPC
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindLeaf:
		return "leaf"
	case KindLeafList:
		return "leaf-list"
	case KindList:
		return "list"
	case KindRPC:
		return "rpc"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// NodeSpec describes one schema node. Keys names the key leaves of a list
// node, in schema order. Default is the leaf's materialised-on-demand
// default value, or nil if the leaf has none.
type NodeSpec struct {
	Path    string
	Kind    Kind
	Keys    []string
	Default any
}

// Module is a named collection of schema nodes, the Go-native stand-in for
// a parsed YANG module plus its deviations.
type Module struct {
	Name  string
	Nodes []NodeSpec
}

// SchemaNode is the resolved, process-wide-shared view of one NodeSpec.
type SchemaNode struct {
	Path    string
	Kind    Kind
	Keys    []string
	Default any
}

// SchemaContext is immutable after Load returns and is shared by reference
// across the whole daemon: instances, the transaction engine, and the ibus
// providers all hold the same pointer.
type SchemaContext struct {
	modules []Module
	nodes   map[string]*SchemaNode
}

// Load walks every module's nodes and builds the O(1) path registry. It
// fails with *SchemaLoadError if two modules disagree on the shape of the
// same path (a stand-in for conflicting deviations).
func Load(modules ...Module) (*SchemaContext, error) {
	ctx := &SchemaContext{
		nodes: make(map[string]*SchemaNode),
	}
	for _, mod := range modules {
		if mod.Name == "" {
			return nil, &SchemaLoadError{Module: mod.Name, Reason: "module has no name"}
		}
		for _, n := range mod.Nodes {
			if !strings.HasPrefix(n.Path, "/") {
				return nil, &SchemaLoadError{Module: mod.Name, Reason: fmt.Sprintf("path %q is not absolute", n.Path)}
			}
			if existing, ok := ctx.nodes[n.Path]; ok {
				if existing.Kind != n.Kind || !equalStrings(existing.Keys, n.Keys) {
					return nil, &SchemaLoadError{
						Module: mod.Name,
						Reason: fmt.Sprintf("path %q redefined incompatibly by module %q", n.Path, mod.Name),
					}
				}
				continue
			}
			ctx.nodes[n.Path] = &SchemaNode{
				Path:    n.Path,
				Kind:    n.Kind,
				Keys:    append([]string(nil), n.Keys...),
				Default: n.Default,
			}
		}
		ctx.modules = append(ctx.modules, mod)
	}
	return ctx, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PathLookup resolves a data path to its schema node, or returns
// *UnknownPathError.
func (c *SchemaContext) PathLookup(path string) (*SchemaNode, error) {
	n, ok := c.nodes[path]
	if !ok {
		return nil, &UnknownPathError{Path: path}
	}
	return n, nil
}

// DefaultValue returns the leaf's default, or (nil, false) if it has none
// or the path is unknown.
func (c *SchemaContext) DefaultValue(path string) (any, bool) {
	n, ok := c.nodes[path]
	if !ok || n.Default == nil {
		return nil, false
	}
	return n.Default, true
}

// Paths returns every registered data path, sorted for deterministic
// iteration. The transaction engine does not call it.
func (c *SchemaContext) Paths() []string {
	out := make([]string, 0, len(c.nodes))
	for p := range c.nodes {
		out = append(out, p)
	}
	sortStrings(out)
	return out
}

func sortStrings(s []string) {
	// Small local insertion sort; fine for schema-sized lists.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// globalMu guards lazy singleton access patterns used by daemon bootstrap
// (the context itself is immutable once built; this mutex only protects the
// one-time construction, matching the Design Notes' "forbid post-init
// writes by construction" strategy).
var (
	globalMu  sync.Mutex
	globalCtx *SchemaContext
)

// SetGlobal publishes the process-wide SchemaContext. Called exactly once
// from daemon bootstrap.
func SetGlobal(ctx *SchemaContext) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCtx != nil {
		panic("yang: SetGlobal called more than once")
	}
	globalCtx = ctx
}

// Global returns the process-wide SchemaContext published by SetGlobal.
func Global() *SchemaContext {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalCtx
}
