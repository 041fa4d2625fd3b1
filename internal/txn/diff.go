package txn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/holocore/holod/internal/northbound"
	"github.com/holocore/holod/internal/yang"
)

// diff compares candidate against running and produces an ordered list of
// ConfigChanges: creates ascend from parent to child, deletes descend from
// child to parent, and modifies are ordered by path (spec §4.4 "Diff").
func diff(schema *yang.SchemaContext, running, candidate *yang.DataTree) ([]northbound.ConfigChange, error) {
	oldPaths := running.Paths()
	newPaths := candidate.Paths()

	newSet := make(map[string]bool, len(newPaths))
	for _, p := range newPaths {
		newSet[p] = true
	}
	oldSet := make(map[string]bool, len(oldPaths))
	for _, p := range oldPaths {
		oldSet[p] = true
	}

	var creates, modifies, deletes []string
	for _, p := range newPaths {
		nv, _ := candidate.Get(p)
		if !oldSet[p] {
			creates = append(creates, p)
			continue
		}
		ov, _ := running.Get(p)
		if fmt.Sprintf("%v", ov) != fmt.Sprintf("%v", nv) {
			modifies = append(modifies, p)
		}
	}
	for _, p := range oldPaths {
		if !newSet[p] {
			deletes = append(deletes, p)
		}
	}

	sort.Slice(creates, func(i, j int) bool { return lessByDepth(creates[i], creates[j]) })
	sort.Slice(deletes, func(i, j int) bool { return lessByDepth(deletes[j], deletes[i]) })
	sort.Strings(modifies)

	changes := make([]northbound.ConfigChange, 0, len(creates)+len(modifies)+len(deletes))
	for _, p := range creates {
		c, err := buildChange(schema, p, northbound.OpCreate)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	for _, p := range modifies {
		c, err := buildChange(schema, p, northbound.OpModify)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	for _, p := range deletes {
		c, err := buildChange(schema, p, northbound.OpDelete)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func lessByDepth(a, b string) bool {
	da, db := strings.Count(a, "/"), strings.Count(b, "/")
	if da != db {
		return da < db
	}
	return a < b
}

func buildChange(schema *yang.SchemaContext, path string, op northbound.Operation) (northbound.ConfigChange, error) {
	tmpl := templatePath(path)
	if schema != nil {
		if _, err := schema.PathLookup(tmpl); err != nil {
			return northbound.ConfigChange{}, err
		}
	}
	return northbound.ConfigChange{
		Key:      northbound.CallbackKey{Path: tmpl, Op: op},
		ListKeys: extractListKeys(path),
		Op:       op,
	}, nil
}

// templatePath strips every "[...]" list-key predicate from a concrete
// data path, yielding the schema-registered template path
// (e.g. "/interfaces/interface[name='eth0']/enabled" becomes
// "/interfaces/interface/enabled").
func templatePath(path string) string {
	var b strings.Builder
	depth := 0
	for _, r := range path {
		switch {
		case r == '[':
			depth++
		case r == ']':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// extractListKeys returns the key values found in path's "[key='value']"
// predicates, in the order they appear, outermost first.
func extractListKeys(path string) []string {
	var keys []string
	for i := 0; i < len(path); {
		if path[i] != '[' {
			i++
			continue
		}
		end := strings.IndexByte(path[i:], ']')
		if end < 0 {
			break
		}
		seg := path[i+1 : i+end]
		if eq := strings.IndexByte(seg, '='); eq >= 0 {
			keys = append(keys, strings.Trim(seg[eq+1:], "'\""))
		}
		i += end + 1
	}
	return keys
}
