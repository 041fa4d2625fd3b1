package ifmgr

import "github.com/holocore/holod/internal/yang"

// Module describes the toy /interfaces/interface[name] subtree from
// spec.md's S1 scenario: a list of interfaces, each carrying an enabled
// leaf and an address-family leaf-list.
var Module = yang.Module{
	Name: "ifmgr",
	Nodes: []yang.NodeSpec{
		{Path: "/interfaces", Kind: yang.KindContainer},
		{Path: "/interfaces/interface", Kind: yang.KindList, Keys: []string{"name"}},
		{Path: "/interfaces/interface/enabled", Kind: yang.KindLeaf, Default: false},
		{Path: "/interfaces/interface/address-family", Kind: yang.KindLeafList},
	},
}
