package bfdmgr

import "github.com/holocore/holod/internal/yang"

// Module describes the toy /bfd/session[discriminator] subtree from
// spec.md's S3 scenario.
var Module = yang.Module{
	Name: "bfdmgr",
	Nodes: []yang.NodeSpec{
		{Path: "/bfd", Kind: yang.KindContainer},
		{Path: "/bfd/session", Kind: yang.KindList, Keys: []string{"discriminator"}},
		{Path: "/bfd/session/min-tx-ms", Kind: yang.KindLeaf},
		{Path: "/bfd/session/min-rx-ms", Kind: yang.KindLeaf},
		{Path: "/bfd/session-state-change", Kind: yang.KindNotification},
		{Path: "/bfd/session-state-change/discriminator", Kind: yang.KindLeaf},
		{Path: "/bfd/session-state-change/state", Kind: yang.KindLeaf},
	},
}
