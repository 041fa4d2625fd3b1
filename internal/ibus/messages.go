// Package ibus implements the internal bus: the typed, broadcast/point-to-
// point message fabric by which interface, address, router-id, route,
// keychain, policy, hostname and BFD-session events propagate between
// platform providers and protocol instances (spec §4.2, §6).
package ibus

import "net/netip"

// Msg is the tagged-union marker every ibus message implements. Go does
// not have Rust-style enums, so each variant is its own struct and Msg is
// the common interface used for broadcast delivery and JSONL recording.
type Msg interface {
	// Topic identifies which broadcast channel a message belongs to.
	Topic() Topic
}

// Topic enumerates the broadcast channels described in spec §6.
type Topic int

const (
	TopicInterface Topic = iota
	TopicAddress
	TopicRouterID
	TopicRoute
	TopicRouteMPLS
	TopicNexthop
	TopicBFD
	TopicKeychain
	TopicPolicy
	TopicHostname
	TopicMacvlan
)

func (t Topic) String() string {
	switch t {
	case TopicInterface:
		return "interface"
	case TopicAddress:
		return "address"
	case TopicRouterID:
		return "router-id"
	case TopicRoute:
		return "route"
	case TopicRouteMPLS:
		return "route-mpls"
	case TopicNexthop:
		return "nexthop"
	case TopicBFD:
		return "bfd"
	case TopicKeychain:
		return "keychain"
	case TopicPolicy:
		return "policy"
	case TopicHostname:
		return "hostname"
	case TopicMacvlan:
		return "macvlan"
	default:
		return "unknown"
	}
}

// --- Interface lifecycle ---

type InterfaceDump struct{}

func (InterfaceDump) Topic() Topic { return TopicInterface }

type InterfaceQuery struct {
	IfName string
	AF     string // "", "ipv4" or "ipv6"
}

func (InterfaceQuery) Topic() Topic { return TopicInterface }

type InterfaceUpd struct {
	IfName string
	IfIndex uint32
	MTU     uint32
	Flags   InterfaceFlags
}

func (InterfaceUpd) Topic() Topic { return TopicInterface }

type InterfaceFlags uint8

const (
	IfUp InterfaceFlags = 1 << iota
	IfBroadcast
	IfMulticast
	IfLoopback
)

type InterfaceDel struct {
	IfName string
}

func (InterfaceDel) Topic() Topic { return TopicInterface }

// --- Address lifecycle ---

type InterfaceAddressAdd struct {
	IfName string
	Prefix netip.Prefix
	Flags  AddressFlags
}

func (InterfaceAddressAdd) Topic() Topic { return TopicAddress }

type AddressFlags uint8

const (
	AddrSecondary AddressFlags = 1 << iota
	AddrUnnumbered
)

type InterfaceAddressDel struct {
	IfName string
	Prefix netip.Prefix
}

func (InterfaceAddressDel) Topic() Topic { return TopicAddress }

// --- Routing ---

type RouterIDQuery struct{}

func (RouterIDQuery) Topic() Topic { return TopicRouterID }

type RouterIDUpdate struct {
	IPv4 *netip.Addr
}

func (RouterIDUpdate) Topic() Topic { return TopicRouterID }

type Nexthop struct {
	Addr   netip.Addr
	IfName string
	Labels []uint32
}

type RouteIPAdd struct {
	Protocol string
	Prefix   netip.Prefix
	Distance uint8
	Metric   uint32
	Tag      *uint32
	Opaque   map[string]string
	Nexthops []Nexthop
}

func (RouteIPAdd) Topic() Topic { return TopicRoute }

type RouteIPDel struct {
	Protocol string
	Prefix   netip.Prefix
}

func (RouteIPDel) Topic() Topic { return TopicRoute }

type RouteMPLSAdd struct {
	Protocol string
	Label    uint32
	Nexthops []Nexthop
}

func (RouteMPLSAdd) Topic() Topic { return TopicRouteMPLS }

type RouteMPLSDel struct {
	Protocol string
	Label    uint32
}

func (RouteMPLSDel) Topic() Topic { return TopicRouteMPLS }

type NexthopTrack struct {
	Addr netip.Addr
}

func (NexthopTrack) Topic() Topic { return TopicNexthop }

type NexthopUntrack struct {
	Addr netip.Addr
}

func (NexthopUntrack) Topic() Topic { return TopicNexthop }

// --- BFD ---

type BfdSessionKey struct {
	Src netip.Addr
	Dst netip.Addr
	IfName string
}

type BfdSessionReg struct {
	Key      BfdSessionKey
	ClientID string
	Cfg      *BfdSessionCfg
}

func (BfdSessionReg) Topic() Topic { return TopicBFD }

type BfdSessionCfg struct {
	MinTxMs  uint32
	MinRxMs  uint32
	Multiplier uint8
}

type BfdSessionUnreg struct {
	Key      BfdSessionKey
	ClientID string
}

func (BfdSessionUnreg) Topic() Topic { return TopicBFD }

type BfdState int

const (
	BfdStateAdminDown BfdState = iota
	BfdStateDown
	BfdStateInit
	BfdStateUp
)

type BfdStateUpd struct {
	Key   BfdSessionKey
	State BfdState
}

func (BfdStateUpd) Topic() Topic { return TopicBFD }

// --- Keychain / policy / hostname / macvlan ---

type HostnameSub struct {
	Subscriber string
}

func (HostnameSub) Topic() Topic { return TopicHostname }

type HostnameUpdate struct {
	Hostname *string
}

func (HostnameUpdate) Topic() Topic { return TopicHostname }

type KeychainUpd struct {
	Name string
	Data map[string]string
}

func (KeychainUpd) Topic() Topic { return TopicKeychain }

type KeychainDel struct {
	Name string
}

func (KeychainDel) Topic() Topic { return TopicKeychain }

type PolicyUpd struct {
	Name string
	Data map[string]string
}

func (PolicyUpd) Topic() Topic { return TopicPolicy }

type PolicyDel struct {
	Name string
}

func (PolicyDel) Topic() Topic { return TopicPolicy }

type MacvlanAdd struct {
	Parent string
	Name   string
	MAC    *string
}

func (MacvlanAdd) Topic() Topic { return TopicMacvlan }

type MacvlanDel struct {
	Name string
}

func (MacvlanDel) Topic() Topic { return TopicMacvlan }

// Lagged is a pseudo-message the broker queues, in a slot reserved for
// it, when it drops a message for a subscriber whose queue is full; N
// counts the messages dropped since the last one delivered (spec §4.2
// back-pressure).
type Lagged struct {
	Topic_ Topic
	N      int
}

func (l Lagged) Topic() Topic { return l.Topic_ }
