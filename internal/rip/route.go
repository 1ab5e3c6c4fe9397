package rip

import (
	"net/netip"
	"time"

	"github.com/dantte-lp/gorip/internal/ripauth"
)

// RouteSource identifies where a RouteEntry's information came from, used
// both for logging and for the redistribution/offset-list collaborator
// interfaces in collaborators.go.
type RouteSource uint8

const (
	SourceConnected RouteSource = iota
	SourceStatic
	SourceRIP
	SourceRedistributed
)

func (s RouteSource) String() string {
	switch s {
	case SourceConnected:
		return "connected"
	case SourceStatic:
		return "static"
	case SourceRIP:
		return "rip"
	case SourceRedistributed:
		return "redistributed"
	default:
		return "unknown"
	}
}

// Metric bounds from RFC 2453 Section 3.8.
const (
	MetricInfinity = 16
	MetricMin      = 1
)

// RouteEntry is one row of the route database (RFC 2453 Section 3.9,
// "route change" data plus the timers Section 3.9.3/3.10 attach to it).
type RouteEntry struct {
	Prefix    netip.Prefix
	NextHop   netip.Addr // zero value means "directly via the learning interface"
	Metric    uint8
	Tag       uint16
	Interface string
	Source    RouteSource

	// Distance is the administrative distance DistanceRule assigned this
	// entry's source, used to arbitrate between routes from different
	// protocols for the same prefix (RFC 2453 Section 4.4; see
	// DistanceRule below).
	Distance uint8

	// InFib is true exactly while the FIB sink holds this entry's
	// current (prefix, next hop, metric); RouteDB keeps it in lock step
	// with every InstallRoute/WithdrawRoute call it makes.
	InFib bool

	// LearnedFrom is the neighbor address an RIP-sourced entry arrived
	// from; zero for Connected/Static/Redistributed entries.
	LearnedFrom netip.Addr

	// Changed marks the entry for inclusion in the next triggered
	// update (RFC 2453 Section 3.10.1). UpdateEngine clears it once
	// the triggered update carrying it has gone out.
	Changed bool

	// timeoutTimer and garbageTimer are back-references into the
	// dispatcher's single TimerQueue (RFC 2453 Section 3.9.3,
	// Section 3.6 timer descriptions). RouteDB observes and cancels
	// them; it never owns the heap slot itself.
	timeoutTimer *Timer
	garbageTimer *Timer
}

// Key returns the identity RouteDB indexes entries by: RIP has one best
// route per prefix.
func (r RouteEntry) Key() netip.Prefix {
	return r.Prefix
}

// NeighborEntry tracks a discovered RIP neighbor (RFC 2453 Section 3.9.2
// treats the sending router's address as part of the acceptance
// decision; this is the minimal state needed to report "neighbors" to an
// operator).
type NeighborEntry struct {
	Address      netip.Addr
	Interface    string
	LastHeard    time.Time
	BadPackets   uint64
	BadRoutes    uint64
}

// SplitHorizonMode selects how UpdateEngine filters RTEs destined back out
// the interface they were learned on (RFC 2453 Section 3.4.3).
type SplitHorizonMode uint8

const (
	SplitHorizonOff SplitHorizonMode = iota
	SplitHorizonSimple
	SplitHorizonPoisonReverse
)

func (m SplitHorizonMode) String() string {
	switch m {
	case SplitHorizonOff:
		return "off"
	case SplitHorizonSimple:
		return "simple"
	case SplitHorizonPoisonReverse:
		return "poison-reverse"
	default:
		return "unknown"
	}
}

// InterfaceState is the per-interface configuration and runtime state
// (RFC 2453 Section 3.4, Section 4.1's per-interface transmission rules).
type InterfaceState struct {
	Name    string
	Address netip.Prefix
	Version uint8 // 1, 2, or 0 for "both" receive acceptance

	// MetricOffset is added to the metric of every route learned on
	// this interface before RouteDB ever sees it (RFC 2453 Section 3.4,
	// "an interface may have an additional increment metric", applied
	// at the receiving side per Section 3.9.2's acceptance procedure).
	MetricOffset uint8

	SplitHorizon SplitHorizonMode
	Passive      bool // receive-only: never transmit updates

	AuthScheme Scheme
	KeyChain   ripauth.KeyChain

	// Multicast selects RIPv2 multicast (224.0.0.9) delivery instead of
	// the RIPv1-compatible broadcast (RFC 2453 Section 4.1).
	Multicast bool
}

// BroadcastAddr computes the IPv4 limited-subnet broadcast address for
// the interface's configured prefix (all host bits set), used as the
// RIPv1-compatible delivery address when Multicast is false.
func (i InterfaceState) BroadcastAddr() netip.Addr {
	if !i.Address.IsValid() {
		return netip.IPv4Unspecified()
	}

	base := i.Address.Masked().Addr().As4()
	bits := i.Address.Bits()

	var hostMask [4]byte
	for idx := bits; idx < 32; idx++ {
		hostMask[idx/8] |= 1 << (7 - idx%8)
	}

	for idx := range base {
		base[idx] |= hostMask[idx]
	}

	return netip.AddrFrom4(base)
}

// Scheme re-exports ripauth.Scheme so callers configuring an
// InterfaceState do not need a second import.
type Scheme = ripauth.Scheme

// DistanceRule maps a route's source, optionally narrowed to routes
// advertised by a specific neighbor, to the administrative distance used
// when reconciling with routes from other protocols at the FIB sink
// (RFC 2453 Section 4.4 — the redistribution "distance" concept is a
// standard multi-protocol router construct this implementation needs
// because the FIB sink is a shared resource with non-RIP sources).
type DistanceRule struct {
	Source RouteSource

	// Advertiser, if non-nil, restricts this rule to candidates learned
	// from a neighbor address it permits; nil matches any advertiser of
	// Source. Rules naming an Advertiser are tried before the
	// unrestricted fallback rule for the same Source, so a more specific
	// per-neighbor override always wins.
	Advertiser AccessList

	Distance uint8
}

// DistanceFor returns the administrative distance rules assigns entry,
// preferring a rule whose Advertiser names entry's advertising neighbor
// over a Source-only fallback rule. It reports ok=false if no rule
// matches Source at all, leaving entry's existing Distance untouched
// (used for redistributed routes, which carry whatever distance their
// originating protocol already established).
func DistanceFor(rules []DistanceRule, entry RouteEntry) (distance uint8, ok bool) {
	fallback, hasFallback := uint8(0), false

	for _, rule := range rules {
		if rule.Source != entry.Source {
			continue
		}

		if rule.Advertiser == nil {
			if !hasFallback {
				fallback, hasFallback = rule.Distance, true
			}

			continue
		}

		if entry.LearnedFrom.IsValid() && rule.Advertiser.Permit(netip.PrefixFrom(entry.LearnedFrom, entry.LearnedFrom.BitLen())) {
			return rule.Distance, true
		}
	}

	return fallback, hasFallback
}

// DefaultDistanceRules returns the conventional distance ordering: directly
// connected and static routes outrank RIP, and redistributed routes carry
// whatever distance their originating protocol already established
// (reported as-is, not reassigned).
func DefaultDistanceRules() []DistanceRule {
	return []DistanceRule{
		{Source: SourceConnected, Distance: 0},
		{Source: SourceStatic, Distance: 1},
		{Source: SourceRIP, Distance: 120},
	}
}
