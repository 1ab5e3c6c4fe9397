package rip

import "net/netip"

// The interfaces in this file are the external collaborators this
// implementation consumes but does not implement: access lists, prefix
// lists, route maps, and offset lists are configuration-plane constructs
// owned elsewhere in a full router (CLI/config subsystem, SNMP agent,
// policy engine). UpdateEngine calls these at the points RFC 2453
// leaves unspecified and a real deployment fills in with policy.

// AccessList filters a prefix by a simple permit/deny decision, the
// coarsest of the three filtering collaborators (grounded on the classic
// "distribute-list" construct referenced in the supplemented features).
type AccessList interface {
	Permit(prefix netip.Prefix) bool
}

// PrefixList is a more expressive permit/deny filter matching on prefix
// length ranges as well as the address itself.
type PrefixList interface {
	Permit(prefix netip.Prefix) bool
}

// RouteMapResult is the verdict of a RouteMap evaluation: permit/deny
// plus any attribute rewrites the policy applies (e.g. metric or tag).
type RouteMapResult struct {
	Permit bool
	Metric *uint8
	Tag    *uint16
}

// RouteMap is the richest policy collaborator: it can both filter and
// rewrite a RouteEntry's attributes before it is sent or accepted.
type RouteMap interface {
	Apply(entry RouteEntry) RouteMapResult
}

// OffsetList adds a configured metric delta to routes matching a prefix
// list, applied in the outbound or inbound direction depending on how
// the collaborator was registered with UpdateEngine.
type OffsetList interface {
	Offset(prefix netip.Prefix) (delta uint8, matched bool)
}

// FilterChain is the ordered set of policy collaborators UpdateEngine
// runs an RTE through. Any entry may be nil, meaning "not configured for
// this interface/direction" per the supplemented CLI-ordering behavior
// (distribute-list, then route-map, then offset-list).
type FilterChain struct {
	Distribute AccessList
	Prefix     PrefixList
	Map        RouteMap
	Offset     OffsetList
}

// Apply runs entry through the chain in the documented order, returning
// the (possibly rewritten) entry and whether it survives. A nil stage is
// skipped.
func (fc FilterChain) Apply(entry RouteEntry) (RouteEntry, bool) {
	if fc.Distribute != nil && !fc.Distribute.Permit(entry.Prefix) {
		return entry, false
	}

	if fc.Prefix != nil && !fc.Prefix.Permit(entry.Prefix) {
		return entry, false
	}

	if fc.Map != nil {
		result := fc.Map.Apply(entry)
		if !result.Permit {
			return entry, false
		}

		if result.Metric != nil {
			entry.Metric = *result.Metric
		}

		if result.Tag != nil {
			entry.Tag = *result.Tag
		}
	}

	if fc.Offset != nil {
		if delta, matched := fc.Offset.Offset(entry.Prefix); matched {
			entry.Metric = clampMetric(int(entry.Metric) + int(delta))
		}
	}

	return entry, true
}

func clampMetric(m int) uint8 {
	if m >= MetricInfinity {
		return MetricInfinity
	}

	if m < MetricMin {
		return MetricMin
	}

	return uint8(m)
}
