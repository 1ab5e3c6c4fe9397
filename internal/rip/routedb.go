package rip

import (
	"net/netip"
	"time"
)

// Timer durations from RFC 2453 Section 3.8 ("Timers").
const (
	DefaultTimeoutInterval = 180 * time.Second
	DefaultGarbageInterval = 120 * time.Second
)

// FibSink is the external collaborator RouteDB pushes forwarding-table
// changes to. It is the only interface this package needs to a kernel or
// userspace FIB; install/withdraw are the sole two operations RFC 2453
// requires of the forwarding plane (no incremental reconciliation beyond
// add/delete, per the design notes).
type FibSink interface {
	InstallRoute(entry RouteEntry) error
	WithdrawRoute(prefix netip.Prefix) error
}

// RouteDB holds the routing table and neighbor table for one RIP
// instance. It is not safe for concurrent use: Dispatcher owns the only
// goroutine that touches it, by design (see the dispatcher's package
// doc for the single-threaded-event-loop rationale).
type RouteDB struct {
	routes    map[netip.Prefix]*RouteEntry
	neighbors map[netip.Addr]*NeighborEntry
	timers    *TimerQueue
	clock     func() time.Time
	fib       FibSink
	distances []DistanceRule

	timeoutInterval time.Duration
	garbageInterval time.Duration

	// onChange is invoked whenever a RouteEntry is installed, updated,
	// or scheduled for withdrawal, so UpdateEngine can mark it for the
	// next triggered update (RFC 2453 Section 3.10.1).
	onChange func(*RouteEntry)
}

// RouteDBOption configures optional RouteDB behavior.
type RouteDBOption func(*RouteDB)

// WithTimeouts overrides the default timeout/garbage-collection
// intervals, primarily for tests that cannot afford to wait 180s.
func WithTimeouts(timeout, garbage time.Duration) RouteDBOption {
	return func(db *RouteDB) {
		db.timeoutInterval = timeout
		db.garbageInterval = garbage
	}
}

// WithChangeHook registers fn to be called on every install/update/
// withdraw-scheduling event.
func WithChangeHook(fn func(*RouteEntry)) RouteDBOption {
	return func(db *RouteDB) { db.onChange = fn }
}

// NewRouteDB builds a RouteDB backed by the given TimerQueue and FibSink.
// clock lets tests substitute a fake time source; pass time.Now in
// production.
func NewRouteDB(timers *TimerQueue, fib FibSink, clock func() time.Time, opts ...RouteDBOption) *RouteDB {
	db := &RouteDB{
		routes:          make(map[netip.Prefix]*RouteEntry),
		neighbors:       make(map[netip.Addr]*NeighborEntry),
		timers:          timers,
		clock:           clock,
		fib:             fib,
		distances:       DefaultDistanceRules(),
		timeoutInterval: DefaultTimeoutInterval,
		garbageInterval: DefaultGarbageInterval,
	}

	for _, opt := range opts {
		opt(db)
	}

	return db
}

// Lookup returns the current best entry for prefix, if any.
func (db *RouteDB) Lookup(prefix netip.Prefix) (RouteEntry, bool) {
	e, ok := db.routes[prefix]
	if !ok {
		return RouteEntry{}, false
	}

	return *e, true
}

// Snapshot returns a copy of every entry currently in the table, in no
// particular order.
func (db *RouteDB) Snapshot() []RouteEntry {
	out := make([]RouteEntry, 0, len(db.routes))
	for _, e := range db.routes {
		out = append(out, *e)
	}

	return out
}

// acceptanceDecision is the pure, side-effect-free verdict computed by
// evaluateCandidate. Keeping this a plain value (rather than mutating
// RouteDB state directly) makes RFC 2453 Section 3.9.2's rule testable
// in isolation from timers and the FIB.
type acceptanceDecision struct {
	accept       bool
	refreshTimer bool // true if this is the same advertiser resending its current route
	displace     bool // true if candidate takes the prefix from a lower-preference existing entry
	reason       string
}

// evaluateCandidate implements RFC 2453 Section 3.9.2's route acceptance
// rule. existing is nil if the prefix is not currently in the table.
func evaluateCandidate(existing *RouteEntry, candidate RouteEntry) acceptanceDecision {
	if existing == nil {
		if candidate.Metric >= MetricInfinity {
			return acceptanceDecision{accept: false, reason: "no existing route and candidate metric is infinite"}
		}

		return acceptanceDecision{accept: true, reason: "new destination"}
	}

	fromSameAdvertiser := existing.Source == SourceRIP &&
		candidate.Source == SourceRIP &&
		existing.LearnedFrom == candidate.LearnedFrom

	if fromSameAdvertiser {
		// RFC 2453 Section 3.9.2: "if the new metric is different, or if
		// it is the same as the one currently installed, reinitialize
		// the timeout". Always accept from the current advertiser so
		// its timer is refreshed.
		return acceptanceDecision{accept: true, refreshTimer: true, reason: "refresh from current advertiser"}
	}

	if existing.Source != SourceRIP {
		// RFC 2453 Section 4.4: a route from another source is displaced
		// only by a candidate with a strictly lower administrative
		// distance (DistanceFor), never merely by being RIP-learned.
		if candidate.Distance < existing.Distance {
			return acceptanceDecision{accept: true, displace: true, reason: "lower administrative distance displaces existing route"}
		}

		return acceptanceDecision{accept: false, reason: "existing route has equal or lower administrative distance"}
	}

	if candidate.Metric < existing.Metric {
		return acceptanceDecision{accept: true, reason: "strictly better metric"}
	}

	return acceptanceDecision{accept: false, reason: "not better than existing route from a different advertiser"}
}

// Learn applies one inbound RTE-derived candidate to the table, running
// RFC 2453 Section 3.9.2's acceptance rule and (on acceptance) arming the
// timeout timer and clearing any garbage timer. It returns whether the
// candidate was accepted and why not, for logging.
func (db *RouteDB) Learn(candidate RouteEntry) (accepted bool, reason string) {
	existing := db.routes[candidate.Prefix]

	if dist, ok := DistanceFor(db.distances, candidate); ok {
		candidate.Distance = dist
	}

	decision := evaluateCandidate(existing, candidate)
	if !decision.accept {
		return false, decision.reason
	}

	now := db.clock()

	if decision.displace {
		if err := db.fib.WithdrawRoute(existing.Prefix); err == nil {
			existing.InFib = false
		}
	}

	if existing == nil {
		existing = &RouteEntry{}
		db.routes[candidate.Prefix] = existing
	}

	metricChanged := existing.Metric != candidate.Metric || existing.NextHop != candidate.NextHop

	existing.Prefix = candidate.Prefix
	existing.NextHop = candidate.NextHop
	existing.Metric = candidate.Metric
	existing.Tag = candidate.Tag
	existing.Interface = candidate.Interface
	existing.Source = SourceRIP
	existing.Distance = candidate.Distance
	existing.LearnedFrom = candidate.LearnedFrom

	db.armTimeout(existing, now)

	if metricChanged || !decision.refreshTimer {
		existing.Changed = true

		if existing.Metric >= MetricInfinity {
			db.armGarbage(existing, now)
		} else if err := db.fib.InstallRoute(*existing); err == nil {
			existing.InFib = true

			// Garbage timer only applies to routes becoming
			// unreachable; a freshly-improved route has none pending.
			existing.garbageTimer.Cancel()
			existing.garbageTimer = nil
		}

		db.notify(existing)
	}

	return true, decision.reason
}

// armTimeout (re)starts the RFC 2453 Section 3.8/3.9.3 timeout timer: if
// it fires without a refresh, the route's metric is set to infinity and
// the garbage-collection timer begins.
func (db *RouteDB) armTimeout(entry *RouteEntry, now time.Time) {
	entry.timeoutTimer.Cancel()

	prefix := entry.Prefix
	entry.timeoutTimer = db.timers.Schedule(now, db.timeoutInterval, func(fireTime time.Time) {
		db.expireRoute(prefix, fireTime)
	})
}

// expireRoute implements the RFC 2453 Section 3.8 timeout action: set
// the metric to infinity, mark changed for the next triggered update,
// and start the garbage-collection timer.
func (db *RouteDB) expireRoute(prefix netip.Prefix, now time.Time) {
	entry, ok := db.routes[prefix]
	if !ok {
		return
	}

	entry.Metric = MetricInfinity
	entry.Changed = true
	db.armGarbage(entry, now)
	db.notify(entry)
}

// armGarbage (re)starts the RFC 2453 Section 3.8 garbage-collection
// timer, which deletes the entry outright when it fires.
func (db *RouteDB) armGarbage(entry *RouteEntry, now time.Time) {
	if entry.garbageTimer != nil {
		return // already counting down to deletion
	}

	prefix := entry.Prefix
	entry.garbageTimer = db.timers.Schedule(now, db.garbageInterval, func(time.Time) {
		db.reap(prefix)
	})
}

// reap deletes a fully garbage-collected entry from the table and the
// FIB sink.
func (db *RouteDB) reap(prefix netip.Prefix) {
	entry, ok := db.routes[prefix]
	if !ok {
		return
	}

	delete(db.routes, prefix)

	if err := db.fib.WithdrawRoute(prefix); err != nil {
		// The FibSink error is dropped here: RouteDB has no logger, does
		// not retry, and does not report it to any caller.
		_ = err
	} else {
		entry.InFib = false
	}
}

// Withdraw immediately marks prefix unreachable and starts garbage
// collection, used when an interface goes down or a redistribution
// source retracts a route (RFC 2453 Section 3.9.1's "infinite metric"
// convention, applied administratively instead of via timeout).
func (db *RouteDB) Withdraw(prefix netip.Prefix) {
	entry, ok := db.routes[prefix]
	if !ok {
		return
	}

	entry.timeoutTimer.Cancel()
	entry.timeoutTimer = nil
	entry.Metric = MetricInfinity
	entry.Changed = true

	db.armGarbage(entry, db.clock())
	db.notify(entry)
}

// InstallLocal adds or refreshes a Connected/Static/Redistributed entry,
// bypassing the RIP acceptance rule entirely (that rule only governs
// RIP-sourced candidates per RFC 2453 Section 3.9.2).
func (db *RouteDB) InstallLocal(entry RouteEntry) {
	if dist, ok := DistanceFor(db.distances, entry); ok {
		entry.Distance = dist
	}

	existing, ok := db.routes[entry.Prefix]
	if !ok {
		existing = &RouteEntry{}
		db.routes[entry.Prefix] = existing
	}

	*existing = entry
	existing.Changed = true

	if err := db.fib.InstallRoute(*existing); err != nil {
		existing.InFib = false
	} else {
		existing.InFib = true
	}

	db.notify(existing)
}

func (db *RouteDB) notify(entry *RouteEntry) {
	if db.onChange != nil {
		db.onChange(entry)
	}
}

// TouchNeighbor records that a packet was heard from addr on iface,
// creating a NeighborEntry if this is the first sighting.
func (db *RouteDB) TouchNeighbor(addr netip.Addr, iface string, now time.Time) {
	n, ok := db.neighbors[addr]
	if !ok {
		n = &NeighborEntry{Address: addr, Interface: iface}
		db.neighbors[addr] = n
	}

	n.LastHeard = now
}

// RecordBadPacket increments the bad-packet counter for a neighbor,
// creating the entry if needed (RFC 2453 Section 4.5's per-neighbor
// diagnostic counters).
func (db *RouteDB) RecordBadPacket(addr netip.Addr, iface string) {
	n, ok := db.neighbors[addr]
	if !ok {
		n = &NeighborEntry{Address: addr, Interface: iface}
		db.neighbors[addr] = n
	}

	n.BadPackets++
}

// RecordBadRoute increments the bad-route counter for a neighbor.
func (db *RouteDB) RecordBadRoute(addr netip.Addr, iface string) {
	n, ok := db.neighbors[addr]
	if !ok {
		n = &NeighborEntry{Address: addr, Interface: iface}
		db.neighbors[addr] = n
	}

	n.BadRoutes++
}

// Neighbors returns a copy of the neighbor table.
func (db *RouteDB) Neighbors() []NeighborEntry {
	out := make([]NeighborEntry, 0, len(db.neighbors))
	for _, n := range db.neighbors {
		out = append(out, *n)
	}

	return out
}
