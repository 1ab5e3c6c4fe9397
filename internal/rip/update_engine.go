package rip

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/dantte-lp/gorip/internal/ripauth"
	"github.com/dantte-lp/gorip/internal/ripcodec"
)

// Update intervals from RFC 2453 Section 3.8.
const (
	DefaultUpdateInterval     = 30 * time.Second
	DefaultTriggeredMinDelay  = 1 * time.Second
	DefaultTriggeredMaxDelay  = 5 * time.Second
)

// Transmitter is the outbound-datagram collaborator UpdateEngine calls;
// Dispatcher supplies the concrete implementation bound to the live
// socket.
type Transmitter interface {
	Send(iface string, dst netip.Addr, payload []byte) error
}

// perInterfaceAuth bundles the authentication state an interface needs
// to sign outbound packets across multiple calls.
type perInterfaceAuth struct {
	authenticator *ripauth.Authenticator
	keys          ripauth.KeyChain
	seq           ripauth.SeqState
}

// UpdateEngine generates RIP Response datagrams — periodic full dumps
// and triggered partial dumps (RFC 2453 Section 3.10) — and answers
// Request datagrams (RFC 2453 Section 3.9.1). It holds no socket of its
// own; Dispatcher feeds it inbound datagrams and it calls Transmitter
// for outbound ones.
type UpdateEngine struct {
	db     *RouteDB
	timers *TimerQueue
	jitter JitterSource
	clock  func() time.Time
	tx     Transmitter

	interfaces map[string]*InterfaceState
	outbound   map[string]FilterChain
	inbound    map[string]FilterChain
	auths      map[string]*perInterfaceAuth

	updateInterval    time.Duration
	triggeredMinDelay time.Duration
	triggeredMaxDelay time.Duration

	periodicTimer    *Timer
	triggeredPending bool
	triggeredTimer   *Timer
}

// NewUpdateEngine wires an UpdateEngine to its RouteDB, timer queue, and
// transmitter. It registers itself as db's change hook so triggered
// updates fire automatically (RFC 2453 Section 3.10.1).
func NewUpdateEngine(db *RouteDB, timers *TimerQueue, jitter JitterSource, clock func() time.Time, tx Transmitter) *UpdateEngine {
	e := &UpdateEngine{
		db:                db,
		timers:            timers,
		jitter:            jitter,
		clock:             clock,
		tx:                tx,
		interfaces:        make(map[string]*InterfaceState),
		outbound:          make(map[string]FilterChain),
		inbound:           make(map[string]FilterChain),
		auths:             make(map[string]*perInterfaceAuth),
		updateInterval:    DefaultUpdateInterval,
		triggeredMinDelay: DefaultTriggeredMinDelay,
		triggeredMaxDelay: DefaultTriggeredMaxDelay,
	}

	db.onChange = e.handleRouteChanged

	return e
}

// ConfigureInterface registers iface for update generation, along with
// its outbound/inbound filter chains and authentication scheme.
func (e *UpdateEngine) ConfigureInterface(iface InterfaceState, outbound, inbound FilterChain) error {
	e.interfaces[iface.Name] = &iface
	e.outbound[iface.Name] = outbound
	e.inbound[iface.Name] = inbound

	authenticator, err := ripauth.New(iface.AuthScheme)
	if err != nil {
		return fmt.Errorf("configure interface %s: %w", iface.Name, err)
	}

	e.auths[iface.Name] = &perInterfaceAuth{authenticator: authenticator, keys: iface.KeyChain}

	return nil
}

// StartPeriodic arms the first periodic update timer. Subsequent firings
// reschedule themselves.
func (e *UpdateEngine) StartPeriodic() {
	now := e.clock()
	e.periodicTimer = e.timers.Schedule(now, e.jitter.PeriodicJitter(e.updateInterval), e.firePeriodic)
}

func (e *UpdateEngine) firePeriodic(now time.Time) {
	for name, iface := range e.interfaces {
		if iface.Passive {
			continue
		}

		e.sendFullUpdate(name)
	}

	e.periodicTimer = e.timers.Schedule(now, e.jitter.PeriodicJitter(e.updateInterval), e.firePeriodic)
}

// handleRouteChanged is RouteDB's change hook; it arms a triggered
// update if one is not already pending (RFC 2453 Section 3.10.1: "a
// router must not send more than one triggered update in [that]
// period").
func (e *UpdateEngine) handleRouteChanged(entry *RouteEntry) {
	if e.triggeredPending || entry.Source != SourceRIP && entry.Source != SourceConnected && entry.Source != SourceStatic && entry.Source != SourceRedistributed {
		return
	}

	e.triggeredPending = true

	now := e.clock()
	delay := e.jitter.TriggeredDelay(e.triggeredMinDelay, e.triggeredMaxDelay)
	e.triggeredTimer = e.timers.Schedule(now, delay, e.fireTriggered)
}

func (e *UpdateEngine) fireTriggered(time.Time) {
	e.triggeredPending = false

	changed := make([]RouteEntry, 0)
	for _, entry := range e.db.Snapshot() {
		if entry.Changed {
			changed = append(changed, entry)
		}
	}

	if len(changed) == 0 {
		return
	}

	for name, iface := range e.interfaces {
		if iface.Passive {
			continue
		}

		e.sendEntries(name, changed)
	}

	for _, entry := range changed {
		if live, ok := e.db.routes[entry.Prefix]; ok {
			live.Changed = false
		}
	}
}

// sendFullUpdate sends every route in the table out iface (RFC 2453
// Section 3.9, periodic full-table Response).
func (e *UpdateEngine) sendFullUpdate(iface string) {
	e.sendEntries(iface, e.db.Snapshot())
}

// sendEntries applies split horizon, the outbound filter chain, and
// per-packet chunking before handing datagrams to the Transmitter.
func (e *UpdateEngine) sendEntries(ifaceName string, entries []RouteEntry) {
	iface := e.interfaces[ifaceName]
	if iface == nil {
		return
	}

	rtes := make([]ripcodec.RTE, 0, len(entries))

	for _, entry := range entries {
		visible, ok := applySplitHorizon(iface, entry)
		if !ok {
			continue
		}

		filtered, ok := e.outbound[ifaceName].Apply(visible)
		if !ok {
			continue
		}

		rtes = append(rtes, ripcodec.RTE{
			AFI:      2,
			RouteTag: filtered.Tag,
			Address:  filtered.Prefix.Addr(),
			Mask:     prefixMask(filtered.Prefix),
			NextHop:  filtered.NextHop,
			Metric:   uint32(filtered.Metric),
		})
	}

	e.transmitChunks(ifaceName, iface, rtes)
}

// applySplitHorizon implements RFC 2453 Section 3.4.3: plain split
// horizon omits routes learned on the outbound interface, poison
// reverse instead advertises them back with an infinite metric.
func applySplitHorizon(iface *InterfaceState, entry RouteEntry) (RouteEntry, bool) {
	learnedHere := entry.Source == SourceRIP && entry.Interface == iface.Name

	switch {
	case !learnedHere:
		return entry, true
	case iface.SplitHorizon == SplitHorizonOff:
		return entry, true
	case iface.SplitHorizon == SplitHorizonPoisonReverse:
		poisoned := entry
		poisoned.Metric = MetricInfinity

		return poisoned, true
	default: // SplitHorizonSimple
		return entry, false
	}
}

// transmitChunks splits rtes into RFC 2453 Section 4-sized datagrams,
// accounting for the RTE slots an active authentication scheme consumes,
// signs each one, and hands it to the Transmitter.
func (e *UpdateEngine) transmitChunks(ifaceName string, iface *InterfaceState, rtes []ripcodec.RTE) {
	auth := e.auths[ifaceName]

	maxPerPacket := ripcodec.MaxRTEsPerPkt
	if auth != nil {
		maxPerPacket -= auth.authenticator.TrailerSlots()
	}

	if maxPerPacket <= 0 {
		return
	}

	if len(rtes) == 0 {
		e.transmitOne(ifaceName, iface, auth, nil)
		return
	}

	for start := 0; start < len(rtes); start += maxPerPacket {
		end := min(start+maxPerPacket, len(rtes))
		e.transmitOne(ifaceName, iface, auth, rtes[start:end])
	}
}

func (e *UpdateEngine) transmitOne(ifaceName string, iface *InterfaceState, auth *perInterfaceAuth, rtes []ripcodec.RTE) {
	pkt := &ripcodec.Packet{
		Command: ripcodec.CommandResponse,
		Version: iface.Version,
		Entries: rtes,
	}

	buf := ripcodec.AcquireBuffer()
	defer ripcodec.ReleaseBuffer(buf)

	var (
		n   int
		err error
	)

	if auth != nil && auth.authenticator.Scheme() != ripauth.SchemeNone {
		n, err = auth.authenticator.Sign(auth.keys, pkt, *buf, &auth.seq, e.clock())
	} else {
		n, err = ripcodec.Marshal(pkt, *buf)
	}

	if err != nil {
		return
	}

	dst := multicastOrBroadcast(iface)
	_ = e.tx.Send(ifaceName, dst, (*buf)[:n])
}

// multicastOrBroadcast picks the RFC 2453 Section 4.1 destination: the
// all-RIP-routers multicast group for RIPv2 multicast-enabled
// interfaces, the interface's subnet broadcast address otherwise.
func multicastOrBroadcast(iface *InterfaceState) netip.Addr {
	if iface.Multicast && iface.Version == ripcodec.Version2 {
		return netip.MustParseAddr("224.0.0.9")
	}

	return iface.BroadcastAddr()
}

func prefixMask(p netip.Prefix) netip.Addr {
	ones := p.Bits()
	if ones < 0 {
		ones = 32
	}

	var b [4]byte

	for i := range ones {
		b[i/8] |= 1 << (7 - i%8)
	}

	return netip.AddrFrom4(b)
}

// ProcessIncoming decodes and applies one inbound Response datagram
// from neighbor on ifaceName (RFC 2453 Section 3.9.2). Malformed RTEs
// are skipped; acceptance is delegated to RouteDB.Learn.
func (e *UpdateEngine) ProcessIncoming(pkt *ripcodec.Packet, neighbor netip.Addr, ifaceName string) {
	iface := e.interfaces[ifaceName]
	if iface == nil {
		return
	}

	now := e.clock()
	e.db.TouchNeighbor(neighbor, ifaceName, now)

	for _, rte := range pkt.Entries {
		if rte.AFI != 2 {
			continue
		}

		if !isRoutableDestination(rte.Address) {
			e.db.RecordBadRoute(neighbor, ifaceName)
			continue
		}

		if rte.Metric < MetricMin || rte.Metric > MetricInfinity {
			e.db.RecordBadRoute(neighbor, ifaceName)
			continue
		}

		bits := maskBits(rte.Mask)
		if pkt.Version == ripcodec.Version1 || bits == 0 {
			bits = inferClassfulBits(rte.Address, iface.Address)
		}

		candidate := RouteEntry{
			Prefix:      netip.PrefixFrom(rte.Address, bits),
			NextHop:     e.resolveNextHop(rte.NextHop, neighbor, iface),
			Metric:      clampMetric(int(rte.Metric) + int(iface.MetricOffset)),
			Tag:         rte.RouteTag,
			Interface:   ifaceName,
			Source:      SourceRIP,
			LearnedFrom: neighbor,
		}

		filtered, ok := e.inbound[ifaceName].Apply(candidate)
		if !ok {
			e.db.RecordBadRoute(neighbor, ifaceName)
			continue
		}

		if _, reason := e.db.Learn(filtered); reason != "" {
			_ = reason // surfaced to the dispatcher's logger, not retried here
		}
	}
}

// isRoutableDestination implements RFC 2453 Section 4.3 step 1: a
// destination in net 127, a non-default net 0, or outside class A/B/C
// unicast space (multicast, reserved, or limited-broadcast) is rejected
// before the RTE is ever turned into a candidate route.
func isRoutableDestination(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}

	b := addr.As4()

	if b[0] == 127 {
		return false
	}

	if b[0] == 0 {
		return addr.IsUnspecified() // 0.0.0.0 is the default route; any other 0.x.y.z is not
	}

	return b[0] < 224 // class D (multicast) and E (reserved) start at 224
}

// resolveNextHop implements RFC 2453 Section 4.4's next-hop selection
// for one RTE:
//  1. a zero or unspecified next hop means "route via the sender";
//  2. a next hop that is not a routable unicast address, or that names
//     this router's own interface address, is unusable and falls back
//     to the sender;
//  3. a next hop on the receiving interface's subnet is on-link and is
//     used as-is;
//  4. any other next hop covered by a RIP-learned route is rewritten to
//     the advertiser of the longest such route, so the table never
//     points at an address it cannot itself resolve;
//  5. a next hop matching none of the above falls back to the sender.
func (e *UpdateEngine) resolveNextHop(declared, sender netip.Addr, iface *InterfaceState) netip.Addr {
	if !declared.IsValid() || declared.IsUnspecified() {
		return sender
	}

	if !isRoutableDestination(declared) {
		return sender
	}

	if iface.Address.IsValid() && declared == iface.Address.Addr() {
		return sender
	}

	if iface.Address.IsValid() && iface.Address.Contains(declared) {
		return declared
	}

	bestBits := -1
	via := sender

	for prefix, route := range e.db.routes {
		if route.Source == SourceRIP && prefix.Bits() > bestBits && prefix.Contains(declared) {
			bestBits, via = prefix.Bits(), route.LearnedFrom
		}
	}

	return via
}

// inferClassfulBits implements RFC 1058 Appendix A's v1 mask inference:
// a v1 RTE carries no mask, so the prefix length is the interface's own
// subnet mask if the destination shares the interface's classful
// network, or the natural classful mask otherwise.
func inferClassfulBits(addr netip.Addr, ifaceAddr netip.Prefix) int {
	natural := classfulBits(addr)

	if ifaceAddr.IsValid() {
		network := netip.PrefixFrom(addr, natural).Masked()
		ifaceNetwork := netip.PrefixFrom(ifaceAddr.Addr(), natural).Masked()

		if network.Addr() == ifaceNetwork.Addr() {
			return ifaceAddr.Bits()
		}
	}

	return natural
}

// classfulBits returns the natural (class A/B/C) mask length for addr,
// falling back to /32 for class D/E addresses.
func classfulBits(addr netip.Addr) int {
	if !addr.Is4() {
		return 32
	}

	b := addr.As4()

	switch {
	case b[0] < 128:
		return 8
	case b[0] < 192:
		return 16
	case b[0] < 224:
		return 24
	default:
		return 32
	}
}

func maskBits(mask netip.Addr) int {
	if !mask.IsValid() {
		return 32
	}

	b := mask.As4()
	bits := 0

	for _, octet := range b {
		for i := 7; i >= 0; i-- {
			if octet&(1<<i) == 0 {
				return bits
			}

			bits++
		}
	}

	return bits
}

// HandleRequest implements RFC 2453 Section 3.9.1: a single family-0
// entry with metric infinity requests the whole table; otherwise each
// listed prefix is answered with its current metric (or infinity if
// unknown).
func (e *UpdateEngine) HandleRequest(pkt *ripcodec.Packet, ifaceName string) {
	iface := e.interfaces[ifaceName]
	if iface == nil {
		return
	}

	if len(pkt.Entries) == 1 && pkt.Entries[0].AFI == 0 && pkt.Entries[0].Metric == MetricInfinity {
		e.sendFullUpdate(ifaceName)
		return
	}

	rtes := make([]ripcodec.RTE, 0, len(pkt.Entries))

	for _, req := range pkt.Entries {
		prefix := netip.PrefixFrom(req.Address, maskBits(req.Mask))

		metric := uint32(MetricInfinity)
		if entry, ok := e.db.Lookup(prefix); ok {
			metric = uint32(entry.Metric)
		}

		rtes = append(rtes, ripcodec.RTE{
			AFI:      2,
			RouteTag: req.RouteTag,
			Address:  req.Address,
			Mask:     req.Mask,
			NextHop:  netip.Addr{},
			Metric:   metric,
		})
	}

	e.transmitChunks(ifaceName, iface, rtes)
}
