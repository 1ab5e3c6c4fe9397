package rip

import (
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/gorip/internal/ripcodec"
)

type fakeTransmitter struct {
	sent []sentPacket
}

type sentPacket struct {
	iface   string
	dst     netip.Addr
	payload []byte
}

func (f *fakeTransmitter) Send(iface string, dst netip.Addr, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.sent = append(f.sent, sentPacket{iface: iface, dst: dst, payload: cp})

	return nil
}

func newTestEngine(now time.Time) (*UpdateEngine, *RouteDB, *fakeTransmitter, *TimerQueue) {
	timers := NewTimerQueue()
	fib := newFakeFib()
	db := NewRouteDB(timers, fib, func() time.Time { return now }, WithTimeouts(time.Hour, time.Hour))
	tx := &fakeTransmitter{}
	engine := NewUpdateEngine(db, timers, FixedJitterSource{}, func() time.Time { return now }, tx)

	return engine, db, tx, timers
}

func TestTriggeredUpdateSendsOnlyChangedRoutes(t *testing.T) {
	now := time.Now()
	engine, db, tx, timers := newTestEngine(now)

	if err := engine.ConfigureInterface(InterfaceState{Name: "eth0", Version: ripcodec.Version2}, FilterChain{}, FilterChain{}); err != nil {
		t.Fatalf("configure interface: %v", err)
	}

	db.Learn(RouteEntry{
		Prefix: netip.MustParsePrefix("10.0.0.0/24"), Metric: 2,
		Source: SourceRIP, LearnedFrom: netip.MustParseAddr("192.0.2.1"),
	})

	timers.FireDue(now) // fires the triggered-update timer armed by the change hook

	if len(tx.sent) == 0 {
		t.Fatal("expected a triggered update to be sent")
	}

	var got ripcodec.Packet
	if err := ripcodec.Unmarshal(tx.sent[0].payload, &got); err != nil {
		t.Fatalf("unmarshal sent packet: %v", err)
	}

	if len(got.Entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(got.Entries))
	}
}

func TestSplitHorizonOmitsRouteLearnedOnSameInterface(t *testing.T) {
	iface := &InterfaceState{Name: "eth0", SplitHorizon: SplitHorizonSimple}
	entry := RouteEntry{Prefix: netip.MustParsePrefix("10.0.0.0/24"), Source: SourceRIP, Interface: "eth0"}

	_, ok := applySplitHorizon(iface, entry)
	if ok {
		t.Fatal("expected simple split horizon to omit the route")
	}
}

func TestPoisonReverseAdvertisesInfiniteMetric(t *testing.T) {
	iface := &InterfaceState{Name: "eth0", SplitHorizon: SplitHorizonPoisonReverse}
	entry := RouteEntry{Prefix: netip.MustParsePrefix("10.0.0.0/24"), Source: SourceRIP, Interface: "eth0", Metric: 3}

	poisoned, ok := applySplitHorizon(iface, entry)
	if !ok {
		t.Fatal("expected poison reverse to still advertise the route")
	}

	if poisoned.Metric != MetricInfinity {
		t.Errorf("expected infinite metric, got %d", poisoned.Metric)
	}
}

func TestProcessIncomingLearnsRouteAndAppliesInterfaceMetricOffset(t *testing.T) {
	now := time.Now()
	engine, db, _, _ := newTestEngine(now)

	if err := engine.ConfigureInterface(
		InterfaceState{Name: "eth0", Version: ripcodec.Version2, MetricOffset: 1},
		FilterChain{}, FilterChain{},
	); err != nil {
		t.Fatalf("configure interface: %v", err)
	}

	pkt := &ripcodec.Packet{
		Command: ripcodec.CommandResponse,
		Version: ripcodec.Version2,
		Entries: []ripcodec.RTE{
			{AFI: 2, Address: netip.MustParseAddr("10.1.0.0"), Mask: netip.MustParseAddr("255.255.0.0"), Metric: 1},
		},
	}

	engine.ProcessIncoming(pkt, netip.MustParseAddr("192.0.2.5"), "eth0")

	entry, ok := db.Lookup(netip.MustParsePrefix("10.1.0.0/16"))
	if !ok {
		t.Fatal("expected route to be learned")
	}

	if entry.Metric != 2 {
		t.Errorf("expected metric 1 + interface offset 1 = 2, got %d", entry.Metric)
	}
}

func TestHandleRequestWholeTableReturnsFullDump(t *testing.T) {
	now := time.Now()
	engine, db, tx, _ := newTestEngine(now)

	if err := engine.ConfigureInterface(InterfaceState{Name: "eth0", Version: ripcodec.Version2}, FilterChain{}, FilterChain{}); err != nil {
		t.Fatalf("configure interface: %v", err)
	}

	db.InstallLocal(RouteEntry{Prefix: netip.MustParsePrefix("10.0.0.0/8"), Source: SourceConnected, Metric: 1, Interface: "eth0"})

	req := &ripcodec.Packet{
		Command: ripcodec.CommandRequest,
		Version: ripcodec.Version2,
		Entries: []ripcodec.RTE{{AFI: 0, Metric: MetricInfinity}},
	}

	engine.HandleRequest(req, "eth0")

	if len(tx.sent) != 1 {
		t.Fatalf("expected one response packet, got %d", len(tx.sent))
	}

	var got ripcodec.Packet
	if err := ripcodec.Unmarshal(tx.sent[0].payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(got.Entries) != 1 {
		t.Fatalf("expected the one installed route, got %d entries", len(got.Entries))
	}
}

func TestProcessIncomingV1ClassfulInference(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name    string
		rteAddr string
		want    string
	}{
		{"same classful net inherits interface mask", "172.16.9.0", "172.16.9.0/24"},
		{"distinct classful network uses natural mask", "10.0.0.0", "10.0.0.0/8"},
		{"different class-B network uses natural mask", "172.17.0.0", "172.17.0.0/16"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, db, _, _ := newTestEngine(now)

			iface := InterfaceState{
				Name:    "eth0",
				Version: ripcodec.Version1,
				Address: netip.MustParsePrefix("172.16.5.1/24"),
			}
			if err := engine.ConfigureInterface(iface, FilterChain{}, FilterChain{}); err != nil {
				t.Fatalf("configure interface: %v", err)
			}

			pkt := &ripcodec.Packet{
				Command: ripcodec.CommandResponse,
				Version: ripcodec.Version1,
				Entries: []ripcodec.RTE{
					{AFI: 2, Address: netip.MustParseAddr(tc.rteAddr), Metric: 2},
				},
			}

			engine.ProcessIncoming(pkt, netip.MustParseAddr("172.16.5.2"), "eth0")

			want := netip.MustParsePrefix(tc.want)
			if _, ok := db.Lookup(want); !ok {
				t.Fatalf("expected inferred prefix %s to be learned", want)
			}
		})
	}
}
