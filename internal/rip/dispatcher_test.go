package rip

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/gorip/internal/ripcodec"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeSocket serves one real datagram (if set) and then times out
// forever, simulating an idle RIP listener.
type fakeSocket struct {
	mu       sync.Mutex
	datagram []byte
	src      netip.Addr
	iface    string
	served   bool
	sent     []sentPacket
	closed   bool
}

func (f *fakeSocket) ReadFrom(buf []byte) (int, netip.Addr, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.served && f.datagram != nil {
		f.served = true
		n := copy(buf, f.datagram)

		return n, f.src, f.iface, nil
	}

	return 0, netip.Addr{}, "", timeoutError{}
}

func (f *fakeSocket) WriteTo(buf []byte, dst netip.Addr, iface string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.sent = append(f.sent, sentPacket{iface: iface, dst: dst, payload: cp})

	return len(buf), nil
}

func (f *fakeSocket) SetReadDeadline(time.Time) error { return nil }

func (f *fakeSocket) Close() error {
	f.closed = true
	return nil
}

type dispatcherTransmitter struct{ sock *fakeSocket }

func (t dispatcherTransmitter) Send(iface string, dst netip.Addr, payload []byte) error {
	_, err := t.sock.WriteTo(payload, dst, iface)
	return err
}

func TestDispatcherProcessesInboundResponseAndStops(t *testing.T) {
	now := time.Now()
	timers := NewTimerQueue()
	fib := newFakeFib()
	db := NewRouteDB(timers, fib, func() time.Time { return now }, WithTimeouts(time.Hour, time.Hour))

	sock := &fakeSocket{iface: "eth0", src: netip.MustParseAddr("192.0.2.1")}
	engine := NewUpdateEngine(db, timers, FixedJitterSource{}, func() time.Time { return now }, dispatcherTransmitter{sock: sock})

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
			{AFI: 2, Address: netip.MustParseAddr("10.2.0.0"), Mask: netip.MustParseAddr("255.255.0.0"), Metric: 3},
		},
	}

	buf := make([]byte, ripcodec.MaxPacketSize)

	n, err := ripcodec.Marshal(pkt, buf)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	sock.datagram = buf[:n]

	dispatcher := NewDispatcher(sock, db, engine, timers, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := dispatcher.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	entry, ok := db.Lookup(netip.MustParsePrefix("10.2.0.0/16"))
	if !ok {
		t.Fatal("expected the inbound route to be learned")
	}

	if entry.Metric != 4 {
		t.Errorf("expected metric 3 + configured interface offset 1 = 4, got %d", entry.Metric)
	}
}

func TestDispatcherSubmitRunsOnLoopGoroutine(t *testing.T) {
	now := time.Now()
	timers := NewTimerQueue()
	fib := newFakeFib()
	db := NewRouteDB(timers, fib, func() time.Time { return now }, WithTimeouts(time.Hour, time.Hour))

	sock := &fakeSocket{}
	engine := NewUpdateEngine(db, timers, FixedJitterSource{}, func() time.Time { return now }, dispatcherTransmitter{sock: sock})
	dispatcher := NewDispatcher(sock, db, engine, timers, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- dispatcher.Run(ctx) }()

	var ranOnLoop bool

	submitCtx, submitCancel := context.WithTimeout(context.Background(), time.Second)
	defer submitCancel()

	if err := dispatcher.Submit(submitCtx, func(time.Time) { ranOnLoop = true }); err != nil {
		t.Fatalf("submit: %v", err)
	}

	cancel()

	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}

	if !ranOnLoop {
		t.Fatal("expected submitted function to run")
	}
}
