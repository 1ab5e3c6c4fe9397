package redistribute_test

import (
	"context"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/dantte-lp/gorip/internal/redistribute"
	"github.com/dantte-lp/gorip/internal/rip"
)

type fakeClient struct {
	routes []redistribute.BGPRoute
}

func (f *fakeClient) ListRoutes(context.Context) ([]redistribute.BGPRoute, error) {
	return f.routes, nil
}

func (f *fakeClient) Close() error { return nil }

type fakeSink struct {
	installed map[netip.Prefix]rip.RouteEntry
	withdrawn map[netip.Prefix]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		installed: make(map[netip.Prefix]rip.RouteEntry),
		withdrawn: make(map[netip.Prefix]bool),
	}
}

func (f *fakeSink) InstallLocal(entry rip.RouteEntry) {
	f.installed[entry.Prefix] = entry
}

func (f *fakeSink) Withdraw(prefix netip.Prefix) {
	f.withdrawn[prefix] = true
}

func TestSourcePollInstallsRoutes(t *testing.T) {
	t.Parallel()

	prefix := netip.MustParsePrefix("10.0.0.0/24")
	client := &fakeClient{routes: []redistribute.BGPRoute{
		{Prefix: prefix, NextHop: netip.MustParseAddr("192.0.2.1")},
	}}
	sink := newFakeSink()
	logger := slog.New(slog.DiscardHandler)

	src := redistribute.NewSource(client, sink, 5, 20, logger)

	if err := src.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	entry, ok := sink.installed[prefix]
	if !ok {
		t.Fatalf("prefix %s not installed", prefix)
	}

	if entry.Metric != 5 {
		t.Errorf("Metric = %d, want 5", entry.Metric)
	}

	if entry.Source != rip.SourceRedistributed {
		t.Errorf("Source = %s, want redistributed", entry.Source)
	}
}

func TestSourcePollWithdrawsDisappearedRoutes(t *testing.T) {
	t.Parallel()

	prefixA := netip.MustParsePrefix("10.0.0.0/24")
	prefixB := netip.MustParsePrefix("10.0.1.0/24")

	client := &fakeClient{routes: []redistribute.BGPRoute{{Prefix: prefixA}, {Prefix: prefixB}}}
	sink := newFakeSink()
	logger := slog.New(slog.DiscardHandler)

	src := redistribute.NewSource(client, sink, 5, 20, logger)

	if err := src.Poll(context.Background()); err != nil {
		t.Fatalf("first Poll: %v", err)
	}

	client.routes = []redistribute.BGPRoute{{Prefix: prefixA}}

	if err := src.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll: %v", err)
	}

	if !sink.withdrawn[prefixB] {
		t.Errorf("expected prefix %s withdrawn after disappearing from RIB", prefixB)
	}

	if sink.withdrawn[prefixA] {
		t.Errorf("prefix %s should not be withdrawn, still present", prefixA)
	}
}
