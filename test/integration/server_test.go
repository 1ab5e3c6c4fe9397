//go:build integration

package integration_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/gorip/internal/rip"
	"github.com/dantte-lp/gorip/internal/server"
)

type serverRouteDTO struct {
	Prefix    string `json:"prefix"`
	NextHop   string `json:"next_hop,omitempty"`
	Metric    uint8  `json:"metric"`
	Interface string `json:"interface"`
}

func TestServerRouteLifecycle(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	now := time.Now()
	timers := rip.NewTimerQueue()
	fib := newDiscardFib()
	db := rip.NewRouteDB(timers, fib, func() time.Time { return now },
		rip.WithTimeouts(time.Hour, time.Hour))

	path, handler := server.New(db, logger)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	prefix := netip.MustParsePrefix("10.1.0.0/16")
	db.InstallLocal(rip.RouteEntry{
		Prefix:    prefix,
		Metric:    1,
		Interface: "eth0",
		Source:    rip.SourceConnected,
	})

	// --- ListRoutes: expect 1 entry ---
	resp, err := http.Get(srv.URL + "/api/v1/routes")
	if err != nil {
		t.Fatalf("GET /api/v1/routes: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ListRoutes status = %d, want 200", resp.StatusCode)
	}

	var routes []serverRouteDTO
	if err := json.NewDecoder(resp.Body).Decode(&routes); err != nil {
		t.Fatalf("decode routes: %v", err)
	}

	if len(routes) != 1 {
		t.Fatalf("ListRoutes count = %d, want 1", len(routes))
	}

	if routes[0].Prefix != prefix.String() {
		t.Errorf("ListRoutes prefix = %q, want %q", routes[0].Prefix, prefix.String())
	}

	// --- GetRoute by prefix ---
	resp, err = http.Get(srv.URL + "/api/v1/routes/" + "10.1.0.0%2F16")
	if err != nil {
		t.Fatalf("GET /api/v1/routes/{prefix}: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GetRoute status = %d, want 200", resp.StatusCode)
	}

	var got serverRouteDTO
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode route: %v", err)
	}

	if got.Metric != 1 {
		t.Errorf("GetRoute metric = %d, want 1", got.Metric)
	}

	// --- GetRoute: unknown prefix returns 404 ---
	resp, err = http.Get(srv.URL + "/api/v1/routes/" + "192.0.2.0%2F24")
	if err != nil {
		t.Fatalf("GET unknown route: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GetRoute unknown prefix status = %d, want 404", resp.StatusCode)
	}

	// --- Withdraw: route still appears with metric 16 until garbage-collected ---
	db.Withdraw(prefix)

	resp, err = http.Get(srv.URL + "/api/v1/routes/" + "10.1.0.0%2F16")
	if err != nil {
		t.Fatalf("GET withdrawn route: %v", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode withdrawn route: %v", err)
	}

	if got.Metric != rip.MetricInfinity {
		t.Errorf("withdrawn route metric = %d, want %d", got.Metric, rip.MetricInfinity)
	}
}

func TestServerNeighborList(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	now := time.Now()
	timers := rip.NewTimerQueue()
	fib := newDiscardFib()
	db := rip.NewRouteDB(timers, fib, func() time.Time { return now },
		rip.WithTimeouts(time.Hour, time.Hour))

	path, handler := server.New(db, logger)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	neighbor := netip.MustParseAddr("192.0.2.1")
	db.TouchNeighbor(neighbor, "eth0", now)

	resp, err := http.Get(srv.URL + "/api/v1/neighbors")
	if err != nil {
		t.Fatalf("GET /api/v1/neighbors: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ListNeighbors status = %d, want 200", resp.StatusCode)
	}

	var neighbors []struct {
		Address   string `json:"address"`
		Interface string `json:"interface"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&neighbors); err != nil {
		t.Fatalf("decode neighbors: %v", err)
	}

	if len(neighbors) != 1 {
		t.Fatalf("ListNeighbors count = %d, want 1", len(neighbors))
	}

	if neighbors[0].Address != neighbor.String() {
		t.Errorf("neighbor address = %q, want %q", neighbors[0].Address, neighbor.String())
	}
}

// discardFib is a FibSink that accepts everything and records nothing,
// used by the HTTP server tests where FIB programming is out of scope.
type discardFib struct{}

func newDiscardFib() discardFib { return discardFib{} }

func (discardFib) InstallRoute(rip.RouteEntry) error { return nil }
func (discardFib) WithdrawRoute(netip.Prefix) error  { return nil }
