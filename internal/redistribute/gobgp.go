// Package redistribute feeds routes learned from other protocols into the
// RIP route database (RFC 2453 Section 3.9.1's "other means" entries,
// Section 1.2's "cooperation with ... a program [that] injects routes from
// another source"). The sole concrete source implemented is GoBGP's
// streaming RIB API.
package redistribute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dantte-lp/gorip/internal/rip"
)

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("gobgp redistribution client is closed")

	// ErrDialFailed indicates the gRPC dial to GoBGP failed.
	ErrDialFailed = errors.New("gobgp gRPC dial failed")

	// ErrInvalidPrefix indicates a destination the GoBGP RIB reported
	// could not be parsed as an IPv4 CIDR prefix.
	ErrInvalidPrefix = errors.New("invalid prefix from gobgp RIB")
)

// -------------------------------------------------------------------------
// Sink
// -------------------------------------------------------------------------

// Sink is the subset of *rip.RouteDB the redistribution source writes to.
type Sink interface {
	InstallLocal(entry rip.RouteEntry)
	Withdraw(prefix netip.Prefix)
}

// -------------------------------------------------------------------------
// Client Interface
// -------------------------------------------------------------------------

// Client abstracts the GoBGP gRPC operations this package needs, so it can
// be tested without a running GoBGP instance.
type Client interface {
	// ListRoutes returns the current IPv4 unicast global RIB entries.
	ListRoutes(ctx context.Context) ([]BGPRoute, error)

	// Close releases the underlying gRPC connection.
	Close() error
}

// BGPRoute is one best-path entry read from GoBGP's global RIB.
type BGPRoute struct {
	Prefix  netip.Prefix
	NextHop netip.Addr
}

// -------------------------------------------------------------------------
// GRPCClient — production GoBGP gRPC client
// -------------------------------------------------------------------------

// GRPCClient connects to GoBGP's gRPC API and implements Client.
//
// The underlying gRPC connection uses insecure credentials (plaintext)
// because GoBGP's API is typically accessed on localhost in production
// deployments.
type GRPCClient struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// GRPCClientConfig holds connection parameters for the GoBGP gRPC client.
type GRPCClientConfig struct {
	// Addr is the GoBGP gRPC listen address (e.g., "127.0.0.1:50051").
	Addr string
}

// NewGRPCClient creates a new GoBGP gRPC client and establishes a
// connection, using lazy connection establishment (grpc.NewClient does not
// block); actual connectivity is verified on the first RPC call.
func NewGRPCClient(cfg GRPCClientConfig, logger *slog.Logger) (*GRPCClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("create gobgp redistribution client: %w: empty address", ErrDialFailed)
	}

	conn, err := grpc.NewClient(
		cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create gobgp redistribution client to %s: %w: %w", cfg.Addr, ErrDialFailed, err)
	}

	client := &GRPCClient{
		conn: conn,
		api:  apipb.NewGobgpApiClient(conn),
		logger: logger.With(
			slog.String("component", "redistribute.gobgp"),
			slog.String("addr", cfg.Addr),
		),
	}

	client.logger.Info("gobgp redistribution client created", slog.String("target", cfg.Addr))

	return client, nil
}

// ListRoutes streams the IPv4 unicast global RIB and returns the best path
// per destination.
func (c *GRPCClient) ListRoutes(ctx context.Context) ([]BGPRoute, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, fmt.Errorf("list routes: %w", ErrClientClosed)
	}
	c.mu.RUnlock()

	stream, err := c.api.ListPath(ctx, &apipb.ListPathRequest{
		TableType: apipb.TableType_GLOBAL,
		Family: &apipb.Family{
			Afi:  apipb.Family_AFI_IP,
			Safi: apipb.Family_SAFI_UNICAST,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list paths: %w", err)
	}

	var routes []BGPRoute

	for {
		resp, err := stream.Recv()
		if err != nil {
			break // end of stream or transport error; caller retries on its own cadence
		}

		route, ok := bestPathFromDestination(resp.GetDestination())
		if !ok {
			continue
		}

		routes = append(routes, route)
	}

	return routes, nil
}

// bestPathFromDestination extracts the best-path prefix/next-hop pair from
// one GoBGP Destination, skipping destinations with no best path (e.g. a
// pending withdrawal still listed during convergence).
func bestPathFromDestination(dest *apipb.Destination) (BGPRoute, bool) {
	if dest == nil {
		return BGPRoute{}, false
	}

	prefix, err := netip.ParsePrefix(dest.GetPrefix())
	if err != nil {
		return BGPRoute{}, false
	}

	for _, path := range dest.GetPaths() {
		if !path.GetBest() || path.GetIsWithdraw() {
			continue
		}

		nextHop, _ := netip.ParseAddr(path.GetNeighborIp())

		return BGPRoute{Prefix: prefix, NextHop: nextHop}, true
	}

	return BGPRoute{}, false
}

// Close releases the underlying gRPC connection. After Close, all methods
// return ErrClientClosed.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gobgp redistribution client: %w", err)
	}

	c.logger.Info("gobgp redistribution client closed")

	return nil
}

// -------------------------------------------------------------------------
// Source — periodic RIB poll into the RIP route database
// -------------------------------------------------------------------------

// Source periodically polls a Client's RIB and reconciles the results into
// a Sink as SourceRedistributed entries, withdrawing any prefix that
// disappears from the RIB between polls.
type Source struct {
	client   Client
	sink     Sink
	logger   *slog.Logger
	metric   uint8
	distance uint8

	mu   sync.Mutex
	seen map[netip.Prefix]struct{}
}

// NewSource builds a Source. metric is the RIP metric assigned to every
// imported route, overriding whatever cost BGP itself assigned (RIP has no
// native concept of BGP attributes, per the redistribution design notes).
// distance is the administrative distance recorded against every imported
// route, which DistanceRule reports as-is rather than reassigning (RFC
// 2453 Section 4.4).
func NewSource(client Client, sink Sink, metric, distance uint8, logger *slog.Logger) *Source {
	return &Source{
		client:   client,
		sink:     sink,
		logger:   logger.With(slog.String("component", "redistribute.source")),
		metric:   metric,
		distance: distance,
		seen:     make(map[netip.Prefix]struct{}),
	}
}

// Poll fetches the current GoBGP RIB and reconciles it against the
// previous poll's result set: new or changed prefixes are installed,
// prefixes no longer present are withdrawn.
func (s *Source) Poll(ctx context.Context) error {
	routes, err := s.client.ListRoutes(ctx)
	if err != nil {
		return fmt.Errorf("poll gobgp RIB: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[netip.Prefix]struct{}, len(routes))

	for _, route := range routes {
		current[route.Prefix] = struct{}{}

		s.sink.InstallLocal(rip.RouteEntry{
			Prefix:   route.Prefix,
			NextHop:  route.NextHop,
			Metric:   s.metric,
			Source:   rip.SourceRedistributed,
			Distance: s.distance,
		})
	}

	for prefix := range s.seen {
		if _, ok := current[prefix]; !ok {
			s.sink.Withdraw(prefix)

			s.logger.Info("withdrew redistributed route no longer in gobgp RIB",
				slog.String("prefix", prefix.String()))
		}
	}

	s.seen = current

	return nil
}
