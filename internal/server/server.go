// Package server implements the plain HTTP/JSON inspection and control API
// for the RIP daemon.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/dantte-lp/gorip/internal/rip"
)

// Sentinel errors for the server package.
var (
	// ErrMissingIdentifier indicates no identifier was provided in a route lookup request.
	ErrMissingIdentifier = errors.New("identifier must be a prefix in CIDR form")

	// ErrMissingNeighborAddr indicates no address was provided in a neighbor lookup request.
	ErrMissingNeighborAddr = errors.New("address must be provided")

	// ErrRouteNotFound indicates no route exists for the requested prefix.
	ErrRouteNotFound = errors.New("route not found")
)

// RouteDB is the subset of *rip.RouteDB the server depends on, kept small
// and explicit so handlers are trivially testable against a fake.
type RouteDB interface {
	Lookup(prefix netip.Prefix) (rip.RouteEntry, bool)
	Snapshot() []rip.RouteEntry
	Neighbors() []rip.NeighborEntry
}

// Server is a thin HTTP adapter between the JSON API and the route
// database. Each handler delegates to RouteDB for actual state.
type Server struct {
	db     RouteDB
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Server and returns its http.Handler, mounted at the
// conventional /api/v1 prefix.
func New(db RouteDB, logger *slog.Logger) (string, http.Handler) {
	s := &Server{
		db:     db,
		logger: logger.With(slog.String("component", "server")),
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/v1/routes", s.handleListRoutes)
	s.mux.HandleFunc("GET /api/v1/routes/{prefix}", s.handleGetRoute)
	s.mux.HandleFunc("GET /api/v1/neighbors", s.handleListNeighbors)

	handler := RecoveryMiddleware(s.logger)(LoggingMiddleware(s.logger)(s.mux))

	return "/api/v1/", handler
}

// routeDTO is the wire representation of a rip.RouteEntry.
type routeDTO struct {
	Prefix      string `json:"prefix"`
	NextHop     string `json:"next_hop,omitempty"`
	Metric      uint8  `json:"metric"`
	Tag         uint16 `json:"tag"`
	Interface   string `json:"interface"`
	Source      string `json:"source"`
	Distance    uint8  `json:"distance"`
	InFib       bool   `json:"in_fib"`
	LearnedFrom string `json:"learned_from,omitempty"`
	Changed     bool   `json:"changed"`
}

func routeToDTO(e rip.RouteEntry) routeDTO {
	dto := routeDTO{
		Prefix:    e.Prefix.String(),
		Metric:    e.Metric,
		Tag:       e.Tag,
		Interface: e.Interface,
		Source:    e.Source.String(),
		Distance:  e.Distance,
		InFib:     e.InFib,
		Changed:   e.Changed,
	}

	if e.NextHop.IsValid() {
		dto.NextHop = e.NextHop.String()
	}

	if e.LearnedFrom.IsValid() {
		dto.LearnedFrom = e.LearnedFrom.String()
	}

	return dto
}

// neighborDTO is the wire representation of a rip.NeighborEntry.
type neighborDTO struct {
	Address    string    `json:"address"`
	Interface  string    `json:"interface"`
	LastHeard  time.Time `json:"last_heard"`
	BadPackets uint64    `json:"bad_packets"`
	BadRoutes  uint64    `json:"bad_routes"`
}

func neighborToDTO(n rip.NeighborEntry) neighborDTO {
	return neighborDTO{
		Address:    n.Address.String(),
		Interface:  n.Interface,
		LastHeard:  n.LastHeard,
		BadPackets: n.BadPackets,
		BadRoutes:  n.BadRoutes,
	}
}

// handleListRoutes returns the full route database snapshot.
func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	s.logger.InfoContext(r.Context(), "ListRoutes called")

	entries := s.db.Snapshot()
	dtos := make([]routeDTO, 0, len(entries))

	for _, e := range entries {
		dtos = append(dtos, routeToDTO(e))
	}

	writeJSON(w, http.StatusOK, dtos)
}

// handleGetRoute returns a single route by prefix in CIDR form, e.g.
// /api/v1/routes/10.0.0.0%2F24.
func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("prefix")

	s.logger.InfoContext(r.Context(), "GetRoute called", slog.String("prefix", raw))

	if raw == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w", ErrMissingIdentifier))
		return
	}

	prefix, err := netip.ParsePrefix(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse prefix %q: %w", raw, err))
		return
	}

	entry, ok := s.db.Lookup(prefix)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("route %s: %w", prefix, ErrRouteNotFound))
		return
	}

	writeJSON(w, http.StatusOK, routeToDTO(entry))
}

// handleListNeighbors returns all currently known RIP neighbors.
func (s *Server) handleListNeighbors(w http.ResponseWriter, r *http.Request) {
	s.logger.InfoContext(r.Context(), "ListNeighbors called")

	neighbors := s.db.Neighbors()
	dtos := make([]neighborDTO, 0, len(neighbors))

	for _, n := range neighbors {
		dtos = append(dtos, neighborToDTO(n))
	}

	writeJSON(w, http.StatusOK, dtos)
}

// -------------------------------------------------------------------------
// JSON helpers
// -------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The response is already committed; nothing more to do but note
		// the failed encode for the operator.
		slog.Default().Error("server: encode response", slog.String("error", err.Error()))
	}
}

type errorDTO struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorDTO{Error: err.Error()})
}
