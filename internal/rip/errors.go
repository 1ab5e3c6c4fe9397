package rip

import "errors"

// Error taxonomy for the dispatcher's classification of failures it
// encounters while running. Each category maps to a distinct logging and
// metrics disposition; none of them are fatal to the process except
// ErrFatal, which the dispatcher's caller should treat as a reason to
// restart the daemon.
var (
	// ErrPacketMalformed marks a datagram that failed ripcodec.Examine
	// or ripcodec.Unmarshal. The datagram is dropped and counted; the
	// neighbor relationship is not affected.
	ErrPacketMalformed = errors.New("rip: malformed packet")

	// ErrAuthFailure marks a datagram that parsed but failed
	// authentication. Dropped and counted distinctly from malformed
	// packets so operators can tell a wire bug from a key mismatch.
	ErrAuthFailure = errors.New("rip: authentication failure")

	// ErrRouteRejected marks an RTE that RFC 2453 Section 3.9.2 says
	// must not be installed or must not replace the current route.
	ErrRouteRejected = errors.New("rip: route rejected by acceptance rule")

	// ErrFibUnavailable marks a failure to reach the FIB sink
	// collaborator; updates continue to be generated and accepted into
	// RouteDB, but the kernel/forwarding plane falls out of sync until
	// it clears.
	ErrFibUnavailable = errors.New("rip: fib sink unavailable")

	// ErrFatal marks a condition the dispatcher cannot recover from on
	// its own (e.g. the listening socket closed unexpectedly).
	ErrFatal = errors.New("rip: fatal dispatcher error")

	// ErrUnknownInterface is returned when an operation names an
	// interface with no configured InterfaceState.
	ErrUnknownInterface = errors.New("rip: unknown interface")

	// ErrUnknownNeighbor is returned when an operation names a neighbor
	// address RouteDB has no NeighborEntry for.
	ErrUnknownNeighbor = errors.New("rip: unknown neighbor")
)
