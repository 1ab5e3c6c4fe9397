// Package rip implements the routing-protocol core of a RIP v1/v2 speaker
// (RFC 1058, RFC 2453): the route database, the acceptance rule of
// RFC 2453 Section 3.9.2, periodic and triggered update generation, and the
// single-threaded dispatcher that drives them from one socket and one
// timer set. Wire encoding lives in internal/ripcodec; authentication in
// internal/ripauth.
package rip
