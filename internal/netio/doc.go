// Package netio provides the multi-interface RIP socket abstraction.
//
// The Linux implementation uses golang.org/x/net/ipv4 and golang.org/x/sys/unix
// to bind one UDP/520 listener per configured interface (SO_BINDTODEVICE),
// optionally joining the All-RIP-Routers multicast group for RIPv2.
package netio
