// Package netio implements the RIP transport: one UDP/520 socket per
// configured interface, broadcast or RIPv2 multicast (224.0.0.9)
// delivery, and the fan-in that feeds a single rip.Dispatcher loop.
package netio

import (
	"errors"
	"net/netip"
)

// Port is the well-known RIP UDP port (RFC 1058 Section 3.1, RFC 2453
// Section 4).
const Port uint16 = 520

// tos is the IP Type-of-Service value RIP datagrams carry: Internetwork
// Control, matching the convention routing daemons use for protocol
// traffic (RFC 2453 does not mandate a TOS value; this mirrors common
// implementation practice referenced in the original source material).
const tos = 0xC0

// AllRIPRoutersMulticast is the RIPv2 multicast group (RFC 2453 Section
// 4.1): "224.0.0.9".
var AllRIPRoutersMulticast = netip.MustParseAddr("224.0.0.9")

// PacketMeta carries the transport-layer facts the dispatcher needs
// alongside a received datagram's payload.
type PacketMeta struct {
	SrcAddr netip.Addr
	DstAddr netip.Addr
	IfIndex int
	IfName  string
}

// Sentinel errors.
var (
	ErrSocketClosed       = errors.New("netio: socket closed")
	ErrUnknownInterface   = errors.New("netio: no listener bound for interface")
	ErrUnexpectedConnType = errors.New("netio: unexpected connection type from ListenPacket")
)
