//go:build linux

package netio

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// interfaceListener is one UDP/520 socket bound to a single interface via
// SO_BINDTODEVICE, optionally joined to the RIPv2 multicast group.
type interfaceListener struct {
	name string
	conn *net.UDPConn
	pc   *ipv4.PacketConn // wraps conn for multicast group membership and PKTINFO
}

// inboundDatagram is one fan-in queue entry produced by a listener's read
// goroutine and consumed by MultiInterfaceSocket.ReadFrom.
type inboundDatagram struct {
	payload []byte
	src     netip.Addr
	iface   string
}

// MultiInterfaceSocket aggregates one interfaceListener per configured
// RIP interface behind a single rip.Socket-shaped API: N goroutines do
// the blocking kernel reads (Go's net package offers no portable way to
// select(2) across multiple sockets without spinning up one goroutine
// each), funneling into one channel a single dispatcher goroutine drains
// — the RIP protocol logic itself stays single-threaded even though the
// raw I/O does not.
type MultiInterfaceSocket struct {
	mu        sync.RWMutex
	listeners map[string]*interfaceListener
	incoming  chan inboundDatagram
	deadline  time.Time
	closed    bool
	cancel    context.CancelFunc
}

// NewMultiInterfaceSocket creates an empty socket set. Call AddInterface
// for each configured RIP interface before starting the dispatcher.
func NewMultiInterfaceSocket() *MultiInterfaceSocket {
	ctx, cancel := context.WithCancel(context.Background())

	s := &MultiInterfaceSocket{
		listeners: make(map[string]*interfaceListener),
		incoming:  make(chan inboundDatagram, 256),
		cancel:    cancel,
	}

	go func() { <-ctx.Done() }() // placeholder ctx keeps cancel meaningful if extended later

	return s
}

// AddInterface binds a UDP/520 listener to ifName at addr, joining the
// RIPv2 multicast group when multicast is true (RFC 2453 Section 4.1).
// It spawns the goroutine that feeds this listener's datagrams into the
// shared fan-in channel.
func (s *MultiInterfaceSocket) AddInterface(ifName string, addr netip.Addr, multicast bool) error {
	laddr := netip.AddrPortFrom(addr, Port)

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return applyRIPSockOpts(c, ifName)
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", laddr.String())
	if err != nil {
		return fmt.Errorf("netio: listen udp4 %s%%%s: %w", laddr, ifName, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return fmt.Errorf("netio: %w", ErrUnexpectedConnType)
	}

	ipv4Conn := ipv4.NewPacketConn(conn)

	if err := ipv4Conn.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		_ = conn.Close()
		return fmt.Errorf("netio: set control message flags on %s: %w", ifName, err)
	}

	if multicast {
		iface, err := net.InterfaceByName(ifName)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("netio: lookup interface %s: %w", ifName, err)
		}

		group := &net.UDPAddr{IP: AllRIPRoutersMulticast.AsSlice()}
		if err := ipv4Conn.JoinGroup(iface, group); err != nil {
			_ = conn.Close()
			return fmt.Errorf("netio: join multicast group on %s: %w", ifName, err)
		}
	}

	listener := &interfaceListener{name: ifName, conn: conn, pc: ipv4Conn}

	s.mu.Lock()
	s.listeners[ifName] = listener
	s.mu.Unlock()

	go s.readLoop(listener)

	return nil
}

// applyRIPSockOpts configures SO_REUSEADDR, SO_REUSEPORT, SO_BROADCAST,
// IP_TOS, SO_RCVBUF, and SO_BINDTODEVICE on the listening socket (RFC 2453 Section
// 4's broadcast-or-multicast delivery model, operated per interface so
// multiple RIP-speaking interfaces can share port 520 on one host).
func applyRIPSockOpts(c syscall.RawConn, ifName string) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		intFD := int(fd)

		sockErr = setRIPSockOptsOnFD(intFD, ifName)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}

	return sockErr
}

func setRIPSockOptsOnFD(fd int, ifName string) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("set SO_REUSEPORT: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		return fmt.Errorf("set SO_BROADCAST: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		return fmt.Errorf("set IP_TOS: %w", err)
	}

	const defaultRecvBufBytes = 41600 // room for a burst of full-size RIP datagrams

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, defaultRecvBufBytes); err != nil {
		return fmt.Errorf("set SO_RCVBUF: %w", err)
	}

	if ifName != "" {
		if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifName); err != nil {
			return fmt.Errorf("set SO_BINDTODEVICE(%s): %w", ifName, err)
		}
	}

	return nil
}

// readLoop blocks on listener's socket and feeds every datagram into the
// shared incoming channel until the socket is closed.
func (s *MultiInterfaceSocket) readLoop(listener *interfaceListener) {
	buf := make([]byte, 1500)

	for {
		n, _, src, err := listener.pc.ReadFrom(buf)
		if err != nil {
			return // socket closed
		}

		srcAddr := netip.Addr{}
		if udpSrc, ok := src.(*net.UDPAddr); ok {
			if a, ok := netip.AddrFromSlice(udpSrc.IP); ok {
				srcAddr = a.Unmap()
			}
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		select {
		case s.incoming <- inboundDatagram{payload: payload, src: srcAddr, iface: listener.name}:
		default:
			// Fan-in channel full: drop rather than block a socket reader
			// indefinitely behind a slow dispatcher.
		}
	}
}

// ReadFrom satisfies rip.Socket: it blocks until a datagram arrives on
// any configured interface or the deadline set by SetReadDeadline
// elapses.
func (s *MultiInterfaceSocket) ReadFrom(buf []byte) (int, netip.Addr, string, error) {
	var timeout <-chan time.Time

	if !s.deadline.IsZero() {
		if d := time.Until(s.deadline); d > 0 {
			timer := time.NewTimer(d)
			defer timer.Stop()

			timeout = timer.C
		} else {
			timeout = closedTimeChan
		}
	}

	select {
	case dg := <-s.incoming:
		n := copy(buf, dg.payload)
		return n, dg.src, dg.iface, nil
	case <-timeout:
		return 0, netip.Addr{}, "", timeoutErr{}
	}
}

// closedTimeChan is an already-closed channel used when the deadline has
// already passed, so ReadFrom returns immediately instead of blocking.
var closedTimeChan = func() <-chan time.Time {
	ch := make(chan time.Time)
	close(ch)

	return ch
}()

type timeoutErr struct{}

func (timeoutErr) Error() string { return "netio: read deadline exceeded" }
func (timeoutErr) Timeout() bool { return true }

// SetReadDeadline satisfies rip.Socket.
func (s *MultiInterfaceSocket) SetReadDeadline(t time.Time) error {
	s.deadline = t
	return nil
}

// WriteTo satisfies rip.Socket: it sends buf to dst out the named
// interface's listener, using the RIPv2 multicast group or the
// interface's broadcast address as appropriate (dst is resolved by the
// caller — internal/rip's UpdateEngine — before this is called).
func (s *MultiInterfaceSocket) WriteTo(buf []byte, dst netip.Addr, iface string) (int, error) {
	s.mu.RLock()
	listener, ok := s.listeners[iface]
	s.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("netio: write to %s: %w", iface, ErrUnknownInterface)
	}

	n, err := listener.conn.WriteToUDP(buf, &net.UDPAddr{IP: dst.AsSlice(), Port: int(Port)})
	if err != nil {
		return n, fmt.Errorf("netio: write to %s via %s: %w", dst, iface, err)
	}

	return n, nil
}

// Close shuts down every interface listener.
func (s *MultiInterfaceSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.cancel()

	var firstErr error

	for _, listener := range s.listeners {
		if err := listener.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
