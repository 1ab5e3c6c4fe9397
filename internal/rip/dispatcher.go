package rip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/dantte-lp/gorip/internal/ripauth"
	"github.com/dantte-lp/gorip/internal/ripcodec"
)

// Socket is the minimal transport Dispatcher needs: a single UDP/520
// listener capable of reporting which interface a datagram arrived on
// (needed for split horizon and per-interface authentication) and of
// sending on a named interface. internal/netio's ripsock_linux.go
// supplies the concrete implementation.
type Socket interface {
	ReadFrom(buf []byte) (n int, src netip.Addr, iface string, err error)
	WriteTo(buf []byte, dst netip.Addr, iface string) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// event is an internal command processed between socket reads: Dispatcher
// is single-threaded, so anything another goroutine wants done (a config
// reload, an interface state change, a shutdown request) is queued here
// rather than touching RouteDB/UpdateEngine directly.
type event struct {
	fn   func(now time.Time)
	done chan struct{}
}

// Dispatcher is the single-threaded cooperative event loop that owns the
// RIP socket, the timer queue, and an internal event queue. Unlike the
// one-goroutine-per-neighbor model common in this codebase's other
// protocol implementations, RIP deliberately serializes everything
// through one loop: RFC 2453 has no per-neighbor state machine to
// parallelize, and a single loop makes the Section 3.9.2 acceptance
// rule trivially race-free against concurrent timer firings.
type Dispatcher struct {
	sock    Socket
	db      *RouteDB
	engine  *UpdateEngine
	timers  *TimerQueue
	logger  *slog.Logger
	events  chan event
	onError func(error)

	readBufSize int
}

// NewDispatcher wires a Dispatcher to its socket, route database, update
// engine, and timer queue.
func NewDispatcher(sock Socket, db *RouteDB, engine *UpdateEngine, timers *TimerQueue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sock:        sock,
		db:          db,
		engine:      engine,
		timers:      timers,
		logger:      logger,
		events:      make(chan event, 64),
		readBufSize: ripcodec.MaxPacketSize,
	}
}

// OnError registers a callback invoked for every classified error the
// loop encounters (see errors.go). It is optional; nil errors are never
// passed.
func (d *Dispatcher) OnError(fn func(error)) {
	d.onError = fn
}

// Submit queues fn to run on the dispatcher goroutine at the next loop
// iteration and blocks until it has run. Used by the config-reload and
// CLI/API paths to touch RouteDB/UpdateEngine state safely.
func (d *Dispatcher) Submit(ctx context.Context, fn func(now time.Time)) error {
	done := make(chan struct{})

	select {
	case d.events <- event{fn: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the event loop until ctx is cancelled or an ErrFatal-class
// error occurs. Each iteration: drain pending events, fire due timers,
// then block on a socket read bounded by the next timer deadline.
func (d *Dispatcher) Run(ctx context.Context) error {
	buf := make([]byte, d.readBufSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		d.drainEvents()
		d.timers.FireDue(time.Now())

		deadline, ok := d.timers.NextDeadline()
		if !ok {
			deadline = time.Now().Add(time.Second) // poll periodically for ctx cancellation/events
		}

		if err := d.sock.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("dispatcher: set read deadline: %w", ErrFatal)
		}

		n, src, iface, err := d.sock.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}

			if ctx.Err() != nil {
				return nil
			}

			d.reportError(fmt.Errorf("dispatcher: socket read: %w", ErrFatal))

			return err
		}

		d.handleDatagram(buf[:n], src, iface)
	}
}

func (d *Dispatcher) drainEvents() {
	for {
		select {
		case ev := <-d.events:
			ev.fn(time.Now())
			close(ev.done)
		default:
			return
		}
	}
}

func (d *Dispatcher) handleDatagram(buf []byte, src netip.Addr, iface string) {
	if err := ripcodec.Examine(buf, false); err != nil {
		d.db.RecordBadPacket(src, iface)
		d.reportError(fmt.Errorf("%w: %w", ErrPacketMalformed, err))

		return
	}

	var pkt ripcodec.Packet
	if err := ripcodec.Unmarshal(buf, &pkt); err != nil {
		d.db.RecordBadPacket(src, iface)
		d.reportError(fmt.Errorf("%w: %w", ErrPacketMalformed, err))

		return
	}

	if err := d.authenticate(&pkt, buf, iface); err != nil {
		d.db.RecordBadPacket(src, iface)
		d.reportError(fmt.Errorf("%w: %w", ErrAuthFailure, err))

		return
	}

	switch pkt.Command {
	case ripcodec.CommandRequest:
		d.engine.HandleRequest(&pkt, iface)
	case ripcodec.CommandResponse:
		d.engine.ProcessIncoming(&pkt, src, iface)
	}
}

// authenticate verifies pkt against the receiving interface's configured
// scheme. A nil or SchemeNone authenticator always passes.
func (d *Dispatcher) authenticate(pkt *ripcodec.Packet, buf []byte, iface string) error {
	auth, ok := d.engine.auths[iface]
	if !ok || auth.authenticator.Scheme() == ripauth.SchemeNone {
		return nil
	}

	return auth.authenticator.Verify(auth.keys, pkt, buf, len(buf), &auth.seq, time.Now())
}

func (d *Dispatcher) reportError(err error) {
	if d.onError != nil {
		d.onError(err)
	}

	if d.logger != nil {
		d.logger.Warn("rip dispatcher error", "error", err)
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
