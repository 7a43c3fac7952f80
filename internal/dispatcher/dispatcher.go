// Package dispatcher implements the per-call send/wait/retry state
// machine spec.md §4.5 describes: pick a backend, send one datagram,
// wait up to its adaptive RTO, and on a timeout, error or empty reply
// rebind the socket and try again. A datagram from any other source is
// ignored and the wait continues on the same socket.
//
// Grounded on original_source/src/zeromq/engine.hpp's rsa_op (the
// poll/recv loop) and worker.cpp for the wire-level shape of a reply.
// The socket-rebind-on-every-failure rule is this package's central
// invariant: because UDP replies are unauthenticated, a late datagram
// from a previous attempt could otherwise be mistaken for the current
// one. A fresh ephemeral port makes the kernel drop stragglers for us.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/PayRpc/accessl-dispatch/internal/backend"
	"github.com/PayRpc/accessl-dispatch/internal/wire"
)

// ErrNoServers is returned when the backend table has no viable
// candidate left to try (empty, every weight decayed to zero, or every
// sampled candidate is breaker-open).
var ErrNoServers = errors.New("dispatcher: no servers available")

// ErrWallClockExceeded is returned when a per-call deadline set via
// context elapses mid-retry. spec.md §4.5 leaves this to implementations
// that need a bound in latency-sensitive paths; we honor ctx's deadline
// between attempts rather than imposing one of our own.
var ErrWallClockExceeded = errors.New("dispatcher: wall-clock budget exceeded")

// maxReadBuf is sized for the largest reply datagram the wire protocol
// allows.
const maxReadBuf = wire.MaxDatagramBytes

// Dispatcher issues RSA operations against the backend pool, retrying
// on timeout, read/send error or empty reply until the table runs out
// of servers or the caller's context is done. Stale or wrong-source
// datagrams are skipped within an attempt, not retried.
type Dispatcher struct {
	table  *backend.Table
	logger *zap.Logger
	dial   func() (net.PacketConn, error)
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithLogger attaches a logger; defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New returns a Dispatcher backed by table.
func New(table *backend.Table, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table:  table,
		logger: zap.NewNop(),
		dial:   func() (net.PacketConn, error) { return net.ListenPacket("udp4", ":0") },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RsaOp performs one RSA operation, retrying across the backend pool
// per spec.md §4.5's state machine. ctx bounds the whole call; an
// attempt's own deadline is always the narrower of ctx's deadline and
// the chosen backend's current RTO.
func (d *Dispatcher) RsaOp(ctx context.Context, fp wire.Fingerprint, op wire.Op, pad wire.Padding, input []byte) ([]byte, error) {
	frame, err := wire.Encode(wire.Request{Op: op, Fingerprint: fp, Padding: pad, Plaintext: input})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: encode request: %w", err)
	}

	conn, err := d.dial()
	if err != nil {
		return nil, fmt.Errorf("dispatcher: open socket: %w", err)
	}
	defer conn.Close()

	for {
		if err := ctx.Err(); err != nil {
			return nil, ErrWallClockExceeded
		}

		be, ok := d.table.Choose()
		if !ok {
			return nil, ErrNoServers
		}

		reply, err := d.attempt(ctx, conn, be, frame)
		if err == nil {
			return reply, nil
		}

		d.logger.Debug("attempt failed, retrying",
			zap.Uint64("backend_id", uint64(be.ID)),
			zap.Error(err),
		)

		rebound, rebindErr := d.dial()
		if rebindErr != nil {
			return nil, fmt.Errorf("dispatcher: rebind socket: %w", rebindErr)
		}
		conn.Close()
		conn = rebound
	}
}

// attempt runs exactly one Init -> Sent -> (Received | Timeout | Error |
// StaleIgnored) cycle against one already-open socket. StaleIgnored
// re-polls the same deadline on the same socket rather than returning,
// since the chosen backend and in-flight request are still valid. Only
// a genuine deadline expiry counts as Timeout and decays the backend's
// weight via ReportTimeout; any other read error still aborts the
// attempt (the caller rebinds and retries) but leaves the weight alone,
// per spec.md §7's Timeout/Error distinction.
func (d *Dispatcher) attempt(ctx context.Context, conn net.PacketConn, be backend.Backend, frame []byte) ([]byte, error) {
	rto := d.table.TimeoutFor(be.ID)
	t0 := time.Now()
	deadline := t0.Add(rto)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if _, err := conn.WriteTo(frame, be.UDPAddr()); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	buf := make([]byte, maxReadBuf)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}

		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				d.table.ReportTimeout(be.ID)
				return nil, fmt.Errorf("timeout waiting for %s: %w", be, err)
			}
			return nil, fmt.Errorf("read from %s: %w", be, err)
		}

		if !sameAddr(src, be.UDPAddr()) {
			// Stale or wrong-source datagram: ignore and keep waiting
			// on the same deadline, same socket, same backend.
			continue
		}

		if n == 0 {
			d.table.ReportTimeout(be.ID)
			return nil, fmt.Errorf("empty reply from %s", be)
		}

		d.table.ReportRTT(be.ID, time.Since(t0))
		return append([]byte(nil), buf[:n]...), nil
	}
}

func sameAddr(a net.Addr, b *net.UDPAddr) bool {
	ua, ok := a.(*net.UDPAddr)
	if !ok {
		return false
	}
	return ua.IP.Equal(b.IP) && ua.Port == b.Port
}
