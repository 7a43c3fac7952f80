// Package discovery implements the one-shot and periodic-refresh client
// spec.md §4.6 describes: send the literal ASCII "GET" over a
// request/reply transport, parse a comma-separated host:port list back,
// and seed a backend.Table with it.
//
// Grounded on original_source/src/zeromq/engine.hpp's
// get_initial_servers/setup_servers, which does exactly one blocking
// request at construction and never refreshes. The periodic refresh
// loop here is a supplemented feature (SPEC_FULL.md §12): workers come
// and go, so a long-lived dispatcher needs to re-poll, backing off on
// failure via internal/throttle the way the teacher's endpoint pool
// backs off a misbehaving upstream.
package discovery

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PayRpc/accessl-dispatch/internal/backend"
	"github.com/PayRpc/accessl-dispatch/internal/idgen"
	"github.com/PayRpc/accessl-dispatch/internal/throttle"
)

// initialWeight is the placeholder selection weight seeded for every
// backend discovery returns, per spec.md §4.6 — overwritten by the
// estimator's reqs_per_sec on the first RTT or timeout report.
const initialWeight = 1000

// Transport performs one request/reply exchange against the discovery
// endpoint. The production implementation dials a TCP connection per
// call (the discovery service is expected to be low-QPS and local);
// tests supply a fake.
type Transport interface {
	Request(ctx context.Context, body []byte) (reply []byte, err error)
}

// TCPTransport is the production Transport: one short-lived TCP
// connection per request, matching the discovery service's
// request-then-close contract.
type TCPTransport struct {
	Addr    string
	Timeout time.Duration
}

// Request dials Addr, writes body, and reads the full reply until the
// peer closes the connection.
func (t TCPTransport) Request(ctx context.Context, body []byte) ([]byte, error) {
	d := net.Dialer{Timeout: t.Timeout}
	conn, err := d.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: dial %s: %w", t.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else if t.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(t.Timeout))
	}

	if _, err := conn.Write(body); err != nil {
		return nil, fmt.Errorf("discovery: write request: %w", err)
	}

	var reply []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		reply = append(reply, buf[:n]...)
		if err != nil {
			break
		}
	}
	return reply, nil
}

// Client polls a discovery endpoint and seeds a backend.Table with the
// result.
type Client struct {
	transport Transport
	table     *backend.Table
	throttle  *throttle.DiscoveryThrottle
	logger    *zap.Logger

	ids      idgen.Generator
	idByAddr map[uint64]backend.ID
}

// New returns a Client that polls transport and seeds table.
func New(transport Transport, table *backend.Table, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: transport,
		table:     table,
		throttle:  throttle.New(throttle.DefaultConfig(), logger),
		logger:    logger,
		idByAddr:  make(map[uint64]backend.ID),
	}
}

// Refresh performs one GET/reply exchange and pushes any newly seen
// backends into the table. Known backends (matched by address and port)
// are left untouched so their accumulated estimator state survives a
// refresh.
func (c *Client) Refresh(ctx context.Context) error {
	reply, err := c.transport.Request(ctx, []byte("GET"))
	if err != nil {
		c.throttle.RecordFailure(err)
		return err
	}

	backends, err := parseServerList(string(reply))
	if err != nil {
		c.throttle.RecordFailure(err)
		return err
	}

	added := 0
	for _, b := range backends {
		key := addrKey(b)
		if _, known := c.idByAddr[key]; known {
			continue
		}
		id := backend.ID(c.ids.Next())
		c.idByAddr[key] = id
		c.table.Push(backend.Backend{ID: id, Addr: b.Addr, Port: b.Port}, initialWeight)
		added++
	}

	c.throttle.RecordSuccess()
	c.logger.Info("discovery refresh complete",
		zap.Int("backends_seen", len(backends)),
		zap.Int("backends_added", added),
	)
	return nil
}

// Run polls Refresh every interval until ctx is cancelled, honoring the
// throttle's backoff after a failed poll instead of hammering a down
// discovery service at a fixed rate.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.throttle.Ready() {
				continue
			}
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("discovery refresh failed", zap.Error(err))
			}
		}
	}
}

// parsedBackend is a resolved host:port pair pending ID assignment.
type parsedBackend = backend.Backend

// parseServerList parses the comma-separated host:port reply body,
// tolerating a trailing comma. Entries that fail to parse or resolve
// are skipped (not an error for the whole list), matching spec.md §4.6.
func parseServerList(reply string) ([]parsedBackend, error) {
	fields := strings.Split(reply, ",")
	var out []parsedBackend

	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		host, portStr, err := net.SplitHostPort(field)
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			continue
		}

		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			continue
		}
		ip4 := ips[0].To4()
		if ip4 == nil {
			continue
		}

		out = append(out, backend.Backend{Addr: ip4, Port: uint16(port)})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("discovery: no resolvable backends in reply %q", reply)
	}
	return out, nil
}

// addrKey derives a stable dedup key for a freshly discovered backend
// from its address and port, so the same worker rediscovered across
// refreshes is recognized and its idgen-allocated ID (and accumulated
// estimator state) is kept instead of minting a new one.
func addrKey(b backend.Backend) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", b.Addr.String(), b.Port)
	return h.Sum64()
}
