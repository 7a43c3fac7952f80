// Package backend owns the set of known RSA-operation workers and their
// smoothed-RTT state, and implements the weighted selection contract the
// dispatcher drives on every call.
//
// Grounded on original_source/src/zeromq/servers.hpp (server,
// server_times, servers_chooser).
package backend

import (
	"net"
	"strconv"
)

// ID is a stable, globally unique identifier for a backend. It is the key
// for all per-backend state, so address reuse never accidentally resets
// smoothing for what is, from the operator's point of view, a "new"
// backend at an old address.
type ID uint64

// Backend is one RSA-operation worker. Equality for the purposes of the
// discovery client's de-duplication is by (Addr, Port); ID is what every
// other component keys off of.
type Backend struct {
	ID   ID
	Addr net.IP
	Port uint16
}

// Equal reports whether two backends have the same address and port,
// independent of ID.
func (b Backend) Equal(other Backend) bool {
	return b.Addr.Equal(other.Addr) && b.Port == other.Port
}

// UDPAddr returns the net.UDPAddr a dispatcher would send to.
func (b Backend) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: b.Addr, Port: int(b.Port)}
}

func (b Backend) String() string {
	return net.JoinHostPort(b.Addr.String(), strconv.Itoa(int(b.Port)))
}
