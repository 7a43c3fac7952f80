// Package accel defines the capability contract a modular-exponentiation
// backend exposes to a worker process. Real accelerators (big-integer
// libraries, hardware cards, benchmark-driven selection) are explicitly
// out of scope per spec.md §1 — the dispatcher only ever calls
// accel_perform(key_handle, op, in) -> out across the UDP boundary. This
// package exists so tests and the demo worker in cmd/worker have a
// concrete, in-process stand-in to perform against, grounded on the
// "capability set" design note in spec.md §9.
package accel

import "github.com/PayRpc/accessl-dispatch/internal/wire"

// Accelerator performs one RSA primitive against already-loaded key
// material. Implementations are not required to be safe for concurrent
// use unless documented otherwise.
type Accelerator interface {
	// AddKey registers key material under fingerprint, returning an
	// opaque handle for subsequent Perform calls.
	AddKey(fingerprint wire.Fingerprint, modulus []byte) (handle int, err error)
	// DestroyKey releases a previously added key.
	DestroyKey(handle int) error
	// ResultMaxLen returns the largest possible output size for handle
	// (the key's modulus byte length), used to size reply buffers.
	ResultMaxLen(handle int) (int, error)
	// Perform executes op against in and returns the result.
	Perform(handle int, op wire.Op, pad wire.Padding, in []byte) (out []byte, err error)
}
