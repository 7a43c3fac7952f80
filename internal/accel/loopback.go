package accel

import (
	"fmt"
	"sync"

	"github.com/PayRpc/accessl-dispatch/internal/wire"
)

// Loopback is a fake Accelerator used by cmd/worker's demo mode. It does not perform any real RSA primitive: Perform reverses the
// input bytes, which is enough to exercise the dispatcher's full
// send/wait/retry loop and prove a reply correlates with its request
// (spec.md §8 scenario 6) without depending on the out-of-scope
// big-integer backends.
type Loopback struct {
	mu     sync.Mutex
	nextID int
	moduli map[int][]byte
}

// NewLoopback returns a ready-to-use fake accelerator.
func NewLoopback() *Loopback {
	return &Loopback{moduli: make(map[int][]byte)}
}

func (l *Loopback) AddKey(_ wire.Fingerprint, modulus []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.moduli[l.nextID] = modulus
	return l.nextID, nil
}

func (l *Loopback) DestroyKey(handle int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.moduli[handle]; !ok {
		return fmt.Errorf("accel: unknown key handle %d", handle)
	}
	delete(l.moduli, handle)
	return nil
}

func (l *Loopback) ResultMaxLen(handle int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	modulus, ok := l.moduli[handle]
	if !ok {
		return 0, fmt.Errorf("accel: unknown key handle %d", handle)
	}
	return len(modulus), nil
}

func (l *Loopback) Perform(_ int, _ wire.Op, _ wire.Padding, in []byte) ([]byte, error) {
	out := make([]byte, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out, nil
}
