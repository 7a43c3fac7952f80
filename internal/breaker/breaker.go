// Package breaker adapts the teacher repo's enterprise circuit breaker
// (internal/circuitbreaker in PayRpc/Bitcoin-Sprint) down to the one
// behavior this domain needs: stop offering a backend to the weighted
// sampler once it has missed too many replies in a row, independent of
// the gradual weight decay internal/estimator already applies.
//
// This is the open-question redesign spec.md §9 invites: the original
// servers_chooser only ever down-weights a dead backend, never removes
// it from consideration outright. A half-open probe (one allowed call
// after ResetTimeout) lets a recovered backend earn its way back in
// without the sampler ever fully forgetting it existed.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PayRpc/accessl-dispatch/internal/backend"
)

// State mirrors the teacher's circuitbreaker.State, trimmed to the three
// states this simplified breaker actually uses.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls when a backend trips open and how long it stays there.
type Config struct {
	// MaxConsecutiveTimeouts is how many report_timeout calls in a row
	// trip the breaker open.
	MaxConsecutiveTimeouts int
	// ResetTimeout is how long a backend stays Open before one
	// half-open probe is allowed through.
	ResetTimeout time.Duration
}

// DefaultConfig matches the teacher's PolicyStandard defaults, scaled to
// this domain's much tighter timeouts (microseconds, not HTTP calls).
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveTimeouts: 5,
		ResetTimeout:           10 * time.Second,
	}
}

type entry struct {
	state                 State
	consecutiveTimeouts   int
	openedAt              time.Time
	halfOpenProbeInFlight bool
}

// Breaker tracks one circuit per backend ID. It implements
// backend.Breaker, so a Table can be constructed with
// backend.WithBreaker(b).
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	states map[backend.ID]*entry
}

// New returns a Breaker with the given config. A zero-value Config.
// ResetTimeout gives no open period at all (the next Allow call after a
// trip already admits the half-open probe), so callers should generally
// pass DefaultConfig() or their own tuned values.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		states: make(map[backend.ID]*entry),
	}
}

func (b *Breaker) entryFor(id backend.ID) *entry {
	e, ok := b.states[id]
	if !ok {
		e = &entry{state: StateClosed}
		b.states[id] = e
	}
	return e
}

// Allow reports whether id may currently be offered to the sampler. An
// Open backend past ResetTimeout transitions to HalfOpen and allows
// exactly one probe through; further calls are refused until that probe
// resolves via RecordSuccess or RecordTimeout.
func (b *Breaker) Allow(id backend.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryFor(id)
	switch e.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return !e.halfOpenProbeInFlight
	case StateOpen:
		if b.now().Sub(e.openedAt) < b.cfg.ResetTimeout {
			return false
		}
		e.state = StateHalfOpen
		e.halfOpenProbeInFlight = true
		b.logger.Info("breaker half-open probe", zap.Uint64("backend_id", uint64(id)))
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets its failure streak.
func (b *Breaker) RecordSuccess(id backend.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryFor(id)
	if e.state != StateClosed {
		b.logger.Info("breaker closed", zap.Uint64("backend_id", uint64(id)), zap.String("from", e.state.String()))
	}
	e.state = StateClosed
	e.consecutiveTimeouts = 0
	e.halfOpenProbeInFlight = false
}

// RecordTimeout increments the failure streak, tripping the breaker open
// once MaxConsecutiveTimeouts is reached. A failed half-open probe trips
// immediately back to Open.
func (b *Breaker) RecordTimeout(id backend.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryFor(id)

	if e.state == StateHalfOpen {
		e.halfOpenProbeInFlight = false
		b.trip(id, e)
		return
	}

	e.consecutiveTimeouts++
	if e.state == StateClosed && e.consecutiveTimeouts >= b.cfg.MaxConsecutiveTimeouts {
		b.trip(id, e)
	}
}

func (b *Breaker) trip(id backend.ID, e *entry) {
	e.state = StateOpen
	e.openedAt = b.now()
	b.logger.Warn("breaker open",
		zap.Uint64("backend_id", uint64(id)),
		zap.Int("consecutive_timeouts", e.consecutiveTimeouts),
	)
}

// State returns the current breaker state for id (StateClosed if never
// seen).
func (b *Breaker) State(id backend.ID) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entryFor(id).state
}
