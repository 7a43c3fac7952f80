// Package throttle adapts the teacher repo's internal/throttle
// (EndpointThrottle, a multi-endpoint success-rate scorer) down to the
// single knob the discovery refresh loop needs: how long to back off
// after a failed poll of the one discovery service spec.md §4.6 talks
// to. There is only ever one endpoint in this domain, so the scoring
// and endpoint-selection machinery the teacher needed doesn't apply —
// what's kept is the exponential backoff/reset shape.
package throttle

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config controls the backoff curve.
type Config struct {
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultConfig mirrors the teacher's DefaultThrottleConfig scaled down
// for a poll loop instead of an HTTP endpoint pool.
func DefaultConfig() Config {
	return Config{
		InitialBackoff:    time.Second,
		MaxBackoff:        2 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// DiscoveryThrottle tracks backoff state for the discovery refresh loop.
type DiscoveryThrottle struct {
	mu             sync.Mutex
	cfg            Config
	logger         *zap.Logger
	now            func() time.Time
	currentBackoff time.Duration
	nextRetry      time.Time
}

// New returns a DiscoveryThrottle ready to poll immediately.
func New(cfg Config, logger *zap.Logger) *DiscoveryThrottle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryThrottle{
		cfg:            cfg,
		logger:         logger,
		now:            time.Now,
		currentBackoff: cfg.InitialBackoff,
	}
}

// Ready reports whether a refresh attempt may run now.
func (t *DiscoveryThrottle) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextRetry.IsZero() || !t.now().Before(t.nextRetry)
}

// RecordSuccess resets the backoff to its initial value.
func (t *DiscoveryThrottle) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.currentBackoff = t.cfg.InitialBackoff
	t.nextRetry = time.Time{}
}

// RecordFailure doubles (by BackoffMultiplier) the backoff, capped at
// MaxBackoff, and schedules the next allowed retry.
func (t *DiscoveryThrottle) RecordFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.currentBackoff = time.Duration(float64(t.currentBackoff) * t.cfg.BackoffMultiplier)
	if t.currentBackoff > t.cfg.MaxBackoff {
		t.currentBackoff = t.cfg.MaxBackoff
	}
	t.nextRetry = t.now().Add(t.currentBackoff)

	t.logger.Warn("discovery refresh failed",
		zap.Error(err),
		zap.Duration("backoff", t.currentBackoff),
		zap.Time("next_retry", t.nextRetry),
	)
}

// NextRetry returns the time at which Ready will next return true.
func (t *DiscoveryThrottle) NextRetry() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextRetry
}
