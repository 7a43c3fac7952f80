package backend

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PayRpc/accessl-dispatch/internal/estimator"
	"github.com/PayRpc/accessl-dispatch/internal/selector"
)

// Breaker is the subset of internal/breaker.Breaker the table consults
// before offering a backend to the sampler. A nil Breaker (the default)
// disables the check and relies purely on weight decay, matching the
// original engine's behavior.
type Breaker interface {
	// Allow reports whether the backend may currently be selected.
	Allow(id ID) bool
	// RecordSuccess and RecordTimeout feed the same two signals the
	// estimator already receives.
	RecordSuccess(id ID)
	RecordTimeout(id ID)
}

// Table owns the set of known backends, their position in the weighted
// sampler, and their per-backend SpeedEstimator. It is the Go rendering
// of servers_chooser + server_times from the original implementation,
// merged into one type per spec.md §3's ServerTable data model.
//
// Safe for concurrent use: every operation is serialized behind a single
// mutex, the simpler of the two designs spec.md §5 allows.
type Table struct {
	mu         sync.Mutex
	tree       selector.Tree[Backend]
	indexOf    map[ID]int
	estimators map[ID]*estimator.Estimator
	breaker    Breaker
	logger     *zap.Logger
	rng        *rand.Rand
}

// Option configures a Table at construction.
type Option func(*Table)

// WithBreaker attaches a circuit breaker; see internal/breaker.
func WithBreaker(b Breaker) Option {
	return func(t *Table) { t.breaker = b }
}

// WithLogger attaches a logger; defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(t *Table) { t.logger = l }
}

// WithRand overrides the sampler's RNG, for deterministic tests. The
// default is seeded from crypto/rand, mirroring servers_chooser's
// boost::mt19937 seeded from boost::random_device.
func WithRand(r *rand.Rand) Option {
	return func(t *Table) { t.rng = r }
}

// New returns an empty Table.
func New(opts ...Option) *Table {
	t := &Table{
		indexOf:    make(map[ID]int),
		estimators: make(map[ID]*estimator.Estimator),
		logger:     zap.NewNop(),
		rng:        rand.New(rand.NewSource(cryptoSeed())),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return 1
	}
	return int64(binary.BigEndian.Uint64(buf[:]))
}

// Push appends a backend to the table with an initial selection weight.
// Per spec.md §4.3, the table never changes weights on its own: after
// Push, only ReportRTT/ReportTimeout replace a backend's weight.
func (t *Table) Push(b Backend, initialWeight uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tree.PushBack(b, initialWeight)
	t.indexOf[b.ID] = t.tree.Len() - 1
	t.estimator(b.ID)

	t.logger.Info("backend added",
		zap.Uint64("backend_id", uint64(b.ID)),
		zap.String("addr", b.String()),
		zap.Uint64("initial_weight", initialWeight),
	)
}

// estimator returns the backend's estimator, creating it lazily. Caller
// must hold t.mu.
func (t *Table) estimator(id ID) *estimator.Estimator {
	e, ok := t.estimators[id]
	if !ok {
		e = estimator.New()
		t.estimators[id] = e
	}
	return e
}

// Choose draws a backend with probability proportional to its current
// weight. Returns ok=false iff the table is empty or every weight is
// zero, or (when a breaker is attached) every sampled candidate is
// breaker-open; in the latter case it retries a bounded number of times
// rather than looping forever on a single always-tripped backend.
func (t *Table) Choose() (Backend, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	const maxBreakerSkips = 8
	for attempt := 0; attempt < maxBreakerSkips; attempt++ {
		total := t.tree.TotalWeight()
		if total == 0 {
			return Backend{}, false
		}

		r := uint64(t.rng.Int63n(int64(total)))

		idx, ok := t.tree.SampleAt(r)
		if !ok {
			return Backend{}, false
		}

		b := t.tree.Value(idx)
		if t.breaker == nil || t.breaker.Allow(b.ID) {
			return b, true
		}
	}

	return Backend{}, false
}

// ReportRTT folds a successful measurement into the backend's estimator
// and republishes the resulting weight to the sampler.
func (t *Table) ReportRTT(id ID, measured time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.estimator(id)
	e.UpdateRTT(measured.Microseconds())
	t.applyWeight(id, e.ReqsPerSec())

	if t.breaker != nil {
		t.breaker.RecordSuccess(id)
	}
}

// ReportTimeout decays the backend's weight after a lost or invalid
// reply. The timing fields are untouched — a lost reply is not evidence
// about RTT.
func (t *Table) ReportTimeout(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.estimator(id)
	e.UpdateTimeout()
	t.applyWeight(id, e.ReqsPerSec())

	if t.breaker != nil {
		t.breaker.RecordTimeout(id)
	}
}

// applyWeight pushes w into the sampler for id. Caller must hold t.mu.
func (t *Table) applyWeight(id ID, w int64) {
	idx, ok := t.indexOf[id]
	if !ok {
		return
	}
	if w < 0 {
		w = 0
	}
	t.tree.SetWeight(idx, uint64(w))
}

// TimeoutFor returns the backend's current adaptive RTO.
func (t *Table) TimeoutFor(id ID) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return time.Duration(t.estimator(id).RTOMicros()) * time.Microsecond
}

// TotalWeight returns the sampler's current total weight (0 when empty
// or every backend has decayed to zero).
func (t *Table) TotalWeight() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.TotalWeight()
}

// Snapshot is a point-in-time view of one backend's selection state,
// used by internal/httpapi and internal/wsstream.
type Snapshot struct {
	ID         ID     `json:"id"`
	Addr       string `json:"addr"`
	ReqsPerSec int64  `json:"reqs_per_sec"`
	RTOMicros  int64  `json:"rto_micros"`
	Weight     uint64 `json:"weight"`
}

// Snapshot returns the current state of every backend ever pushed,
// including retired (zero-weight) ones.
func (t *Table) Snapshot() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Snapshot, 0, t.tree.Len())
	for i := 0; i < t.tree.Len(); i++ {
		b := t.tree.Value(i)
		e := t.estimators[b.ID]
		out = append(out, Snapshot{
			ID:         b.ID,
			Addr:       b.String(),
			ReqsPerSec: e.ReqsPerSec(),
			RTOMicros:  e.RTOMicros(),
			Weight:     t.tree.Weight(i),
		})
	}
	return out
}
