package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	ReconcileOutcomes     map[string]uint64
	AssignmentsCreated    uint64
	MatchDurationCount    uint64
	MatchDurationTotalNs  int64
	TransfersImported     uint64
	AuthResults           map[string]uint64
	MemberListCacheHits   uint64
	MemberListCacheMisses uint64
	Notifications         map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	assignmentsCreated    uint64
	matchDurationCount    uint64
	matchDurationTotalNs  int64
	transfersImported     uint64
	memberListCacheHits   uint64
	memberListCacheMisses uint64

	mu       sync.Mutex
	outcomes map[string]uint64
	auth     map[string]uint64
	notify   map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		outcomes: make(map[string]uint64),
		auth:     make(map[string]uint64),
		notify:   make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		ReconcileOutcomes:     copyCounts(m.outcomes),
		AssignmentsCreated:    atomic.LoadUint64(&m.assignmentsCreated),
		MatchDurationCount:    atomic.LoadUint64(&m.matchDurationCount),
		MatchDurationTotalNs:  atomic.LoadInt64(&m.matchDurationTotalNs),
		TransfersImported:     atomic.LoadUint64(&m.transfersImported),
		AuthResults:           copyCounts(m.auth),
		MemberListCacheHits:   atomic.LoadUint64(&m.memberListCacheHits),
		MemberListCacheMisses: atomic.LoadUint64(&m.memberListCacheMisses),
		Notifications:         copyCounts(m.notify),
	}
}

// IncReconcileOutcome counts one classified transfer.
func (m *InMemoryRecorder) IncReconcileOutcome(outcome string) {
	m.inc(m.outcomes, outcome)
}

// AddAssignmentsCreated adds to the assignment counter.
func (m *InMemoryRecorder) AddAssignmentsCreated(n int) {
	atomic.AddUint64(&m.assignmentsCreated, uint64(n))
}

// ObserveMatchDuration records a reconciliation run duration.
func (m *InMemoryRecorder) ObserveMatchDuration(duration time.Duration) {
	atomic.AddUint64(&m.matchDurationCount, 1)
	atomic.AddInt64(&m.matchDurationTotalNs, duration.Nanoseconds())
}

// AddTransfersImported adds to the imported transfer counter.
func (m *InMemoryRecorder) AddTransfersImported(n int) {
	atomic.AddUint64(&m.transfersImported, uint64(n))
}

// IncAuthResult counts one private API authentication attempt.
func (m *InMemoryRecorder) IncAuthResult(result string) {
	m.inc(m.auth, result)
}

// IncMemberListCacheHit increments cache hit counter.
func (m *InMemoryRecorder) IncMemberListCacheHit() {
	atomic.AddUint64(&m.memberListCacheHits, 1)
}

// IncMemberListCacheMiss increments cache miss counter.
func (m *InMemoryRecorder) IncMemberListCacheMiss() {
	atomic.AddUint64(&m.memberListCacheMisses, 1)
}

// IncNotification counts one notification delivery.
func (m *InMemoryRecorder) IncNotification(status string) {
	m.inc(m.notify, status)
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, label string) {
	m.mu.Lock()
	counts[label]++
	m.mu.Unlock()
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
