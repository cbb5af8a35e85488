package coordinator

import (
	"math"
	"sync"
	"time"

	"github.com/dreamware/consensus/internal/cluster"
	"github.com/dreamware/consensus/internal/problem"
)

// WorkerProgress tracks the reports of a single worker across rounds.
// Thread-safe: Protected by RoundMonitor's mutex when accessed.
type WorkerProgress struct {
	LastReport time.Time      // When the last report arrived
	Status     problem.Status // Status of the last report
	Rho        float64        // Step size the worker reported using
	Worker     int            // Worker index
	Round      int            // Last round reported, -1 before the first
	Reports    int            // Total reports received
}

// RoundMonitor follows the coordinator's gather barrier. It records which
// workers have reported in the current round so a timed-out gather can name
// the stragglers, and it keeps each worker's last status and step size for
// diagnostics.
// Thread-safe: All methods are safe for concurrent access.
type RoundMonitor struct {
	workers []*WorkerProgress
	now     func() time.Time
	started time.Time // start of the current round
	round   int
	mu      sync.RWMutex
}

// NewRoundMonitor creates a monitor for n workers.
//
// Example:
//
//	mon := NewRoundMonitor(len(conns))
//	mon.BeginRound(0)
//	mon.Record(2, 0, report)
//	pending := mon.Pending()
func NewRoundMonitor(n int) *RoundMonitor {
	workers := make([]*WorkerProgress, n)
	for i := range workers {
		workers[i] = &WorkerProgress{Worker: i, Round: -1}
	}
	return &RoundMonitor{
		workers: workers,
		now:     time.Now,
	}
}

// BeginRound marks the start of a gather for round.
func (m *RoundMonitor) BeginRound(round int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.round = round
	m.started = m.now()
}

// Record notes worker's report for round. Out-of-range workers are ignored.
func (m *RoundMonitor) Record(worker, round int, r cluster.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if worker < 0 || worker >= len(m.workers) {
		return
	}
	p := m.workers[worker]
	p.Round = round
	p.Status = r.Status
	p.Rho = r.Rho
	p.LastReport = m.now()
	p.Reports++
}

// Pending returns the workers that have not reported in the current round,
// in ascending order. Before the first BeginRound the current round is 0, so
// every worker is pending.
func (m *RoundMonitor) Pending() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []int
	for _, p := range m.workers {
		if p.Round != m.round {
			pending = append(pending, p.Worker)
		}
	}
	return pending
}

// RoundElapsed returns the time spent in the current round so far.
func (m *RoundMonitor) RoundElapsed() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now().Sub(m.started)
}

// Get returns a copy of worker's progress, or nil if worker is out of range.
func (m *RoundMonitor) Get(worker int) *WorkerProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if worker < 0 || worker >= len(m.workers) {
		return nil
	}
	p := *m.workers[worker]
	return &p
}

// All returns a copy of every worker's progress in index order.
func (m *RoundMonitor) All() []WorkerProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]WorkerProgress, len(m.workers))
	for i, p := range m.workers {
		out[i] = *p
	}
	return out
}

// RhoRange returns the smallest and largest step size reported so far.
// Workers adapt independently, so a wide range shows their step sizes have
// drifted apart. Both values are zero when no worker reported a step size.
func (m *RoundMonitor) RhoRange() (lo, hi float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range m.workers {
		if p.Rho <= 0 {
			continue
		}
		lo = math.Min(lo, p.Rho)
		hi = math.Max(hi, p.Rho)
	}
	if math.IsInf(lo, 1) {
		return 0, 0
	}
	return lo, hi
}
