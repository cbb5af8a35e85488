package storage

import (
	"cmp"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/consensus/internal/problem"
)

var (
	// ErrRunNotFound is returned when a run ID doesn't exist in the store
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned when creating a run whose ID is taken
	ErrRunExists = errors.New("run already exists")
)

// State is the lifecycle state of a submitted run.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Run is the stored record of one consensus run.
type Run struct {
	Submitted time.Time      `json:"submitted"`
	Finished  time.Time      `json:"finished"`
	Averages  problem.Values `json:"averages,omitempty"`
	ID        string         `json:"id"`
	State     State          `json:"state"`
	Mode      string         `json:"mode"`
	Error     string         `json:"error,omitempty"`
	Problems  []string       `json:"problems"`
	Elapsed   time.Duration  `json:"elapsed"`
	Rounds    int            `json:"rounds"`
}

func (r *Run) clone() Run {
	c := *r
	c.Averages = r.Averages.Clone()
	c.Problems = slices.Clone(r.Problems)
	return c
}

// Store defines the interface for run storage
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Create stores a new run
	// Returns ErrRunExists if the ID is taken
	Create(run Run) error

	// Get retrieves a run by ID
	// Returns ErrRunNotFound if the run doesn't exist
	Get(id string) (Run, error)

	// Update applies fn to the stored run under the store's lock
	// Returns ErrRunNotFound if the run doesn't exist
	Update(id string, fn func(*Run)) error

	// Delete removes a run
	// No error if the run doesn't exist
	Delete(id string) error

	// List returns all runs, oldest submission first
	List() []Run

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	ByState map[State]int `json:"by_state"` // Number of runs per state
	Runs    int           `json:"runs"`     // Number of runs
}

// MemoryStore implements Store interface with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	runs map[string]*Run // Run records by ID
	mu   sync.RWMutex    // Protects concurrent access
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*Run),
	}
}

// Create stores a copy of run
func (m *MemoryStore) Create(run Run) error {
	if run.ID == "" {
		return errors.New("run ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	stored := run.clone()
	m.runs[run.ID] = &stored
	return nil
}

// Get retrieves a run by ID
// Returns a copy of the run to prevent external modification
func (m *MemoryStore) Get(id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, exists := m.runs[id]
	if !exists {
		return Run{}, ErrRunNotFound
	}
	return run.clone(), nil
}

// Update applies fn to a private copy and stores the result. The ID cannot
// be changed.
func (m *MemoryStore) Update(id string, fn func(*Run)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, exists := m.runs[id]
	if !exists {
		return ErrRunNotFound
	}
	updated := run.clone()
	fn(&updated)
	updated.ID = id
	stored := updated.clone()
	m.runs[id] = &stored
	return nil
}

// Delete removes a run
// No error if the run doesn't exist (idempotent)
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.runs, id)
	return nil
}

// List returns copies of all runs ordered by submission time, then ID
func (m *MemoryStore) List() []Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run.clone())
	}
	slices.SortFunc(runs, func(a, b Run) int {
		if c := a.Submitted.Compare(b.Submitted); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return runs
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byState := make(map[State]int)
	for _, run := range m.runs {
		byState[run.State]++
	}
	return StoreStats{
		Runs:    len(m.runs),
		ByState: byState,
	}
}
