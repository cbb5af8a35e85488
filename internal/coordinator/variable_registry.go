package coordinator

import (
	"cmp"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/consensus/internal/problem"
)

// VariableRegistry records which workers own which consensus variables. It is
// the coordinator's averaging map: the average of a variable is taken over
// exactly the workers registered as its owners.
//
// Architecture:
//
//	┌──────────────────────────────────────┐
//	│          VariableRegistry            │
//	├──────────────────────────────────────┤
//	│  owners:   VarID → [worker indices]  │
//	│  sizes:    VarID → flattened size    │
//	│  declared: worker → {VarID → size}   │
//	├──────────────────────────────────────┤
//	│  "x" → [0, 1]   "y" → [1, 2]         │
//	└──────────────────────────────────────┘
//
// A variable has one size across all owners. Registration may happen
// incrementally (remote workers connect one at a time), so all methods are
// safe for concurrent use and return copies.
type VariableRegistry struct {
	owners   map[problem.VarID][]int
	sizes    map[problem.VarID]int
	declared map[int]map[problem.VarID]int
	mu       sync.RWMutex
}

// NewVariableRegistry creates an empty registry.
func NewVariableRegistry() *VariableRegistry {
	return &VariableRegistry{
		owners:   make(map[problem.VarID][]int),
		sizes:    make(map[problem.VarID]int),
		declared: make(map[int]map[problem.VarID]int),
	}
}

// Register declares the variables owned by a worker.
//
// Parameters:
//   - worker: The worker index (must be >= 0 and not yet registered)
//   - vars: The worker's variables; sizes must agree with other owners
//
// Returns:
//   - nil on success
//   - Error if the worker is already registered, declares no variables,
//     or disagrees with another owner about a variable's size
//
// Example:
//
//	reg := NewVariableRegistry()
//	err := reg.Register(0, []problem.Variable{{ID: "x", Size: 1}})
func (r *VariableRegistry) Register(worker int, vars []problem.Variable) error {
	if worker < 0 {
		return fmt.Errorf("invalid worker index %d", worker)
	}
	if len(vars) == 0 {
		return errors.New("worker declares no variables")
	}
	if err := problem.ValidateVariables(vars); err != nil {
		return fmt.Errorf("worker %d: %w", worker, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.declared[worker]; ok {
		return fmt.Errorf("worker %d is already registered", worker)
	}
	for _, v := range vars {
		if size, ok := r.sizes[v.ID]; ok && size != v.Size {
			return fmt.Errorf("worker %d: variable %q has size %d, other workers use %d", worker, v.ID, v.Size, size)
		}
	}

	decl := make(map[problem.VarID]int, len(vars))
	for _, v := range vars {
		decl[v.ID] = v.Size
		r.sizes[v.ID] = v.Size
		owners := append(r.owners[v.ID], worker)
		slices.Sort(owners)
		r.owners[v.ID] = owners
	}
	r.declared[worker] = decl
	return nil
}

// Owners returns the indices of the workers owning id, in ascending order.
// The result is nil for an unknown variable.
func (r *VariableRegistry) Owners(id problem.VarID) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.owners[id])
}

// Variables returns every registered variable sorted by ID.
func (r *VariableRegistry) Variables() []problem.Variable {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vars := make([]problem.Variable, 0, len(r.sizes))
	for id, size := range r.sizes {
		vars = append(vars, problem.Variable{ID: id, Size: size})
	}
	slices.SortFunc(vars, func(a, b problem.Variable) int { return cmp.Compare(a.ID, b.ID) })
	return vars
}

// WorkerVariables returns the variables declared by worker sorted by ID.
func (r *VariableRegistry) WorkerVariables(worker int) []problem.Variable {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decl := r.declared[worker]
	vars := make([]problem.Variable, 0, len(decl))
	for id, size := range decl {
		vars = append(vars, problem.Variable{ID: id, Size: size})
	}
	slices.SortFunc(vars, func(a, b problem.Variable) int { return cmp.Compare(a.ID, b.ID) })
	return vars
}

// NumWorkers returns the number of registered workers.
func (r *VariableRegistry) NumWorkers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.declared)
}

// Check verifies that values holds exactly the variables worker declared,
// each with its declared size. Violations wrap ErrUnexpectedVariable.
func (r *VariableRegistry) Check(worker int, values problem.Values) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decl, ok := r.declared[worker]
	if !ok {
		return fmt.Errorf("%w: worker %d is not registered", ErrUnexpectedVariable, worker)
	}
	for id, v := range values {
		size, ok := decl[id]
		if !ok {
			return fmt.Errorf("%w: worker %d reported %q", ErrUnexpectedVariable, worker, id)
		}
		if len(v) != size {
			return fmt.Errorf("%w: worker %d reported %q with %d entries, want %d", ErrUnexpectedVariable, worker, id, len(v), size)
		}
	}
	for id := range decl {
		if _, ok := values[id]; !ok {
			return fmt.Errorf("%w: worker %d did not report %q", ErrUnexpectedVariable, worker, id)
		}
	}
	return nil
}

// Restrict returns a deep copy of the entries of values that worker owns.
// Variables missing from values are filled with zeros.
func (r *VariableRegistry) Restrict(worker int, values problem.Values) problem.Values {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decl := r.declared[worker]
	out := make(problem.Values, len(decl))
	for id, size := range decl {
		if v, ok := values[id]; ok && len(v) == size {
			out[id] = slices.Clone(v)
		} else {
			out[id] = make([]float64, size)
		}
	}
	return out
}
