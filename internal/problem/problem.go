// Package problem defines the local sub-problem capability used by consensus workers.
// See doc.go for complete package documentation.
package problem

import (
	"context"
	"fmt"

	"golang.org/x/exp/slices"
)

// VarID identifies a decision variable shared across one or more sub-problems.
// Two sub-problems refer to the same consensus variable iff their VarIDs match.
type VarID string

// Variable describes one decision variable of a sub-problem.
type Variable struct {
	ID   VarID `json:"id"`
	Size int   `json:"size"` // Number of scalar entries (rows*cols)
}

// Values maps variables to their flattened numeric values.
type Values map[VarID][]float64

// Clone returns a deep copy of v. A nil map clones to nil.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for id, val := range v {
		out[id] = slices.Clone(val)
	}
	return out
}

// Keys returns the variable IDs of v in ascending order.
// The order is stable across calls and processes, which the step size
// adaptation relies on when flattening iterates.
func (v Values) Keys() []VarID {
	keys := make([]VarID, 0, len(v))
	for id := range v {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	return keys
}

// Status is the outcome of a local solve.
type Status string

const (
	// StatusOptimal means the proximal problem was solved to tolerance.
	StatusOptimal Status = "optimal"
	// StatusOptimalInaccurate means a solution was found at reduced accuracy.
	StatusOptimalInaccurate Status = "optimal_inaccurate"
	// StatusInfeasible means the local constraints admit no point.
	StatusInfeasible Status = "infeasible"
	// StatusInfeasibleInaccurate means infeasibility was detected at reduced accuracy.
	StatusInfeasibleInaccurate Status = "infeasible_inaccurate"
	// StatusUnbounded means the local objective has no finite minimum.
	StatusUnbounded Status = "unbounded"
	// StatusUnboundedInaccurate means unboundedness was detected at reduced accuracy.
	StatusUnboundedInaccurate Status = "unbounded_inaccurate"
	// StatusSolverError means the solver failed for any other reason.
	StatusSolverError Status = "solver_error"
)

// HasSolution reports whether a solve with this status carries variable values.
func (s Status) HasSolution() bool {
	return s == StatusOptimal || s == StatusOptimalInaccurate
}

// IsInfeasibleOrUnbounded reports whether s is one of the infeasible or
// unbounded outcomes, accurate or not.
func (s Status) IsInfeasibleOrUnbounded() bool {
	switch s {
	case StatusInfeasible, StatusInfeasibleInaccurate, StatusUnbounded, StatusUnboundedInaccurate:
		return true
	}
	return false
}

// Result is what a local solve returns.
type Result struct {
	Status Status
	Values Values // Set only when Status.HasSolution()
}

// Penalty is the consensus proximal term added to a local objective:
//
//	(Rho/2) * Σ_v ||x_v - Center_v + Dual_v/Rho||²
//
// Center holds the last broadcast average (xbar) and Dual the unscaled dual
// (u). Variables missing from either map are treated as zero.
type Penalty struct {
	Rho    float64
	Center Values
	Dual   Values
}

// Target returns xbar - u/rho for variable id, the point the penalty pulls x
// toward. size is the variable's length.
func (p Penalty) Target(id VarID, size int) []float64 {
	t := make([]float64, size)
	center := p.Center[id]
	dual := p.Dual[id]
	for j := range t {
		if j < len(center) {
			t[j] = center[j]
		}
		if j < len(dual) && p.Rho != 0 {
			t[j] -= dual[j] / p.Rho
		}
	}
	return t
}

// Options configures a local solve. The named fields cover what every solver
// understands; Extra is handed to the solver unmodified.
type Options struct {
	// MaxIters caps solver iterations (0 lets the solver choose).
	MaxIters int `json:"max_iters,omitempty"`
	// Tolerance is the solver's accuracy target (0 lets the solver choose).
	Tolerance float64 `json:"tolerance,omitempty"`
	// Verbose asks the solver to print progress.
	Verbose bool `json:"verbose,omitempty"`
	// Extra carries solver-specific parameters.
	Extra map[string]any `json:"extra,omitempty"`
}

// Problem is one local sub-problem. Implementations must be safe to call
// from the single goroutine that owns them; they are never shared.
type Problem interface {
	// Variables lists every decision variable of the sub-problem. Each one
	// takes part in consensus.
	Variables() []Variable

	// Solve minimizes the local objective plus pen subject to the local
	// constraints. A non-nil error means the solve could not be attempted
	// at all; infeasible or unbounded outcomes are reported via Status.
	Solve(ctx context.Context, pen Penalty, opts Options) (Result, error)
}

// ValidateVariables checks that vars has no duplicate or empty IDs and no
// non-positive sizes.
func ValidateVariables(vars []Variable) error {
	seen := make(map[VarID]bool, len(vars))
	for _, v := range vars {
		if v.ID == "" {
			return fmt.Errorf("variable ID cannot be empty")
		}
		if v.Size <= 0 {
			return fmt.Errorf("variable %q: size must be positive, got %d", v.ID, v.Size)
		}
		if seen[v.ID] {
			return fmt.Errorf("duplicate variable %q", v.ID)
		}
		seen[v.ID] = true
	}
	return nil
}
