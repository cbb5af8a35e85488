package problem

import (
	"context"
	"fmt"
	"math"
)

// defaultTolerance is used when Options.Tolerance is zero. Curvatures with
// magnitude at or below it are treated as exactly linear.
const defaultTolerance = 1e-12

// Block is one variable of a Quadratic problem together with its objective
// coefficients and bounds. Every slice except Lower/Upper must have the same
// length, which is the variable's size.
type Block struct {
	ID        VarID
	Quadratic []float64 // Diagonal curvature q_j of 0.5*q_j*x_j²
	Linear    []float64 // Linear coefficient c_j of c_j*x_j
	Lower     []float64 // Lower bounds, nil for none
	Upper     []float64 // Upper bounds, nil for none
}

// Quadratic is a separable box-constrained quadratic sub-problem:
//
//	minimize   Σ_j 0.5*q_j*x_j² + c_j*x_j
//	subject to lower_j <= x_j <= upper_j
//
// Because the objective and the consensus penalty are both separable, the
// proximal step decomposes into independent one-dimensional problems with a
// closed-form minimizer.
type Quadratic struct {
	Name   string
	blocks []Block
}

// NewQuadratic validates blocks and returns the problem.
//
// Parameters:
//   - name: Human readable label used in logs
//   - blocks: One block per variable, IDs must be unique
//
// Returns:
//   - *Quadratic ready to solve
//   - Error if a block is empty or its slices disagree in length
func NewQuadratic(name string, blocks ...Block) (*Quadratic, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("problem %q has no variables", name)
	}
	vars := make([]Variable, 0, len(blocks))
	for _, b := range blocks {
		n := len(b.Quadratic)
		if len(b.Linear) != n {
			return nil, fmt.Errorf("variable %q: linear has %d entries, quadratic has %d", b.ID, len(b.Linear), n)
		}
		if b.Lower != nil && len(b.Lower) != n {
			return nil, fmt.Errorf("variable %q: lower has %d entries, want %d", b.ID, len(b.Lower), n)
		}
		if b.Upper != nil && len(b.Upper) != n {
			return nil, fmt.Errorf("variable %q: upper has %d entries, want %d", b.ID, len(b.Upper), n)
		}
		vars = append(vars, Variable{ID: b.ID, Size: n})
	}
	if err := ValidateVariables(vars); err != nil {
		return nil, fmt.Errorf("problem %q: %w", name, err)
	}
	return &Quadratic{Name: name, blocks: blocks}, nil
}

// Variables implements Problem.
func (q *Quadratic) Variables() []Variable {
	vars := make([]Variable, len(q.blocks))
	for i, b := range q.blocks {
		vars[i] = Variable{ID: b.ID, Size: len(b.Quadratic)}
	}
	return vars
}

// Solve implements Problem. Per coordinate it minimizes
//
//	0.5*h*x² + g*x  over [lower, upper]
//
// with h = q + rho and g = c - rho*t, where t = xbar - u/rho is the penalty
// target.
func (q *Quadratic) Solve(ctx context.Context, pen Penalty, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	tol := opts.Tolerance
	if tol <= 0 {
		tol = defaultTolerance
	}

	values := make(Values, len(q.blocks))
	for _, b := range q.blocks {
		n := len(b.Quadratic)
		target := pen.Target(b.ID, n)
		x := make([]float64, n)
		for j := 0; j < n; j++ {
			lo, hi := bound(b.Lower, j, math.Inf(-1)), bound(b.Upper, j, math.Inf(1))
			if lo > hi {
				return Result{Status: StatusInfeasible}, nil
			}
			h := b.Quadratic[j] + pen.Rho
			g := b.Linear[j] - pen.Rho*target[j]
			v, ok := minimize1D(h, g, lo, hi, tol)
			if !ok {
				return Result{Status: StatusUnbounded}, nil
			}
			x[j] = v
		}
		values[b.ID] = x
	}
	return Result{Status: StatusOptimal, Values: values}, nil
}

// minimize1D minimizes 0.5*h*x² + g*x over [lo, hi]. It returns false when
// the minimum is not attained (the objective decreases toward an infinite
// bound).
func minimize1D(h, g, lo, hi, tol float64) (float64, bool) {
	switch {
	case h > tol:
		return clamp(-g/h, lo, hi), true
	case h >= -tol:
		// Linear: the minimum sits on the bound g points away from.
		switch {
		case g > 0:
			return lo, !math.IsInf(lo, -1)
		case g < 0:
			return hi, !math.IsInf(hi, 1)
		default:
			return clamp(0, lo, hi), true
		}
	default:
		// Concave: the minimum is at one of the two bounds.
		if math.IsInf(lo, -1) || math.IsInf(hi, 1) {
			return 0, false
		}
		f := func(x float64) float64 { return 0.5*h*x*x + g*x }
		if f(lo) <= f(hi) {
			return lo, true
		}
		return hi, true
	}
}

func bound(b []float64, j int, def float64) float64 {
	if b == nil {
		return def
	}
	return b[j]
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(x, hi))
}
