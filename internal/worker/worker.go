// Package worker implements the proximal worker of a consensus ADMM run.
//
// A Worker owns one local sub-problem and, for every variable of that
// problem, a consensus state {x, xbar, u}: its latest local solution, the
// last broadcast average and the dual. Each round it solves
//
//	f(x) + (rho/2) Σ_v ||x_v - xbar_v + u_v/rho||²
//
// reports the result to the coordinator and takes in the new average.
//
// Who keeps the duals is a spawn-time choice:
//
//	WorkerOwned       solve → report → receive (xbar, round) → u += rho(x - xbar)
//	CoordinatorOwned  receive (xbar, u) → solve → report (x, u + rho(x - xbar))
//
// Only WorkerOwned workers adapt rho. Adaptation is decentralized: each worker
// applies the same deterministic rule to its own history, so step sizes can
// drift apart when local solutions differ.
package worker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/consensus/internal/cluster"
	"github.com/dreamware/consensus/internal/logging"
	"github.com/dreamware/consensus/internal/problem"
	"github.com/dreamware/consensus/internal/stepsize"
)

// DualOwnership selects which side keeps the dual variables.
type DualOwnership int

const (
	// WorkerOwned workers keep their duals and adapt rho locally.
	WorkerOwned DualOwnership = iota
	// CoordinatorOwned workers receive their duals with every broadcast and
	// return the updated duals with every report.
	CoordinatorOwned
)

func (d DualOwnership) String() string {
	switch d {
	case WorkerOwned:
		return "worker-owned"
	case CoordinatorOwned:
		return "coordinator-owned"
	default:
		return fmt.Sprintf("DualOwnership(%d)", int(d))
	}
}

// MarshalText encodes d by name.
func (d DualOwnership) MarshalText() ([]byte, error) {
	if d != WorkerOwned && d != CoordinatorOwned {
		return nil, fmt.Errorf("unknown dual ownership %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText accepts any name ParseDualOwnership accepts.
func (d *DualOwnership) UnmarshalText(text []byte) error {
	v, err := ParseDualOwnership(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDualOwnership parses "pull" or "worker-owned" as WorkerOwned and
// "push" or "coordinator-owned" as CoordinatorOwned.
func ParseDualOwnership(s string) (DualOwnership, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pull", "worker-owned", "worker":
		return WorkerOwned, nil
	case "push", "coordinator-owned", "coordinator":
		return CoordinatorOwned, nil
	default:
		return 0, fmt.Errorf("unknown dual ownership %q", s)
	}
}

// DefaultAdaptEvery is the default adaptation period. Adaptation runs on
// rounds where round % AdaptEvery == 1.
const DefaultAdaptEvery = 2

// Config configures a Worker.
type Config struct {
	// Rho is the initial step size. Must be > 0.
	Rho float64
	// Ownership selects the dual ownership strategy.
	Ownership DualOwnership
	// Solve is passed through to every local solve.
	Solve problem.Options
	// InitialAverage seeds xbar; variables not present start at zero.
	InitialAverage problem.Values
	// Spectral enables spectral step size adaptation (WorkerOwned only).
	Spectral bool
	// AdaptEvery is the adaptation period; 0 means DefaultAdaptEvery.
	AdaptEvery int
	// StepSize holds the safeguarding parameters; zero means defaults.
	StepSize stepsize.Params
	// Logger receives worker diagnostics; nil discards them.
	Logger *logging.Logger
}

// consensusState is the per-variable state a worker keeps between rounds.
type consensusState struct {
	x    []float64 // local solution
	xbar []float64 // last received average
	u    []float64 // dual
}

// Worker runs the local side of a consensus ADMM run. A Worker is driven by
// a single goroutine through Run and must not be shared.
type Worker struct {
	prob  problem.Problem
	cfg   Config
	vars  []problem.Variable // sorted by ID
	state map[problem.VarID]*consensusState
	rho   float64
	adapt *adapter
	log   *logging.Logger
}

// New creates a worker for p.
//
// Parameters:
//   - p: The local sub-problem; every variable takes part in consensus
//   - cfg: Step size, dual ownership and adaptation settings
//
// Returns:
//   - *Worker ready to Run
//   - Error if the configuration or the problem's variables are invalid
func New(p problem.Problem, cfg Config) (*Worker, error) {
	if cfg.Rho <= 0 {
		return nil, fmt.Errorf("initial step size must be positive, got %v", cfg.Rho)
	}
	if cfg.Ownership != WorkerOwned && cfg.Ownership != CoordinatorOwned {
		return nil, fmt.Errorf("unknown dual ownership %v", cfg.Ownership)
	}
	if cfg.AdaptEvery < 0 {
		return nil, fmt.Errorf("adaptation period must not be negative, got %d", cfg.AdaptEvery)
	}
	if cfg.AdaptEvery == 0 {
		cfg.AdaptEvery = DefaultAdaptEvery
	}
	if cfg.StepSize == (stepsize.Params{}) {
		cfg.StepSize = stepsize.DefaultParams()
	}

	vars := slices.Clone(p.Variables())
	if err := problem.ValidateVariables(vars); err != nil {
		return nil, err
	}
	slices.SortFunc(vars, func(a, b problem.Variable) int { return cmp.Compare(a.ID, b.ID) })

	state := make(map[problem.VarID]*consensusState, len(vars))
	total := 0
	for _, v := range vars {
		s := &consensusState{
			x:    make([]float64, v.Size),
			xbar: make([]float64, v.Size),
			u:    make([]float64, v.Size),
		}
		if init, ok := cfg.InitialAverage[v.ID]; ok {
			if len(init) != v.Size {
				return nil, fmt.Errorf("initial average for %q has %d entries, want %d", v.ID, len(init), v.Size)
			}
			copy(s.xbar, init)
		}
		state[v.ID] = s
		total += v.Size
	}

	log := cfg.Logger
	if log == nil {
		log = logging.NopLogger()
	}

	w := &Worker{
		prob:  p,
		cfg:   cfg,
		vars:  vars,
		state: state,
		rho:   cfg.Rho,
		log:   log,
	}
	if cfg.Spectral && cfg.Ownership == WorkerOwned {
		w.adapt = newAdapter(total, cfg.AdaptEvery, cfg.StepSize)
	}
	return w, nil
}

// Variables returns the worker's variables sorted by ID.
func (w *Worker) Variables() []problem.Variable {
	return slices.Clone(w.vars)
}

// Run drives the worker over conn until ctx is cancelled or the connection
// is closed, both of which are normal termination and return nil. Any other
// error ends the worker and is returned.
func (w *Worker) Run(ctx context.Context, conn cluster.WorkerConn) error {
	var err error
	switch w.cfg.Ownership {
	case CoordinatorOwned:
		err = w.runCoordinatorOwned(ctx, conn)
	default:
		err = w.runWorkerOwned(ctx, conn)
	}
	if errors.Is(err, cluster.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) runWorkerOwned(ctx context.Context, conn cluster.WorkerConn) error {
	for {
		report, err := w.solve(ctx)
		if err != nil {
			return err
		}
		if err := conn.Send(ctx, report); err != nil {
			return err
		}

		b, err := conn.Recv(ctx)
		if err != nil {
			return err
		}
		if err := w.update(b); err != nil {
			return err
		}
	}
}

func (w *Worker) runCoordinatorOwned(ctx context.Context, conn cluster.WorkerConn) error {
	for {
		b, err := conn.Recv(ctx)
		if err != nil {
			return err
		}
		if err := w.assign(b); err != nil {
			return err
		}

		report, err := w.solve(ctx)
		if err != nil {
			return err
		}
		if report.Status.HasSolution() {
			report.Duals = make(problem.Values, len(w.vars))
			for _, v := range w.vars {
				s := w.state[v.ID]
				for j := range s.u {
					s.u[j] += w.rho * (s.x[j] - s.xbar[j])
				}
				report.Duals[v.ID] = slices.Clone(s.u)
			}
		}
		if err := conn.Send(ctx, report); err != nil {
			return err
		}
	}
}

// solve runs one local proximal solve and builds the report. Only context
// cancellation is returned as an error; every other failure is reported to
// the coordinator through the report's status.
func (w *Worker) solve(ctx context.Context) (cluster.Report, error) {
	pen := problem.Penalty{
		Rho:    w.rho,
		Center: make(problem.Values, len(w.vars)),
		Dual:   make(problem.Values, len(w.vars)),
	}
	for _, v := range w.vars {
		s := w.state[v.ID]
		pen.Center[v.ID] = s.xbar
		pen.Dual[v.ID] = s.u
	}

	res, err := w.prob.Solve(ctx, pen, w.cfg.Solve)
	if err != nil {
		if ctx.Err() != nil {
			return cluster.Report{}, ctx.Err()
		}
		w.log.Warn("local solve failed", "error", err)
		return cluster.Report{Status: problem.StatusSolverError, Rho: w.rho, Error: err.Error()}, nil
	}
	if !res.Status.HasSolution() {
		w.log.Warn("local solve did not succeed", "status", string(res.Status))
		return cluster.Report{Status: res.Status, Rho: w.rho}, nil
	}

	values := make(problem.Values, len(w.vars))
	for _, v := range w.vars {
		x, ok := res.Values[v.ID]
		if !ok || len(x) != v.Size {
			return cluster.Report{
				Status: problem.StatusSolverError,
				Rho:    w.rho,
				Error:  fmt.Sprintf("solver returned no value of size %d for %q", v.Size, v.ID),
			}, nil
		}
		copy(w.state[v.ID].x, x)
		values[v.ID] = slices.Clone(x)
	}
	return cluster.Report{Status: res.Status, Values: values, Rho: w.rho}, nil
}

// update applies a WorkerOwned broadcast: adapt rho if due, then set xbar and
// advance the dual with the step size the round was solved with.
func (w *Worker) update(b cluster.Broadcast) error {
	adapting := w.adapt != nil && w.adapt.due(b.Round)
	if adapting {
		w.adapt.reset()
	}

	for _, v := range w.vars {
		avg, ok := b.Average[v.ID]
		if !ok || len(avg) != v.Size {
			return fmt.Errorf("round %d: broadcast has no average of size %d for %q", b.Round, v.Size, v.ID)
		}
		s := w.state[v.ID]
		for j := range s.x {
			xbarPrev, uPrev := s.xbar[j], s.u[j]
			s.xbar[j] = avg[j]
			s.u[j] = uPrev + w.rho*(s.x[j]-avg[j])
			if adapting {
				// uhat is the local gradient at x implied by the solve's
				// optimality condition; it pairs with x as xbar pairs with u.
				w.adapt.record(s.x[j], s.xbar[j], s.u[j], w.rho*(xbarPrev-s.x[j])-uPrev)
			}
		}
	}

	if adapting {
		prev := w.rho
		w.rho = w.adapt.next(w.rho, b.Round)
		w.log.Debug("step size adapted", "round", b.Round, "rho_prev", prev, "rho", w.rho)
	}
	return nil
}

// assign applies a CoordinatorOwned broadcast: both xbar and u become fixed
// parameters of the next solve. Missing duals are zero.
func (w *Worker) assign(b cluster.Broadcast) error {
	for _, v := range w.vars {
		avg, ok := b.Average[v.ID]
		if !ok || len(avg) != v.Size {
			return fmt.Errorf("round %d: broadcast has no average of size %d for %q", b.Round, v.Size, v.ID)
		}
		s := w.state[v.ID]
		copy(s.xbar, avg)

		dual, ok := b.Duals[v.ID]
		switch {
		case !ok:
			clear(s.u)
		case len(dual) != v.Size:
			return fmt.Errorf("round %d: dual for %q has %d entries, want %d", b.Round, v.ID, len(dual), v.Size)
		default:
			copy(s.u, dual)
		}
	}
	return nil
}
