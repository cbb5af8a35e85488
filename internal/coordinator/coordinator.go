package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/consensus/internal/cluster"
	"github.com/dreamware/consensus/internal/logging"
	"github.com/dreamware/consensus/internal/problem"
	"github.com/dreamware/consensus/internal/stepsize"
	"github.com/dreamware/consensus/internal/worker"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultMaxIterations = 100
	DefaultRho           = 1.0
)

// Options configures a consensus run. The zero value runs DefaultMaxIterations
// rounds in pull mode with every worker starting at DefaultRho.
type Options struct {
	// RhoInit holds one initial step size per problem. Empty means every
	// worker starts at DefaultRho. Ignored by RunConns, whose workers
	// choose their own step sizes.
	RhoInit []float64

	// DefaultRho is the initial step size when RhoInit is empty.
	DefaultRho float64

	// MaxIterations is the fixed number of rounds. The run has no other
	// stopping criterion.
	MaxIterations int

	// Mode selects who owns the duals.
	Mode worker.DualOwnership

	// Spectral enables per-worker spectral step size adaptation in pull mode.
	Spectral bool

	// AdaptEvery is the adaptation period (see worker.Config).
	AdaptEvery int

	// StepSize holds the adaptation safeguarding parameters.
	StepSize stepsize.Params

	// Solve is passed through unmodified to every local solve.
	Solve problem.Options

	// InitialAverage seeds xbar. Variables not present start at zero.
	InitialAverage problem.Values

	// RoundTimeout bounds each round's scatter and gather. Zero waits
	// forever.
	RoundTimeout time.Duration

	// OnRound, if set, is called after every completed round.
	OnRound func(RoundInfo)

	// Logger receives run diagnostics; nil discards them.
	Logger *logging.Logger
}

// DefaultOptions returns Options with every default spelled out.
func DefaultOptions() Options {
	return Options{
		DefaultRho:    DefaultRho,
		MaxIterations: DefaultMaxIterations,
		Mode:          worker.WorkerOwned,
		AdaptEvery:    worker.DefaultAdaptEvery,
		StepSize:      stepsize.DefaultParams(),
	}
}

// normalize fills defaults and validates o for n workers.
func (o Options) normalize(n int) (Options, error) {
	if o.MaxIterations < 0 {
		return o, fmt.Errorf("max iterations must not be negative, got %d", o.MaxIterations)
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.DefaultRho < 0 {
		return o, fmt.Errorf("default step size must be positive, got %v", o.DefaultRho)
	}
	if o.DefaultRho == 0 {
		o.DefaultRho = DefaultRho
	}
	if len(o.RhoInit) != 0 && len(o.RhoInit) != n {
		return o, fmt.Errorf("%w: %d step sizes for %d problems", ErrStepSizeMismatch, len(o.RhoInit), n)
	}
	for i, rho := range o.RhoInit {
		if rho <= 0 {
			return o, fmt.Errorf("initial step size %d must be positive, got %v", i, rho)
		}
	}
	if o.Mode != worker.WorkerOwned && o.Mode != worker.CoordinatorOwned {
		return o, fmt.Errorf("unknown dual ownership %v", o.Mode)
	}
	if o.RoundTimeout < 0 {
		return o, fmt.Errorf("round timeout must not be negative, got %v", o.RoundTimeout)
	}
	if o.Logger == nil {
		o.Logger = logging.NopLogger()
	}
	return o, nil
}

func (o Options) rho(i int) float64 {
	if len(o.RhoInit) > 0 {
		return o.RhoInit[i]
	}
	return o.DefaultRho
}

// RoundInfo is passed to Options.OnRound after each round.
type RoundInfo struct {
	Average problem.Values // copy of the round's broadcast average
	Elapsed time.Duration  // since the run started
	Round   int
	RhoMin  float64 // smallest step size reported this run
	RhoMax  float64 // largest step size reported this run
}

// Result is the outcome of a completed run.
type Result struct {
	// Averages holds the final consensus value of every variable.
	Averages problem.Values `json:"averages"`
	// Duals holds each worker's final duals in push mode; nil in pull mode.
	// They are not the values the workers reported: after every round the
	// coordinator shifts worker i's duals by -rho_i*(xbar_new - xbar_prev)
	// so they sit on the new average, u_i + rho_i*(x_i - xbar_new).
	Duals []problem.Values `json:"duals,omitempty"`
	// Elapsed is the wall-clock time of the whole run.
	Elapsed time.Duration `json:"elapsed"`
	// Rounds is the number of completed rounds.
	Rounds int                  `json:"rounds"`
	Mode   worker.DualOwnership `json:"mode"`
}

// Run solves the consensus problem formed by problems with one in-process
// worker per problem, each on its own cluster.Pipe.
//
// Every round waits for all workers to report, aborts on the first failed
// local solve, averages each variable over exactly the workers that own it,
// and broadcasts the averages with the round index. After MaxIterations
// rounds the workers are torn down without draining and the final averages
// are returned.
//
// Parameters:
//   - ctx: Cancels the whole run
//   - problems: One sub-problem per worker
//   - opts: Run configuration; opts.Mode selects pull or push mode
//
// Returns:
//   - *Result with the final averages and elapsed time
//   - *RunAbortError if a worker failed; no partial averages are returned
//   - Validation errors (ErrNoProblems, ErrStepSizeMismatch, ...)
//
// Example:
//
//	res, err := coordinator.Run(ctx, problems, coordinator.Options{MaxIterations: 50})
//	if errors.Is(err, coordinator.ErrInfeasibleOrUnbounded) {
//	    // some sub-problem has no solution
//	}
func Run(ctx context.Context, problems []problem.Problem, opts Options) (*Result, error) {
	start := time.Now()
	if len(problems) == 0 {
		return nil, ErrNoProblems
	}
	opts, err := opts.normalize(len(problems))
	if err != nil {
		return nil, err
	}

	workers := make([]*worker.Worker, len(problems))
	for i, p := range problems {
		w, err := worker.New(p, worker.Config{
			Rho:            opts.rho(i),
			Ownership:      opts.Mode,
			Solve:          opts.Solve,
			InitialAverage: opts.InitialAverage,
			Spectral:       opts.Spectral,
			AdaptEvery:     opts.AdaptEvery,
			StepSize:       opts.StepSize,
			Logger:         opts.Logger.WithWorker(i),
		})
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		workers[i] = w
	}

	// Cancelling ctx is the teardown: workers stop at their next blocking
	// point and in-flight solves are discarded.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conns := make([]cluster.CoordinatorConn, len(workers))
	vars := make([][]problem.Variable, len(workers))
	for i, w := range workers {
		coord, work := cluster.Pipe()
		conns[i] = coord
		vars[i] = w.Variables()
		log := opts.Logger.WithWorker(i)
		go func() {
			if err := w.Run(ctx, work); err != nil {
				log.Warn("worker stopped", "error", err)
			}
		}()
	}
	return run(ctx, conns, vars, opts, start)
}

// RunCoordinatorOwned is Run in push mode: the coordinator keeps every
// worker's duals, scatters (xbar, u_i) before each solve and stores the
// updated u_i it gets back, moved onto the new average. Duals are never
// averaged.
func RunCoordinatorOwned(ctx context.Context, problems []problem.Problem, opts Options) (*Result, error) {
	opts.Mode = worker.CoordinatorOwned
	return Run(ctx, problems, opts)
}

// RunConns drives a run over already connected workers, such as remote nodes
// accepted by a websocket hub. vars[i] lists the variables worker i reports.
// The workers must have been started in opts.Mode. RunConns always closes
// conns before returning.
func RunConns(ctx context.Context, conns []cluster.CoordinatorConn, vars [][]problem.Variable, opts Options) (*Result, error) {
	start := time.Now()
	defer closeAll(conns)

	if len(conns) == 0 {
		return nil, ErrNoProblems
	}
	if len(vars) != len(conns) {
		return nil, fmt.Errorf("got variables for %d workers, have %d connections", len(vars), len(conns))
	}
	opts.RhoInit = nil
	opts, err := opts.normalize(len(conns))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return run(ctx, conns, vars, opts, start)
}

// Average returns, for every variable appearing in any element of values,
// the element-wise mean over exactly the elements that contain it. Sums are
// accumulated in slice order. All entries for one variable must have the
// same length.
func Average(values []problem.Values) problem.Values {
	sums := make(problem.Values)
	counts := make(map[problem.VarID]int)
	for _, vals := range values {
		for id, v := range vals {
			sum, ok := sums[id]
			if !ok {
				sum = make([]float64, len(v))
				sums[id] = sum
			}
			for j := range min(len(sum), len(v)) {
				sum[j] += v[j]
			}
			counts[id]++
		}
	}
	for id, sum := range sums {
		n := float64(counts[id])
		for j := range sum {
			sum[j] /= n
		}
	}
	return sums
}

// session is the coordinator side of one run.
type session struct {
	start   time.Time
	conns   []cluster.CoordinatorConn
	reg     *VariableRegistry
	mon     *RoundMonitor
	log     *logging.Logger
	average problem.Values
	duals   []problem.Values // push mode only
	opts    Options
}

func run(ctx context.Context, conns []cluster.CoordinatorConn, vars [][]problem.Variable, opts Options, start time.Time) (*Result, error) {
	defer closeAll(conns)

	reg := NewVariableRegistry()
	for i, v := range vars {
		if err := reg.Register(i, v); err != nil {
			return nil, err
		}
	}
	for _, v := range reg.Variables() {
		if init, ok := opts.InitialAverage[v.ID]; ok && len(init) != v.Size {
			return nil, fmt.Errorf("initial average for %q has %d entries, want %d", v.ID, len(init), v.Size)
		}
	}

	s := &session{
		start: start,
		conns: conns,
		reg:   reg,
		mon:   NewRoundMonitor(len(conns)),
		log:   opts.Logger,
		opts:  opts,
	}
	s.log.Info("consensus run started",
		"workers", len(conns),
		"variables", len(reg.Variables()),
		"mode", opts.Mode.String(),
		"max_iterations", opts.MaxIterations,
		"spectral", opts.Spectral)

	var err error
	if opts.Mode == worker.CoordinatorOwned {
		err = s.push(ctx)
	} else {
		err = s.pull(ctx)
	}
	elapsed := time.Since(start)
	if err != nil {
		s.log.Error("consensus run aborted", "error", err, "elapsed", elapsed)
		return nil, err
	}
	s.log.Info("consensus run finished", "rounds", opts.MaxIterations, "elapsed", elapsed)

	return &Result{
		Averages: s.average,
		Duals:    s.duals,
		Elapsed:  elapsed,
		Rounds:   opts.MaxIterations,
		Mode:     opts.Mode,
	}, nil
}

// pull runs rounds where workers own their duals: gather, average, broadcast.
func (s *session) pull(ctx context.Context) error {
	for round := 0; round < s.opts.MaxIterations; round++ {
		rctx, cancel := s.roundContext(ctx)
		err := s.pullRound(ctx, rctx, round)
		cancel()
		if err != nil {
			return err
		}
		s.observe(round)
	}
	return nil
}

func (s *session) pullRound(ctx, rctx context.Context, round int) error {
	reports, err := s.gather(ctx, rctx, round)
	if err != nil {
		return err
	}
	if err := s.check(round, reports, false); err != nil {
		return err
	}
	s.average = Average(values(reports))

	for i, c := range s.conns {
		b := cluster.Broadcast{Round: round, Average: s.reg.Restrict(i, s.average)}
		if err := c.Send(rctx, b); err != nil {
			return s.channelFailure(ctx, round, i, err)
		}
	}
	return nil
}

// push runs rounds where the coordinator owns the duals: scatter, gather,
// average, keep duals.
func (s *session) push(ctx context.Context) error {
	s.average = make(problem.Values)
	for _, v := range s.reg.Variables() {
		if init, ok := s.opts.InitialAverage[v.ID]; ok {
			s.average[v.ID] = append([]float64(nil), init...)
		} else {
			s.average[v.ID] = make([]float64, v.Size)
		}
	}
	s.duals = make([]problem.Values, len(s.conns))
	for i := range s.duals {
		s.duals[i] = s.reg.Restrict(i, nil)
	}

	for round := 0; round < s.opts.MaxIterations; round++ {
		rctx, cancel := s.roundContext(ctx)
		err := s.pushRound(ctx, rctx, round)
		cancel()
		if err != nil {
			return err
		}
		s.observe(round)
	}
	return nil
}

func (s *session) pushRound(ctx, rctx context.Context, round int) error {
	for i, c := range s.conns {
		b := cluster.Broadcast{
			Round:   round,
			Average: s.reg.Restrict(i, s.average),
			Duals:   s.duals[i],
		}
		if err := c.Send(rctx, b); err != nil {
			return s.channelFailure(ctx, round, i, err)
		}
	}

	reports, err := s.gather(ctx, rctx, round)
	if err != nil {
		return err
	}
	if err := s.check(round, reports, true); err != nil {
		return err
	}
	prev := s.average
	s.average = Average(values(reports))
	for i, r := range reports {
		s.duals[i] = s.recenter(i, r, prev)
	}
	return nil
}

// recenter moves a worker's returned dual u + rho(x - xbar_prev) onto the
// new average, u + rho(x - xbar), so push rounds follow the same iteration
// as pull rounds.
func (s *session) recenter(i int, r cluster.Report, prev problem.Values) problem.Values {
	rho := r.Rho
	if rho <= 0 {
		rho = s.opts.rho(i)
	}
	for id, u := range r.Duals {
		old, cur := prev[id], s.average[id]
		for j := range u {
			u[j] -= rho * (cur[j] - old[j])
		}
	}
	return r.Duals
}

func (s *session) roundContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.RoundTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.RoundTimeout)
	}
	return context.WithCancel(ctx)
}

// gather receives one report from every worker in parallel. The result is
// indexed by worker, so averaging order does not depend on arrival order.
func (s *session) gather(ctx, rctx context.Context, round int) ([]cluster.Report, error) {
	s.mon.BeginRound(round)
	reports := make([]cluster.Report, len(s.conns))
	failed := make([]error, len(s.conns))

	g, gctx := errgroup.WithContext(rctx)
	for i, c := range s.conns {
		g.Go(func() error {
			r, err := c.Recv(gctx)
			if err != nil {
				failed[i] = err
				return err
			}
			reports[i] = r
			s.mon.Record(i, round, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		culprit := -1
		for i, e := range failed {
			if e != nil && !errors.Is(e, context.Canceled) {
				culprit = i
				break
			}
		}
		return nil, s.channelFailure(ctx, round, culprit, err)
	}
	return reports, nil
}

// channelFailure classifies a send or receive error. ctx is the run context,
// so a deadline seen while ctx is still live is the round timeout.
func (s *session) channelFailure(ctx context.Context, round, culprit int, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("round %d: %w", round, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RunAbortError{
			Round:   round,
			Worker:  -1,
			Pending: s.mon.Pending(),
			Err:     fmt.Errorf("%w after %v", ErrRoundTimeout, s.opts.RoundTimeout),
		}
	}
	return &RunAbortError{
		Round:  round,
		Worker: culprit,
		Err:    fmt.Errorf("%w: %v", ErrWorkerLost, err),
	}
}

// check aborts the run on the first report, in worker order, that is not a
// usable solution.
func (s *session) check(round int, reports []cluster.Report, withDuals bool) error {
	for i, r := range reports {
		abort := &RunAbortError{Round: round, Worker: i, Status: r.Status, Detail: r.Error}
		switch {
		case r.Status.IsInfeasibleOrUnbounded():
			abort.Err = ErrInfeasibleOrUnbounded
			return abort
		case !r.Status.HasSolution():
			abort.Err = ErrLocalSolve
			return abort
		}
		if err := s.reg.Check(i, r.Values); err != nil {
			abort.Err = err
			return abort
		}
		if withDuals {
			if err := s.reg.Check(i, r.Duals); err != nil {
				abort.Err = fmt.Errorf("duals: %w", err)
				return abort
			}
		}
	}
	return nil
}

func (s *session) observe(round int) {
	lo, hi := s.mon.RhoRange()
	s.log.Debug("round complete",
		"round", round,
		"round_elapsed", s.mon.RoundElapsed(),
		"rho_min", lo,
		"rho_max", hi)
	if s.opts.OnRound != nil {
		s.opts.OnRound(RoundInfo{
			Round:   round,
			Average: s.average.Clone(),
			Elapsed: time.Since(s.start),
			RhoMin:  lo,
			RhoMax:  hi,
		})
	}
}

func values(reports []cluster.Report) []problem.Values {
	out := make([]problem.Values, len(reports))
	for i, r := range reports {
		out[i] = r.Values
	}
	return out
}

func closeAll(conns []cluster.CoordinatorConn) {
	for _, c := range conns {
		if c != nil {
			_ = c.Close()
		}
	}
}
