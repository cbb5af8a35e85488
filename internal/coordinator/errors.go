package coordinator

import (
	"errors"
	"fmt"

	"github.com/dreamware/consensus/internal/problem"
)

// Sentinel errors returned (wrapped) by the run entry points. Use errors.Is.
var (
	// ErrInfeasibleOrUnbounded is the run-level failure raised when any
	// worker's local proximal problem is infeasible or unbounded.
	ErrInfeasibleOrUnbounded = errors.New("problem is infeasible or unbounded")

	// ErrLocalSolve is raised when a worker reports any other non-success
	// status, including a solver that could not run at all.
	ErrLocalSolve = errors.New("local solve failed")

	// ErrRoundTimeout is raised when a gather exceeds Options.RoundTimeout.
	ErrRoundTimeout = errors.New("round timed out")

	// ErrUnexpectedVariable is raised when a report carries a variable the
	// worker did not declare, or omits one it did.
	ErrUnexpectedVariable = errors.New("unexpected variable in report")

	// ErrStepSizeMismatch is returned when per-problem initial step sizes
	// do not match the number of problems.
	ErrStepSizeMismatch = errors.New("number of initial step sizes does not match number of problems")

	// ErrNoProblems is returned when a run is started without sub-problems.
	ErrNoProblems = errors.New("no sub-problems to run")

	// ErrWorkerLost is raised when a worker's channel fails or closes
	// mid-run.
	ErrWorkerLost = errors.New("worker connection lost")
)

// RunAbortError describes why a run stopped before its iteration budget was
// spent. No averages are returned alongside it.
type RunAbortError struct {
	Err     error          // wraps one of the sentinel errors above
	Status  problem.Status // status reported by Worker, if any
	Detail  string         // worker-supplied detail
	Pending []int          // workers that had not reported, on timeout
	Round   int
	Worker  int // index of the offending worker, -1 when not attributable
}

func (e *RunAbortError) Error() string {
	msg := fmt.Sprintf("consensus aborted at round %d", e.Round)
	if e.Worker >= 0 {
		msg += fmt.Sprintf(": worker %d", e.Worker)
	}
	if e.Status != "" {
		msg += fmt.Sprintf(" reported %s", e.Status)
	}
	if len(e.Pending) > 0 {
		msg += fmt.Sprintf(": workers %v did not report", e.Pending)
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *RunAbortError) Unwrap() error { return e.Err }
