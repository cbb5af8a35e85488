package cluster

import (
	"context"
	"errors"

	"github.com/dreamware/consensus/internal/problem"
)

// ErrClosed is returned by Send and Recv once either end of a connection has
// been closed.
var ErrClosed = errors.New("connection closed")

// Report is what a worker sends to the coordinator after each local solve.
type Report struct {
	// Status is the outcome of the local solve.
	Status problem.Status `json:"status"`

	// Values holds the local value of every variable the worker owns.
	// Empty unless Status.HasSolution().
	Values problem.Values `json:"values,omitempty"`

	// Duals holds the worker's updated duals. Set only by workers whose
	// duals are owned by the coordinator.
	Duals problem.Values `json:"duals,omitempty"`

	// Rho is the step size the worker used for this solve.
	Rho float64 `json:"rho,omitempty"`

	// Error describes why the solve could not be attempted, if it could not.
	Error string `json:"error,omitempty"`
}

// Clone returns a deep copy of r.
func (r Report) Clone() Report {
	r.Values = r.Values.Clone()
	r.Duals = r.Duals.Clone()
	return r
}

// Broadcast is what the coordinator sends to a worker.
//
// For workers that own their duals it follows a round's gather and carries
// the new averages plus the index of the round just completed. For workers
// whose duals are owned by the coordinator it precedes the solve and also
// carries that worker's own duals.
type Broadcast struct {
	Round   int            `json:"round"`
	Average problem.Values `json:"average"`
	Duals   problem.Values `json:"duals,omitempty"`
}

// Clone returns a deep copy of b.
func (b Broadcast) Clone() Broadcast {
	b.Average = b.Average.Clone()
	b.Duals = b.Duals.Clone()
	return b
}

// Hello is the first message a remote worker sends after connecting. It
// announces the variables the worker will report so the coordinator can
// build its averaging map before the first round.
type Hello struct {
	Name      string             `json:"name"`
	Variables []problem.Variable `json:"variables"`
}

// CoordinatorConn is the coordinator's end of a duplex worker channel.
// Each end carries at most one pending message per direction; Send blocks
// while the peer has not consumed the previous message.
type CoordinatorConn interface {
	Send(ctx context.Context, b Broadcast) error
	Recv(ctx context.Context) (Report, error)
	Close() error
}

// WorkerConn is the worker's end of a duplex worker channel.
type WorkerConn interface {
	Send(ctx context.Context, r Report) error
	Recv(ctx context.Context) (Broadcast, error)
	Close() error
}
