// Package coordinator drives a consensus ADMM run: it owns the worker pool,
// runs the global round loop, averages reported variable values, detects
// terminal conditions and tears the workers down.
//
// # Overview
//
// The coordinator is the hub of a hub-and-spoke topology. Workers never talk
// to each other; every round is a full barrier through the coordinator:
//
//	        ┌──────────────┐
//	        │ COORDINATOR  │  round r
//	        └──────┬───────┘
//	   gather ▲    │    ▼ broadcast (xbar, r)
//	 ┌────────┴────┼────────────┐
//	 │             │            │
//	┌┴────────┐ ┌──┴──────┐ ┌───┴─────┐
//	│ worker 0│ │ worker 1│ │ worker 2│
//	│ f_0 + ρ │ │ f_1 + ρ │ │ f_2 + ρ │
//	└─────────┘ └─────────┘ └─────────┘
//
// # Round Loop
//
// For round = 0 .. MaxIterations-1 in pull mode:
//
//  1. Receive one report from every worker (parallel receive, the round
//     does not proceed until all N have reported)
//  2. Abort the whole run if any report is not a usable solution
//  3. Average each variable over exactly the workers that own it
//  4. Broadcast the averages and the round index to every worker
//
// In push mode (RunCoordinatorOwned) the coordinator also owns the duals:
// it scatters (xbar, u_i) first, then gathers (x_i, u_i') and keeps each
// worker's dual for the next scatter. Duals are never averaged.
//
// # Core Components
//
// VariableRegistry: the averaging map
//   - Records which workers declared which variables
//   - Rejects reports carrying undeclared or missing variables
//   - Restricts broadcasts to the variables a worker owns
//
// RoundMonitor: barrier bookkeeping
//   - Tracks which workers have reported in the current round
//   - Names the stragglers when a round times out
//   - Keeps each worker's last status and step size
//
// # Failure Handling
//
// Any infeasible or unbounded local solve aborts the run with
// ErrInfeasibleOrUnbounded; other solver failures abort with ErrLocalSolve.
// Both arrive as a *RunAbortError carrying the round and worker index. No
// averages from earlier rounds are returned and nothing is retried.
//
// Teardown is abrupt. When the loop ends, for any reason, the run context is
// cancelled and every channel is closed; in-flight solves are discarded.
//
// # Usage Example
//
//	problems := []problem.Problem{p1, p2}
//	res, err := coordinator.Run(ctx, problems, coordinator.Options{
//	    MaxIterations: 50,
//	    DefaultRho:    1,
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Averages["x"], res.Elapsed)
package coordinator
