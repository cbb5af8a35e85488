// Package problem defines the local sub-problem capability consumed by the
// consensus driver, together with the value types exchanged between workers
// and the coordinator.
//
// # Overview
//
// A consensus run splits one global objective into N sub-problems that share
// some decision variables. Each sub-problem is owned by exactly one worker and
// is solved repeatedly with an added quadratic penalty that pulls its copy of
// every shared variable toward the current consensus average:
//
//	minimize  f_i(x) + (rho/2) * Σ_v ||x_v - xbar_v + u_v/rho||²
//	subject to the sub-problem's own constraints
//
// The package does not know how f_i is built or solved. It only fixes the
// contract:
//
//	┌──────────────┐   Penalty{Rho, Center, Dual}   ┌──────────────┐
//	│    worker    │ ─────────────────────────────▶ │   Problem    │
//	│              │ ◀───────────────────────────── │   (Solve)    │
//	└──────────────┘      Result{Status, Values}    └──────────────┘
//
// # Values
//
// Variables are identified by a VarID and carried as flat float64 slices
// (row-major for matrix variables). Values maps are cloned whenever they cross
// a goroutine or process boundary so that no memory is shared between a
// worker and the coordinator.
//
// # Status
//
// Solve reports one of the Status constants. Only StatusOptimal and
// StatusOptimalInaccurate carry values. Infeasible and unbounded outcomes are
// reported upward unchanged and abort the whole consensus run.
//
// # Bundled problems
//
// Quadratic is a separable, box-constrained quadratic sub-problem whose
// proximal step has a closed form. It backs the command line tools and the
// tests; real deployments plug in their own Problem implementations.
//
// Problem sets for the command line tools are described in YAML (or JSON):
//
//	problems:
//	  - name: left
//	    variables:
//	      - id: x
//	        quadratic: [2]
//	        linear: [-2]
//	  - name: right
//	    variables:
//	      - id: x
//	        quadratic: [2]
//	        linear: [-10]
//	        upper: [4]
package problem
