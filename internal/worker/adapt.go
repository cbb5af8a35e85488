package worker

import "github.com/dreamware/consensus/internal/stepsize"

// iterate is the flattened (x, xbar, u, uhat) vector set over all variables
// in sorted ID order.
type iterate struct {
	x, xbar, u, uhat []float64
}

func newIterate(n int) iterate {
	return iterate{
		x:    make([]float64, n),
		xbar: make([]float64, n),
		u:    make([]float64, n),
		uhat: make([]float64, n),
	}
}

// adapter holds the iterate history for spectral step size adaptation.
// All buffers are allocated once; the history starts at zero, so the first
// adaptation differences against the origin.
type adapter struct {
	every  int
	params stepsize.Params

	cur  iterate
	old  iterate
	diff iterate
	n    int // entries recorded into cur this round
}

func newAdapter(size, every int, params stepsize.Params) *adapter {
	return &adapter{
		every:  every,
		params: params,
		cur:    newIterate(size),
		old:    newIterate(size),
		diff:   newIterate(size),
	}
}

// due reports whether adaptation runs after the given round.
func (a *adapter) due(round int) bool {
	return round%a.every == 1
}

func (a *adapter) reset() { a.n = 0 }

// record appends one scalar entry of the current iterate.
func (a *adapter) record(x, xbar, u, uhat float64) {
	a.cur.x[a.n] = x
	a.cur.xbar[a.n] = xbar
	a.cur.u[a.n] = u
	a.cur.uhat[a.n] = uhat
	a.n++
}

// next computes the new step size from the change since the last
// adaptation point and makes the current iterate the new reference.
func (a *adapter) next(rho float64, round int) float64 {
	for i := range a.cur.x {
		a.diff.x[i] = a.cur.x[i] - a.old.x[i]
		a.diff.xbar[i] = a.old.xbar[i] - a.cur.xbar[i]
		a.diff.u[i] = a.cur.u[i] - a.old.u[i]
		a.diff.uhat[i] = a.cur.uhat[i] - a.old.uhat[i]
	}
	a.cur, a.old = a.old, a.cur
	return stepsize.NextRho(rho, round, a.diff.x, a.diff.xbar, a.diff.u, a.diff.uhat, a.params)
}
