// Package stepsize implements the spectral step size rule used to adapt the
// ADMM penalty parameter rho between rounds.
//
// The estimator compares how the primal iterates and the dual iterates moved
// since the last adaptation point. Two curvature estimates are formed, one
// from the local primal/intermediate-dual pair and one from the consensus
// average/dual pair, and combined under a correlation safeguard. The result
// is clamped into a trust region around the current rho that narrows as the
// iteration count grows:
//
//	scale = 1 + C/k²
//	rho'  = clamp(estimate, rho/scale, rho*scale)
//
// See Xu et al., "Adaptive Consensus ADMM for Distributed Optimization".
package stepsize

import "math"

// Default safeguarding parameters.
const (
	DefaultEps = 0.2
	DefaultC   = 1e10
)

// Params configures NextRho.
type Params struct {
	Eps float64 // Correlation threshold an estimate must exceed to be trusted
	C   float64 // Convergence constant of the trust region
}

// DefaultParams returns Eps = 0.2 and C = 1e10.
func DefaultParams() Params {
	return Params{Eps: DefaultEps, C: DefaultC}
}

// NextRho returns the spectral step size for the next round.
//
// Parameters:
//   - rho: The current step size (must be > 0)
//   - k: The current round index; values below 1 are treated as 1
//   - dx: Change in local primal value since the last adaptation
//   - dxbar: Change in consensus average (old minus new)
//   - du: Change in dual value
//   - duhat: Change in intermediate dual value
//   - p: Safeguarding parameters
//
// Returns:
//   - rho unchanged if any difference vector has zero norm
//   - Otherwise the safeguarded estimate clamped into [rho/scale, rho*scale]
//
// NextRho does not allocate and has no side effects.
func NextRho(rho float64, k int, dx, dxbar, du, duhat []float64, p Params) float64 {
	if sumSquares(dx) == 0 || sumSquares(dxbar) == 0 ||
		sumSquares(du) == 0 || sumSquares(duhat) == 0 {
		return rho
	}

	aHat := Estimate(dx, duhat)
	bHat := Estimate(dxbar, du)
	aCor := Correlation(dx, duhat)
	bCor := Correlation(dxbar, du)

	if k < 1 {
		k = 1
	}
	kf := float64(k)
	scale := 1 + p.C/(kf*kf)

	rhoHat := Safeguard(rho, aHat, bHat, aCor, bCor, p.Eps)
	return math.Max(math.Min(rhoHat, scale*rho), rho/scale)
}

// Estimate combines the steepest descent and minimum gradient estimates of
// the curvature between a primal-like change p and a dual-like change d:
//
//	sd = Σd² / Σpd
//	mg = Σpd / Σp²
//
// It returns mg when 2*mg > sd and sd - mg otherwise.
func Estimate(p, d []float64) float64 {
	pd := dot(p, d)
	sd := sumSquares(d) / pd
	mg := pd / sumSquares(p)
	if 2*mg > sd {
		return mg
	}
	return sd - mg
}

// Correlation returns Σpd / sqrt(Σp² Σd²).
func Correlation(p, d []float64) float64 {
	return dot(p, d) / math.Sqrt(sumSquares(p)*sumSquares(d))
}

// Safeguard picks the new step size from the two curvature estimates a and
// b according to how well each is supported by its correlation.
func Safeguard(rho, a, b, aCor, bCor, eps float64) float64 {
	switch {
	case aCor > eps && bCor > eps:
		return math.Sqrt(a * b)
	case aCor > eps:
		return a
	case bCor > eps:
		return b
	default:
		return rho
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sumSquares(a []float64) float64 {
	return dot(a, a)
}
