package stepsize

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		p, d []float64
		want float64
	}{
		{
			name: "minimum gradient branch",
			p:    []float64{1, 0},
			d:    []float64{2, 1}, // sd = 2.5, mg = 2
			want: 2,
		},
		{
			name: "steepest descent minus minimum gradient",
			p:    []float64{1, 0},
			d:    []float64{1, 3}, // sd = 10, mg = 1
			want: 9,
		},
		{
			name: "tie falls to sd - mg",
			p:    []float64{2, 0},
			d:    []float64{1, 1}, // sd = 1, mg = 0.5
			want: 0.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Estimate(tt.p, tt.d), 1e-12)
		})
	}
}

func TestCorrelation(t *testing.T) {
	assert.InDelta(t, 2/math.Sqrt(5), Correlation([]float64{1, 0}, []float64{2, 1}), 1e-12)
	assert.InDelta(t, -1.0, Correlation([]float64{1, 2}, []float64{-2, -4}), 1e-12)
	assert.InDelta(t, 0.0, Correlation([]float64{1, 0}, []float64{0, 5}), 1e-12)
}

func TestSafeguard(t *testing.T) {
	assert.InDelta(t, math.Sqrt(6), Safeguard(1, 2, 3, 0.9, 0.9, 0.2), 1e-12)
	assert.Equal(t, 2.0, Safeguard(1, 2, 3, 0.9, 0.2, 0.2), "b at threshold is not trusted")
	assert.Equal(t, 3.0, Safeguard(1, 2, 3, -0.5, 0.21, 0.2))
	assert.Equal(t, 1.5, Safeguard(1.5, 2, 3, 0.1, 0.1, 0.2))
}

func TestNextRho(t *testing.T) {
	// a-pair: dx=[1,0], duhat=[2,1] gives a_hat = 2, corr ≈ 0.894
	// b-pair: dxbar=[1,0], du=[3,1] gives b_hat = 3, corr ≈ 0.949
	dx := []float64{1, 0}
	duhat := []float64{2, 1}
	dxbar := []float64{1, 0}
	du := []float64{3, 1}

	tests := []struct {
		name              string
		rho               float64
		k                 int
		dx, dxbar, du, dh []float64
		params            Params
		want              float64
	}{
		{
			name: "both correlated uses geometric mean",
			rho:  1, k: 1,
			dx: dx, dxbar: dxbar, du: du, dh: duhat,
			params: DefaultParams(),
			want:   math.Sqrt(6),
		},
		{
			name: "trust region caps growth",
			rho:  1, k: 1,
			dx: dx, dxbar: dxbar, du: du, dh: duhat,
			params: Params{Eps: 0.2, C: 1},
			want:   2,
		},
		{
			name: "trust region narrows with k",
			rho:  1, k: 10,
			dx: dx, dxbar: dxbar, du: du, dh: duhat,
			params: Params{Eps: 0.2, C: 1},
			want:   1.01,
		},
		{
			name: "trust region caps shrinkage",
			rho:  100, k: 1,
			dx: dx, dxbar: dxbar, du: du, dh: duhat,
			params: Params{Eps: 0.2, C: 3},
			want:   25,
		},
		{
			name: "only a correlated",
			rho:  1, k: 3,
			dx: dx, dxbar: dxbar, du: []float64{-3, 1}, dh: duhat,
			params: DefaultParams(),
			want:   2,
		},
		{
			name: "only b correlated",
			rho:  1, k: 3,
			dx: dx, dxbar: dxbar, du: du, dh: []float64{-2, 1},
			params: DefaultParams(),
			want:   3,
		},
		{
			name: "neither correlated keeps rho",
			rho:  1.5, k: 3,
			dx: dx, dxbar: dxbar, du: []float64{-3, 1}, dh: []float64{-2, 1},
			params: DefaultParams(),
			want:   1.5,
		},
		{
			name: "k below one behaves like one",
			rho:  1, k: 0,
			dx: dx, dxbar: dxbar, du: du, dh: duhat,
			params: Params{Eps: 0.2, C: 1},
			want:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRho(tt.rho, tt.k, tt.dx, tt.dxbar, tt.du, tt.dh, tt.params)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestNextRhoDegenerate(t *testing.T) {
	zero := []float64{0, 0}
	other := []float64{5, -3}

	// Any zero-norm difference returns rho untouched regardless of the rest.
	for i := 0; i < 4; i++ {
		args := [][]float64{other, other, other, other}
		args[i] = zero
		got := NextRho(0.7, 5, args[0], args[1], args[2], args[3], DefaultParams())
		assert.Equal(t, 0.7, got, "zero vector at position %d", i)
	}

	assert.Equal(t, 0.7, NextRho(0.7, 1, nil, other, other, other, DefaultParams()))
}

func TestNextRhoStaysInTrustRegion(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	vec := func(n int) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = rng.NormFloat64()
		}
		return v
	}

	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(6)
		rho := math.Exp(rng.NormFloat64())
		k := 1 + rng.Intn(50)
		p := Params{Eps: 0.2, C: math.Pow(10, float64(rng.Intn(4)))}

		got := NextRho(rho, k, vec(n), vec(n), vec(n), vec(n), p)

		scale := 1 + p.C/float64(k*k)
		assert.GreaterOrEqual(t, got, rho/scale*(1-1e-12))
		assert.LessOrEqual(t, got, rho*scale*(1+1e-12))
		assert.Greater(t, got, 0.0)
	}
}

func TestNextRhoAllocations(t *testing.T) {
	dx := []float64{1, 0}
	duhat := []float64{2, 1}
	dxbar := []float64{1, 0}
	du := []float64{3, 1}
	p := DefaultParams()

	allocs := testing.AllocsPerRun(100, func() {
		NextRho(1, 1, dx, dxbar, du, duhat, p)
	})
	assert.Zero(t, allocs)
}
