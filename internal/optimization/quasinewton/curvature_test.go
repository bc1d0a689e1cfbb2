package quasinewton

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
	"github.com/copyleftdev/descent/internal/optimization/optimtest"
)

// quadraticPairs returns k curvature pairs (s, Aₛ) of a random SPD A.
func quadraticPairs(rng *rand.Rand, n, k int) []Pair {
	a := optimtest.RandomSPD(rng, n)
	pairs := make([]Pair, k)
	for i := range pairs {
		s := optimtest.RandomVector(rng, n, -1, 1)
		y := make([]float64, n)
		linalg.MatVec(y, a, s)
		pairs[i] = Pair{S: s, Y: y}
	}
	return pairs
}

func TestLBFGSMatchesBFGS(t *testing.T) {
	const n = 5
	rng := rand.New(rand.NewSource(1))

	for _, m := range []int{n, n + 3} {
		pairs := quadraticPairs(rng, n, n)

		dense := NewDenseHessian(n, BFGSFormula, true)
		dense.InitialScaling = false
		lbfgs := NewLBFGSMemory(n, m)
		for _, p := range pairs {
			require.True(t, dense.Update(p))
			require.True(t, lbfgs.Update(p))
		}

		for trial := 0; trial < 5; trial++ {
			g := optimtest.RandomVector(rng, n, -3, 3)

			want := make([]float64, n)
			linalg.MatVec(want, dense.Matrix(), g)
			got := make([]float64, n)
			lbfgs.twoLoop(got, g, 1)

			optimtest.AssertFloat64SlicesEqual(t, got, want, 1e-9*math.Max(1, linalg.Norm(want)))
		}
	}
}

func TestDenseHessianSecantCondition(t *testing.T) {
	// y = A·s for A = [[4 1 0] [1 3 0] [0 0 2]]; sᵀy is well above the
	// damping threshold so the pair is used undamped.
	s := []float64{1, -1, 0.5}
	y := []float64{3, -2, 1}

	for _, formula := range []Formula{BFGSFormula, DFPFormula} {
		for _, inverse := range []bool{false, true} {
			d := NewDenseHessian(3, formula, inverse)
			d.InitialScaling = false
			require.True(t, d.Update(Pair{S: s, Y: y}), "%v inverse=%v", formula, inverse)
			assert.Equal(t, 1, d.Updates())

			got := make([]float64, 3)
			if inverse {
				// H⁺y = s
				linalg.MatVec(got, d.Matrix(), y)
				optimtest.AssertFloat64SlicesEqual(t, got, s, 1e-12)
			} else {
				// B⁺s = y
				linalg.MatVec(got, d.Matrix(), s)
				optimtest.AssertFloat64SlicesEqual(t, got, y, 1e-12)
			}
		}
	}
}

func TestLBFGSMemoryIsBounded(t *testing.T) {
	const n, m = 4, 3
	rng := rand.New(rand.NewSource(2))
	pairs := quadraticPairs(rng, n, 7)

	full := NewLBFGSMemory(n, m)
	for i, p := range pairs {
		require.True(t, full.Update(p))
		assert.Equal(t, min(i+1, m), full.Len())
	}

	recent := NewLBFGSMemory(n, m)
	for _, p := range pairs[len(pairs)-m:] {
		recent.Update(p)
	}

	g := optimtest.RandomVector(rng, n, -1, 1)
	got, want := make([]float64, n), make([]float64, n)
	full.Direction(got, g)
	recent.Direction(want, g)
	optimtest.AssertFloat64SlicesEqual(t, got, want, 1e-12)
}

func TestLBFGSSkipsNonPositiveCurvature(t *testing.T) {
	l := NewLBFGSMemory(2, 5)
	tests := []Pair{
		{S: []float64{1, 0}, Y: []float64{-1, 0}},
		{S: []float64{1, 0}, Y: []float64{0, 1}},
		{S: []float64{1e-6, 0}, Y: []float64{1e-5, 0}},
	}
	for _, p := range tests {
		assert.False(t, l.Update(p))
	}
	assert.Equal(t, 0, l.Len())

	g := []float64{3, -4}
	d := make([]float64, 2)
	l.Direction(d, g)
	assert.Equal(t, []float64{-3, 4}, d)
}

func TestSR1SkipLeavesHessianUnchanged(t *testing.T) {
	h := NewSR1Hessian(2)
	require.True(t, h.Update(Pair{S: []float64{1, 2}, Y: []float64{3, 3}}))
	before := append([]float64(nil), h.Matrix().RawSymmetric().Data...)

	// r = y − Bs is orthogonal to s, so rᵀs = 0 falls below the safeguard.
	s := []float64{1, 0}
	bs := make([]float64, 2)
	h.MulVec(bs, s)
	y := []float64{bs[0], bs[1] + 1}

	assert.False(t, h.Update(Pair{S: s, Y: y}))
	assert.Equal(t, before, h.Matrix().RawSymmetric().Data)
	assert.Equal(t, 1, h.Updates())
}

func TestSR1SecantAndIndefinite(t *testing.T) {
	h := NewSR1Hessian(2)
	s := []float64{1, 0}
	y := []float64{-2, 0}
	require.True(t, h.Update(Pair{S: s, Y: y}))

	bs := make([]float64, 2)
	h.MulVec(bs, s)
	optimtest.AssertFloat64SlicesEqual(t, bs, y, 1e-12)
	assert.False(t, linalg.PositiveDefinite(h.Matrix()))
}

func TestDenseHessianSecantEquation(t *testing.T) {
	const n = 4
	rng := rand.New(rand.NewSource(3))

	for _, formula := range []Formula{BFGSFormula, DFPFormula} {
		for _, inverse := range []bool{true, false} {
			d := NewDenseHessian(n, formula, inverse)
			for _, p := range quadraticPairs(rng, n, 3) {
				require.True(t, d.Update(p))

				// The newest pair always satisfies B·s = y (H·y = s).
				got := make([]float64, n)
				if inverse {
					linalg.MatVec(got, d.Matrix(), p.Y)
					optimtest.AssertFloat64SlicesEqual(t, got, p.S, 1e-9)
				} else {
					linalg.MatVec(got, d.Matrix(), p.S)
					optimtest.AssertFloat64SlicesEqual(t, got, p.Y, 1e-9)
				}
			}
			assert.True(t, linalg.PositiveDefinite(d.Matrix()), "%v inverse=%v", formula, inverse)
		}
	}
}

func TestPowellDampingKeepsPositiveDefinite(t *testing.T) {
	for _, inverse := range []bool{true, false} {
		d := NewDenseHessian(2, BFGSFormula, inverse)
		d.InitialScaling = false

		// sᵀy < 0: an undamped update would destroy positive definiteness.
		applied := d.Update(Pair{S: []float64{1, 0.5}, Y: []float64{-1, 0.2}})
		assert.True(t, applied)
		assert.True(t, linalg.PositiveDefinite(d.Matrix()), "inverse=%v", inverse)
	}
}

func TestDenseHessianDirectionForms(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	pairs := quadraticPairs(rng, 3, 3)
	inv := NewDenseHessian(3, BFGSFormula, true)
	fwd := NewDenseHessian(3, BFGSFormula, false)
	for _, p := range pairs {
		inv.Update(p)
		fwd.Update(p)
	}

	g := []float64{1, -2, 0.5}
	a, b := make([]float64, 3), make([]float64, 3)
	inv.Direction(a, g)
	fwd.Direction(b, g)
	// Inverse and forward BFGS are the same update written two ways.
	optimtest.AssertFloat64SlicesEqual(t, a, b, 1e-8)
	assert.Less(t, linalg.Dot(a, g), 0.0)
}

func TestConjugateGradientBeta(t *testing.T) {
	tests := []struct {
		name    string
		variant CGVariant
		g       []float64
		want    float64
	}{
		{"fletcher-reeves", FletcherReeves, []float64{0, 1}, 0.5},
		{"polak-ribiere", PolakRibiere, []float64{0, 2}, 1},
		{"polak-ribiere negative", PolakRibiere, []float64{0.5, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConjugateGradient(2, tt.variant)
			d := make([]float64, 2)
			c.Direction(d, []float64{1, 1})
			assert.Equal(t, []float64{-1, -1}, d)

			beta := math.Max(0, c.Beta(tt.g))
			c.Direction(d, tt.g)
			want := []float64{-tt.g[0] - tt.want, -tt.g[1] - tt.want}
			assert.InDelta(t, tt.want, beta, 1e-15)
			optimtest.AssertFloat64SlicesEqual(t, d, want, 1e-15)
		})
	}
}

func TestConjugateGradientRestartsEveryN(t *testing.T) {
	c := NewConjugateGradient(2, FletcherReeves)
	d := make([]float64, 2)
	c.Direction(d, []float64{2, 0})
	c.Direction(d, []float64{0, 1})
	require.NotEqual(t, []float64{0, -1}, d)

	// Third direction: two directions since the last restart, n = 2.
	g := []float64{0.5, 0.5}
	c.Direction(d, g)
	assert.Equal(t, []float64{-0.5, -0.5}, d)
}

func TestBroydenNonlinearSystem(t *testing.T) {
	// x² + y² = 4 and x = y.
	fn := optimization.VectorFunc(func(dst, x []float64) {
		dst[0] = x[0]*x[0] + x[1]*x[1] - 4
		dst[1] = x[0] - x[1]
	})

	res, err := Broyden(fn, []float64{1, 2}, BroydenConfig{})
	require.NoError(t, err)
	require.True(t, res.Converged, res.Status.String())
	assert.Equal(t, optimization.ResidualThreshold, res.Status)
	assert.Less(t, res.F, 1e-8)
	optimtest.AssertFloat64SlicesEqual(t, res.X, []float64{math.Sqrt2, math.Sqrt2}, 1e-7)
	assert.Greater(t, res.Stats.FuncEvaluations, res.Iterations)
}

func TestBroydenLinearFromIdentity(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{3, 1, 1, 2})
	b := []float64{1, -1}
	fn := optimization.VectorFunc(func(dst, x []float64) {
		linalg.MatVec(dst, a, x)
		linalg.SubTo(dst, dst, b)
	})

	res, err := Broyden(fn, []float64{0, 0}, BroydenConfig{InitialJacobian: IdentityJacobian})
	require.NoError(t, err)
	require.True(t, res.Converged, res.Status.String())
	// 3x + y = 1, x + 2y = −1.
	optimtest.AssertFloat64SlicesEqual(t, res.X, []float64{0.6, -0.8}, 1e-7)
}

func TestBroydenErrors(t *testing.T) {
	fn := optimization.VectorFunc(func(dst, x []float64) { copy(dst, x) })

	_, err := Broyden(fn, nil, BroydenConfig{})
	assert.True(t, errors.Is(err, optimization.ErrDimensionMismatch))

	_, err = Broyden(fn, []float64{math.Inf(1)}, BroydenConfig{})
	assert.True(t, errors.Is(err, optimization.ErrNonFiniteValue))

	_, err = Broyden(nil, []float64{1}, BroydenConfig{})
	assert.True(t, errors.Is(err, optimization.ErrInvalidArgument))
}
