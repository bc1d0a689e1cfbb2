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
	"github.com/copyleftdev/descent/internal/optimization/optimtest"
)

var bowl = optimization.Objective{
	N: 2,
	Func: func(x []float64) float64 {
		return (x[0]-2)*(x[0]-2) + (x[1]+3)*(x[1]+3)
	},
	Grad: func(dst, x []float64) {
		dst[0] = 2 * (x[0] - 2)
		dst[1] = 2 * (x[1] + 3)
	},
}

var rosenbrock = optimization.Objective{
	N: 2,
	Func: func(x []float64) float64 {
		a, b := 1-x[0], x[1]-x[0]*x[0]
		return a*a + 100*b*b
	},
	Grad: func(dst, x []float64) {
		b := x[1] - x[0]*x[0]
		dst[0] = -2*(1-x[0]) - 400*x[0]*b
		dst[1] = 200 * b
	},
	Hess: func(dst *mat.SymDense, x []float64) {
		dst.SetSym(0, 0, 2-400*x[1]+1200*x[0]*x[0])
		dst.SetSym(0, 1, -400*x[0])
		dst.SetSym(1, 1, 200)
	},
}

func TestLBFGSBowl(t *testing.T) {
	x0 := []float64{0, 0}
	res, err := Minimize(bowl, x0, Config{})
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, optimization.GradientThreshold, res.Status)
	assert.LessOrEqual(t, res.Iterations, 20)
	optimtest.AssertFloat64SlicesEqual(t, res.X, []float64{2, -3}, 1e-8)
	assert.InDelta(t, 0, res.F, 1e-12)
	assert.Equal(t, []float64{0, 0}, x0, "start point must not be mutated")
	assert.Len(t, res.History, res.Iterations)
}

func TestSPDQuadraticConvergence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	methods := []Method{LBFGS, BFGS, DFP, Newton, CGPolakRibiere, CGFletcherReeves}

	for _, n := range []int{2, 5, 12} {
		a := optimtest.RandomSPD(rng, n)
		b := optimtest.RandomVector(rng, n, -5, 5)
		want := optimtest.QuadraticMinimizer(t, a, b)
		obj := optimtest.CenteredQuadratic(t, a, b)

		for _, m := range methods {
			x0 := optimtest.RandomVector(rng, n, -10, 10)
			res, err := Minimize(obj, x0, Config{Method: m})
			require.NoError(t, err, "%v n=%d", m, n)
			require.True(t, res.Converged, "%v n=%d: %v", m, n, res.Status)
			assert.Less(t, optimization.Norm(res.Gradient), 1e-8, "%v n=%d", m, n)
			optimtest.AssertFloat64SlicesEqual(t, res.X, want, 1e-6)
		}
	}
}

func TestRosenbrock(t *testing.T) {
	tests := []struct {
		method Method
		maxIt  int
	}{
		{LBFGS, 200},
		{BFGS, 200},
		{Newton, 100},
		{CGPolakRibiere, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.method.String(), func(t *testing.T) {
			res, err := Minimize(rosenbrock, []float64{-1.2, 1}, Config{
				Method:   tt.method,
				Settings: optimization.Settings{MaxIterations: tt.maxIt, GradientTolerance: 1e-6},
			})
			require.NoError(t, err)
			require.True(t, res.Converged, res.Status.String())
			optimtest.AssertFloat64SlicesEqual(t, res.X, []float64{1, 1}, 1e-4)

			fs := make([]float64, 0, len(res.History)+1)
			fs = append(fs, rosenbrock.Evaluate([]float64{-1.2, 1}))
			for _, it := range res.History {
				fs = append(fs, it.F)
			}
			optimtest.Monotone(t, fs, 0)
		})
	}
}

func TestIterationLimit(t *testing.T) {
	res, err := Minimize(rosenbrock, []float64{-1.2, 1}, Config{
		Settings: optimization.Settings{MaxIterations: 3},
	})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, optimization.IterationLimit, res.Status)
	assert.Equal(t, 3, res.Iterations)
	assert.Less(t, res.F, rosenbrock.Evaluate([]float64{-1.2, 1}))
}

func TestStartErrors(t *testing.T) {
	_, err := Minimize(bowl, []float64{1, 2, 3}, Config{})
	assert.True(t, errors.Is(err, optimization.ErrDimensionMismatch))

	_, err = Minimize(bowl, []float64{math.NaN(), 0}, Config{})
	assert.True(t, errors.Is(err, optimization.ErrNonFiniteValue))

	_, err = Minimize(bowl, []float64{0, 0}, Config{Method: Method(99)})
	assert.True(t, errors.Is(err, optimization.ErrInvalidArgument))
}

func TestNonFiniteGradientIsFatal(t *testing.T) {
	obj := optimization.Objective{
		N:    1,
		Func: func(x []float64) float64 { return x[0] * x[0] },
		Grad: func(dst, x []float64) {
			if x[0] < 0.9 {
				dst[0] = math.Inf(1)
				return
			}
			dst[0] = 2 * x[0]
		},
	}
	res, err := Minimize(obj, []float64{1}, Config{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, optimization.ErrNonFiniteValue))
}

func TestAlreadyStationary(t *testing.T) {
	res, err := Minimize(bowl, []float64{2, -3}, Config{})
	require.NoError(t, err)
	assert.Equal(t, optimization.GradientThreshold, res.Status)
	assert.Equal(t, 0, res.Iterations)
	assert.Empty(t, res.History)
}

func TestParseMethod(t *testing.T) {
	for m, name := range methodNames {
		got, err := ParseMethod(name)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMethod("simplex")
	assert.True(t, errors.Is(err, optimization.ErrInvalidArgument))
}

func TestStepAfterTermination(t *testing.T) {
	st, err := NewState(bowl, []float64{2, -3}, Config{})
	require.NoError(t, err)
	require.True(t, st.Status.Terminated())

	it, err := Step(st)
	require.NoError(t, err)
	assert.Equal(t, optimization.Iteration{}, it)
	assert.Equal(t, 0, st.Iteration)
}

func BenchmarkLBFGSRosenbrock(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := Minimize(rosenbrock, []float64{-1.2, 1}, Config{}); err != nil {
			b.Fatal(err)
		}
	}
}
