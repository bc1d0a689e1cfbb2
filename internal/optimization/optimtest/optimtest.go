// Package optimtest holds assertions and problem generators shared by the
// solver test suites.
package optimtest

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/descent/internal/optimization"
)

// AssertFloat64SlicesEqual checks if two float64 slices are approximately equal
func AssertFloat64SlicesEqual(t testing.TB, got, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// AssertMatEqual checks if two matrices are approximately equal
func AssertMatEqual(t testing.TB, got, want mat.Matrix, tol float64) {
	t.Helper()

	rg, cg := got.Dims()
	rw, cw := want.Dims()
	if rg != rw || cg != cw {
		t.Fatalf("matrix dimensions mismatch: got %dx%d, want %dx%d", rg, cg, rw, cw)
	}

	for i := 0; i < rg; i++ {
		for j := 0; j < cg; j++ {
			g := got.At(i, j)
			w := want.At(i, j)
			if math.Abs(g-w) > tol {
				t.Fatalf("at (%d,%d): got %v, want %v (tolerance %v)", i, j, g, w, tol)
			}
		}
	}
}

// RandomSPD returns a symmetric positive definite n×n matrix MᵀM + nI with
// entries of M drawn from rng.
func RandomSPD(rng *rand.Rand, n int) *mat.SymDense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.Set(i, j, rng.Float64()*2-1)
		}
	}
	a := mat.NewSymDense(n, nil)
	a.SymOuterK(1, m.T())
	for i := 0; i < n; i++ {
		a.SetSym(i, i, a.At(i, i)+float64(n))
	}
	return a
}

// RandomVector returns a vector with values in [min, max]
func RandomVector(rng *rand.Rand, n int, min, max float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = min + rng.Float64()*(max-min)
	}
	return v
}

// Quadratic returns f(x) = ½xᵀAx − bᵀx with exact gradient and Hessian.
func Quadratic(a *mat.SymDense, b []float64) optimization.Objective {
	n := len(b)
	return optimization.Objective{
		N: n,
		Func: func(x []float64) float64 {
			ax := mat.NewVecDense(n, nil)
			ax.MulVec(a, mat.NewVecDense(n, x))
			return 0.5*floats.Dot(x, ax.RawVector().Data) - floats.Dot(b, x)
		},
		Grad: func(dst, x []float64) {
			g := mat.NewVecDense(n, dst)
			g.MulVec(a, mat.NewVecDense(n, x))
			floats.Sub(dst, b)
		},
		Hess: func(dst *mat.SymDense, _ []float64) {
			dst.CopySym(a)
		},
	}
}

// QuadraticMinimizer returns A⁻¹b.
func QuadraticMinimizer(t testing.TB, a *mat.SymDense, b []float64) []float64 {
	t.Helper()
	var chol mat.Cholesky
	if !chol.Factorize(a) {
		t.Fatalf("matrix is not positive definite")
	}
	x := mat.NewVecDense(len(b), nil)
	if err := chol.SolveVecTo(x, mat.NewVecDense(len(b), b)); err != nil {
		t.Fatalf("solve failed: %v", err)
	}
	return x.RawVector().Data
}

// Monotone checks that values never increase by more than tol.
func Monotone(t testing.TB, values []float64, tol float64) {
	t.Helper()
	for i := 1; i < len(values); i++ {
		if values[i] > values[i-1]+tol {
			t.Fatalf("sequence increases at %d: %v -> %v", i, values[i-1], values[i])
		}
	}
}

// CenteredQuadratic is ½(x−x*)ᵀA(x−x*) with x* = A⁻¹b. It has the gradient
// and minimizer of Quadratic(a, b) but f(x*) = 0, which keeps Armijo
// comparisons above rounding level as the gradient tolerance tightens.
func CenteredQuadratic(t testing.TB, a *mat.SymDense, b []float64) optimization.Objective {
	t.Helper()
	xstar := QuadraticMinimizer(t, a, b)
	n := len(b)
	return optimization.Objective{
		N: n,
		Func: func(x []float64) float64 {
			e := make([]float64, n)
			floats.SubTo(e, x, xstar)
			ae := mat.NewVecDense(n, nil)
			ae.MulVec(a, mat.NewVecDense(n, e))
			return 0.5 * floats.Dot(e, ae.RawVector().Data)
		},
		Grad: func(dst, x []float64) {
			e := make([]float64, n)
			floats.SubTo(e, x, xstar)
			mat.NewVecDense(n, dst).MulVec(a, mat.NewVecDense(n, e))
		},
		Hess: func(dst *mat.SymDense, _ []float64) {
			dst.CopySym(a)
		},
	}
}
