package linalg

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/optimtest"
)

func TestVectorKernels(t *testing.T) {
	x := []float64{1, 2, 3}
	y := []float64{4, -5, 6}

	assert.InDelta(t, 12.0, Dot(x, y), 1e-12)
	assert.InDelta(t, 5.0, Norm([]float64{3, 4}), 1e-12)
	assert.InDelta(t, 6.0, NormInf(y), 1e-12)

	dst := make([]float64, 3)
	optimtest.AssertFloat64SlicesEqual(t, ScaleTo(dst, 2, x), []float64{2, 4, 6}, 0)
	optimtest.AssertFloat64SlicesEqual(t, AxpyTo(dst, y, -1, x), []float64{3, -7, 3}, 0)
	optimtest.AssertFloat64SlicesEqual(t, SubTo(dst, x, y), []float64{-3, 7, -3}, 0)
	optimtest.AssertFloat64SlicesEqual(t, AddTo(dst, x, y), []float64{5, -3, 9}, 0)
	optimtest.AssertFloat64SlicesEqual(t, Negate(dst, x), []float64{-1, -2, -3}, 0)

	z := Clone(x)
	Axpy(z, 0.5, x)
	optimtest.AssertFloat64SlicesEqual(t, z, []float64{1.5, 3, 4.5}, 0)
	assert.Equal(t, []float64{1, 2, 3}, x, "Axpy must not touch its source")
}

func TestMatVecAndQuadForm(t *testing.T) {
	a := mat.NewSymDense(2, []float64{2, 1, 1, 3})
	dst := make([]float64, 2)
	MatVec(dst, a, []float64{1, -1})
	optimtest.AssertFloat64SlicesEqual(t, dst, []float64{1, -2}, 1e-15)
	assert.InDelta(t, 3.0, QuadForm(a, []float64{1, -1}), 1e-15)
}

func TestSolve(t *testing.T) {
	tests := []struct {
		name      string
		a         *mat.Dense
		b         []float64
		want      []float64
		wantShift bool
	}{
		{
			name: "well conditioned",
			a:    mat.NewDense(2, 2, []float64{4, 1, 2, 3}),
			b:    []float64{1, 2},
			want: []float64{0.1, 0.6},
		},
		{
			name: "needs pivoting",
			a:    mat.NewDense(2, 2, []float64{0, 1, 1, 0}),
			b:    []float64{2, 3},
			want: []float64{3, 2},
		},
		{
			name:      "singular is regularized",
			a:         mat.NewDense(2, 2, []float64{1, 1, 1, 1}),
			b:         []float64{1, 1},
			wantShift: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]float64, len(tt.b))
			shift, err := Solve(dst, tt.a, tt.b)
			require.NoError(t, err)
			assert.True(t, optimization.AllFinite(dst))
			if tt.wantShift {
				assert.Greater(t, shift, 0.0)
				return
			}
			assert.Equal(t, 0.0, shift)
			optimtest.AssertFloat64SlicesEqual(t, dst, tt.want, 1e-12)
		})
	}
}

func TestSolveDoesNotModifyInput(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	before := mat.DenseCopyOf(a)
	_, err := Solve(make([]float64, 2), a, []float64{1, 0})
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, before))
}

func TestSolveDimensionMismatch(t *testing.T) {
	_, err := Solve(make([]float64, 2), mat.NewDense(2, 2, nil), []float64{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, optimization.ErrDimensionMismatch))

	_, err = Solve(make([]float64, 2), mat.NewDense(2, 3, nil), []float64{1, 2})
	assert.True(t, errors.Is(err, optimization.ErrDimensionMismatch))

	_, err = SolveSPD(make([]float64, 3), mat.NewSymDense(2, nil), []float64{1, 2})
	assert.True(t, errors.Is(err, optimization.ErrDimensionMismatch))
}

func TestSolveSPD(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := optimtest.RandomSPD(rng, 6)
	b := optimtest.RandomVector(rng, 6, -1, 1)

	dst := make([]float64, 6)
	shift, err := SolveSPD(dst, a, b)
	require.NoError(t, err)
	assert.Equal(t, 0.0, shift)

	check := make([]float64, 6)
	MatVec(check, a, dst)
	optimtest.AssertFloat64SlicesEqual(t, check, b, 1e-10)
}

func TestSolveSPDShiftsIndefinite(t *testing.T) {
	a := mat.NewSymDense(2, []float64{1, 0, 0, -1})
	dst := make([]float64, 2)
	shift, err := SolveSPD(dst, a, []float64{1, 1})
	require.NoError(t, err)
	assert.Greater(t, shift, 1.0, "shift must exceed the negative eigenvalue")
	assert.True(t, PositiveDefinite(shifted(a, shift)))
}

func TestInverse(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{4, 7, 2, 6})
	inv := mat.NewDense(2, 2, nil)
	shift, err := Inverse(inv, a)
	require.NoError(t, err)
	assert.Equal(t, 0.0, shift)

	var prod mat.Dense
	prod.Mul(a, inv)
	optimtest.AssertMatEqual(t, &prod, identity(2), 1e-12)
}

func TestPool(t *testing.T) {
	p := NewPool(3)
	assert.Equal(t, 3, p.Dim())

	v := p.GetVec()
	require.Len(t, v, 3)
	v[0] = 42
	p.PutVec(v, make([]float64, 2))

	w := p.GetVec()
	assert.Equal(t, []float64{0, 0, 0}, w, "recycled vectors are zeroed")
	assert.Len(t, p.vecs, 0, "wrong-length vectors are dropped")

	m := p.GetSym()
	m.SetSym(0, 1, 5)
	p.PutSym(m)
	m2 := p.GetSym()
	assert.Same(t, m, m2)
	assert.Equal(t, 0.0, m2.At(0, 1))
}

func shifted(a *mat.SymDense, tau float64) *mat.SymDense {
	n := a.SymmetricDim()
	s := mat.NewSymDense(n, nil)
	s.CopySym(a)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, s.At(i, i)+tau)
	}
	return s
}

func BenchmarkSolve(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	a := optimtest.RandomSPD(rng, 100)
	rhs := optimtest.RandomVector(rng, 100, -1, 1)
	dst := make([]float64, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Solve(dst, a, rhs)
	}
}
