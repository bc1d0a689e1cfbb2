package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/descent/internal/optimization"
)

const (
	// ConditionLimit is the largest condition number accepted without
	// regularization.
	ConditionLimit = 1e14

	// initialShift is the first diagonal shift, relative to max|Aᵢᵢ|.
	initialShift = 1e-10
	// shiftGrowth multiplies the shift after every failed attempt.
	shiftGrowth = 10
	// maxShiftAttempts bounds the regularization loop.
	maxShiftAttempts = 20
)

// Solve stores the solution of A·x = b in dst using Gaussian elimination with
// partial pivoting (LU). When A is singular or its condition number exceeds
// ConditionLimit, the system is regularized to (A + τI)·x = b with τ growing
// geometrically until the factorization is usable. The applied τ is returned.
//
// Only a dimension mismatch is reported as an error; a system that stays
// singular after every shift returns ErrSingularSystem for the caller to
// recover from.
func Solve(dst []float64, a mat.Matrix, b []float64) (shift float64, err error) {
	const op = "Solve"

	r, c := a.Dims()
	if r != c {
		return 0, optimization.DimensionError("linalg", op, c, r)
	}
	if len(b) != r {
		return 0, optimization.DimensionError("linalg", op, len(b), r)
	}
	if len(dst) != r {
		return 0, optimization.DimensionError("linalg", op, len(dst), r)
	}

	work := mat.DenseCopyOf(a)
	scale := maxAbsDiag(a)
	x := mat.NewVecDense(r, dst)
	rhs := mat.NewVecDense(r, b)

	var lu mat.LU
	for attempt := 0; attempt <= maxShiftAttempts; attempt++ {
		lu.Factorize(work)
		if cond := lu.Cond(); cond < ConditionLimit {
			// A Condition error only warns about accuracy; the solution is stored.
			if err := lu.SolveVecTo(x, false, rhs); err == nil || isCondition(err) {
				if optimization.AllFinite(dst) {
					return shift, nil
				}
			}
		}
		next := nextShift(shift, scale)
		addDiagonal(work, next-shift)
		shift = next
	}
	return shift, singular(op)
}

// SolveSPD stores the solution of A·x = b for symmetric A using a Cholesky
// factorization, shifting the diagonal until A + τI is positive definite and
// well conditioned. It is the regularized Newton solve: the returned τ is
// zero when A was already positive definite.
func SolveSPD(dst []float64, a mat.Symmetric, b []float64) (shift float64, err error) {
	const op = "SolveSPD"

	n := a.SymmetricDim()
	if len(b) != n {
		return 0, optimization.DimensionError("linalg", op, len(b), n)
	}
	if len(dst) != n {
		return 0, optimization.DimensionError("linalg", op, len(dst), n)
	}

	work := mat.NewSymDense(n, nil)
	work.CopySym(a)
	scale := maxAbsDiag(a)
	x := mat.NewVecDense(n, dst)
	rhs := mat.NewVecDense(n, b)

	var chol mat.Cholesky
	for attempt := 0; attempt <= maxShiftAttempts; attempt++ {
		if chol.Factorize(work) && chol.Cond() < ConditionLimit {
			if err := chol.SolveVecTo(x, rhs); err == nil || isCondition(err) {
				if optimization.AllFinite(dst) {
					return shift, nil
				}
			}
		}
		next := nextShift(shift, scale)
		for i := 0; i < n; i++ {
			work.SetSym(i, i, work.At(i, i)+next-shift)
		}
		shift = next
	}
	return shift, singular(op)
}

// Inverse stores A⁻¹ (or (A + τI)⁻¹ after regularization) in dst.
func Inverse(dst *mat.Dense, a mat.Matrix) (shift float64, err error) {
	const op = "Inverse"

	r, c := a.Dims()
	if r != c {
		return 0, optimization.DimensionError("linalg", op, c, r)
	}
	if dr, dc := dst.Dims(); dr != r || dc != c {
		return 0, optimization.DimensionError("linalg", op, dr, r)
	}

	work := mat.DenseCopyOf(a)
	scale := maxAbsDiag(a)
	eye := identity(r)

	var lu mat.LU
	for attempt := 0; attempt <= maxShiftAttempts; attempt++ {
		lu.Factorize(work)
		if lu.Cond() < ConditionLimit {
			if err := lu.SolveTo(dst, false, eye); err == nil || isCondition(err) {
				if optimization.AllFinite(dst.RawMatrix().Data) {
					return shift, nil
				}
			}
		}
		next := nextShift(shift, scale)
		addDiagonal(work, next-shift)
		shift = next
	}
	return shift, singular(op)
}

// PositiveDefinite reports whether the Cholesky factorization of a succeeds.
func PositiveDefinite(a mat.Symmetric) bool {
	var chol mat.Cholesky
	return chol.Factorize(a)
}

func isCondition(err error) bool {
	_, ok := err.(mat.Condition)
	return ok
}

func singular(op string) error {
	return optimization.NewError(optimization.KindSingularSystem, "system remained singular after regularization").
		WithComponent("linalg").
		WithOperation(op)
}

func nextShift(shift, scale float64) float64 {
	if shift == 0 {
		return initialShift * scale
	}
	return shift * shiftGrowth
}

func maxAbsDiag(a mat.Matrix) float64 {
	r, _ := a.Dims()
	var m float64
	for i := 0; i < r; i++ {
		m = math.Max(m, math.Abs(a.At(i, i)))
	}
	if m == 0 {
		return 1
	}
	return m
}

func addDiagonal(a *mat.Dense, tau float64) {
	r, _ := a.Dims()
	for i := 0; i < r; i++ {
		a.Set(i, i, a.At(i, i)+tau)
	}
}

func identity(n int) *mat.Dense {
	eye := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		eye.Set(i, i, 1)
	}
	return eye
}
