// Package linalg provides the dense vector and matrix kernels used by the
// solvers: BLAS-1 style helpers over gonum/floats, matrix-vector products,
// and linear solves that regularize near-singular systems with a diagonal
// shift instead of failing.
package linalg

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dot returns xᵀy. It panics if the lengths differ.
func Dot(x, y []float64) float64 {
	return floats.Dot(x, y)
}

// Norm returns ‖x‖₂.
func Norm(x []float64) float64 {
	return floats.Norm(x, 2)
}

// NormInf returns ‖x‖∞.
func NormInf(x []float64) float64 {
	return floats.Norm(x, math.Inf(1))
}

// ScaleTo stores alpha·x in dst and returns dst.
func ScaleTo(dst []float64, alpha float64, x []float64) []float64 {
	return floats.ScaleTo(dst, alpha, x)
}

// Axpy computes dst += alpha·x.
func Axpy(dst []float64, alpha float64, x []float64) {
	floats.AddScaled(dst, alpha, x)
}

// AxpyTo stores y + alpha·x in dst and returns dst.
func AxpyTo(dst, y []float64, alpha float64, x []float64) []float64 {
	return floats.AddScaledTo(dst, y, alpha, x)
}

// SubTo stores x − y in dst and returns dst.
func SubTo(dst, x, y []float64) []float64 {
	return floats.SubTo(dst, x, y)
}

// AddTo stores x + y in dst and returns dst.
func AddTo(dst, x, y []float64) []float64 {
	return floats.AddTo(dst, x, y)
}

// Negate stores −x in dst and returns dst.
func Negate(dst, x []float64) []float64 {
	return floats.ScaleTo(dst, -1, x)
}

// Clone returns a copy of x.
func Clone(x []float64) []float64 {
	return append([]float64(nil), x...)
}

// MatVec stores a·x in dst. dst and x must not alias.
func MatVec(dst []float64, a mat.Matrix, x []float64) {
	mat.NewVecDense(len(dst), dst).MulVec(a, mat.NewVecDense(len(x), x))
}

// QuadForm returns xᵀAx.
func QuadForm(a mat.Symmetric, x []float64) float64 {
	v := mat.NewVecDense(len(x), x)
	return mat.Inner(v, a, v)
}
