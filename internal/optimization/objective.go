package optimization

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ObjectiveFunction is the scalar function being minimized. Implementations
// must be referentially pure: the same x always yields the same outputs.
type ObjectiveFunction interface {
	// Evaluate returns f(x).
	Evaluate(x []float64) float64
	// Gradient stores ∇f(x) in dst, which has len(x).
	Gradient(dst, x []float64)
}

// HessianVectorProducer is implemented by objectives that can apply their
// Hessian to a vector without forming it.
type HessianVectorProducer interface {
	HessianVectorProduct(dst, x, v []float64)
}

// Hessianer is implemented by objectives with a dense Hessian.
type Hessianer interface {
	Hessian(dst *mat.SymDense, x []float64)
}

// Dimensioned is implemented by objectives of a fixed dimension. Drivers
// reject a start point of any other length.
type Dimensioned interface {
	Dim() int
}

// DomainRestricted is implemented by objectives that are undefined outside
// an open set, such as log-barrier functions. Line searches and trust-region
// drivers never evaluate a point for which InDomain is false.
type DomainRestricted interface {
	InDomain(x []float64) bool
}

// Objective adapts plain functions to ObjectiveFunction. Func is required; a
// nil Grad is replaced by central finite differences and a nil Hess by a
// symmetrized finite-difference Jacobian of the gradient.
type Objective struct {
	// N is the problem dimension. Zero disables the dimension check.
	N       int
	Func    func(x []float64) float64
	Grad    func(dst, x []float64)
	HessVec func(dst, x, v []float64)
	Hess    func(dst *mat.SymDense, x []float64)
}

// Evaluate implements ObjectiveFunction.
func (o Objective) Evaluate(x []float64) float64 {
	return o.Func(x)
}

// Gradient implements ObjectiveFunction.
func (o Objective) Gradient(dst, x []float64) {
	if o.Grad != nil {
		o.Grad(dst, x)
		return
	}
	fd.Gradient(dst, o.Func, x, &fd.Settings{Formula: fd.Central})
}

// HessianVectorProduct implements HessianVectorProducer.
func (o Objective) HessianVectorProduct(dst, x, v []float64) {
	switch {
	case o.HessVec != nil:
		o.HessVec(dst, x, v)
	case o.Hess != nil:
		h := mat.NewSymDense(len(x), nil)
		o.Hess(h, x)
		mat.NewVecDense(len(dst), dst).MulVec(h, mat.NewVecDense(len(v), v))
	default:
		gradientDifference(o, dst, x, v)
	}
}

// Hessian implements Hessianer.
func (o Objective) Hessian(dst *mat.SymDense, x []float64) {
	if o.Hess != nil {
		o.Hess(dst, x)
		return
	}
	jacobianOfGradient(o, dst, x)
}

// Dim implements Dimensioned.
func (o Objective) Dim() int {
	return o.N
}

// HessianVectorProduct computes ∇²f(x)·v using the best capability obj
// offers: a native product, a dense Hessian, or a difference of gradients.
func HessianVectorProduct(obj ObjectiveFunction, dst, x, v []float64) {
	if hv, ok := obj.(HessianVectorProducer); ok {
		hv.HessianVectorProduct(dst, x, v)
		return
	}
	if h, ok := obj.(Hessianer); ok {
		hess := mat.NewSymDense(len(x), nil)
		h.Hessian(hess, x)
		mat.NewVecDense(len(dst), dst).MulVec(hess, mat.NewVecDense(len(v), v))
		return
	}
	gradientDifference(obj, dst, x, v)
}

// Hessian stores ∇²f(x) in dst using obj's Hessianer capability when present
// and finite differences of the gradient otherwise.
func Hessian(obj ObjectiveFunction, dst *mat.SymDense, x []float64) {
	if h, ok := obj.(Hessianer); ok {
		h.Hessian(dst, x)
		return
	}
	jacobianOfGradient(obj, dst, x)
}

// gradientDifference approximates H·v by a central difference of gradients
// along v.
func gradientDifference(obj ObjectiveFunction, dst, x, v []float64) {
	n := len(x)
	vnorm := floats.Norm(v, 2)
	if vnorm == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	h := math.Sqrt(epsilon) * math.Max(1, floats.Norm(x, 2)) / vnorm
	xp := make([]float64, n)
	xm := make([]float64, n)
	floats.AddScaledTo(xp, x, h, v)
	floats.AddScaledTo(xm, x, -h, v)
	gm := make([]float64, n)
	obj.Gradient(dst, xp)
	obj.Gradient(gm, xm)
	floats.Sub(dst, gm)
	floats.Scale(1/(2*h), dst)
}

func jacobianOfGradient(obj ObjectiveFunction, dst *mat.SymDense, x []float64) {
	n := len(x)
	jac := mat.NewDense(n, n, nil)
	fd.Jacobian(jac, func(y, z []float64) { obj.Gradient(y, z) }, x, &fd.JacobianSettings{Formula: fd.Central})
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, 0.5*(jac.At(i, j)+jac.At(j, i)))
		}
	}
}

// epsilon is the float64 machine epsilon.
var epsilon = math.Nextafter(1, 2) - 1

// VectorFunction is a map F: ℝⁿ → ℝⁿ whose root is sought by Broyden's method.
type VectorFunction interface {
	Evaluate(dst, x []float64)
}

// VectorFunc adapts a function to VectorFunction.
type VectorFunc func(dst, x []float64)

// Evaluate implements VectorFunction.
func (f VectorFunc) Evaluate(dst, x []float64) { f(dst, x) }
