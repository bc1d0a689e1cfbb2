package trustregion

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
	"github.com/copyleftdev/descent/internal/optimization/quasinewton"
)

// Model is the curvature part B of the quadratic model
// m(p) = gᵀp + ½pᵀBp around the current iterate.
type Model interface {
	// MulVec stores B·v in dst.
	MulVec(dst, v []float64) error
	// Dense returns B when the model stores it, nil for matrix-free models.
	Dense() *mat.SymDense
}

// ModelKind selects how B is obtained.
type ModelKind int

const (
	// DefaultModel is HessianVector for Steihaug and ExactHessian otherwise.
	DefaultModel ModelKind = iota
	// ExactHessian evaluates the dense Hessian at every accepted iterate.
	ExactHessian
	// HessianVector evaluates Hessian-vector products on demand. Only
	// Steihaug can use it.
	HessianVector
	// SR1 maintains a symmetric rank-one approximation.
	SR1
	// BFGS maintains a damped forward BFGS approximation.
	BFGS
)

var modelNames = map[ModelKind]string{
	DefaultModel:  "default",
	ExactHessian:  "exact",
	HessianVector: "hessian-vector",
	SR1:           "sr1",
	BFGS:          "bfgs",
}

func (k ModelKind) String() string {
	if s, ok := modelNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ModelKind(%d)", int(k))
}

// model is the driver-side view of a Model: it is re-anchored at every
// accepted iterate and learns from accepted steps.
type model interface {
	Model
	prepare(x []float64) error
	observe(s, y []float64)
}

func newModel(kind ModelKind, ev *optimization.Evaluator, work *linalg.Pool) model {
	n := work.Dim()
	switch kind {
	case HessianVector:
		return &hessVecModel{ev: ev}
	case SR1:
		return &sr1Model{h: quasinewton.NewSR1Hessian(n)}
	case BFGS:
		return &bfgsModel{h: quasinewton.NewDenseHessian(n, quasinewton.BFGSFormula, false)}
	default:
		return &exactModel{ev: ev, h: work.GetSym()}
	}
}

type exactModel struct {
	ev *optimization.Evaluator
	h  *mat.SymDense
}

func (m *exactModel) MulVec(dst, v []float64) error {
	linalg.MatVec(dst, m.h, v)
	return nil
}

func (m *exactModel) Dense() *mat.SymDense      { return m.h }
func (m *exactModel) prepare(x []float64) error { return m.ev.Hessian(m.h, x) }
func (m *exactModel) observe(_, _ []float64)    {}

type hessVecModel struct {
	ev *optimization.Evaluator
	x  []float64
}

func (m *hessVecModel) MulVec(dst, v []float64) error {
	return m.ev.HessianVectorProduct(dst, m.x, v)
}

func (m *hessVecModel) Dense() *mat.SymDense { return nil }

func (m *hessVecModel) prepare(x []float64) error {
	m.x = append(m.x[:0], x...)
	return nil
}

func (m *hessVecModel) observe(_, _ []float64) {}

type sr1Model struct {
	h *quasinewton.SR1Hessian
}

func (m *sr1Model) MulVec(dst, v []float64) error {
	m.h.MulVec(dst, v)
	return nil
}

func (m *sr1Model) Dense() *mat.SymDense    { return m.h.Matrix() }
func (m *sr1Model) prepare([]float64) error { return nil }
func (m *sr1Model) observe(s, y []float64)  { m.h.Update(quasinewton.Pair{S: s, Y: y}) }

type bfgsModel struct {
	h *quasinewton.DenseHessian
}

func (m *bfgsModel) MulVec(dst, v []float64) error {
	m.h.MulVec(dst, v)
	return nil
}

func (m *bfgsModel) Dense() *mat.SymDense    { return m.h.Matrix() }
func (m *bfgsModel) prepare([]float64) error { return nil }
func (m *bfgsModel) observe(s, y []float64)  { m.h.Update(quasinewton.Pair{S: s, Y: y}) }
