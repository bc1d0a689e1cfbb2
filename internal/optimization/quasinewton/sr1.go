package quasinewton

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

// SR1Hessian is a forward Hessian approximation B updated by the symmetric
// rank-one formula B ← B + rrᵀ/(rᵀs), r = y − Bs. B may become indefinite.
type SR1Hessian struct {
	// Epsilon is ε in the skip rule |rᵀs| ≤ ε‖r‖‖s‖.
	Epsilon float64

	b       *mat.SymDense
	r       []float64
	updates int
}

// NewSR1Hessian returns an identity-initialized SR1 approximation.
func NewSR1Hessian(n int) *SR1Hessian {
	h := &SR1Hessian{
		Epsilon: DefaultCurvatureEpsilon,
		b:       mat.NewSymDense(n, nil),
		r:       make([]float64, n),
	}
	h.Reset()
	return h
}

// Reset restores the identity.
func (h *SR1Hessian) Reset() {
	h.b.Zero()
	for i := 0; i < h.b.SymmetricDim(); i++ {
		h.b.SetSym(i, i, 1)
	}
	h.updates = 0
}

// Matrix returns B. It must not be modified.
func (h *SR1Hessian) Matrix() *mat.SymDense {
	return h.b
}

// Updates returns the number of applied updates.
func (h *SR1Hessian) Updates() int {
	return h.updates
}

// MulVec stores B·v in dst.
func (h *SR1Hessian) MulVec(dst, v []float64) {
	linalg.MatVec(dst, h.b, v)
}

// Direction stores the solution of B·d = −g in dst. When B is indefinite the
// result need not be a descent direction; the driver checks.
func (h *SR1Hessian) Direction(dst, g []float64) {
	neg := linalg.Negate(make([]float64, len(g)), g)
	if _, err := linalg.Solve(dst, h.b, neg); err != nil {
		copy(dst, neg)
	}
}

// Update applies the rank-one correction unless the denominator is too
// small, in which case B is left bit-for-bit unchanged.
func (h *SR1Hessian) Update(p Pair) bool {
	linalg.MatVec(h.r, h.b, p.S)
	linalg.SubTo(h.r, p.Y, h.r)
	rs := linalg.Dot(h.r, p.S)
	if math.Abs(rs) <= h.Epsilon*linalg.Norm(h.r)*linalg.Norm(p.S) || math.IsNaN(rs) {
		return false
	}
	h.b.SymRankOne(h.b, 1/rs, mat.NewVecDense(len(h.r), h.r))
	h.updates++
	return true
}
