package quasinewton

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

// Formula selects the rank-two secant update of a DenseHessian.
type Formula int

const (
	// BFGSFormula is the Broyden–Fletcher–Goldfarb–Shanno update.
	BFGSFormula Formula = iota
	// DFPFormula is the Davidon–Fletcher–Powell update.
	DFPFormula
)

func (f Formula) String() string {
	if f == DFPFormula {
		return "dfp"
	}
	return "bfgs"
}

const (
	// DefaultCurvatureEpsilon is ε in the skip rule sᵀy > ε‖s‖‖y‖.
	DefaultCurvatureEpsilon = 1e-8
	// powellThreshold triggers damping when sᵀy < 0.2·sᵀBs.
	powellThreshold = 0.2
)

// Pair is one curvature observation.
type Pair struct {
	S, Y []float64
	// Bs is B·s when the caller knows it; along a quasi-Newton line-search
	// step s = −αHg it equals −α·g. Nil means compute it.
	Bs []float64
}

// DenseHessian maintains a dense n×n approximation updated by the BFGS or
// DFP secant formula with Powell damping. With Inverse set it approximates
// H ≈ ∇²f⁻¹ and produces directions by a matrix-vector product; otherwise it
// approximates B ≈ ∇²f, the form the trust-region and SQP drivers consume.
//
// The matrix is allocated once; updates are applied in place.
type DenseHessian struct {
	Formula Formula
	Inverse bool
	// InitialScaling replaces the identity by (yᵀs/yᵀy)·I (or its inverse
	// for B) right before the first update.
	InitialScaling bool
	// Epsilon is ε in the curvature skip rule.
	Epsilon float64

	m       *mat.SymDense
	updates int
	bs      []float64
	yHat    []float64
	hy      []float64
}

// NewDenseHessian returns an identity-initialized approximation.
func NewDenseHessian(n int, formula Formula, inverse bool) *DenseHessian {
	d := &DenseHessian{
		Formula:        formula,
		Inverse:        inverse,
		InitialScaling: true,
		Epsilon:        DefaultCurvatureEpsilon,
		m:              mat.NewSymDense(n, nil),
		bs:             make([]float64, n),
		yHat:           make([]float64, n),
		hy:             make([]float64, n),
	}
	d.Reset()
	return d
}

// Reset restores the identity.
func (d *DenseHessian) Reset() {
	d.m.Zero()
	n := d.m.SymmetricDim()
	for i := 0; i < n; i++ {
		d.m.SetSym(i, i, 1)
	}
	d.updates = 0
}

// Matrix returns the approximation. It must not be modified.
func (d *DenseHessian) Matrix() *mat.SymDense {
	return d.m
}

// Updates returns the number of applied updates.
func (d *DenseHessian) Updates() int {
	return d.updates
}

// Direction stores the quasi-Newton direction −H·g (or −B⁻¹g) in dst.
func (d *DenseHessian) Direction(dst, g []float64) {
	if d.Inverse {
		linalg.MatVec(dst, d.m, g)
		linalg.Negate(dst, dst)
		return
	}
	neg := linalg.Negate(make([]float64, len(g)), g)
	if _, err := linalg.SolveSPD(dst, d.m, neg); err != nil {
		copy(dst, neg)
	}
}

// MulVec stores B·v in dst. For an inverse approximation this solves H·x = v.
func (d *DenseHessian) MulVec(dst, v []float64) {
	if !d.Inverse {
		linalg.MatVec(dst, d.m, v)
		return
	}
	if _, err := linalg.SolveSPD(dst, d.m, v); err != nil {
		copy(dst, v)
	}
}

// Update applies the damped secant update for p and reports whether the
// approximation changed. The update is skipped, leaving the matrix
// untouched, when the (damped) pair fails sᵀy > ε‖s‖‖y‖.
func (d *DenseHessian) Update(p Pair) bool {
	s, y := p.S, p.Y
	sy := linalg.Dot(s, y)

	bs := p.Bs
	if d.InitialScaling && d.updates == 0 && sy > 0 {
		yy := linalg.Dot(y, y)
		if yy > 0 {
			d.scaleIdentity(sy / yy)
			bs = nil
		}
	}
	if bs == nil {
		d.MulVec(d.bs, s)
		bs = d.bs
	}

	sBs := linalg.Dot(s, bs)
	yHat := y
	if sBs > 0 && sy < powellThreshold*sBs {
		theta := (1 - powellThreshold) * sBs / (sBs - sy)
		for i := range d.yHat {
			d.yHat[i] = theta*y[i] + (1-theta)*bs[i]
		}
		yHat = d.yHat
		sy = linalg.Dot(s, yHat)
	}
	if !curvatureOK(sy, s, yHat, d.Epsilon) {
		return false
	}

	vs := mat.NewVecDense(len(s), s)
	vy := mat.NewVecDense(len(yHat), yHat)
	switch {
	case d.Inverse && d.Formula == BFGSFormula:
		// H⁺ = H − ρ(s(Hy)ᵀ + (Hy)sᵀ) + (ρ²yᵀHy + ρ)ssᵀ
		linalg.MatVec(d.hy, d.m, yHat)
		rho := 1 / sy
		yHy := linalg.Dot(yHat, d.hy)
		d.m.RankTwo(d.m, -rho, vs, mat.NewVecDense(len(d.hy), d.hy))
		d.m.SymRankOne(d.m, rho*rho*yHy+rho, vs)
	case d.Inverse && d.Formula == DFPFormula:
		// H⁺ = H − (Hy)(Hy)ᵀ/(yᵀHy) + ssᵀ/(yᵀs)
		linalg.MatVec(d.hy, d.m, yHat)
		yHy := linalg.Dot(yHat, d.hy)
		if yHy <= 0 {
			return false
		}
		d.m.SymRankOne(d.m, -1/yHy, mat.NewVecDense(len(d.hy), d.hy))
		d.m.SymRankOne(d.m, 1/sy, vs)
	case d.Formula == BFGSFormula:
		// B⁺ = B − (Bs)(Bs)ᵀ/(sᵀBs) + yyᵀ/(yᵀs)
		if sBs <= 0 {
			return false
		}
		d.m.SymRankOne(d.m, -1/sBs, mat.NewVecDense(len(bs), bs))
		d.m.SymRankOne(d.m, 1/sy, vy)
	default:
		// B⁺ = B − ρ(y(Bs)ᵀ + (Bs)yᵀ) + (ρ²sᵀBs + ρ)yyᵀ
		rho := 1 / sy
		d.m.RankTwo(d.m, -rho, vy, mat.NewVecDense(len(bs), bs))
		d.m.SymRankOne(d.m, rho*rho*sBs+rho, vy)
	}
	d.updates++
	return true
}

// scaleIdentity sets the approximation to γI (γ⁻¹I for B).
func (d *DenseHessian) scaleIdentity(gamma float64) {
	if !d.Inverse {
		gamma = 1 / gamma
	}
	d.m.Zero()
	n := d.m.SymmetricDim()
	for i := 0; i < n; i++ {
		d.m.SetSym(i, i, gamma)
	}
}

func curvatureOK(sy float64, s, y []float64, eps float64) bool {
	return sy > eps*linalg.Norm(s)*linalg.Norm(y) && !math.IsNaN(sy)
}
