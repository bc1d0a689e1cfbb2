package trustregion

import (
	"math"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

// Subproblem approximately minimizes m(p) = gᵀp + ½pᵀBp subject to
// ‖p‖ ≤ delta, storing p in dst. It reports whether p lies on the boundary.
// Scratch vectors come from work, which may be nil.
type Subproblem interface {
	Solve(dst []float64, m Model, g []float64, delta float64, work *linalg.Pool) (boundary bool, err error)
}

func workspace(work *linalg.Pool, n int) *linalg.Pool {
	if work == nil || work.Dim() != n {
		return linalg.NewPool(n)
	}
	return work
}

// Cauchy returns the minimizer of the model along −g within the region.
// Nonpositive curvature along −g always takes the boundary.
type Cauchy struct{}

// Solve implements Subproblem.
func (Cauchy) Solve(dst []float64, m Model, g []float64, delta float64, work *linalg.Pool) (bool, error) {
	work = workspace(work, len(g))
	bg := work.GetVec()
	defer work.PutVec(bg)
	if err := m.MulVec(bg, g); err != nil {
		return false, err
	}
	return cauchyPoint(dst, g, linalg.Dot(g, bg), delta), nil
}

func cauchyPoint(dst, g []float64, gBg, delta float64) bool {
	gnorm := linalg.Norm(g)
	tau := 1.0
	if gBg > 0 {
		tau = math.Min(gnorm*gnorm*gnorm/(delta*gBg), 1)
	}
	linalg.ScaleTo(dst, -tau*delta/gnorm, g)
	return tau == 1
}

// Dogleg follows the piecewise-linear path from the origin through the
// unconstrained Cauchy point to the Newton step −B⁻¹g. It needs a dense
// positive definite B; otherwise it returns the Cauchy point.
type Dogleg struct{}

// Solve implements Subproblem.
func (Dogleg) Solve(dst []float64, m Model, g []float64, delta float64, work *linalg.Pool) (bool, error) {
	b := m.Dense()
	if b == nil {
		return false, optimization.NewError(optimization.KindInvalidArgument, "dogleg needs a dense model").
			WithComponent(component).WithOperation("Dogleg.Solve")
	}
	work = workspace(work, len(g))
	bg, pb, pu, diff := work.GetVec(), work.GetVec(), work.GetVec(), work.GetVec()
	defer work.PutVec(bg, pb, pu, diff)
	linalg.MatVec(bg, b, g)
	gBg := linalg.Dot(g, bg)

	shift, err := linalg.SolveSPD(pb, b, linalg.Negate(diff, g))
	if err != nil || shift > 0 || gBg <= 0 {
		return cauchyPoint(dst, g, gBg, delta), nil
	}
	if linalg.Norm(pb) <= delta {
		copy(dst, pb)
		return false, nil
	}

	gg := linalg.Dot(g, g)
	linalg.ScaleTo(pu, -gg/gBg, g)
	if linalg.Norm(pu) >= delta {
		linalg.ScaleTo(dst, -delta/math.Sqrt(gg), g)
		return true, nil
	}

	// ‖pu + τ(pb − pu)‖ = Δ for τ ∈ [0, 1].
	linalg.SubTo(diff, pb, pu)
	tau := boundaryRoot(pu, diff, delta)
	linalg.AxpyTo(dst, pu, tau, diff)
	return true, nil
}

// Steihaug runs conjugate gradient on Bp = −g from p = 0 and stops on
// negative curvature or on leaving the region (both at the boundary), or
// once the residual drops below min(0.5, √‖g‖)·‖g‖.
type Steihaug struct {
	// MaxIterations defaults to 2n.
	MaxIterations int
}

// Solve implements Subproblem.
func (s Steihaug) Solve(dst []float64, m Model, g []float64, delta float64, work *linalg.Pool) (bool, error) {
	n := len(g)
	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = 2 * n
	}

	z := dst
	for i := range z {
		z[i] = 0
	}
	gnorm := linalg.Norm(g)
	if gnorm == 0 {
		return false, nil
	}
	tol := math.Min(0.5, math.Sqrt(gnorm)) * gnorm

	work = workspace(work, n)
	r, d, bd, next := work.GetVec(), work.GetVec(), work.GetVec(), work.GetVec()
	defer work.PutVec(r, d, bd, next)
	copy(r, g)
	linalg.Negate(d, g)
	rr := linalg.Dot(r, r)

	for j := 0; j < maxIter; j++ {
		if err := m.MulVec(bd, d); err != nil {
			return false, err
		}
		dBd := linalg.Dot(d, bd)
		if dBd <= 0 {
			linalg.Axpy(z, boundaryRoot(z, d, delta), d)
			return true, nil
		}
		alpha := rr / dBd
		linalg.AxpyTo(next, z, alpha, d)
		if linalg.Norm(next) >= delta {
			linalg.Axpy(z, boundaryRoot(z, d, delta), d)
			return true, nil
		}
		copy(z, next)
		linalg.Axpy(r, alpha, bd)
		rrNext := linalg.Dot(r, r)
		if math.Sqrt(rrNext) < tol {
			return false, nil
		}
		beta := rrNext / rr
		for i := range d {
			d[i] = -r[i] + beta*d[i]
		}
		rr = rrNext
	}
	return false, nil
}

// boundaryRoot returns the τ ≥ 0 with ‖z + τd‖ = Δ, assuming ‖z‖ ≤ Δ.
func boundaryRoot(z, d []float64, delta float64) float64 {
	a := linalg.Dot(d, d)
	b := 2 * linalg.Dot(z, d)
	c := linalg.Dot(z, z) - delta*delta
	disc := math.Max(b*b-4*a*c, 0)
	return (-b + math.Sqrt(disc)) / (2 * a)
}
