// Package linesearch finds step lengths along a descent direction.
//
// Two searches are provided:
//
//   - Backtracking: start at α₀ (default 1) and shrink geometrically until the
//     Armijo condition f(x+αd) ≤ f(x) + c₁αgᵀd holds.
//   - StrongWolfe: bracket an interval by expansion, then bisect ("zoom")
//     until Armijo and the strong curvature condition |∇f(x+αd)ᵀd| ≤ c₂|gᵀd|
//     both hold.
//
// Both are pure functions of their inputs. Points outside the domain of a
// optimization.DomainRestricted objective count as failed trials and are
// never evaluated. Exhausting the trial budget returns ErrLineSearchFailure
// together with the smallest step tried.
package linesearch

import (
	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

// Default coefficients.
const (
	DefaultC1        = 1e-4
	DefaultC2        = 0.9
	DefaultShrink    = 0.5
	DefaultMaxTrials = 50
	DefaultMaxStep   = 1e10
)

// Point is the iterate a search starts from.
type Point struct {
	X []float64
	F float64
	G []float64
}

// Step is the outcome of a search.
type Step struct {
	Alpha float64
	// X is x + αd.
	X []float64
	F float64
	// G is ∇f(X) when the search evaluated it, nil otherwise.
	G []float64
	// Trials is the number of step lengths tried.
	Trials int
	// Curvature is true when the strong curvature condition holds at X.
	Curvature bool
}

// Searcher computes a step length along d from p. alpha0 ≤ 0 selects the
// searcher's initial step.
type Searcher interface {
	Search(ev *optimization.Evaluator, p Point, d []float64, alpha0 float64) (Step, error)
}

// Armijo reports whether f satisfies sufficient decrease for step alpha.
func Armijo(f0, gd, f, alpha, c1 float64) bool {
	return f <= f0+c1*alpha*gd
}

func failure(op, format string, args ...interface{}) error {
	return optimization.NewErrorf(optimization.KindLineSearchFailure, format, args...).
		WithComponent("linesearch").
		WithOperation(op)
}

func directionalDerivative(op string, p Point, d []float64) (float64, error) {
	if len(d) != len(p.X) || len(p.G) != len(p.X) {
		return 0, optimization.DimensionError("linesearch", op, len(d), len(p.X))
	}
	gd := linalg.Dot(p.G, d)
	if !(gd < 0) {
		return gd, failure(op, "direction is not a descent direction (gᵀd = %g)", gd)
	}
	return gd, nil
}
