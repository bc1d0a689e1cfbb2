package linesearch

import (
	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

// Backtracking is an Armijo backtracking line search.
type Backtracking struct {
	// C1 is the sufficient decrease coefficient. Zero selects DefaultC1.
	C1 float64
	// Shrink multiplies α after every rejected trial. Zero selects DefaultShrink.
	Shrink float64
	// MaxTrials bounds the number of step lengths tried. Zero selects DefaultMaxTrials.
	MaxTrials int
	// InitialStep is the first α when the caller passes none. Zero selects 1.
	InitialStep float64
}

func (b Backtracking) withDefaults() Backtracking {
	if b.C1 <= 0 {
		b.C1 = DefaultC1
	}
	if b.Shrink <= 0 || b.Shrink >= 1 {
		b.Shrink = DefaultShrink
	}
	if b.MaxTrials <= 0 {
		b.MaxTrials = DefaultMaxTrials
	}
	if b.InitialStep <= 0 {
		b.InitialStep = 1
	}
	return b
}

// Search implements Searcher.
func (b Backtracking) Search(ev *optimization.Evaluator, p Point, d []float64, alpha0 float64) (Step, error) {
	const op = "Backtracking.Search"

	b = b.withDefaults()
	gd, err := directionalDerivative(op, p, d)
	if err != nil {
		return Step{}, err
	}

	alpha := b.InitialStep
	if alpha0 > 0 {
		alpha = alpha0
	}

	x := make([]float64, len(p.X))
	for trial := 1; ; trial++ {
		linalg.AxpyTo(x, p.X, alpha, d)
		if ev.InDomain(x) {
			f, err := ev.Value(x)
			if err != nil {
				return Step{}, optimization.WrapError(err, "trial point").WithComponent("linesearch").WithOperation(op)
			}
			if Armijo(p.F, gd, f, alpha, b.C1) {
				return Step{Alpha: alpha, X: x, F: f, Trials: trial}, nil
			}
		}
		if trial == b.MaxTrials {
			return Step{Alpha: alpha, Trials: trial}, failure(op, "no Armijo step after %d trials (smallest α = %g)", trial, alpha)
		}
		alpha *= b.Shrink
	}
}
