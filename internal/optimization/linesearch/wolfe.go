package linesearch

import (
	"math"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

// StrongWolfe is a bracketing line search with bisection zoom that returns a
// step satisfying the strong Wolfe conditions.
type StrongWolfe struct {
	// C1 is the sufficient decrease coefficient. Zero selects DefaultC1.
	C1 float64
	// C2 is the curvature coefficient, C1 < C2 < 1. Zero selects DefaultC2.
	C2 float64
	// MaxTrials bounds the total number of step lengths tried. Zero selects DefaultMaxTrials.
	MaxTrials int
	// InitialStep is the first α when the caller passes none. Zero selects 1.
	InitialStep float64
	// MaxStep caps bracket expansion. Zero selects DefaultMaxStep.
	MaxStep float64
}

func (s StrongWolfe) withDefaults() StrongWolfe {
	if s.C1 <= 0 {
		s.C1 = DefaultC1
	}
	if s.C2 <= s.C1 || s.C2 >= 1 {
		s.C2 = DefaultC2
	}
	if s.MaxTrials <= 0 {
		s.MaxTrials = DefaultMaxTrials
	}
	if s.InitialStep <= 0 {
		s.InitialStep = 1
	}
	if s.MaxStep <= 0 {
		s.MaxStep = DefaultMaxStep
	}
	return s
}

// trial is one evaluated step length.
type trial struct {
	alpha float64
	x     []float64
	f     float64
	g     []float64
	dphi  float64
	// ok is false when x lies outside the objective's domain.
	ok bool
}

type wolfeSearch struct {
	StrongWolfe
	ev     *optimization.Evaluator
	p      Point
	d      []float64
	gd0    float64
	trials int
}

func (w *wolfeSearch) eval(alpha float64) (trial, error) {
	w.trials++
	n := len(w.p.X)
	t := trial{alpha: alpha, x: make([]float64, n)}
	linalg.AxpyTo(t.x, w.p.X, alpha, w.d)
	if !w.ev.InDomain(t.x) {
		return t, nil
	}
	f, err := w.ev.Value(t.x)
	if err != nil {
		return t, err
	}
	t.g = make([]float64, n)
	if err := w.ev.Gradient(t.g, t.x); err != nil {
		return t, err
	}
	t.f, t.dphi, t.ok = f, linalg.Dot(t.g, w.d), true
	return t, nil
}

func (w *wolfeSearch) sufficient(t trial) bool {
	return t.ok && Armijo(w.p.F, w.gd0, t.f, t.alpha, w.C1)
}

func (w *wolfeSearch) curvature(t trial) bool {
	return math.Abs(t.dphi) <= -w.C2*w.gd0
}

func (w *wolfeSearch) accept(t trial, curvature bool) Step {
	return Step{Alpha: t.alpha, X: t.x, F: t.f, G: t.g, Trials: w.trials, Curvature: curvature}
}

// Search implements Searcher.
func (s StrongWolfe) Search(ev *optimization.Evaluator, p Point, d []float64, alpha0 float64) (Step, error) {
	const op = "StrongWolfe.Search"

	s = s.withDefaults()
	gd0, err := directionalDerivative(op, p, d)
	if err != nil {
		return Step{}, err
	}

	w := &wolfeSearch{StrongWolfe: s, ev: ev, p: p, d: d, gd0: gd0}
	wrap := func(err error) error {
		return optimization.WrapError(err, "trial point").WithComponent("linesearch").WithOperation(op)
	}

	prev := trial{alpha: 0, x: p.X, f: p.F, g: p.G, dphi: gd0, ok: true}
	alpha := s.InitialStep
	if alpha0 > 0 {
		alpha = alpha0
	}
	alpha = math.Min(alpha, s.MaxStep)

	for w.trials < s.MaxTrials {
		cur, err := w.eval(alpha)
		if err != nil {
			return Step{}, wrap(err)
		}
		if !w.sufficient(cur) || (w.trials > 1 && cur.f >= prev.f) {
			return w.zoom(op, prev, cur)
		}
		if w.curvature(cur) {
			return w.accept(cur, true), nil
		}
		if cur.dphi >= 0 {
			return w.zoom(op, cur, prev)
		}
		if cur.alpha >= s.MaxStep {
			// Still descending at the cap: the step satisfies Armijo, take it.
			return w.accept(cur, false), nil
		}
		prev = cur
		alpha = math.Min(2*alpha, s.MaxStep)
	}
	if prev.alpha > 0 {
		return w.accept(prev, false), nil
	}
	return Step{Alpha: alpha, Trials: w.trials}, failure(op, "bracketing exhausted %d trials", w.trials)
}

// zoom bisects between lo, which satisfies sufficient decrease and has the
// lowest f seen, and hi until the strong Wolfe conditions hold.
func (w *wolfeSearch) zoom(op string, lo, hi trial) (Step, error) {
	// The α = 0 anchor is never a candidate for the reported step.
	smallest := math.Inf(1)
	for _, t := range []trial{lo, hi} {
		if t.alpha > 0 {
			smallest = math.Min(smallest, t.alpha)
		}
	}
	for w.trials < w.MaxTrials {
		if math.Abs(hi.alpha-lo.alpha) <= epsilon*math.Max(lo.alpha, hi.alpha) {
			break
		}
		cur, err := w.eval(0.5 * (lo.alpha + hi.alpha))
		if err != nil {
			return Step{}, optimization.WrapError(err, "trial point").WithComponent("linesearch").WithOperation(op)
		}
		smallest = math.Min(smallest, cur.alpha)
		if !w.sufficient(cur) || cur.f >= lo.f {
			hi = cur
			continue
		}
		if w.curvature(cur) {
			return w.accept(cur, true), nil
		}
		if cur.dphi*(hi.alpha-lo.alpha) >= 0 {
			hi = lo
		}
		lo = cur
	}
	if lo.alpha > 0 {
		// lo satisfies sufficient decrease; only the curvature test failed.
		return w.accept(lo, false), nil
	}
	return Step{Alpha: smallest, Trials: w.trials}, failure(op, "zoom exhausted after %d trials (smallest α = %g)", w.trials, smallest)
}

var epsilon = math.Nextafter(1, 2) - 1
