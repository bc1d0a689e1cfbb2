package constrained

import (
	"math"

	"go.uber.org/zap"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
	"github.com/copyleftdev/descent/internal/optimization/linesearch"
)

// Projected gradient defaults.
const (
	DefaultProjectedIterations = 1000

	minBBStep = 1e-10
	maxBBStep = 1e10
)

// Bounds is the box lower ≤ x ≤ upper. A nil slice leaves that side
// unbounded; individual entries may be ±Inf.
type Bounds struct {
	Lower []float64
	Upper []float64
}

// Validate checks the bounds against dimension n.
func (b Bounds) Validate(n int) error {
	if b.Lower != nil && len(b.Lower) != n {
		return optimization.DimensionError(component, "Bounds", len(b.Lower), n)
	}
	if b.Upper != nil && len(b.Upper) != n {
		return optimization.DimensionError(component, "Bounds", len(b.Upper), n)
	}
	for i := 0; i < n; i++ {
		if b.lower(i) > b.upper(i) || math.IsNaN(b.lower(i)) || math.IsNaN(b.upper(i)) {
			return optimization.NewErrorf(optimization.KindInvalidArgument,
				"bound %d is empty: [%g, %g]", i, b.lower(i), b.upper(i)).WithComponent(component)
		}
	}
	return nil
}

func (b Bounds) lower(i int) float64 {
	if b.Lower == nil {
		return math.Inf(-1)
	}
	return b.Lower[i]
}

func (b Bounds) upper(i int) float64 {
	if b.Upper == nil {
		return math.Inf(1)
	}
	return b.Upper[i]
}

// Project clamps x into the box in place and returns it.
func (b Bounds) Project(x []float64) []float64 {
	for i := range x {
		x[i] = math.Min(math.Max(x[i], b.lower(i)), b.upper(i))
	}
	return x
}

// ProjectedConfig configures ProjectedGradient.
type ProjectedConfig struct {
	// Settings.GradientTolerance bounds ‖x − P(x − ∇f(x))‖.
	Settings optimization.Settings
	// C1 is the Armijo coefficient along the projected arc.
	C1 float64
	// MaxTrials bounds the backtracking per iteration.
	MaxTrials int
}

func (c ProjectedConfig) withDefaults() ProjectedConfig {
	c.Settings = c.Settings.WithDefaults(DefaultProjectedIterations)
	if c.C1 <= 0 {
		c.C1 = linesearch.DefaultC1
	}
	if c.MaxTrials <= 0 {
		c.MaxTrials = linesearch.DefaultMaxTrials
	}
	return c
}

// ProjectedGradient minimizes obj over a box. Each iteration backtracks
// along the projected arc x(α) = P(x − α∇f) from a Barzilai–Borwein trial
// step until f(x(α)) ≤ f(x) + c₁∇fᵀ(x(α) − x).
func ProjectedGradient(obj optimization.ObjectiveFunction, bounds Bounds, x0 []float64, cfg ProjectedConfig) (*optimization.Result, error) {
	const op = "ProjectedGradient"
	cfg = cfg.withDefaults()
	if err := optimization.CheckStart(component, obj, x0); err != nil {
		return nil, err
	}
	n := len(x0)
	if err := bounds.Validate(n); err != nil {
		return nil, err
	}
	logger := cfg.Settings.Logger.Named("projected")
	fail := func(err error, k int) (*optimization.Result, error) {
		return nil, optimization.WrapErrorf(err, "iteration %d", k).WithComponent(component).WithOperation(op)
	}

	ev := optimization.NewEvaluator(obj)
	x := bounds.Project(linalg.Clone(x0))
	g := make([]float64, n)
	f, err := ev.Value(x)
	if err != nil {
		return fail(err, 0)
	}
	if err := ev.Gradient(g, x); err != nil {
		return fail(err, 0)
	}

	xt := make([]float64, n)
	gt := make([]float64, n)
	s := make([]float64, n)
	y := make([]float64, n)
	pg := make([]float64, n)

	var history []optimization.Iteration
	status := optimization.NotTerminated
	alpha := 0.0
	k := 0
	stationarity := projectedGradientNorm(pg, bounds, x, g)
	for {
		if stationarity < cfg.Settings.GradientTolerance {
			status = optimization.GradientThreshold
			break
		}
		if k >= cfg.Settings.MaxIterations {
			status = optimization.IterationLimit
			break
		}
		if alpha == 0 {
			alpha = math.Min(1, 1/linalg.NormInf(pg))
		}

		ft := 0.0
		accepted := false
		for trial := 0; trial < cfg.MaxTrials; trial++ {
			linalg.AxpyTo(xt, x, -alpha, g)
			bounds.Project(xt)
			if ev.InDomain(xt) {
				if ft, err = ev.Value(xt); err != nil {
					return fail(err, k+1)
				}
				linalg.SubTo(s, xt, x)
				if ft <= f+cfg.C1*linalg.Dot(g, s) {
					accepted = true
					break
				}
			}
			alpha *= linesearch.DefaultShrink
		}
		if !accepted {
			status = optimization.LineSearchFailed
			break
		}

		if err := ev.Gradient(gt, xt); err != nil {
			return fail(err, k+1)
		}
		linalg.SubTo(y, gt, g)
		sy := linalg.Dot(s, y)
		step := linalg.Norm(s)
		if sy > 0 {
			alpha = math.Min(math.Max(linalg.Dot(s, s)/sy, minBBStep), maxBBStep)
		} else {
			alpha = 1
		}

		copy(x, xt)
		copy(g, gt)
		f = ft
		k++
		stationarity = projectedGradientNorm(pg, bounds, x, g)

		it := optimization.Iteration{
			Iteration: k,
			F:         f,
			GradNorm:  stationarity,
			Step:      step,
			Accepted:  true,
		}
		history = append(history, it)
		logger.Debug("iteration",
			zap.Int("iteration", k),
			zap.Float64("f", f),
			zap.Float64("projected_grad_norm", stationarity),
			zap.Float64("step", step))
	}

	logger.Debug("solve finished", zap.Stringer("status", status), zap.Int("iterations", k), zap.Float64("f", f))
	return optimization.NewResult(x, f, g, status, k, ev.Stats, history), nil
}

// projectedGradientNorm stores x − P(x − g) in dst and returns its norm.
func projectedGradientNorm(dst []float64, b Bounds, x, g []float64) float64 {
	linalg.SubTo(dst, x, g)
	b.Project(dst)
	linalg.SubTo(dst, x, dst)
	return linalg.Norm(dst)
}
