package constrained

import (
	"math"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
	"github.com/copyleftdev/descent/internal/optimization/quasinewton"
)

// DefaultBarrierIterations bounds the barrier outer loop.
const DefaultBarrierIterations = 50

// BarrierConfig configures the logarithmic barrier method.
type BarrierConfig struct {
	Settings optimization.Settings
	// Tolerance on the duality gap m/t.
	Tolerance float64
	// InitialT is t₀, default 1.
	InitialT float64
	// Growth multiplies t, default 10.
	Growth float64
	Inner  quasinewton.Config
}

func (c BarrierConfig) withDefaults() BarrierConfig {
	c.Settings = c.Settings.WithDefaults(DefaultBarrierIterations)
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.InitialT <= 0 {
		c.InitialT = 1
	}
	if c.Growth <= 1 {
		c.Growth = DefaultGrowth
	}
	return c
}

// barrierObjective is f(x) − (1/t)Σlog(−g(x)). It has the minimizer of
// t·f − Σlog(−g) and stays O(f) in magnitude as t grows.
type barrierObjective struct {
	obj  optimization.ObjectiveFunction
	ineq []optimization.Constraint
	t    float64
	gc   []float64
}

// InDomain implements optimization.DomainRestricted.
func (b *barrierObjective) InDomain(x []float64) bool {
	for _, c := range b.ineq {
		if !(c.Value(x) < 0) {
			return false
		}
	}
	return true
}

func (b *barrierObjective) Evaluate(x []float64) float64 {
	v := b.obj.Evaluate(x)
	for _, c := range b.ineq {
		g := c.Value(x)
		if g >= 0 {
			return math.Inf(1)
		}
		v -= math.Log(-g) / b.t
	}
	return v
}

func (b *barrierObjective) Gradient(dst, x []float64) {
	b.obj.Gradient(dst, x)
	if len(b.gc) != len(x) {
		b.gc = make([]float64, len(x))
	}
	for _, c := range b.ineq {
		c.Gradient(b.gc, x)
		linalg.Axpy(dst, -1/(b.t*c.Value(x)), b.gc)
	}
}

// Barrier minimizes obj subject to inequality constraints with the
// logarithmic barrier method. x0 must be strictly feasible. t grows by
// Growth until the duality gap m/t falls below Tolerance. Multiplier
// estimates are 1/(t·(−g(x))).
func Barrier(obj optimization.ObjectiveFunction, cons []optimization.Constraint, x0 []float64, cfg BarrierConfig) (*optimization.Result, error) {
	cfg = cfg.withDefaults()
	o, err := newOuter("barrier", obj, cons, x0, cfg.Settings, cfg.Inner)
	if err != nil {
		return nil, err
	}
	if len(o.eq) > 0 {
		return nil, optimization.NewErrorf(optimization.KindUnsupportedConstraint,
			"log barrier cannot handle %d equality constraints", len(o.eq)).
			WithComponent(component).WithOperation("Barrier")
	}
	for i, c := range o.ineq {
		if v := c.Value(x0); !(v < 0) {
			return nil, optimization.NewErrorf(optimization.KindInfeasibleStart,
				"inequality %d is %g at the start point, want < 0", i, v).
				WithComponent(component).WithOperation("Barrier")
		}
	}

	x := linalg.Clone(x0)
	sub := &barrierObjective{obj: obj, ineq: o.ineq, t: cfg.InitialT}
	m := float64(len(o.ineq))
	status := optimization.IterationLimit
	k := 0
	for k < cfg.Settings.MaxIterations {
		k++
		res, err := o.minimize(sub, x, k)
		if err != nil {
			return nil, err
		}
		copy(x, res.X)

		o.stats.FuncEvaluations++
		o.record(optimization.Iteration{
			Iteration: k,
			F:         obj.Evaluate(x),
			GradNorm:  optimization.Norm(res.Gradient),
			Violation: o.violation(x),
			Penalty:   sub.t,
			Accepted:  true,
		})
		if m/sub.t < cfg.Tolerance {
			status = optimization.DualityGapThreshold
			break
		}
		sub.t *= cfg.Growth
	}
	if status != optimization.DualityGapThreshold {
		// The loop grew t after the last solve.
		sub.t /= cfg.Growth
	}

	mult := &optimization.Multipliers{Inequality: make([]float64, len(o.ineq))}
	for i, c := range o.ineq {
		mult.Inequality[i] = 1 / (sub.t * -c.Value(x))
	}
	return o.result(x, status, k, mult)
}
