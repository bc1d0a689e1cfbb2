package constrained

import (
	"math"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
	"github.com/copyleftdev/descent/internal/optimization/quasinewton"
)

// Defaults shared by the penalty-type methods.
const (
	DefaultOuterIterations = 30
	DefaultGrowth          = 10.0
)

// PenaltyConfig configures the quadratic penalty method.
type PenaltyConfig struct {
	// Settings.MaxIterations bounds the outer loop; the logger is shared
	// with the inner solver unless Inner sets its own.
	Settings optimization.Settings
	// Tolerance on the maximum constraint violation.
	Tolerance float64
	// InitialPenalty is μ₀, default 1.
	InitialPenalty float64
	// Growth multiplies μ, default 10.
	Growth float64
	Policy GrowthPolicy
	// Inner configures the unconstrained solver, L-BFGS by default.
	Inner quasinewton.Config
}

func (c PenaltyConfig) withDefaults() PenaltyConfig {
	c.Settings = c.Settings.WithDefaults(DefaultOuterIterations)
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.InitialPenalty <= 0 {
		c.InitialPenalty = 1
	}
	if c.Growth <= 1 {
		c.Growth = DefaultGrowth
	}
	return c
}

// penaltyObjective is f(x) + μΣh(x)² + μΣmax(0, g(x))².
type penaltyObjective struct {
	obj      optimization.ObjectiveFunction
	eq, ineq []optimization.Constraint
	mu       float64
	gc       []float64
}

func (p *penaltyObjective) Evaluate(x []float64) float64 {
	v := p.obj.Evaluate(x)
	for _, c := range p.eq {
		h := c.Value(x)
		v += p.mu * h * h
	}
	for _, c := range p.ineq {
		g := math.Max(0, c.Value(x))
		v += p.mu * g * g
	}
	return v
}

func (p *penaltyObjective) Gradient(dst, x []float64) {
	p.obj.Gradient(dst, x)
	if len(p.gc) != len(x) {
		p.gc = make([]float64, len(x))
	}
	for _, c := range p.eq {
		h := c.Value(x)
		if h == 0 {
			continue
		}
		c.Gradient(p.gc, x)
		linalg.Axpy(dst, 2*p.mu*h, p.gc)
	}
	for _, c := range p.ineq {
		g := c.Value(x)
		if g <= 0 {
			continue
		}
		c.Gradient(p.gc, x)
		linalg.Axpy(dst, 2*p.mu*g, p.gc)
	}
}

// Penalty minimizes obj subject to cons with the quadratic penalty method.
// μ grows by Growth until the maximum violation falls below Tolerance.
// Multiplier estimates are 2μh(x) and 2μ·max(0, g(x)).
func Penalty(obj optimization.ObjectiveFunction, cons []optimization.Constraint, x0 []float64, cfg PenaltyConfig) (*optimization.Result, error) {
	cfg = cfg.withDefaults()
	o, err := newOuter("penalty", obj, cons, x0, cfg.Settings, cfg.Inner)
	if err != nil {
		return nil, err
	}

	x := linalg.Clone(x0)
	sub := &penaltyObjective{obj: obj, eq: o.eq, ineq: o.ineq, mu: cfg.InitialPenalty}
	status := optimization.IterationLimit
	previous := math.Inf(1)
	k := 0
	used := sub.mu
	for k < cfg.Settings.MaxIterations {
		k++
		res, err := o.minimize(sub, x, k)
		if err != nil {
			return nil, err
		}
		copy(x, res.X)
		used = sub.mu

		viol := o.violation(x)
		o.stats.FuncEvaluations++
		o.record(optimization.Iteration{
			Iteration: k,
			F:         obj.Evaluate(x),
			GradNorm:  optimization.Norm(res.Gradient),
			Violation: viol,
			Penalty:   sub.mu,
			Accepted:  true,
		})
		if viol < cfg.Tolerance {
			status = optimization.FeasibilityThreshold
			break
		}
		if cfg.Policy.grow(viol, previous) {
			sub.mu *= cfg.Growth
		}
		previous = viol
	}

	m := &optimization.Multipliers{
		Equality:   make([]float64, len(o.eq)),
		Inequality: make([]float64, len(o.ineq)),
	}
	for i, c := range o.eq {
		m.Equality[i] = 2 * used * c.Value(x)
	}
	for i, c := range o.ineq {
		m.Inequality[i] = 2 * used * math.Max(0, c.Value(x))
	}
	return o.result(x, status, k, m)
}
