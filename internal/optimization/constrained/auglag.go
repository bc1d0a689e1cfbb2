package constrained

import (
	"math"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
	"github.com/copyleftdev/descent/internal/optimization/quasinewton"
)

// Augmented Lagrangian defaults.
const (
	DefaultInitialRho = 10.0
	DefaultMaxRho     = 1e8
)

// AugmentedLagrangianConfig configures the method of multipliers.
type AugmentedLagrangianConfig struct {
	Settings  optimization.Settings
	Tolerance float64
	// InitialRho is ρ₀, default 10.
	InitialRho float64
	// Growth multiplies ρ, default 10, up to MaxRho.
	Growth float64
	MaxRho float64
	Policy GrowthPolicy
	Inner  quasinewton.Config
}

func (c AugmentedLagrangianConfig) withDefaults() AugmentedLagrangianConfig {
	c.Settings = c.Settings.WithDefaults(DefaultOuterIterations)
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.InitialRho <= 0 {
		c.InitialRho = DefaultInitialRho
	}
	if c.Growth <= 1 {
		c.Growth = DefaultGrowth
	}
	if c.MaxRho <= 0 {
		c.MaxRho = DefaultMaxRho
	}
	c.InitialRho = math.Min(c.InitialRho, c.MaxRho)
	return c
}

// lagrangian is the augmented Lagrangian
//
//	f + Σλh + (ρ/2)Σh² + (1/2ρ)Σ(max(0, μ+ρg)² − μ²)
type lagrangian struct {
	obj        optimization.ObjectiveFunction
	eq, ineq   []optimization.Constraint
	lambda, mu []float64
	rho        float64
	gc         []float64
}

func (l *lagrangian) Evaluate(x []float64) float64 {
	v := l.obj.Evaluate(x)
	for i, c := range l.eq {
		h := c.Value(x)
		v += l.lambda[i]*h + 0.5*l.rho*h*h
	}
	for i, c := range l.ineq {
		s := math.Max(0, l.mu[i]+l.rho*c.Value(x))
		v += (s*s - l.mu[i]*l.mu[i]) / (2 * l.rho)
	}
	return v
}

func (l *lagrangian) Gradient(dst, x []float64) {
	l.obj.Gradient(dst, x)
	if len(l.gc) != len(x) {
		l.gc = make([]float64, len(x))
	}
	for i, c := range l.eq {
		w := l.lambda[i] + l.rho*c.Value(x)
		if w == 0 {
			continue
		}
		c.Gradient(l.gc, x)
		linalg.Axpy(dst, w, l.gc)
	}
	for i, c := range l.ineq {
		w := math.Max(0, l.mu[i]+l.rho*c.Value(x))
		if w == 0 {
			continue
		}
		c.Gradient(l.gc, x)
		linalg.Axpy(dst, w, l.gc)
	}
}

// AugmentedLagrangian minimizes obj subject to cons by the method of
// multipliers. After each inner solve λ ← λ + ρh(x) and
// μ ← max(0, μ + ρg(x)); ρ then grows according to Policy. The solve
// converges when the maximum violation falls below Tolerance.
func AugmentedLagrangian(obj optimization.ObjectiveFunction, cons []optimization.Constraint, x0 []float64, cfg AugmentedLagrangianConfig) (*optimization.Result, error) {
	cfg = cfg.withDefaults()
	o, err := newOuter("auglag", obj, cons, x0, cfg.Settings, cfg.Inner)
	if err != nil {
		return nil, err
	}

	x := linalg.Clone(x0)
	sub := &lagrangian{
		obj:    obj,
		eq:     o.eq,
		ineq:   o.ineq,
		lambda: make([]float64, len(o.eq)),
		mu:     make([]float64, len(o.ineq)),
		rho:    cfg.InitialRho,
	}
	status := optimization.IterationLimit
	previous := math.Inf(1)
	k := 0
	for k < cfg.Settings.MaxIterations {
		k++
		res, err := o.minimize(sub, x, k)
		if err != nil {
			return nil, err
		}
		copy(x, res.X)

		for i, c := range o.eq {
			sub.lambda[i] += sub.rho * c.Value(x)
		}
		for i, c := range o.ineq {
			sub.mu[i] = math.Max(0, sub.mu[i]+sub.rho*c.Value(x))
		}

		viol := o.violation(x)
		o.stats.FuncEvaluations++
		o.record(optimization.Iteration{
			Iteration: k,
			F:         obj.Evaluate(x),
			GradNorm:  optimization.Norm(res.Gradient),
			Violation: viol,
			Penalty:   sub.rho,
			Accepted:  true,
		})
		if viol < cfg.Tolerance {
			status = optimization.FeasibilityThreshold
			break
		}
		if cfg.Policy.grow(viol, previous) {
			sub.rho = math.Min(sub.rho*cfg.Growth, cfg.MaxRho)
		}
		previous = viol
	}

	m := &optimization.Multipliers{
		Equality:   append([]float64(nil), sub.lambda...),
		Inequality: append([]float64(nil), sub.mu...),
	}
	return o.result(x, status, k, m)
}
