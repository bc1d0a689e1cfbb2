// Package constrained solves constrained problems by repeated unconstrained
// minimization. Penalty, Barrier and AugmentedLagrangian wrap the
// quasinewton solvers in an outer loop that tightens a penalty or barrier
// parameter, warm-starting every inner solve from the previous outer
// iterate. ProjectedGradient handles box constraints directly.
package constrained

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/quasinewton"
)

const component = "constrained"

// DefaultTolerance is the outer feasibility or duality-gap tolerance.
const DefaultTolerance = 1e-6

// GrowthPolicy decides when an outer loop multiplies its penalty parameter.
type GrowthPolicy int

const (
	// GrowAlways grows the parameter after every outer iteration.
	GrowAlways GrowthPolicy = iota
	// GrowOnStall grows the parameter only when the maximum violation did
	// not fall below StallRatio times its previous value.
	GrowOnStall
)

// StallRatio is the violation reduction GrowOnStall expects per outer step.
const StallRatio = 0.25

func (p GrowthPolicy) String() string {
	switch p {
	case GrowAlways:
		return "always"
	case GrowOnStall:
		return "on-stall"
	}
	return fmt.Sprintf("GrowthPolicy(%d)", int(p))
}

func (p GrowthPolicy) grow(violation, previous float64) bool {
	return p != GrowOnStall || violation > StallRatio*previous
}

// outer holds what every penalty-type outer loop shares.
type outer struct {
	obj     optimization.ObjectiveFunction
	eq      []optimization.Constraint
	ineq    []optimization.Constraint
	inner   quasinewton.Config
	logger  *zap.Logger
	stats   optimization.Stats
	history []optimization.Iteration
}

func newOuter(name string, obj optimization.ObjectiveFunction, cons []optimization.Constraint, x0 []float64, settings optimization.Settings, inner quasinewton.Config) (*outer, error) {
	if err := optimization.CheckStart(component, obj, x0); err != nil {
		return nil, err
	}
	for i, c := range cons {
		if c.Function == nil {
			return nil, optimization.NewErrorf(optimization.KindInvalidArgument, "constraint %d has no function", i).
				WithComponent(component).WithOperation(name)
		}
	}
	eq, ineq := optimization.SplitConstraints(cons)
	if inner.Settings.Logger == nil {
		inner.Settings.Logger = settings.Logger
	}
	return &outer{
		obj:    obj,
		eq:     eq,
		ineq:   ineq,
		inner:  inner,
		logger: settings.Logger.Named(name),
	}, nil
}

// minimize runs the inner solver on sub from x and returns its result.
// Inner line-search failures and iteration limits are not fatal: the outer
// loop continues from the best inner iterate.
func (o *outer) minimize(sub optimization.ObjectiveFunction, x []float64, k int) (*optimization.Result, error) {
	res, err := quasinewton.Minimize(sub, x, o.inner)
	if err != nil {
		return nil, optimization.WrapErrorf(err, "outer iteration %d", k).WithComponent(component)
	}
	o.stats.Add(res.Stats)
	if !res.Converged {
		o.logger.Debug("inner solve did not converge",
			zap.Int("outer", k), zap.Stringer("status", res.Status))
	}
	return res, nil
}

// value evaluates f at x, counting the evaluation.
func (o *outer) value(x []float64) (float64, []float64, error) {
	o.stats.FuncEvaluations++
	o.stats.GradEvaluations++
	f := o.obj.Evaluate(x)
	g := make([]float64, len(x))
	o.obj.Gradient(g, x)
	if !optimization.AllFinite(g) || !optimization.AllFinite([]float64{f}) {
		return 0, nil, optimization.NewError(optimization.KindNonFiniteValue, "objective is not finite at the outer iterate").
			WithComponent(component)
	}
	return f, g, nil
}

func (o *outer) violation(x []float64) float64 {
	return max(optimization.MaxViolation(o.eq, x), optimization.MaxViolation(o.ineq, x))
}

func (o *outer) record(it optimization.Iteration) {
	o.history = append(o.history, it)
	o.logger.Debug("outer iteration",
		zap.Int("iteration", it.Iteration),
		zap.Float64("f", it.F),
		zap.Float64("violation", it.Violation),
		zap.Float64("parameter", it.Penalty))
}

func (o *outer) result(x []float64, status optimization.Status, iterations int, m *optimization.Multipliers) (*optimization.Result, error) {
	f, g, err := o.value(x)
	if err != nil {
		return nil, err
	}
	res := optimization.NewResult(x, f, g, status, iterations, o.stats, o.history)
	res.Multipliers = m
	o.logger.Debug("solve finished",
		zap.Stringer("status", status),
		zap.Int("iterations", iterations),
		zap.Float64("f", f))
	return res, nil
}
