// Package trustregion implements trust-region minimization. Each iteration
// approximately minimizes the quadratic model m(p) = gᵀp + ½pᵀBp within
// ‖p‖ ≤ Δ, compares the actual reduction against the predicted one and
// updates Δ from the ratio ρ. The iterate moves only when ρ > η.
package trustregion

import (
	"math"

	"go.uber.org/zap"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

const component = "trustregion"

// Defaults.
const (
	DefaultEta           = 0.15
	DefaultInitialRadius = 1.0
	DefaultMaxRadius     = 1e3
	DefaultMaxIterations = 1000

	shrinkBelow   = 0.25
	expandAbove   = 0.75
	shrinkFactor  = 0.25
	collapseRatio = 1e-14
)

// Config configures a trust-region solve. Zero fields select defaults:
// Steihaug with Hessian-vector products, η = 0.15, Δ₀ = 1, Δmax = 1e3.
type Config struct {
	Settings      optimization.Settings
	Subproblem    Subproblem
	Model         ModelKind
	Eta           float64
	InitialRadius float64
	MaxRadius     float64
}

func (c Config) withDefaults() Config {
	c.Settings = c.Settings.WithDefaults(DefaultMaxIterations)
	if c.Subproblem == nil {
		c.Subproblem = Steihaug{}
	}
	if c.Model == DefaultModel {
		c.Model = ExactHessian
		if _, ok := c.Subproblem.(Steihaug); ok {
			c.Model = HessianVector
		}
	}
	if c.Eta <= 0 || c.Eta >= shrinkBelow {
		c.Eta = DefaultEta
	}
	if c.InitialRadius <= 0 {
		c.InitialRadius = DefaultInitialRadius
	}
	if c.MaxRadius <= 0 {
		c.MaxRadius = DefaultMaxRadius
	}
	c.InitialRadius = math.Min(c.InitialRadius, c.MaxRadius)
	return c
}

// State is the working memory of one trust-region solve.
type State struct {
	X      []float64
	F      float64
	G      []float64
	Radius float64

	Iteration int
	Status    optimization.Status
	History   []optimization.Iteration

	cfg    Config
	ev     *optimization.Evaluator
	model  model
	logger *zap.Logger

	work             *linalg.Pool
	p, bp, xt, gt, y []float64
}

// NewState validates x0 and builds the model at x0.
func NewState(obj optimization.ObjectiveFunction, x0 []float64, cfg Config) (*State, error) {
	if err := optimization.CheckStart(component, obj, x0); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if _, ok := cfg.Subproblem.(Dogleg); ok && cfg.Model == HessianVector {
		return nil, optimization.NewError(optimization.KindInvalidArgument, "dogleg needs a dense model").
			WithComponent(component)
	}

	n := len(x0)
	ev := optimization.NewEvaluator(obj)
	work := linalg.NewPool(n)
	st := &State{
		X:      linalg.Clone(x0),
		G:      work.GetVec(),
		Radius: cfg.InitialRadius,
		cfg:    cfg,
		ev:     ev,
		model:  newModel(cfg.Model, ev, work),
		logger: cfg.Settings.Logger.Named(component),
		work:   work,
		p:      work.GetVec(),
		bp:     work.GetVec(),
		xt:     work.GetVec(),
		gt:     work.GetVec(),
		y:      work.GetVec(),
	}

	var err error
	if st.F, err = ev.Value(st.X); err != nil {
		return nil, optimization.WrapError(err, "initial point").WithComponent(component)
	}
	if err := ev.Gradient(st.G, st.X); err != nil {
		return nil, optimization.WrapError(err, "initial point").WithComponent(component)
	}
	if optimization.Norm(st.G) < cfg.Settings.GradientTolerance {
		st.Status = optimization.GradientThreshold
		return st, nil
	}
	if err := st.model.prepare(st.X); err != nil {
		return nil, optimization.WrapError(err, "initial model").WithComponent(component)
	}
	return st, nil
}

// Step proposes one step, evaluates it and updates the radius. x, f and g
// change only when the step is accepted.
func Step(st *State) (optimization.Iteration, error) {
	if st.Status.Terminated() {
		return optimization.Iteration{}, nil
	}
	const op = "Step"
	fail := func(err error) (optimization.Iteration, error) {
		return optimization.Iteration{}, optimization.WrapErrorf(err, "iteration %d", st.Iteration+1).
			WithComponent(component).
			WithOperation(op)
	}

	delta := st.Radius
	boundary, err := st.cfg.Subproblem.Solve(st.p, st.model, st.G, delta, st.work)
	if err != nil {
		return fail(err)
	}
	pnorm := linalg.Norm(st.p)
	boundary = boundary || pnorm >= (1-1e-8)*delta

	if err := st.model.MulVec(st.bp, st.p); err != nil {
		return fail(err)
	}
	predicted := -(linalg.Dot(st.G, st.p) + 0.5*linalg.Dot(st.p, st.bp))

	linalg.AddTo(st.xt, st.X, st.p)
	rho := math.Inf(-1)
	var ft float64
	if predicted > 0 && st.ev.InDomain(st.xt) {
		if ft, err = st.ev.Value(st.xt); err != nil {
			return fail(err)
		}
		rho = (st.F - ft) / predicted
	}

	switch {
	case rho < shrinkBelow:
		st.Radius = shrinkFactor * delta
	case rho > expandAbove && boundary:
		st.Radius = math.Min(2*delta, st.cfg.MaxRadius)
	}

	accepted := rho > st.cfg.Eta
	if accepted {
		if err := st.ev.Gradient(st.gt, st.xt); err != nil {
			return fail(err)
		}
		linalg.SubTo(st.y, st.gt, st.G)
		st.model.observe(st.p, st.y)
		copy(st.X, st.xt)
		copy(st.G, st.gt)
		st.F = ft
	}
	st.Iteration++

	gnorm := optimization.Norm(st.G)
	switch {
	case gnorm < st.cfg.Settings.GradientTolerance:
		st.Status = optimization.GradientThreshold
	case st.Radius < collapseRatio*math.Max(1, linalg.Norm(st.X)):
		st.Status = optimization.RadiusCollapsed
	case accepted:
		if err := st.model.prepare(st.X); err != nil {
			return fail(err)
		}
	}

	it := optimization.Iteration{
		Iteration: st.Iteration,
		F:         st.F,
		GradNorm:  gnorm,
		Step:      pnorm,
		Radius:    st.Radius,
		Accepted:  accepted,
	}
	st.History = append(st.History, it)
	st.logger.Debug("iteration",
		zap.Int("iteration", it.Iteration),
		zap.Float64("f", st.F),
		zap.Float64("grad_norm", gnorm),
		zap.Float64("rho", rho),
		zap.Float64("radius", st.Radius),
		zap.Bool("accepted", accepted))
	return it, nil
}

// Result snapshots the state.
func (st *State) Result() *optimization.Result {
	return optimization.NewResult(st.X, st.F, st.G, st.Status, st.Iteration, st.ev.Stats, st.History)
}

// Minimize runs Step until the gradient tolerance is met, the radius
// collapses or the iteration budget is exhausted.
func Minimize(obj optimization.ObjectiveFunction, x0 []float64, cfg Config) (*optimization.Result, error) {
	st, err := NewState(obj, x0, cfg)
	if err != nil {
		return nil, err
	}
	for st.Status == optimization.NotTerminated {
		if st.Iteration >= st.cfg.Settings.MaxIterations {
			st.Status = optimization.IterationLimit
			break
		}
		if _, err := Step(st); err != nil {
			return nil, err
		}
	}
	st.logger.Debug("solve finished",
		zap.Stringer("status", st.Status),
		zap.Int("iterations", st.Iteration),
		zap.Float64("f", st.F),
		zap.Float64("radius", st.Radius))
	return st.Result(), nil
}
