// Package quasinewton implements line-search minimizers built on curvature
// memory: L-BFGS, dense BFGS and DFP, SR1, nonlinear conjugate gradient and
// Newton's method, plus Broyden's method for square nonlinear systems.
//
// A solve is a sequence of Step calls on an explicit State:
//
//	st, err := quasinewton.NewState(obj, x0, cfg)
//	for !st.Status.Terminated() {
//		if _, err := quasinewton.Step(st); err != nil { ... }
//	}
//
// Minimize runs that loop with the iteration budget applied.
package quasinewton

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
	"github.com/copyleftdev/descent/internal/optimization/linesearch"
)

const component = "quasinewton"

// Method selects the direction rule.
type Method int

const (
	LBFGS Method = iota
	BFGS
	DFP
	SR1
	CGFletcherReeves
	CGPolakRibiere
	Newton
)

var methodNames = map[Method]string{
	LBFGS:            "lbfgs",
	BFGS:             "bfgs",
	DFP:              "dfp",
	SR1:              "sr1",
	CGFletcherReeves: "cg-fr",
	CGPolakRibiere:   "cg-pr",
	Newton:           "newton",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod maps a method name such as "lbfgs" to its Method.
func ParseMethod(s string) (Method, error) {
	for m, name := range methodNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, optimization.NewErrorf(optimization.KindInvalidArgument, "unknown quasi-Newton method %q", s).
		WithComponent(component)
}

const (
	// DefaultMemory is the L-BFGS history length.
	DefaultMemory = 10
	// DefaultMaxIterations applies to every method except Newton.
	DefaultMaxIterations = 1000
	// DefaultNewtonMaxIterations applies to Newton's method.
	DefaultNewtonMaxIterations = 100
)

// Config configures a quasi-Newton solve. The zero value is L-BFGS with
// memory 10, a strong Wolfe line search, 1000 iterations and tolerance 1e-8.
type Config struct {
	Settings optimization.Settings
	Method   Method
	// Memory is the L-BFGS history length m.
	Memory int
	// LineSearch overrides the method's default search: strong Wolfe for
	// L-BFGS, BFGS and DFP; strong Wolfe with c₂ = 0.1 for CG; Armijo
	// backtracking for SR1 and Newton.
	LineSearch linesearch.Searcher
}

func (c Config) withDefaults() Config {
	max := DefaultMaxIterations
	if c.Method == Newton {
		max = DefaultNewtonMaxIterations
	}
	c.Settings = c.Settings.WithDefaults(max)
	if c.Memory <= 0 {
		c.Memory = DefaultMemory
	}
	if c.LineSearch == nil {
		switch c.Method {
		case CGFletcherReeves, CGPolakRibiere:
			c.LineSearch = linesearch.StrongWolfe{C2: 0.1}
		case SR1, Newton:
			c.LineSearch = linesearch.Backtracking{}
		default:
			c.LineSearch = linesearch.StrongWolfe{}
		}
	}
	return c
}

// curvatureMemory is implemented by every direction rule that learns from
// (s, y) pairs.
type curvatureMemory interface {
	Direction(dst, g []float64)
	Update(p Pair) bool
	Reset()
}

// State is the solver-owned working memory of one solve. It is created by
// NewState, advanced by Step and read by Result.
type State struct {
	X []float64
	F float64
	G []float64

	Iteration int
	Status    optimization.Status
	// Skipped counts curvature pairs rejected by the update safeguard.
	Skipped int
	History []optimization.Iteration

	cfg    Config
	ev     *optimization.Evaluator
	logger *zap.Logger
	memory curvatureMemory
	newton *newtonDirection

	d, s, y, bs, gNew []float64
	prevAlpha, prevGd float64
}

// NewState validates x0, evaluates f and ∇f there and allocates the
// method's curvature memory. x0 is copied.
func NewState(obj optimization.ObjectiveFunction, x0 []float64, cfg Config) (*State, error) {
	if err := optimization.CheckStart(component, obj, x0); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	n := len(x0)

	st := &State{
		X:      linalg.Clone(x0),
		G:      make([]float64, n),
		cfg:    cfg,
		ev:     optimization.NewEvaluator(obj),
		logger: cfg.Settings.Logger.Named(cfg.Method.String()),
		d:      make([]float64, n),
		s:      make([]float64, n),
		y:      make([]float64, n),
		bs:     make([]float64, n),
		gNew:   make([]float64, n),
	}

	switch cfg.Method {
	case LBFGS:
		st.memory = NewLBFGSMemory(n, cfg.Memory)
	case BFGS:
		st.memory = NewDenseHessian(n, BFGSFormula, true)
	case DFP:
		st.memory = NewDenseHessian(n, DFPFormula, true)
	case SR1:
		st.memory = NewSR1Hessian(n)
	case CGFletcherReeves:
		st.memory = NewConjugateGradient(n, FletcherReeves)
	case CGPolakRibiere:
		st.memory = NewConjugateGradient(n, PolakRibiere)
	case Newton:
		st.newton = newNewtonDirection(st.ev, n, st.logger)
	default:
		return nil, optimization.NewErrorf(optimization.KindInvalidArgument, "unknown method %v", cfg.Method).
			WithComponent(component)
	}

	var err error
	if st.F, err = st.ev.Value(st.X); err != nil {
		return nil, optimization.WrapError(err, "initial point").WithComponent(component)
	}
	if err := st.ev.Gradient(st.G, st.X); err != nil {
		return nil, optimization.WrapError(err, "initial point").WithComponent(component)
	}
	if optimization.Norm(st.G) < cfg.Settings.GradientTolerance {
		st.Status = optimization.GradientThreshold
	}
	return st, nil
}

func (st *State) direction(dst []float64) error {
	if st.newton != nil {
		return st.newton.direction(dst, st.X, st.G)
	}
	st.memory.Direction(dst, st.G)
	return nil
}

// initialStep chooses α₀ for the line search.
func (st *State) initialStep(gd float64, steepest bool) float64 {
	switch {
	case st.cfg.Method == Newton:
		return 1
	case st.Iteration == 0 || steepest:
		return math.Min(1, 1/optimization.Norm(st.G))
	case st.cfg.Method == CGFletcherReeves || st.cfg.Method == CGPolakRibiere:
		if a := st.prevAlpha * st.prevGd / gd; a > 0 && !math.IsInf(a, 0) {
			return a
		}
	}
	return 1
}

// Step performs one iteration: direction, line search, curvature update and
// convergence check. A line search that finds no acceptable step ends the
// solve with LineSearchFailed; only fatal conditions are returned as errors.
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

	if err := st.direction(st.d); err != nil {
		return fail(err)
	}
	steepest := false
	gd := linalg.Dot(st.G, st.d)
	if !(gd < 0) || !optimization.AllFinite(st.d) {
		st.logger.Debug("direction is not a descent direction, using steepest descent",
			zap.Int("iteration", st.Iteration+1), zap.Float64("gd", gd))
		steepest = true
	}

	var step linesearch.Step
	for {
		if steepest {
			linalg.Negate(st.d, st.G)
			gd = -linalg.Dot(st.G, st.G)
		}
		var err error
		step, err = st.cfg.LineSearch.Search(st.ev, linesearch.Point{X: st.X, F: st.F, G: st.G}, st.d, st.initialStep(gd, steepest))
		if err == nil {
			break
		}
		if !errors.Is(err, optimization.ErrLineSearchFailure) {
			return fail(err)
		}
		if steepest || st.cfg.Method == Newton {
			st.Status = optimization.LineSearchFailed
			st.logger.Debug("line search failed", zap.Int("iteration", st.Iteration+1), zap.Error(err))
			return optimization.Iteration{Iteration: st.Iteration, F: st.F, GradNorm: optimization.Norm(st.G)}, nil
		}
		// Retry once along −g with the curvature memory discarded.
		st.memory.Reset()
		steepest = true
	}

	if step.G != nil {
		copy(st.gNew, step.G)
	} else if err := st.ev.Gradient(st.gNew, step.X); err != nil {
		return fail(err)
	}
	linalg.SubTo(st.s, step.X, st.X)
	linalg.SubTo(st.y, st.gNew, st.G)

	if st.memory != nil {
		pair := Pair{S: st.s, Y: st.y}
		if !steepest && (st.cfg.Method == BFGS || st.cfg.Method == DFP) {
			pair.Bs = linalg.ScaleTo(st.bs, -step.Alpha, st.G)
		}
		if !st.memory.Update(pair) {
			st.Skipped++
			st.logger.Debug("curvature update skipped", zap.Int("iteration", st.Iteration+1))
		}
	}

	copy(st.X, step.X)
	copy(st.G, st.gNew)
	st.F = step.F
	st.prevAlpha, st.prevGd = step.Alpha, gd
	st.Iteration++

	gnorm := optimization.Norm(st.G)
	if gnorm < st.cfg.Settings.GradientTolerance {
		st.Status = optimization.GradientThreshold
	}
	it := optimization.Iteration{
		Iteration: st.Iteration,
		F:         st.F,
		GradNorm:  gnorm,
		Step:      step.Alpha,
		Accepted:  true,
	}
	st.History = append(st.History, it)
	st.logger.Debug("iteration",
		zap.Int("iteration", it.Iteration),
		zap.Float64("f", it.F),
		zap.Float64("grad_norm", gnorm),
		zap.Float64("alpha", step.Alpha),
		zap.Int("trials", step.Trials))
	return it, nil
}

// Result snapshots the state.
func (st *State) Result() *optimization.Result {
	return optimization.NewResult(st.X, st.F, st.G, st.Status, st.Iteration, st.ev.Stats, st.History)
}

// Minimize runs Step until convergence, line-search failure or the
// iteration budget is exhausted.
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
		zap.Int("skipped_updates", st.Skipped))
	return st.Result(), nil
}
