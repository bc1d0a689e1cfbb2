// Package solver is the single entry point the service and the CLI use to
// run a solve. It resolves a Request into an objective, constraints and a
// start point and dispatches on a closed Method enum to the drivers in the
// optimization packages.
package solver

import (
	"math"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/constrained"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
	"github.com/copyleftdev/descent/internal/optimization/quasinewton"
	"github.com/copyleftdev/descent/internal/optimization/sqp"
	"github.com/copyleftdev/descent/internal/optimization/trustregion"
	"github.com/copyleftdev/descent/internal/problems"
)

const component = "solver"

// QuadraticProblem is the problem name that takes A and b from the request.
const QuadraticProblem = "quadratic"

// LinearConstraint is aᵀx = b (Kind "eq") or aᵀx ≤ b (Kind "ineq").
type LinearConstraint struct {
	Kind string    `json:"kind" yaml:"kind"`
	A    []float64 `json:"a" yaml:"a"`
	B    float64   `json:"b" yaml:"b"`
	Name string    `json:"name,omitempty" yaml:"name,omitempty"`
}

// Options tune a solve. Zero values select each driver's defaults.
type Options struct {
	MaxIterations int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Tolerance     float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	// Memory is the L-BFGS history length.
	Memory int `json:"memory,omitempty" yaml:"memory,omitempty"`
}

// Request describes one solve. The zero Method is L-BFGS.
type Request struct {
	Method  Method    `json:"method" yaml:"method"`
	Problem string    `json:"problem" yaml:"problem"`
	Dim     int       `json:"dim,omitempty" yaml:"dim,omitempty"`
	Start   []float64 `json:"start,omitempty" yaml:"start,omitempty"`

	// A and B define ½xᵀAx − bᵀx when Problem is "quadratic".
	A [][]float64 `json:"a,omitempty" yaml:"a,omitempty"`
	B []float64   `json:"b,omitempty" yaml:"b,omitempty"`

	Constraints []LinearConstraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	// Lower and Upper bound the variables. The projected method handles them
	// directly; constrained methods turn them into inequalities.
	Lower []float64 `json:"lower,omitempty" yaml:"lower,omitempty"`
	Upper []float64 `json:"upper,omitempty" yaml:"upper,omitempty"`

	Options Options `json:"options,omitempty" yaml:"options,omitempty"`
}

// Spec is a resolved problem ready to run.
type Spec struct {
	Objective   optimization.ObjectiveFunction
	Constraints []optimization.Constraint
	Bounds      constrained.Bounds
	Start       []float64
}

// Resolve builds the objective, constraints and start point of req.
func Resolve(req Request) (*Spec, error) {
	const op = "Resolve"
	spec := &Spec{Bounds: constrained.Bounds{Lower: req.Lower, Upper: req.Upper}}

	if strings.EqualFold(strings.TrimSpace(req.Problem), QuadraticProblem) {
		obj, err := problems.Quadratic(req.A, req.B)
		if err != nil {
			return nil, err
		}
		spec.Objective = obj
		spec.Start = make([]float64, len(req.B))
	} else {
		p, err := problems.Lookup(req.Problem)
		if err != nil {
			return nil, err
		}
		dim := req.Dim
		if dim == 0 {
			dim = len(req.Start)
		}
		obj, err := p.Objective(dim)
		if err != nil {
			return nil, err
		}
		spec.Objective = obj
		if spec.Start, err = p.Start(dim); err != nil {
			return nil, err
		}
	}
	if req.Start != nil {
		if len(req.Start) != len(spec.Start) {
			return nil, optimization.DimensionError(component, op, len(req.Start), len(spec.Start))
		}
		spec.Start = append([]float64(nil), req.Start...)
	}

	n := len(spec.Start)
	for i, c := range req.Constraints {
		if len(c.A) != n {
			return nil, optimization.NewErrorf(optimization.KindDimensionMismatch,
				"constraint %d has %d coefficients, want %d", i, len(c.A), n).WithComponent(component).WithOperation(op)
		}
		lc := optimization.LinearConstraint{A: append([]float64(nil), c.A...), B: c.B}
		var con optimization.Constraint
		switch strings.ToLower(c.Kind) {
		case "eq", "=", "==":
			con = optimization.Eq(lc)
		case "ineq", "<=", "":
			con = optimization.Ineq(lc)
		default:
			return nil, optimization.NewErrorf(optimization.KindInvalidArgument,
				"constraint %d has unknown kind %q", i, c.Kind).WithComponent(component).WithOperation(op)
		}
		con.Name = c.Name
		spec.Constraints = append(spec.Constraints, con)
	}
	return spec, nil
}

// Solve resolves req and runs it.
func Solve(req Request, logger *zap.Logger) (*optimization.Result, error) {
	spec, err := Resolve(req)
	if err != nil {
		return nil, err
	}
	return Run(req.Method, spec, req.Options, logger)
}

func (s *Spec) hasBounds() bool {
	return s.Bounds.Lower != nil || s.Bounds.Upper != nil
}

// boundConstraints turns finite bounds into inequalities lᵢ − xᵢ ≤ 0 and
// xᵢ − uᵢ ≤ 0.
func (s *Spec) boundConstraints() []optimization.Constraint {
	n := len(s.Start)
	var out []optimization.Constraint
	for i := 0; i < n; i++ {
		if s.Bounds.Lower != nil && !math.IsInf(s.Bounds.Lower[i], -1) {
			a := make([]float64, n)
			a[i] = -1
			out = append(out, optimization.Ineq(optimization.LinearConstraint{A: a, B: -s.Bounds.Lower[i]}))
		}
		if s.Bounds.Upper != nil && !math.IsInf(s.Bounds.Upper[i], 1) {
			a := make([]float64, n)
			a[i] = 1
			out = append(out, optimization.Ineq(optimization.LinearConstraint{A: a, B: s.Bounds.Upper[i]}))
		}
	}
	return out
}

// Check reports whether method can solve s. Unconstrained methods reject
// constraints and bounds with ErrUnsupportedConstraint.
func (s *Spec) Check(method Method) error {
	_, err := s.constraintsFor(method)
	return err
}

// constraintsFor returns the constraints method sees, with bounds folded in
// as inequalities for the constrained drivers.
func (s *Spec) constraintsFor(method Method) ([]optimization.Constraint, error) {
	const op = "Check"
	unsupported := func(what string) error {
		return optimization.NewErrorf(optimization.KindUnsupportedConstraint, "%s does not accept %s", method, what).
			WithComponent(component).WithOperation(op)
	}
	if method < 0 || int(method) >= len(methodNames) {
		return nil, optimization.NewErrorf(optimization.KindInvalidArgument, "unknown method %v", method).
			WithComponent(component).WithOperation(op)
	}

	cons := s.Constraints
	switch {
	case method.Constrained():
		if s.hasBounds() {
			if err := s.Bounds.Validate(len(s.Start)); err != nil {
				return nil, err
			}
			cons = append(append([]optimization.Constraint(nil), cons...), s.boundConstraints()...)
		}
	case method == Projected:
		if len(cons) > 0 {
			return nil, unsupported("general constraints")
		}
	default:
		if len(cons) > 0 {
			return nil, unsupported("constraints")
		}
		if s.hasBounds() {
			return nil, unsupported("bounds")
		}
	}
	return cons, nil
}

// Run dispatches spec to method.
func Run(method Method, spec *Spec, opts Options, logger *zap.Logger) (*optimization.Result, error) {
	const op = "Run"
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := optimization.Settings{
		MaxIterations:     opts.MaxIterations,
		GradientTolerance: opts.Tolerance,
		Logger:            logger,
	}
	cons, err := spec.constraintsFor(method)
	if err != nil {
		return nil, err
	}

	inner := quasinewton.Config{Memory: opts.Memory, Settings: optimization.Settings{Logger: logger}}

	switch method {
	case LBFGS, BFGS, DFP, SR1, CGFletcherReeves, CGPolakRibiere, Newton:
		qn, err := quasinewton.ParseMethod(method.String())
		if err != nil {
			return nil, err
		}
		return quasinewton.Minimize(spec.Objective, spec.Start, quasinewton.Config{
			Settings: settings,
			Method:   qn,
			Memory:   opts.Memory,
		})
	case TrustCauchy:
		return trustregion.Minimize(spec.Objective, spec.Start, trustregion.Config{Settings: settings, Subproblem: trustregion.Cauchy{}})
	case TrustDogleg:
		return trustregion.Minimize(spec.Objective, spec.Start, trustregion.Config{Settings: settings, Subproblem: trustregion.Dogleg{}})
	case TrustSteihaug:
		return trustregion.Minimize(spec.Objective, spec.Start, trustregion.Config{Settings: settings, Subproblem: trustregion.Steihaug{}})
	case Penalty:
		return constrained.Penalty(spec.Objective, cons, spec.Start, constrained.PenaltyConfig{
			Settings:  optimization.Settings{MaxIterations: opts.MaxIterations, Logger: logger},
			Tolerance: opts.Tolerance,
			Inner:     inner,
		})
	case Barrier:
		return constrained.Barrier(spec.Objective, cons, spec.Start, constrained.BarrierConfig{
			Settings:  optimization.Settings{MaxIterations: opts.MaxIterations, Logger: logger},
			Tolerance: opts.Tolerance,
			Inner:     inner,
		})
	case AugmentedLagrangian:
		return constrained.AugmentedLagrangian(spec.Objective, cons, spec.Start, constrained.AugmentedLagrangianConfig{
			Settings:  optimization.Settings{MaxIterations: opts.MaxIterations, Logger: logger},
			Tolerance: opts.Tolerance,
			Inner:     inner,
		})
	case Projected:
		return constrained.ProjectedGradient(spec.Objective, spec.Bounds, spec.Start, constrained.ProjectedConfig{Settings: settings})
	case SQP:
		return sqp.Minimize(spec.Objective, cons, spec.Start, sqp.Config{
			Settings:  optimization.Settings{MaxIterations: opts.MaxIterations, Logger: logger},
			Tolerance: opts.Tolerance,
		})
	case NelderMead:
		return nelderMead(spec.Objective, spec.Start, opts, logger)
	}
	return nil, optimization.NewErrorf(optimization.KindInvalidArgument, "unknown method %v", method).
		WithComponent(component).WithOperation(op)
}

// DefaultNelderMeadIterations bounds the simplex method.
const DefaultNelderMeadIterations = 5000

// historyRecorder collects the simplex method's major iterations.
type historyRecorder struct {
	history []optimization.Iteration
	logger  *zap.Logger
}

func (r *historyRecorder) Init() error { return nil }

func (r *historyRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	it := optimization.Iteration{Iteration: stats.MajorIterations, F: loc.F, Accepted: true}
	r.history = append(r.history, it)
	r.logger.Debug("iteration", zap.Int("iteration", it.Iteration), zap.Float64("f", it.F))
	return nil
}

// nelderMead runs gonum's simplex method and reports in the kernel's
// Result shape. The gradient is reported at the final point for reference.
func nelderMead(obj optimization.ObjectiveFunction, x0 []float64, opts Options, logger *zap.Logger) (*optimization.Result, error) {
	const op = "NelderMead"
	if err := optimization.CheckStart(component, obj, x0); err != nil {
		return nil, err
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultNelderMeadIterations
	}
	tol := opts.Tolerance
	if tol <= 0 {
		tol = 1e-10
	}
	rec := &historyRecorder{logger: logger.Named("nelder-mead")}
	res, err := optimize.Minimize(
		optimize.Problem{Func: obj.Evaluate},
		linalg.Clone(x0),
		&optimize.Settings{
			MajorIterations: maxIter,
			Converger:       &optimize.FunctionConverge{Absolute: tol, Iterations: 100},
			Recorder:        rec,
		},
		&optimize.NelderMead{},
	)
	failed := func() error {
		if err == nil {
			return optimization.NewError(optimization.KindInvalidArgument, "simplex search failed").
				WithComponent(component).WithOperation(op)
		}
		return optimization.WrapError(err, "simplex search").WithComponent(component).WithOperation(op)
	}
	if res == nil {
		return nil, failed()
	}

	var status optimization.Status
	switch res.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
		status = optimization.IterationLimit
	case optimize.Failure:
		return nil, failed()
	default:
		status = optimization.FunctionConvergence
	}
	if !optimization.AllFinite([]float64{res.F}) {
		return nil, optimization.NewError(optimization.KindNonFiniteValue, "simplex reached a non-finite value").
			WithComponent(component).WithOperation(op)
	}

	g := make([]float64, len(res.X))
	obj.Gradient(g, res.X)
	stats := optimization.Stats{FuncEvaluations: res.FuncEvaluations, GradEvaluations: 1}
	out := optimization.NewResult(res.X, res.F, g, status, res.MajorIterations, stats, rec.history)
	logger.Named("nelder-mead").Debug("solve finished",
		zap.Stringer("status", status),
		zap.Int("iterations", res.MajorIterations),
		zap.Float64("f", res.F))
	return out, nil
}
