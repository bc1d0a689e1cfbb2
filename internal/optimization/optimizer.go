// Package optimization defines the capabilities, settings, results and error
// taxonomy shared by every solver in the descent optimization kernel.
package optimization

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultGradientTolerance is the stationarity threshold used when a
// Settings leaves GradientTolerance at zero.
const DefaultGradientTolerance = 1e-8

// Settings contains configuration shared by all drivers.
type Settings struct {
	// Maximum number of iterations. Zero selects the driver's default.
	MaxIterations int

	// Stop when ‖g(x)‖ < GradientTolerance. Zero selects DefaultGradientTolerance.
	GradientTolerance float64

	// Logger receives per-iteration diagnostics at debug level. Nil disables logging.
	Logger *zap.Logger
}

// WithDefaults returns a copy of s with zero fields replaced.
func (s Settings) WithDefaults(maxIterations int) Settings {
	if s.MaxIterations <= 0 {
		s.MaxIterations = maxIterations
	}
	if s.GradientTolerance <= 0 {
		s.GradientTolerance = DefaultGradientTolerance
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	return s
}

// Iteration is one entry of a solve's diagnostic history.
type Iteration struct {
	Iteration int     `json:"iteration" yaml:"iteration"`
	F         float64 `json:"f" yaml:"f"`
	GradNorm  float64 `json:"grad_norm" yaml:"grad_norm"`
	// Step is the accepted step length α for line-search methods and ‖p‖
	// for trust-region methods.
	Step float64 `json:"step" yaml:"step"`
	// Radius is the trust-region radius Δ, zero for other methods.
	Radius float64 `json:"radius,omitempty" yaml:"radius,omitempty"`
	// Violation is the maximum constraint violation, zero when unconstrained.
	Violation float64 `json:"violation,omitempty" yaml:"violation,omitempty"`
	// Penalty is the outer penalty, barrier or multiplier-step parameter.
	Penalty float64 `json:"penalty,omitempty" yaml:"penalty,omitempty"`
	// Accepted is false for rejected trust-region steps.
	Accepted bool `json:"accepted" yaml:"accepted"`
}

// Stats counts work done by a solve.
type Stats struct {
	FuncEvaluations int `json:"func_evaluations" yaml:"func_evaluations"`
	GradEvaluations int `json:"grad_evaluations" yaml:"grad_evaluations"`
	HessEvaluations int `json:"hess_evaluations" yaml:"hess_evaluations"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.FuncEvaluations += o.FuncEvaluations
	s.GradEvaluations += o.GradEvaluations
	s.HessEvaluations += o.HessEvaluations
}

// Multipliers are Lagrange multiplier estimates, ordered as the equality and
// inequality constraints appear in the problem.
type Multipliers struct {
	Equality   []float64 `json:"equality,omitempty" yaml:"equality,omitempty"`
	Inequality []float64 `json:"inequality,omitempty" yaml:"inequality,omitempty"`
}

// Result contains the outcome of a solve. It is produced once and never
// mutated by the solver afterwards.
type Result struct {
	X          []float64
	F          float64
	Gradient   []float64
	Converged  bool
	Status     Status
	Iterations int
	Stats      Stats
	History    []Iteration

	// Multipliers is set by constrained drivers.
	Multipliers *Multipliers
}

// CheckStart validates a start point against obj.
func CheckStart(component string, obj ObjectiveFunction, x0 []float64) error {
	if obj == nil {
		return NewError(KindInvalidArgument, "objective is required").WithComponent(component)
	}
	if len(x0) == 0 {
		return NewError(KindDimensionMismatch, "start point is empty").WithComponent(component)
	}
	if d, ok := obj.(Dimensioned); ok && d.Dim() > 0 && d.Dim() != len(x0) {
		return DimensionError(component, "CheckStart", len(x0), d.Dim())
	}
	if !AllFinite(x0) {
		return NewError(KindNonFiniteValue, "start point contains NaN or Inf").WithComponent(component)
	}
	return nil
}

// AllFinite reports whether every element of v is finite.
func AllFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Evaluator wraps an objective, counts evaluations and turns non-finite
// outputs into ErrNonFiniteValue errors.
type Evaluator struct {
	obj    ObjectiveFunction
	domain DomainRestricted
	Stats  Stats
}

// NewEvaluator creates an Evaluator for obj.
func NewEvaluator(obj ObjectiveFunction) *Evaluator {
	e := &Evaluator{obj: obj}
	if d, ok := obj.(DomainRestricted); ok {
		e.domain = d
	}
	return e
}

// Objective returns the wrapped objective.
func (e *Evaluator) Objective() ObjectiveFunction {
	return e.obj
}

// InDomain reports whether x may be evaluated.
func (e *Evaluator) InDomain(x []float64) bool {
	return e.domain == nil || e.domain.InDomain(x)
}

// Value evaluates f(x).
func (e *Evaluator) Value(x []float64) (float64, error) {
	e.Stats.FuncEvaluations++
	f := e.obj.Evaluate(x)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f, NewErrorf(KindNonFiniteValue, "objective returned %v", f).WithOperation("Evaluate")
	}
	return f, nil
}

// Gradient evaluates ∇f(x) into dst.
func (e *Evaluator) Gradient(dst, x []float64) error {
	e.Stats.GradEvaluations++
	e.obj.Gradient(dst, x)
	if !AllFinite(dst) {
		return NewError(KindNonFiniteValue, "gradient contains NaN or Inf").WithOperation("Gradient")
	}
	return nil
}

// HessianVectorProduct evaluates ∇²f(x)·v into dst.
func (e *Evaluator) HessianVectorProduct(dst, x, v []float64) error {
	e.Stats.HessEvaluations++
	HessianVectorProduct(e.obj, dst, x, v)
	if !AllFinite(dst) {
		return NewError(KindNonFiniteValue, "Hessian-vector product contains NaN or Inf").WithOperation("HessianVectorProduct")
	}
	return nil
}

// Hessian evaluates ∇²f(x) into dst.
func (e *Evaluator) Hessian(dst *mat.SymDense, x []float64) error {
	e.Stats.HessEvaluations++
	Hessian(e.obj, dst, x)
	if !AllFinite(dst.RawSymmetric().Data) {
		return NewError(KindNonFiniteValue, "Hessian contains NaN or Inf").WithOperation("Hessian")
	}
	return nil
}

// NewResult assembles a Result from the final iterate, copying x and g.
func NewResult(x []float64, f float64, g []float64, status Status, iterations int, stats Stats, history []Iteration) *Result {
	return &Result{
		X:          append([]float64(nil), x...),
		F:          f,
		Gradient:   append([]float64(nil), g...),
		Converged:  status.Converged(),
		Status:     status,
		Iterations: iterations,
		Stats:      stats,
		History:    history,
	}
}

// Norm is the Euclidean norm, shared by drivers for convergence checks.
func Norm(v []float64) float64 {
	return floats.Norm(v, 2)
}
