package optimization

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
)

// ConstraintKind tags a constraint as h(x) = 0 or g(x) ≤ 0.
type ConstraintKind int

const (
	// Equality constraints require h(x) = 0.
	Equality ConstraintKind = iota
	// Inequality constraints require g(x) ≤ 0.
	Inequality
)

func (k ConstraintKind) String() string {
	if k == Equality {
		return "eq"
	}
	return "ineq"
}

// ConstraintFunction evaluates a scalar constraint.
type ConstraintFunction interface {
	Evaluate(x []float64) float64
}

// ConstraintGradient is implemented by constraints with an analytic gradient.
type ConstraintGradient interface {
	Gradient(dst, x []float64)
}

// ConstraintFunc adapts a function to ConstraintFunction.
type ConstraintFunc func(x []float64) float64

// Evaluate implements ConstraintFunction.
func (f ConstraintFunc) Evaluate(x []float64) float64 { return f(x) }

// LinearConstraint is aᵀx − b.
type LinearConstraint struct {
	A []float64
	B float64
}

// Evaluate implements ConstraintFunction.
func (c LinearConstraint) Evaluate(x []float64) float64 {
	return floats.Dot(c.A, x) - c.B
}

// Gradient implements ConstraintGradient.
func (c LinearConstraint) Gradient(dst, _ []float64) {
	copy(dst, c.A)
}

// Constraint is a tagged constraint function.
type Constraint struct {
	Kind     ConstraintKind
	Function ConstraintFunction
	// Name is used in diagnostics only.
	Name string
}

// Eq builds an equality constraint h(x) = 0.
func Eq(f ConstraintFunction) Constraint {
	return Constraint{Kind: Equality, Function: f}
}

// Ineq builds an inequality constraint g(x) ≤ 0.
func Ineq(f ConstraintFunction) Constraint {
	return Constraint{Kind: Inequality, Function: f}
}

// Value returns the constraint function at x.
func (c Constraint) Value(x []float64) float64 {
	return c.Function.Evaluate(x)
}

// Gradient stores the constraint gradient at x in dst, falling back to
// central finite differences when the function has no ConstraintGradient.
func (c Constraint) Gradient(dst, x []float64) {
	if g, ok := c.Function.(ConstraintGradient); ok {
		g.Gradient(dst, x)
		return
	}
	fd.Gradient(dst, c.Function.Evaluate, x, &fd.Settings{Formula: fd.Central})
}

// Violation returns |h(x)| for equalities and max(0, g(x)) for inequalities.
func (c Constraint) Violation(x []float64) float64 {
	v := c.Value(x)
	if c.Kind == Equality {
		return math.Abs(v)
	}
	return math.Max(0, v)
}

// SplitConstraints separates equalities from inequalities, preserving order.
func SplitConstraints(cs []Constraint) (eq, ineq []Constraint) {
	for _, c := range cs {
		if c.Kind == Equality {
			eq = append(eq, c)
		} else {
			ineq = append(ineq, c)
		}
	}
	return eq, ineq
}

// MaxViolation returns the largest constraint violation at x, or zero when
// there are no constraints.
func MaxViolation(cs []Constraint, x []float64) float64 {
	var worst float64
	for _, c := range cs {
		worst = math.Max(worst, c.Violation(x))
	}
	return worst
}
