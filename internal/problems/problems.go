// Package problems is the registry of named test problems served by the
// optimization service and the optctl command. Classic More–Garbow–Hillstrom
// functions come from gonum's optimize/functions package; the rest are
// defined here with analytic derivatives.
package problems

import (
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/functions"

	"github.com/copyleftdev/descent/internal/optimization"
)

const component = "problems"

// Problem is a named unconstrained test function.
type Problem struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	// Dim is the fixed dimension, zero when any n ≥ MinDim works.
	Dim int `json:"dim,omitempty" yaml:"dim,omitempty"`
	// MinDim is the smallest dimension accepted when Dim is zero.
	MinDim int `json:"min_dim,omitempty" yaml:"min_dim,omitempty"`
	// Multiple restricts n to multiples of this value when non-zero.
	Multiple int `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	// DefaultDim is used when a request leaves the dimension open.
	DefaultDim int `json:"default_dim" yaml:"default_dim"`

	build     func(n int) optimization.Objective
	start     func(n int) []float64
	minimizer func(n int) []float64
}

// Objective returns the problem's objective in dimension n. n = 0 selects
// DefaultDim.
func (p *Problem) Objective(n int) (optimization.Objective, error) {
	n, err := p.dimension(n)
	if err != nil {
		return optimization.Objective{}, err
	}
	return p.build(n), nil
}

// Start returns the standard starting point in dimension n.
func (p *Problem) Start(n int) ([]float64, error) {
	n, err := p.dimension(n)
	if err != nil {
		return nil, err
	}
	return p.start(n), nil
}

// Minimizer returns a known global minimizer in dimension n.
func (p *Problem) Minimizer(n int) ([]float64, error) {
	n, err := p.dimension(n)
	if err != nil {
		return nil, err
	}
	return p.minimizer(n), nil
}

func (p *Problem) dimension(n int) (int, error) {
	if n == 0 {
		return p.DefaultDim, nil
	}
	switch {
	case p.Dim > 0 && n != p.Dim:
		return 0, optimization.DimensionError(component, p.Name, n, p.Dim)
	case n < p.MinDim:
		return 0, optimization.NewErrorf(optimization.KindDimensionMismatch,
			"%s needs at least %d variables, got %d", p.Name, p.MinDim, n).WithComponent(component)
	case p.Multiple > 0 && n%p.Multiple != 0:
		return 0, optimization.NewErrorf(optimization.KindDimensionMismatch,
			"%s needs a multiple of %d variables, got %d", p.Name, p.Multiple, n).WithComponent(component)
	}
	return n, nil
}

// gonumFunction is the shape of the optimize/functions test problems.
type gonumFunction interface {
	Func(x []float64) float64
	Grad(grad, x []float64)
}

func fromGonum(f gonumFunction, n int) optimization.Objective {
	obj := optimization.Objective{N: n, Func: f.Func, Grad: f.Grad}
	if h, ok := f.(interface {
		Hess(dst *mat.SymDense, x []float64)
	}); ok {
		obj.Hess = h.Hess
	}
	return obj
}

func fill(n int, v float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = v
	}
	return x
}

func fixed(x ...float64) func(int) []float64 {
	return func(int) []float64 { return slices.Clone(x) }
}

var registry = map[string]*Problem{}

func register(p *Problem) {
	if _, dup := registry[p.Name]; dup {
		panic(fmt.Sprintf("problems: %q registered twice", p.Name))
	}
	if p.DefaultDim == 0 {
		p.DefaultDim = max(p.Dim, p.MinDim)
	}
	registry[p.Name] = p
}

// Lookup returns the problem registered under name, ignoring case.
func Lookup(name string) (*Problem, error) {
	p, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, optimization.NewErrorf(optimization.KindInvalidArgument, "unknown problem %q (have %s)",
			name, strings.Join(Names(), ", ")).WithComponent(component)
	}
	return p, nil
}

// Names lists the registered problem names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// List returns every registered problem sorted by name.
func List() []*Problem {
	out := make([]*Problem, 0, len(registry))
	for _, name := range Names() {
		out = append(out, registry[name])
	}
	return out
}

func init() {
	register(&Problem{
		Name:        "rosenbrock",
		Description: "extended Rosenbrock valley, Σ 100(x[i+1] − x[i]²)² + (1 − x[i])²",
		MinDim:      2,
		build:       func(n int) optimization.Objective { return fromGonum(functions.ExtendedRosenbrock{}, n) },
		start: func(n int) []float64 {
			x := make([]float64, n)
			for i := range x {
				x[i] = 1
				if i%2 == 0 {
					x[i] = -1.2
				}
			}
			return x
		},
		minimizer: func(n int) []float64 { return fill(n, 1) },
	})
	register(&Problem{
		Name:        "beale",
		Description: "Beale's function with a narrow curved valley",
		Dim:         2,
		build:       func(n int) optimization.Objective { return fromGonum(functions.Beale{}, n) },
		start:       fixed(1, 1),
		minimizer:   fixed(3, 0.5),
	})
	register(&Problem{
		Name:        "wood",
		Description: "Colville's four-variable Wood function",
		Dim:         4,
		build:       func(n int) optimization.Objective { return fromGonum(functions.Wood{}, n) },
		start:       fixed(-3, -1, -3, -1),
		minimizer:   fixed(1, 1, 1, 1),
	})
	register(&Problem{
		Name:        "powell-singular",
		Description: "extended Powell function, singular Hessian at the minimizer",
		MinDim:      4,
		Multiple:    4,
		build:       func(n int) optimization.Objective { return fromGonum(functions.ExtendedPowellSingular{}, n) },
		start: func(n int) []float64 {
			x := make([]float64, n)
			for i := 0; i < n; i += 4 {
				copy(x[i:], []float64{3, -1, 0, 3})
			}
			return x
		},
		minimizer: func(n int) []float64 { return make([]float64, n) },
	})
	register(&Problem{
		Name:        "sphere",
		Description: "Σ x[i]²",
		MinDim:      1,
		DefaultDim:  2,
		build:       sphere,
		start:       func(n int) []float64 { return fill(n, 3) },
		minimizer:   func(n int) []float64 { return make([]float64, n) },
	})
	register(&Problem{
		Name:        "quartic",
		Description: "Σ x[i]⁴, degenerate minimum at the origin",
		MinDim:      1,
		build:       quartic,
		start:       func(n int) []float64 { return fill(n, 5) },
		minimizer:   func(n int) []float64 { return make([]float64, n) },
	})
	register(&Problem{
		Name:        "himmelblau",
		Description: "Himmelblau's function, four minima of value zero",
		Dim:         2,
		build:       himmelblau,
		start:       fixed(0, 0),
		minimizer:   fixed(3, 2),
	})
	register(&Problem{
		Name:        "booth",
		Description: "Booth's quadratic, minimum at (1, 3)",
		Dim:         2,
		build:       booth,
		start:       fixed(0, 0),
		minimizer:   fixed(1, 3),
	})
}
