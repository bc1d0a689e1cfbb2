package problems

import (
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/descent/internal/optimization"
)

func sphere(n int) optimization.Objective {
	return optimization.Objective{
		N: n,
		Func: func(x []float64) float64 {
			var s float64
			for _, v := range x {
				s += v * v
			}
			return s
		},
		Grad: func(dst, x []float64) {
			for i, v := range x {
				dst[i] = 2 * v
			}
		},
		Hess: func(dst *mat.SymDense, x []float64) {
			dst.Zero()
			for i := range x {
				dst.SetSym(i, i, 2)
			}
		},
	}
}

func quartic(n int) optimization.Objective {
	return optimization.Objective{
		N: n,
		Func: func(x []float64) float64 {
			var s float64
			for _, v := range x {
				s += v * v * v * v
			}
			return s
		},
		Grad: func(dst, x []float64) {
			for i, v := range x {
				dst[i] = 4 * v * v * v
			}
		},
		Hess: func(dst *mat.SymDense, x []float64) {
			dst.Zero()
			for i, v := range x {
				dst.SetSym(i, i, 12*v*v)
			}
		},
	}
}

// himmelblau is (x² + y − 11)² + (x + y² − 7)².
func himmelblau(int) optimization.Objective {
	return optimization.Objective{
		N: 2,
		Func: func(x []float64) float64 {
			a := x[0]*x[0] + x[1] - 11
			b := x[0] + x[1]*x[1] - 7
			return a*a + b*b
		},
		Grad: func(dst, x []float64) {
			a := x[0]*x[0] + x[1] - 11
			b := x[0] + x[1]*x[1] - 7
			dst[0] = 4*x[0]*a + 2*b
			dst[1] = 2*a + 4*x[1]*b
		},
		Hess: func(dst *mat.SymDense, x []float64) {
			a := x[0]*x[0] + x[1] - 11
			b := x[0] + x[1]*x[1] - 7
			dst.SetSym(0, 0, 4*a+8*x[0]*x[0]+2)
			dst.SetSym(0, 1, 4*x[0]+4*x[1])
			dst.SetSym(1, 1, 2+4*b+8*x[1]*x[1])
		},
	}
}

// booth is (x + 2y − 7)² + (2x + y − 5)².
func booth(int) optimization.Objective {
	return optimization.Objective{
		N: 2,
		Func: func(x []float64) float64 {
			a := x[0] + 2*x[1] - 7
			b := 2*x[0] + x[1] - 5
			return a*a + b*b
		},
		Grad: func(dst, x []float64) {
			a := x[0] + 2*x[1] - 7
			b := 2*x[0] + x[1] - 5
			dst[0] = 2*a + 4*b
			dst[1] = 4*a + 2*b
		},
		Hess: func(dst *mat.SymDense, _ []float64) {
			dst.SetSym(0, 0, 10)
			dst.SetSym(0, 1, 8)
			dst.SetSym(1, 1, 10)
		},
	}
}

// Quadratic returns f(x) = ½xᵀAx − bᵀx for a symmetric matrix given by rows.
func Quadratic(a [][]float64, b []float64) (optimization.Objective, error) {
	const op = "Quadratic"
	n := len(b)
	if n == 0 {
		return optimization.Objective{}, optimization.NewError(optimization.KindDimensionMismatch, "b is empty").
			WithComponent(component).WithOperation(op)
	}
	if len(a) != n {
		return optimization.Objective{}, optimization.DimensionError(component, op, len(a), n)
	}
	sym := mat.NewSymDense(n, nil)
	for i, row := range a {
		if len(row) != n {
			return optimization.Objective{}, optimization.DimensionError(component, op, len(row), n)
		}
		for j := i; j < n; j++ {
			if row[j] != a[j][i] {
				return optimization.Objective{}, optimization.NewErrorf(optimization.KindInvalidArgument,
					"A is not symmetric at (%d, %d)", i, j).WithComponent(component).WithOperation(op)
			}
			sym.SetSym(i, j, row[j])
		}
	}
	if !optimization.AllFinite(sym.RawSymmetric().Data) || !optimization.AllFinite(b) {
		return optimization.Objective{}, optimization.NewError(optimization.KindNonFiniteValue, "A or b is not finite").
			WithComponent(component).WithOperation(op)
	}
	rhs := append([]float64(nil), b...)
	return optimization.Objective{
		N: n,
		Func: func(x []float64) float64 {
			ax := mat.NewVecDense(n, nil)
			ax.MulVec(sym, mat.NewVecDense(n, x))
			return 0.5*mat.Dot(ax, mat.NewVecDense(n, x)) - mat.Dot(mat.NewVecDense(n, rhs), mat.NewVecDense(n, x))
		},
		Grad: func(dst, x []float64) {
			g := mat.NewVecDense(n, dst)
			g.MulVec(sym, mat.NewVecDense(n, x))
			g.SubVec(g, mat.NewVecDense(n, rhs))
		},
		Hess: func(dst *mat.SymDense, _ []float64) {
			dst.CopySym(sym)
		},
	}, nil
}
