package sqp

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

// qpTolerance is the feasibility and multiplier-sign tolerance of the
// active-set loop, relative to the constraint scale.
const qpTolerance = 1e-10

// QP is the quadratic program
//
//	minimize   ½pᵀBp + gᵀp
//	subject to Aeq·p = beq,  Aineq·p ≤ bineq
//
// with B symmetric positive definite. Constraint rows are stored as slices.
type QP struct {
	B     mat.Symmetric
	G     []float64
	Aeq   [][]float64
	Beq   []float64
	Aineq [][]float64
	Bineq []float64
}

// QPSolution is the minimizer of a QP and its multipliers. Inequality
// multipliers are zero for inactive constraints and non-negative otherwise.
type QPSolution struct {
	P          []float64
	Equality   []float64
	Inequality []float64
	// Active lists the inequality constraints in the final working set.
	Active     []int
	Iterations int
}

// Solve runs a primal active-set method from an empty working set: the most
// violated inequality is added while any is violated, otherwise the
// inequality with the most negative multiplier is dropped. Every working set
// is solved through its KKT system. A cycling working set, a singular KKT
// system or an exhausted budget yields ErrSingularSystem.
func (q QP) Solve(maxIterations int) (*QPSolution, error) {
	const op = "QP.Solve"
	n := len(q.G)
	if q.B.SymmetricDim() != n {
		return nil, optimization.DimensionError(component, op, q.B.SymmetricDim(), n)
	}
	if len(q.Aeq) != len(q.Beq) || len(q.Aineq) != len(q.Bineq) {
		return nil, optimization.NewError(optimization.KindDimensionMismatch, "constraint rows and right-hand sides differ in count").
			WithComponent(component).WithOperation(op)
	}
	for _, row := range append(slices.Clip(q.Aeq), q.Aineq...) {
		if len(row) != n {
			return nil, optimization.DimensionError(component, op, len(row), n)
		}
	}
	if maxIterations <= 0 {
		maxIterations = 2*(n+len(q.Aineq)) + 10
	}

	var working []int
	seen := map[string]bool{}
	for it := 1; it <= maxIterations; it++ {
		key := workingKey(working)
		if seen[key] {
			break
		}
		seen[key] = true

		p, mult, ok := q.solveKKT(working)
		if !ok {
			return nil, optimization.NewError(optimization.KindSingularSystem, "working set has dependent constraints").
				WithComponent(component).WithOperation(op)
		}

		worst, add := 0.0, -1
		for j, row := range q.Aineq {
			if slices.Contains(working, j) {
				continue
			}
			v := linalg.Dot(row, p) - q.Bineq[j]
			if v > qpTolerance*math.Max(1, math.Abs(q.Bineq[j])) && v > worst {
				worst, add = v, j
			}
		}
		if add >= 0 {
			working = append(working, add)
			continue
		}

		meq := len(q.Aeq)
		mostNegative, drop := -qpTolerance, -1
		for i := range working {
			if mu := mult[meq+i]; mu < mostNegative {
				mostNegative, drop = mu, i
			}
		}
		if drop >= 0 {
			working = slices.Delete(working, drop, drop+1)
			continue
		}

		sol := &QPSolution{
			P:          p,
			Equality:   mult[:meq:meq],
			Inequality: make([]float64, len(q.Aineq)),
			Active:     sortedCopy(working),
			Iterations: it,
		}
		for i, j := range working {
			sol.Inequality[j] = math.Max(0, mult[meq+i])
		}
		return sol, nil
	}
	return nil, optimization.NewError(optimization.KindSingularSystem, "active set did not settle").
		WithComponent(component).WithOperation(op)
}

// solveKKT solves
//
//	[B  Aᵀ] [p]   [−g]
//	[A  0 ] [λ] = [ b]
//
// for the equalities plus the working inequalities. ok is false when the
// system needed regularization.
func (q QP) solveKKT(working []int) (p, mult []float64, ok bool) {
	n := len(q.G)
	rows := make([][]float64, 0, len(q.Aeq)+len(working))
	rhs := make([]float64, 0, cap(rows))
	rows = append(rows, q.Aeq...)
	rhs = append(rhs, q.Beq...)
	for _, j := range working {
		rows = append(rows, q.Aineq[j])
		rhs = append(rhs, q.Bineq[j])
	}
	m := len(rows)

	k := mat.NewDense(n+m, n+m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k.Set(i, j, q.B.At(i, j))
		}
	}
	b := make([]float64, n+m)
	for i := 0; i < n; i++ {
		b[i] = -q.G[i]
	}
	for r, row := range rows {
		for j, a := range row {
			k.Set(n+r, j, a)
			k.Set(j, n+r, a)
		}
		b[n+r] = rhs[r]
	}

	sol := make([]float64, n+m)
	shift, err := linalg.Solve(sol, k, b)
	if err != nil || shift > 0 {
		return nil, nil, false
	}
	return sol[:n:n], sol[n:], true
}

func workingKey(working []int) string {
	sorted := sortedCopy(working)
	parts := make([]string, len(sorted))
	for i, j := range sorted {
		parts[i] = strconv.Itoa(j)
	}
	return strings.Join(parts, ",")
}

// sortedCopy returns a sorted copy of s (nil when s is empty), matching
// slices.Sorted(slices.Values(s)) on toolchains older than Go 1.23.
func sortedCopy(s []int) []int {
	out := append([]int(nil), s...)
	slices.Sort(out)
	return out
}
