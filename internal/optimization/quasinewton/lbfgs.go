package quasinewton

import (
	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

// lbfgsMinCurvature is the absolute sᵀy below which an L-BFGS pair is dropped.
const lbfgsMinCurvature = 1e-10

// LBFGSMemory is the bounded history of curvature pairs (s, y, ρ = 1/yᵀs)
// behind the L-BFGS two-loop recursion. The buffer is circular: once it holds
// m pairs, appending evicts the oldest.
type LBFGSMemory struct {
	m     int
	s, y  [][]float64
	rho   []float64
	start int
	size  int
	eps   float64

	alpha []float64
}

// NewLBFGSMemory allocates storage for m pairs of dimension n.
func NewLBFGSMemory(n, m int) *LBFGSMemory {
	l := &LBFGSMemory{
		m:     m,
		s:     make([][]float64, m),
		y:     make([][]float64, m),
		rho:   make([]float64, m),
		eps:   DefaultCurvatureEpsilon,
		alpha: make([]float64, m),
	}
	for i := 0; i < m; i++ {
		l.s[i] = make([]float64, n)
		l.y[i] = make([]float64, n)
	}
	return l
}

// Len returns the number of stored pairs, never more than the memory size.
func (l *LBFGSMemory) Len() int {
	return l.size
}

// Reset discards every stored pair.
func (l *LBFGSMemory) Reset() {
	l.start, l.size = 0, 0
}

// index maps the i-th oldest pair to its slot.
func (l *LBFGSMemory) index(i int) int {
	return (l.start + i) % l.m
}

// Update appends the pair (s, y). Pairs violating the curvature condition
// are discarded and Update reports false.
func (l *LBFGSMemory) Update(p Pair) bool {
	sy := linalg.Dot(p.S, p.Y)
	if sy <= lbfgsMinCurvature || !curvatureOK(sy, p.S, p.Y, l.eps) {
		return false
	}
	var slot int
	if l.size < l.m {
		slot = l.index(l.size)
		l.size++
	} else {
		slot = l.start
		l.start = (l.start + 1) % l.m
	}
	copy(l.s[slot], p.S)
	copy(l.y[slot], p.Y)
	l.rho[slot] = 1 / sy
	return true
}

// Gamma returns the initial Hessian scaling (sᵀy)/(yᵀy) of the newest pair,
// or 1 when the memory is empty.
func (l *LBFGSMemory) Gamma() float64 {
	if l.size == 0 {
		return 1
	}
	newest := l.index(l.size - 1)
	yy := linalg.Dot(l.y[newest], l.y[newest])
	return 1 / (l.rho[newest] * yy)
}

// Direction stores −H·g in dst using the two-loop recursion.
func (l *LBFGSMemory) Direction(dst, g []float64) {
	l.twoLoop(dst, g, l.Gamma())
	linalg.Negate(dst, dst)
}

// twoLoop stores H·g in dst where H is the L-BFGS inverse Hessian built on
// H₀ = γI.
func (l *LBFGSMemory) twoLoop(dst, g []float64, gamma float64) {
	copy(dst, g)
	for i := l.size - 1; i >= 0; i-- {
		k := l.index(i)
		l.alpha[k] = l.rho[k] * linalg.Dot(l.s[k], dst)
		linalg.Axpy(dst, -l.alpha[k], l.y[k])
	}
	for i := range dst {
		dst[i] *= gamma
	}
	for i := 0; i < l.size; i++ {
		k := l.index(i)
		beta := l.rho[k] * linalg.Dot(l.y[k], dst)
		linalg.Axpy(dst, l.alpha[k]-beta, l.s[k])
	}
}
