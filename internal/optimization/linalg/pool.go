package linalg

import "gonum.org/v1/gonum/mat"

// Pool provides reusable vectors and symmetric matrices of one dimension so
// that iteration loops do not allocate. A Pool belongs to a single solve and
// is not safe for concurrent use.
type Pool struct {
	n    int
	vecs [][]float64
	syms []*mat.SymDense
}

// NewPool creates a Pool for dimension n.
func NewPool(n int) *Pool {
	return &Pool{
		n:    n,
		vecs: make([][]float64, 0, 8),
		syms: make([]*mat.SymDense, 0, 2),
	}
}

// Dim returns the pool's dimension.
func (p *Pool) Dim() int {
	return p.n
}

// GetVec returns a zeroed vector of length n from the pool or creates a new one
func (p *Pool) GetVec() []float64 {
	if k := len(p.vecs); k > 0 {
		v := p.vecs[k-1]
		p.vecs = p.vecs[:k-1]
		for i := range v {
			v[i] = 0
		}
		return v
	}
	return make([]float64, p.n)
}

// PutVec returns a vector to the pool. Vectors of the wrong length are dropped.
func (p *Pool) PutVec(vs ...[]float64) {
	for _, v := range vs {
		if len(v) == p.n {
			p.vecs = append(p.vecs, v)
		}
	}
}

// GetSym returns a zeroed n×n symmetric matrix from the pool or creates a new one
func (p *Pool) GetSym() *mat.SymDense {
	if k := len(p.syms); k > 0 {
		m := p.syms[k-1]
		p.syms = p.syms[:k-1]
		m.Zero()
		return m
	}
	return mat.NewSymDense(p.n, nil)
}

// PutSym returns a symmetric matrix to the pool
func (p *Pool) PutSym(m *mat.SymDense) {
	if m != nil && m.SymmetricDim() == p.n {
		p.syms = append(p.syms, m)
	}
}
