package quasinewton

import (
	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

// CGVariant selects the β formula of nonlinear conjugate gradient.
type CGVariant int

const (
	// FletcherReeves uses β = ‖g‖²/‖g_prev‖².
	FletcherReeves CGVariant = iota
	// PolakRibiere uses β = max(0, gᵀ(g − g_prev)/‖g_prev‖²).
	PolakRibiere
)

// ConjugateGradient produces nonlinear CG directions d = −g + β·d_prev. It
// restarts with β = 0 every RestartEvery directions, whenever β < 0 and
// whenever the combined direction fails to descend.
type ConjugateGradient struct {
	Variant CGVariant
	// RestartEvery defaults to the problem dimension.
	RestartEvery int

	prevG, prevD []float64
	since        int
	started      bool
}

// NewConjugateGradient returns a CG direction generator for dimension n.
func NewConjugateGradient(n int, variant CGVariant) *ConjugateGradient {
	return &ConjugateGradient{
		Variant:      variant,
		RestartEvery: n,
		prevG:        make([]float64, n),
		prevD:        make([]float64, n),
	}
}

// Reset forgets the previous direction.
func (c *ConjugateGradient) Reset() {
	c.started = false
	c.since = 0
}

// Beta returns the coefficient for gradient g given the stored g_prev,
// before any restart rule is applied.
func (c *ConjugateGradient) Beta(g []float64) float64 {
	gg := linalg.Dot(c.prevG, c.prevG)
	if gg == 0 {
		return 0
	}
	if c.Variant == PolakRibiere {
		return (linalg.Dot(g, g) - linalg.Dot(g, c.prevG)) / gg
	}
	return linalg.Dot(g, g) / gg
}

// Direction stores the next CG direction for gradient g in dst and records
// it as d_prev.
func (c *ConjugateGradient) Direction(dst, g []float64) {
	beta := 0.0
	if c.started && c.since < c.RestartEvery {
		beta = c.Beta(g)
		if beta < 0 {
			beta = 0
		}
	}
	if beta == 0 {
		c.since = 0
	}
	for i := range dst {
		dst[i] = -g[i] + beta*c.prevD[i]
	}
	if beta != 0 && linalg.Dot(g, dst) >= 0 {
		linalg.Negate(dst, g)
		c.since = 0
	}
	copy(c.prevG, g)
	copy(c.prevD, dst)
	c.since++
	c.started = true
}

// Update implements the curvature-update step. CG keeps no curvature memory.
func (c *ConjugateGradient) Update(Pair) bool {
	return true
}
