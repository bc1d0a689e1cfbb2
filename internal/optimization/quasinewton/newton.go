package quasinewton

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

// newtonDirection solves ∇²f(x)·d = −g with a shifted Cholesky
// factorization, so an indefinite Hessian still yields a descent direction.
type newtonDirection struct {
	ev     *optimization.Evaluator
	h      *mat.SymDense
	neg    []float64
	logger *zap.Logger
}

func newNewtonDirection(ev *optimization.Evaluator, n int, logger *zap.Logger) *newtonDirection {
	return &newtonDirection{
		ev:     ev,
		h:      mat.NewSymDense(n, nil),
		neg:    make([]float64, n),
		logger: logger,
	}
}

func (nd *newtonDirection) direction(dst, x, g []float64) error {
	if err := nd.ev.Hessian(nd.h, x); err != nil {
		return err
	}
	linalg.Negate(nd.neg, g)
	shift, err := linalg.SolveSPD(dst, nd.h, nd.neg)
	if err != nil {
		nd.logger.Debug("Hessian could not be regularized, using steepest descent", zap.Error(err))
		copy(dst, nd.neg)
		return nil
	}
	if shift > 0 {
		nd.logger.Debug("regularized Hessian", zap.Float64("shift", shift))
	}
	return nil
}
