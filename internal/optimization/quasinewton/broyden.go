package quasinewton

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
)

// JacobianInit selects the starting Jacobian of Broyden's method.
type JacobianInit int

const (
	// FiniteDifferenceJacobian estimates J(x₀) by forward differences.
	FiniteDifferenceJacobian JacobianInit = iota
	// IdentityJacobian starts from J = I.
	IdentityJacobian
)

const (
	// DefaultBroydenMaxIterations is the iteration budget of Broyden.
	DefaultBroydenMaxIterations = 100
	broydenMaxBacktracks        = 30
	broydenDecrease             = 1e-4
)

// BroydenConfig configures Broyden's method. Settings.GradientTolerance is
// the residual tolerance on ‖F(x)‖.
type BroydenConfig struct {
	Settings        optimization.Settings
	InitialJacobian JacobianInit
}

// Broyden finds a root of the square system F(x) = 0 with Broyden's "good"
// rank-one Jacobian update J ← J + ((y − Js)sᵀ)/(sᵀs). Each quasi-Newton
// step solves J·s = −F(x) and is backtracked until ‖F‖ decreases.
//
// In the returned Result, F is ‖F(x)‖ and Gradient holds the residual F(x).
// Stats.FuncEvaluations counts evaluations of F, finite differences
// included.
func Broyden(fn optimization.VectorFunction, x0 []float64, cfg BroydenConfig) (*optimization.Result, error) {
	const op = "Broyden"

	if fn == nil {
		return nil, optimization.NewError(optimization.KindInvalidArgument, "function is required").
			WithComponent(component).WithOperation(op)
	}
	if len(x0) == 0 {
		return nil, optimization.NewError(optimization.KindDimensionMismatch, "start point is empty").
			WithComponent(component).WithOperation(op)
	}
	if !optimization.AllFinite(x0) {
		return nil, optimization.NewError(optimization.KindNonFiniteValue, "start point contains NaN or Inf").
			WithComponent(component).WithOperation(op)
	}
	settings := cfg.Settings.WithDefaults(DefaultBroydenMaxIterations)
	logger := settings.Logger.Named("broyden")

	n := len(x0)
	var stats optimization.Stats
	eval := func(dst, x []float64) error {
		stats.FuncEvaluations++
		fn.Evaluate(dst, x)
		if !optimization.AllFinite(dst) {
			return optimization.NewError(optimization.KindNonFiniteValue, "residual contains NaN or Inf").
				WithComponent(component).WithOperation(op)
		}
		return nil
	}

	x := linalg.Clone(x0)
	fx := make([]float64, n)
	if err := eval(fx, x); err != nil {
		return nil, err
	}

	j := mat.NewDense(n, n, nil)
	initJacobian := func(kind JacobianInit) {
		if kind == IdentityJacobian {
			j.Zero()
			for i := 0; i < n; i++ {
				j.Set(i, i, 1)
			}
			return
		}
		fd.Jacobian(j, func(y, x []float64) {
			stats.FuncEvaluations++
			fn.Evaluate(y, x)
		}, x, &fd.JacobianSettings{Formula: fd.Forward, OriginValue: fx})
	}
	initJacobian(cfg.InitialJacobian)

	var (
		s       = make([]float64, n)
		neg     = make([]float64, n)
		xt      = make([]float64, n)
		ft      = make([]float64, n)
		js      = make([]float64, n)
		history []optimization.Iteration
		status  optimization.Status
		iter    int
		fresh   = cfg.InitialJacobian == FiniteDifferenceJacobian
	)
	norm := linalg.Norm(fx)

	for {
		if norm < settings.GradientTolerance {
			status = optimization.ResidualThreshold
			break
		}
		if iter >= settings.MaxIterations {
			status = optimization.IterationLimit
			break
		}

		linalg.Negate(neg, fx)
		if shift, err := linalg.Solve(s, j, neg); err != nil {
			logger.Debug("Jacobian solve failed", zap.Error(err))
			status = optimization.LineSearchFailed
			break
		} else if shift > 0 {
			logger.Debug("regularized Jacobian", zap.Float64("shift", shift))
		}

		t, accepted := 1.0, false
		var tnorm float64
		for trial := 0; trial < broydenMaxBacktracks; trial++ {
			linalg.AxpyTo(xt, x, t, s)
			if err := eval(ft, xt); err != nil {
				return nil, optimization.WrapErrorf(err, "iteration %d", iter+1)
			}
			tnorm = linalg.Norm(ft)
			if tnorm <= (1-broydenDecrease*t)*norm {
				accepted = true
				break
			}
			t *= 0.5
		}
		if !accepted {
			if !fresh {
				// The secant Jacobian has drifted; rebuild it once before giving up.
				logger.Debug("no residual decrease, refreshing Jacobian", zap.Int("iteration", iter+1))
				initJacobian(FiniteDifferenceJacobian)
				fresh = true
				continue
			}
			status = optimization.LineSearchFailed
			break
		}
		fresh = false

		// s ← t·s, y ← F(x+s) − F(x), r = y − J·s.
		linalg.ScaleTo(s, t, s)
		linalg.SubTo(neg, ft, fx)
		linalg.MatVec(js, j, s)
		linalg.SubTo(neg, neg, js)
		if ss := linalg.Dot(s, s); ss > 0 {
			j.RankOne(j, 1/ss, mat.NewVecDense(n, neg), mat.NewVecDense(n, s))
		}

		copy(x, xt)
		copy(fx, ft)
		norm = tnorm
		iter++
		history = append(history, optimization.Iteration{
			Iteration: iter,
			F:         norm,
			GradNorm:  norm,
			Step:      t,
			Accepted:  true,
		})
		logger.Debug("iteration", zap.Int("iteration", iter), zap.Float64("residual", norm), zap.Float64("t", t))
	}

	return optimization.NewResult(x, norm, fx, status, iter, stats, history), nil
}
