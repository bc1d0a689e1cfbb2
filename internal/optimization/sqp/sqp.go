// Package sqp implements sequential quadratic programming. Each iteration
// linearizes the constraints, solves a quadratic model of the Lagrangian
// with an active-set QP and backtracks along the QP step on an L1 merit
// function. The Lagrangian Hessian is approximated by damped BFGS.
package sqp

import (
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/copyleftdev/descent/internal/optimization"
	"github.com/copyleftdev/descent/internal/optimization/linalg"
	"github.com/copyleftdev/descent/internal/optimization/linesearch"
	"github.com/copyleftdev/descent/internal/optimization/quasinewton"
)

const component = "sqp"

// Defaults.
const (
	DefaultMaxIterations = 100
	DefaultTolerance     = 1e-6
	DefaultMaxTrials     = 30
)

// Config configures an SQP solve.
type Config struct {
	Settings optimization.Settings
	// Tolerance bounds both the Lagrangian gradient norm and the maximum
	// constraint violation at convergence.
	Tolerance float64
	// MaxQPIterations bounds the active-set loop. Zero selects 2(n+m)+10.
	MaxQPIterations int
	// MaxTrials bounds the merit backtracking per iteration.
	MaxTrials int
}

func (c Config) withDefaults() Config {
	c.Settings = c.Settings.WithDefaults(DefaultMaxIterations)
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.MaxTrials <= 0 {
		c.MaxTrials = DefaultMaxTrials
	}
	return c
}

// linearization holds f, the constraints and their gradients at one point.
type linearization struct {
	f     float64
	g     []float64
	h     []float64
	jeq   [][]float64
	c     []float64
	jineq [][]float64
}

type solver struct {
	cfg      Config
	ev       *optimization.Evaluator
	eq, ineq []optimization.Constraint
	logger   *zap.Logger
}

func (s *solver) linearize(x []float64) (*linearization, error) {
	f, err := s.ev.Value(x)
	if err != nil {
		return nil, err
	}
	l := &linearization{
		f:     f,
		g:     make([]float64, len(x)),
		h:     make([]float64, len(s.eq)),
		jeq:   make([][]float64, len(s.eq)),
		c:     make([]float64, len(s.ineq)),
		jineq: make([][]float64, len(s.ineq)),
	}
	if err := s.ev.Gradient(l.g, x); err != nil {
		return nil, err
	}
	for i, c := range s.eq {
		l.h[i] = c.Value(x)
		l.jeq[i] = make([]float64, len(x))
		c.Gradient(l.jeq[i], x)
	}
	for i, c := range s.ineq {
		l.c[i] = c.Value(x)
		l.jineq[i] = make([]float64, len(x))
		c.Gradient(l.jineq[i], x)
	}
	if !optimization.AllFinite(l.h) || !optimization.AllFinite(l.c) {
		return nil, optimization.NewError(optimization.KindNonFiniteValue, "constraint value is NaN or Inf")
	}
	for _, row := range append(append([][]float64(nil), l.jeq...), l.jineq...) {
		if !optimization.AllFinite(row) {
			return nil, optimization.NewError(optimization.KindNonFiniteValue, "constraint gradient contains NaN or Inf")
		}
	}
	return l, nil
}

// lagrangianGradient stores ∇f + Σλ∇h + Σμ∇g in dst.
func (l *linearization) lagrangianGradient(dst, lambda, mu []float64) []float64 {
	copy(dst, l.g)
	for i, row := range l.jeq {
		linalg.Axpy(dst, lambda[i], row)
	}
	for i, row := range l.jineq {
		linalg.Axpy(dst, mu[i], row)
	}
	return dst
}

func (l *linearization) violation() float64 {
	var v float64
	for _, h := range l.h {
		v = math.Max(v, math.Abs(h))
	}
	for _, c := range l.c {
		v = math.Max(v, c)
	}
	return v
}

// merit is the L1 exact penalty φ = f + Σν|h| + Σν·max(0, g).
type merit struct {
	nuEq, nuIneq []float64
}

func (m *merit) value(l *linearization) float64 {
	phi := l.f
	for i, h := range l.h {
		phi += m.nuEq[i] * math.Abs(h)
	}
	for i, c := range l.c {
		phi += m.nuIneq[i] * math.Max(0, c)
	}
	return phi
}

// derivative is the directional derivative of φ along a step p that
// satisfies the linearized constraints.
func (m *merit) derivative(l *linearization, p []float64) float64 {
	d := linalg.Dot(l.g, p)
	for i, h := range l.h {
		d -= m.nuEq[i] * math.Abs(h)
	}
	for i, c := range l.c {
		d -= m.nuIneq[i] * math.Max(0, c)
	}
	return d
}

// update applies ν ← max(½(ν + |λ|), |λ|).
func (m *merit) update(lambda, mu []float64) {
	for i, l := range lambda {
		m.nuEq[i] = math.Max(0.5*(m.nuEq[i]+math.Abs(l)), math.Abs(l))
	}
	for i, l := range mu {
		m.nuIneq[i] = math.Max(0.5*(m.nuIneq[i]+math.Abs(l)), math.Abs(l))
	}
}

// Minimize solves min f(x) subject to cons by SQP. It converges when the
// Lagrangian gradient and the maximum violation both fall below Tolerance;
// an active-set failure ends the solve with SubproblemFailed and a merit
// backtracking failure with LineSearchFailed.
func Minimize(obj optimization.ObjectiveFunction, cons []optimization.Constraint, x0 []float64, cfg Config) (*optimization.Result, error) {
	const op = "Minimize"
	if err := optimization.CheckStart(component, obj, x0); err != nil {
		return nil, err
	}
	for i, c := range cons {
		if c.Function == nil {
			return nil, optimization.NewErrorf(optimization.KindInvalidArgument, "constraint %d has no function", i).
				WithComponent(component).WithOperation(op)
		}
	}
	cfg = cfg.withDefaults()
	eq, ineq := optimization.SplitConstraints(cons)
	s := &solver{
		cfg:    cfg,
		ev:     optimization.NewEvaluator(obj),
		eq:     eq,
		ineq:   ineq,
		logger: cfg.Settings.Logger.Named(component),
	}
	fail := func(err error, k int) (*optimization.Result, error) {
		return nil, optimization.WrapErrorf(err, "iteration %d", k).WithComponent(component).WithOperation(op)
	}

	n := len(x0)
	x := linalg.Clone(x0)
	cur, err := s.linearize(x)
	if err != nil {
		return fail(err, 0)
	}

	hess := quasinewton.NewDenseHessian(n, quasinewton.BFGSFormula, false)
	m := &merit{nuEq: make([]float64, len(eq)), nuIneq: make([]float64, len(ineq))}
	lambda := make([]float64, len(eq))
	mu := make([]float64, len(ineq))

	xt := make([]float64, n)
	step := make([]float64, n)
	lg := make([]float64, n)
	lgt := make([]float64, n)
	y := make([]float64, n)

	var history []optimization.Iteration
	status := optimization.NotTerminated
	k := 0
	for status == optimization.NotTerminated {
		if k >= cfg.Settings.MaxIterations {
			status = optimization.IterationLimit
			break
		}

		qp := QP{
			B:     hess.Matrix(),
			G:     cur.g,
			Aeq:   cur.jeq,
			Beq:   linalg.Negate(make([]float64, len(cur.h)), cur.h),
			Aineq: cur.jineq,
			Bineq: linalg.Negate(make([]float64, len(cur.c)), cur.c),
		}
		sol, err := qp.Solve(cfg.MaxQPIterations)
		if err != nil {
			if errors.Is(err, optimization.ErrSingularSystem) {
				s.logger.Debug("quadratic subproblem failed", zap.Int("iteration", k+1), zap.Error(err))
				status = optimization.SubproblemFailed
				break
			}
			return fail(err, k+1)
		}
		p := sol.P

		m.update(sol.Equality, sol.Inequality)
		phi := m.value(cur)
		dphi := math.Min(m.derivative(cur, p), 0)

		var next *linearization
		alpha := 1.0
		for trial := 0; trial < cfg.MaxTrials; trial++ {
			linalg.AxpyTo(xt, x, alpha, p)
			if s.ev.InDomain(xt) {
				cand, err := s.linearize(xt)
				if err != nil {
					return fail(err, k+1)
				}
				if m.value(cand) <= phi+linesearch.DefaultC1*alpha*dphi {
					next = cand
					break
				}
			}
			alpha *= linesearch.DefaultShrink
		}
		if next == nil {
			status = optimization.LineSearchFailed
			break
		}

		copy(lambda, sol.Equality)
		copy(mu, sol.Inequality)
		linalg.SubTo(step, xt, x)
		cur.lagrangianGradient(lg, lambda, mu)
		next.lagrangianGradient(lgt, lambda, mu)
		linalg.SubTo(y, lgt, lg)
		hess.Update(quasinewton.Pair{S: step, Y: y})

		copy(x, xt)
		cur = next
		k++

		stationarity := linalg.Norm(lgt)
		violation := cur.violation()
		it := optimization.Iteration{
			Iteration: k,
			F:         cur.f,
			GradNorm:  stationarity,
			Step:      linalg.Norm(step),
			Violation: violation,
			Penalty:   maxOf(m.nuEq, m.nuIneq),
			Accepted:  true,
		}
		history = append(history, it)
		s.logger.Debug("iteration",
			zap.Int("iteration", k),
			zap.Float64("f", cur.f),
			zap.Float64("stationarity", stationarity),
			zap.Float64("violation", violation),
			zap.Float64("alpha", alpha),
			zap.Int("active", len(sol.Active)))

		if stationarity < cfg.Tolerance && violation < cfg.Tolerance {
			status = optimization.GradientThreshold
		}
	}

	res := optimization.NewResult(x, cur.f, cur.g, status, k, s.ev.Stats, history)
	res.Multipliers = &optimization.Multipliers{Equality: lambda, Inequality: mu}
	s.logger.Debug("solve finished",
		zap.Stringer("status", status),
		zap.Int("iterations", k),
		zap.Float64("f", cur.f))
	return res, nil
}

func maxOf(a, b []float64) float64 {
	var v float64
	for _, x := range a {
		v = math.Max(v, x)
	}
	for _, x := range b {
		v = math.Max(v, x)
	}
	return v
}
