package optimization

// Status reports why a solve stopped. Zero means the solve has not terminated,
// positive values are convergence and negative values are non-fatal failures;
// in both cases the caller still receives the best iterate found.
type Status int

const (
	NotTerminated Status = 0

	// GradientThreshold: ‖g(x)‖ (or the projected gradient / KKT residual) fell below tolerance.
	GradientThreshold Status = 1
	// ResidualThreshold: ‖F(x)‖ fell below tolerance in root finding.
	ResidualThreshold Status = 2
	// FeasibilityThreshold: the outer loop of a penalty-type method reached the violation tolerance.
	FeasibilityThreshold Status = 3
	// DualityGapThreshold: the barrier duality gap m/t fell below tolerance.
	DualityGapThreshold Status = 4
	// FunctionConvergence: the derivative-free method stopped improving f.
	FunctionConvergence Status = 5

	// IterationLimit: the iteration budget was exhausted.
	IterationLimit Status = -1
	// LineSearchFailed: no step satisfied the sufficient decrease condition.
	LineSearchFailed Status = -2
	// RadiusCollapsed: the trust region shrank below machine resolution.
	RadiusCollapsed Status = -3
	// SubproblemFailed: the SQP quadratic subproblem produced no usable step.
	SubproblemFailed Status = -4
)

var statusNames = map[Status]string{
	NotTerminated:        "NotTerminated",
	GradientThreshold:    "GradientThreshold",
	ResidualThreshold:    "ResidualThreshold",
	FeasibilityThreshold: "FeasibilityThreshold",
	DualityGapThreshold:  "DualityGapThreshold",
	FunctionConvergence:  "FunctionConvergence",
	IterationLimit:       "IterationLimit",
	LineSearchFailed:     "LineSearchFailed",
	RadiusCollapsed:      "RadiusCollapsed",
	SubproblemFailed:     "SubproblemFailed",
}

func (s Status) String() string {
	if str, ok := statusNames[s]; ok {
		return str
	}
	return "UnregisteredStatus"
}

// Converged reports whether the status is a convergence status.
func (s Status) Converged() bool {
	return s > 0
}

// Terminated reports whether the status ends a solve.
func (s Status) Terminated() bool {
	return s != NotTerminated
}
