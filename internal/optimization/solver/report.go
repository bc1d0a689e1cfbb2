package solver

import "github.com/copyleftdev/descent/internal/optimization"

// Report is the wire form of a Result.
type Report struct {
	X           []float64                 `json:"x" yaml:"x"`
	F           float64                   `json:"f" yaml:"f"`
	Gradient    []float64                 `json:"gradient" yaml:"gradient"`
	Converged   bool                      `json:"converged" yaml:"converged"`
	Status      string                    `json:"status" yaml:"status"`
	Iterations  int                       `json:"iterations" yaml:"iterations"`
	Stats       optimization.Stats        `json:"stats" yaml:"stats"`
	Multipliers *optimization.Multipliers `json:"multipliers,omitempty" yaml:"multipliers,omitempty"`
	History     []optimization.Iteration  `json:"history,omitempty" yaml:"history,omitempty"`
}

// NewReport converts res. History is dropped unless withHistory is set.
func NewReport(res *optimization.Result, withHistory bool) Report {
	r := Report{
		X:           res.X,
		F:           res.F,
		Gradient:    res.Gradient,
		Converged:   res.Converged,
		Status:      res.Status.String(),
		Iterations:  res.Iterations,
		Stats:       res.Stats,
		Multipliers: res.Multipliers,
	}
	if withHistory {
		r.History = res.History
	}
	return r
}
