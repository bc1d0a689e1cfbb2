package solver

import (
	"fmt"
	"strings"

	"github.com/copyleftdev/descent/internal/optimization"
)

// Method is the closed set of algorithms the service exposes.
type Method int

const (
	LBFGS Method = iota
	BFGS
	DFP
	SR1
	CGFletcherReeves
	CGPolakRibiere
	Newton
	TrustCauchy
	TrustDogleg
	TrustSteihaug
	Penalty
	Barrier
	AugmentedLagrangian
	Projected
	SQP
	NelderMead
)

var methodNames = [...]string{
	LBFGS:               "lbfgs",
	BFGS:                "bfgs",
	DFP:                 "dfp",
	SR1:                 "sr1",
	CGFletcherReeves:    "cg-fr",
	CGPolakRibiere:      "cg-pr",
	Newton:              "newton",
	TrustCauchy:         "trust-cauchy",
	TrustDogleg:         "trust-dogleg",
	TrustSteihaug:       "trust-steihaug",
	Penalty:             "penalty",
	Barrier:             "barrier",
	AugmentedLagrangian: "auglag",
	Projected:           "projected",
	SQP:                 "sqp",
	NelderMead:          "nelder-mead",
}

func (m Method) String() string {
	if m >= 0 && int(m) < len(methodNames) {
		return methodNames[m]
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod maps a method name to its Method.
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range methodNames {
		if name == s {
			return Method(m), nil
		}
	}
	return 0, optimization.NewErrorf(optimization.KindInvalidArgument, "unknown method %q", s).WithComponent(component)
}

// Methods lists every method in declaration order.
func Methods() []Method {
	out := make([]Method, len(methodNames))
	for i := range out {
		out[i] = Method(i)
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	if m < 0 || int(m) >= len(methodNames) {
		return nil, fmt.Errorf("solver: invalid method %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so methods appear by
// name in JSON and YAML.
func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Constrained reports whether the method accepts general constraints.
func (m Method) Constrained() bool {
	switch m {
	case Penalty, Barrier, AugmentedLagrangian, SQP:
		return true
	}
	return false
}
