package explain

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Ramp maps a ratio in [0, 1] onto a weight in [0, 1].
type Ramp int

const (
	Linear Ramp = iota
	Sqrt
	Square
	Sigmoid
	Constant
)

// sigmoidSteepness controls how sharp the Sigmoid ramp switches around 0.5.
const sigmoidSteepness = 12

var rampNames = map[Ramp]string{
	Linear:   "linear",
	Sqrt:     "sqrt",
	Square:   "square",
	Sigmoid:  "sigmoid",
	Constant: "constant",
}

func (r Ramp) String() string {
	if s, ok := rampNames[r]; ok {
		return s
	}
	return "unknown"
}

// ParseRamp parses the names produced by Ramp.String.
func ParseRamp(s string) (Ramp, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, name := range rampNames {
		if name == s {
			return r, nil
		}
	}
	return Linear, errors.Errorf("unknown explanation ramp %q", s)
}

// Apply evaluates the ramp. x is clamped to [0, 1] first; NaN counts as 0.
func (r Ramp) Apply(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		x = 0
	case x > 1:
		x = 1
	}
	switch r {
	case Sqrt:
		return math.Sqrt(x)
	case Square:
		return x * x
	case Sigmoid:
		return 1 / (1 + math.Exp(-sigmoidSteepness*(x-0.5)))
	case Constant:
		return 1
	}
	return x
}
