package gan

import "fmt"

// Activation is the non-linearity applied at the end of a block. It is fixed when a
// network is constructed.
type Activation int

const (
	NoActivation Activation = iota
	ReLU
	LeakyReLU // slope 0.2
	Tanh
	ELU // alpha = |MinAB|
	GELU
)

// leakySlope is the negative slope of LeakyReLU.
const leakySlope = 0.2

func (a Activation) String() string {
	switch a {
	case NoActivation:
		return "none"
	case ReLU:
		return "relu"
	case LeakyReLU:
		return "lrelu"
	case Tanh:
		return "tanh"
	case ELU:
		return "elu"
	case GELU:
		return "gelu"
	}
	return fmt.Sprintf("Activation(%d)", int(a))
}
