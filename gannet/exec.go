package gan

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gorgonia.org/tensor"
)

// Device names where graphs are executed.
type Device int

const (
	CPU Device = iota
)

func (d Device) String() string {
	if d == CPU {
		return "cpu"
	}
	return "unknown"
}

// Precision is the numeric format forward passes are emulated in.
type Precision int

const (
	Full Precision = iota // float32
	BFloat16
	Float16
)

func (p Precision) String() string {
	switch p {
	case Full:
		return "float32"
	case BFloat16:
		return "bfloat16"
	case Float16:
		return "float16"
	}
	return "unknown"
}

// ParsePrecision parses the names produced by Precision.String. The empty string is Full.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(s) {
	case "", "float32", "fp32", "full":
		return Full, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	case "float16", "fp16", "half":
		return Float16, nil
	}
	return Full, errors.Errorf("unknown precision %q", s)
}

// ExecContext describes where and how graphs are executed. It is passed by value to
// everything that builds or runs a graph.
//
// Reduced precision is emulated: the inputs of forward graphs are rounded to the
// reduced format while the arithmetic itself stays float32. Losses, gradients and
// optimizer updates are never rounded.
type ExecContext struct {
	Device    Device
	Precision Precision
}

// DefaultContext is full precision on the CPU.
func DefaultContext() ExecContext { return ExecContext{Device: CPU, Precision: Full} }

// Validate reports unsupported contexts.
func (c ExecContext) Validate() error {
	if c.Device != CPU {
		return errors.Errorf("device %v is not supported", c.Device)
	}
	if c.Precision < Full || c.Precision > Float16 {
		return errors.Errorf("precision %d is not supported", int(c.Precision))
	}
	return nil
}

// Round returns a with its values rounded to the context's precision. When the
// precision is Full, a is returned as is. Otherwise a new tensor is returned.
func (c ExecContext) Round(a *tensor.Dense) *tensor.Dense {
	if c.Precision == Full {
		return a
	}
	retVal := a.Clone().(*tensor.Dense)
	c.RoundSlice(retVal.Data().([]float32))
	return retVal
}

// RoundSlice rounds in place.
func (c ExecContext) RoundSlice(a []float32) {
	switch c.Precision {
	case BFloat16:
		for i, v := range a {
			a[i] = roundBFloat16(v)
		}
	case Float16:
		for i, v := range a {
			a[i] = float16.Fromfloat32(v).Float32()
		}
	}
}

// roundBFloat16 rounds to the nearest bfloat16, ties to even.
func roundBFloat16(v float32) float32 {
	if v != v {
		return v
	}
	bits := math.Float32bits(v)
	bits += 0x7fff + (bits>>16)&1
	return math.Float32frombits(bits & 0xffff0000)
}
