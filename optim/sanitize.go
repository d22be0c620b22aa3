package optim

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// Replacement values for non-finite numbers.
const (
	NaNValue    = 0
	PosInfValue = 1
	NegInfValue = -1
)

// Sanitize replaces NaN, +Inf and -Inf in place. It returns the number of values replaced.
func Sanitize(a []float32) (replaced int) {
	for i, v := range a {
		switch {
		case math32.IsNaN(v):
			a[i] = NaNValue
		case math32.IsInf(v, 1):
			a[i] = PosInfValue
		case math32.IsInf(v, -1):
			a[i] = NegInfValue
		default:
			continue
		}
		replaced++
	}
	return
}

// SanitizeScalar is Sanitize for a single loss value.
func SanitizeScalar(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return NaNValue
	case math.IsInf(v, 1):
		return PosInfValue
	case math.IsInf(v, -1):
		return NegInfValue
	}
	return v
}

// Clip bounds every element of a to [-c, c] in place.
func Clip(a []float32, c float32) {
	for i, v := range a {
		switch {
		case v > c:
			a[i] = c
		case v < -c:
			a[i] = -c
		}
	}
}

// ClipGradients sanitizes every gradient in the model and bounds it to [-c, c] in place.
// It returns the number of non-finite entries that were replaced.
func ClipGradients(model []G.ValueGrad, c float32) (replaced int, err error) {
	for i, n := range model {
		var grad G.Value
		if grad, err = n.Grad(); err != nil {
			return replaced, errors.Wrapf(err, "no gradient for parameter %d", i)
		}
		g, ok := grad.Data().([]float32)
		if !ok {
			return replaced, errors.Errorf("gradient %d is not float32", i)
		}
		replaced += Sanitize(g)
		Clip(g, c)
	}
	return replaced, nil
}
