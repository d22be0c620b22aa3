// Package lab converts between sRGB and CIELAB (D65) and normalizes LAB
// planes into the value ranges the networks are trained on.
package lab

import (
	"github.com/chewxy/math32"
)

// D65 reference white.
const (
	xn = 0.95047
	yn = 1.0
	zn = 1.08883
)

const (
	delta   = 6.0 / 29.0
	delta2  = delta * delta
	delta3  = delta2 * delta
	kappaEp = 1.0 / (3 * delta2)
)

func linearize(c float32) float32 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math32.Pow((c+0.055)/1.055, 2.4)
}

func gamma(c float32) float32 {
	if c <= 0.0031308 {
		return 12.92 * c
	}
	return 1.055*math32.Pow(c, 1/2.4) - 0.055
}

func f(t float32) float32 {
	if t > delta3 {
		return math32.Cbrt(t)
	}
	return t*kappaEp + 4.0/29.0
}

func finv(t float32) float32 {
	if t > delta {
		return t * t * t
	}
	return 3 * delta2 * (t - 4.0/29.0)
}

// FromRGB converts an sRGB triple in [0,1] into L in [0,100] and a, b roughly in [-128,127].
func FromRGB(r, g, b float32) (l, a, bb float32) {
	r, g, b = linearize(r), linearize(g), linearize(b)
	x := 0.412453*r + 0.357580*g + 0.180423*b
	y := 0.212671*r + 0.715160*g + 0.072169*b
	z := 0.019334*r + 0.119193*g + 0.950227*b

	fx, fy, fz := f(x/xn), f(y/yn), f(z/zn)
	l = 116*fy - 16
	a = 500 * (fx - fy)
	bb = 200 * (fy - fz)
	return
}

// ToRGB is the inverse of FromRGB. The result is clamped to [0,1].
func ToRGB(l, a, bb float32) (r, g, b float32) {
	fy := (l + 16) / 116
	fx := fy + a/500
	fz := fy - bb/200
	x := xn * finv(fx)
	y := yn * finv(fy)
	z := zn * finv(fz)

	r = 3.240479*x - 1.537150*y - 0.498535*z
	g = -0.969256*x + 1.875992*y + 0.041556*z
	b = 0.055648*x - 0.204043*y + 1.057311*z
	return clamp01(gamma(clamp01(r))), clamp01(gamma(clamp01(g))), clamp01(gamma(clamp01(b)))
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
