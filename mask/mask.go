// Package mask produces the region-of-interest masks the generators are conditioned on.
package mask

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// Bins of the histograms thresholds are computed from.
const Bins = 256

// Generator makes one (N,1,H,W) mask in [0, 1] for an (N,C,H,W) batch of normalized LAB images.
type Generator interface {
	Mask(batch *tensor.Dense) (*tensor.Dense, error)
}

// Type names a mask generator.
type Type string

const (
	Ones      Type = "ones"      // the whole image
	Luminance Type = "luminance" // pixels darker than the Otsu threshold of L
	Chroma    Type = "chroma"    // pixels more saturated than the Otsu threshold of the chroma magnitude
)

// New returns the generator for a mask type.
func New(t Type) (Generator, error) {
	switch Type(strings.ToLower(string(t))) {
	case Ones, "":
		return ones{}, nil
	case Luminance:
		return threshold{feature: luminance, below: true}, nil
	case Chroma:
		return threshold{feature: chroma}, nil
	}
	return nil, errors.Errorf("unknown mask type %q", t)
}

func checkBatch(batch *tensor.Dense) (n, c, hw int, err error) {
	shp := batch.Shape()
	if shp.Dims() != 4 {
		return 0, 0, 0, errors.Errorf("expected an (N,C,H,W) batch, got %v", shp)
	}
	return shp[0], shp[1], shp[2] * shp[3], nil
}

func newMask(batch *tensor.Dense, backing []float32) *tensor.Dense {
	shp := batch.Shape()
	return tensor.New(tensor.WithShape(shp[0], 1, shp[2], shp[3]), tensor.WithBacking(backing))
}

type ones struct{}

func (ones) Mask(batch *tensor.Dense) (*tensor.Dense, error) {
	n, _, hw, err := checkBatch(batch)
	if err != nil {
		return nil, err
	}
	backing := make([]float32, n*hw)
	for i := range backing {
		backing[i] = 1
	}
	return newMask(batch, backing), nil
}

// feature extracts one value per pixel from the channels of an image.
type feature func(planes []float32, c, hw int, dst []float64)

func luminance(planes []float32, c, hw int, dst []float64) {
	for i := range dst {
		dst[i] = float64(planes[i])
	}
}

func chroma(planes []float32, c, hw int, dst []float64) {
	for i := range dst {
		var sum float64
		for ch := 1; ch < c; ch++ {
			v := float64(planes[ch*hw+i])
			sum += v * v
		}
		dst[i] = math.Sqrt(sum)
	}
}

type threshold struct {
	feature feature
	below   bool
}

func (t threshold) Mask(batch *tensor.Dense) (*tensor.Dense, error) {
	n, c, hw, err := checkBatch(batch)
	if err != nil {
		return nil, err
	}
	data := batch.Data().([]float32)
	backing := make([]float32, n*hw)
	values := make([]float64, hw)
	for i := 0; i < n; i++ {
		t.feature(data[i*c*hw:(i+1)*c*hw], c, hw, values)
		thresh := Otsu(values, Bins)
		out := backing[i*hw : (i+1)*hw]
		for j, v := range values {
			if (t.below && v < thresh) || (!t.below && v > thresh) {
				out[j] = 1
			}
		}
	}
	return newMask(batch, backing), nil
}

// Otsu returns the threshold that maximizes the between-class variance of values.
// Constant input returns that constant.
func Otsu(values []float64, bins int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi <= lo {
		return lo
	}

	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, hi)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	hist := stat.Histogram(nil, dividers, sorted, nil)

	centres := make([]float64, bins)
	for i := range centres {
		centres[i] = (dividers[i] + dividers[i+1]) / 2
	}
	total := float64(len(values))
	sumAll := floats.Dot(hist, centres)

	var wB, sumB, best float64
	thresh := lo
	for i, count := range hist {
		wB += count
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += count * centres[i]
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			thresh = dividers[i+1]
		}
	}
	return thresh
}
