// Package eval compares translated images against real ones of the same stain.
// Images are compared in 8 bit LAB, the way OpenCV quantizes it: L scaled to
// [0,255], a and b offset by 128.
package eval

import (
	"image"
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/gorgonia/cyclestain/internal/lab"
)

// Bins is the number of histogram bins per channel.
const Bins = 256

// ChannelNames names the LAB channels in order.
var ChannelNames = [3]string{"L", "A", "B"}

// ErrSizeMismatch is returned when two images being compared differ in size.
var ErrSizeMismatch = errors.New("images differ in size")

// LAB holds the quantized LAB planes of an image, row major.
type LAB struct {
	Width, Height int
	Planes        [3][]float64
}

// ToLAB converts an image into quantized LAB planes.
func ToLAB(img image.Image) LAB {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	retVal := LAB{Width: w, Height: h}
	for c := range retVal.Planes {
		retVal.Planes[c] = make([]float64, 0, w*h)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			l, a, bb := lab.FromRGB(float32(r)/0xffff, float32(g)/0xffff, float32(bl)/0xffff)
			retVal.Planes[0] = append(retVal.Planes[0], quantize(l*255/100))
			retVal.Planes[1] = append(retVal.Planes[1], quantize(a+128))
			retVal.Planes[2] = append(retVal.Planes[2], quantize(bb+128))
		}
	}
	return retVal
}

func quantize(v float32) float64 {
	v = math32.Floor(v + 0.5)
	switch {
	case v < 0:
		return 0
	case v > Bins-1:
		return Bins - 1
	}
	return float64(v)
}

// Patch returns the planes of the w×h patch at (x, y), clipped to the image.
func (l LAB) Patch(x, y, w, h int) LAB {
	if x+w > l.Width {
		w = l.Width - x
	}
	if y+h > l.Height {
		h = l.Height - y
	}
	retVal := LAB{Width: w, Height: h}
	for c := range l.Planes {
		retVal.Planes[c] = make([]float64, 0, w*h)
		for row := y; row < y+h; row++ {
			start := row*l.Width + x
			retVal.Planes[c] = append(retVal.Planes[c], l.Planes[c][start:start+w]...)
		}
	}
	return retVal
}

// Histogram of quantized values, normalized to sum to 1. An empty input gives an
// all zero histogram.
func Histogram(values []float64) []float64 {
	hist := make([]float64, Bins)
	for _, v := range values {
		hist[int(v)]++
	}
	if sum := floats.Sum(hist); sum > 0 {
		floats.Scale(1/sum, hist)
	}
	return hist
}

// Bhattacharyya is the Bhattacharyya distance between two histograms, as OpenCV
// defines it: 0 for identical histograms, 1 for disjoint ones.
func Bhattacharyya(p, q []float64) float64 {
	mp, mq := stat.Mean(p, nil), stat.Mean(q, nil)
	if mp == 0 || mq == 0 {
		return 1
	}
	var bc float64
	for i := range p {
		bc += math.Sqrt(p[i] * q[i])
	}
	n := float64(len(p))
	d := 1 - bc/math.Sqrt(mp*mq*n*n)
	if d < 0 {
		return 0
	}
	return math.Sqrt(d)
}

// Correlation is the Pearson correlation of two histograms.
func Correlation(p, q []float64) float64 { return stat.Correlation(p, q, nil) }

// Channelwise is a value per LAB channel.
type Channelwise [3]float64

// Mean of the three channels.
func (c Channelwise) Mean() float64 { return stat.Mean(c[:], nil) }

// CompareHistograms computes the Bhattacharyya distance and the correlation of the
// channel histograms of two images.
func CompareHistograms(truth, translated image.Image) (distance, correlation Channelwise, err error) {
	if truth.Bounds().Size() != translated.Bounds().Size() {
		return distance, correlation, errors.Wrapf(ErrSizeMismatch, "%v vs %v", truth.Bounds().Size(), translated.Bounds().Size())
	}
	a, b := ToLAB(truth), ToLAB(translated)
	for c := range a.Planes {
		ha, hb := Histogram(a.Planes[c]), Histogram(b.Planes[c])
		distance[c] = Bhattacharyya(ha, hb)
		correlation[c] = Correlation(ha, hb)
	}
	return distance, correlation, nil
}

// NormalizedMutualInformation is (H(X)+H(Y))/H(X,Y) of two equally long sets of
// quantized values. It is 2 for identical inputs and 1 for independent ones. Two
// constant inputs have no joint entropy and are reported as 2.
func NormalizedMutualInformation(x, y []float64) float64 {
	joint := make([]float64, Bins*Bins)
	for i := range x {
		joint[int(x[i])*Bins+int(y[i])]++
	}
	if sum := floats.Sum(joint); sum > 0 {
		floats.Scale(1/sum, joint)
	}
	hx := stat.Entropy(Histogram(x))
	hy := stat.Entropy(Histogram(y))
	hxy := stat.Entropy(joint)
	if hxy == 0 {
		return 2
	}
	return (hx + hy) / hxy
}

// MeanMutualInformation splits both images into patch×patch tiles and averages the
// normalized mutual information of corresponding tiles over all LAB values.
func MeanMutualInformation(truth, translated image.Image, patch int) (float64, error) {
	if truth.Bounds().Size() != translated.Bounds().Size() {
		return 0, errors.Wrapf(ErrSizeMismatch, "%v vs %v", truth.Bounds().Size(), translated.Bounds().Size())
	}
	if patch <= 0 {
		return 0, errors.Errorf("invalid patch size %d", patch)
	}
	a, b := ToLAB(truth), ToLAB(translated)
	var values []float64
	for y := 0; y < a.Height; y += patch {
		for x := 0; x < a.Width; x += patch {
			pa, pb := a.Patch(x, y, patch, patch), b.Patch(x, y, patch, patch)
			values = append(values, NormalizedMutualInformation(pa.flat(), pb.flat()))
		}
	}
	if len(values) == 0 {
		return 0, errors.New("empty images")
	}
	return stat.Mean(values, nil), nil
}

// flat interleaves the planes per pixel.
func (l LAB) flat() []float64 {
	n := len(l.Planes[0])
	retVal := make([]float64, 0, 3*n)
	for i := 0; i < n; i++ {
		retVal = append(retVal, l.Planes[0][i], l.Planes[1][i], l.Planes[2][i])
	}
	return retVal
}
