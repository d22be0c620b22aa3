package eval

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func TestToLAB(t *testing.T) {
	l := ToLAB(uniform(2, 3, color.White))
	assert.Equal(t, 2, l.Width)
	assert.Equal(t, 3, l.Height)
	for i := range l.Planes[0] {
		assert.Equal(t, 255.0, l.Planes[0][i])
		assert.InDelta(t, 128, l.Planes[1][i], 1)
		assert.InDelta(t, 128, l.Planes[2][i], 1)
	}

	black := ToLAB(uniform(1, 1, color.Black))
	assert.Equal(t, 0.0, black.Planes[0][0])
}

func TestQuantize(t *testing.T) {
	assert.Equal(t, 1.0, quantize(0.5))
	assert.Equal(t, 1.0, quantize(1.49))
	assert.Equal(t, 128.0, quantize(127.6))
	assert.Equal(t, 0.0, quantize(-3))
	assert.Equal(t, float64(Bins-1), quantize(300))
}

func TestPatch(t *testing.T) {
	l := LAB{Width: 3, Height: 2}
	l.Planes[0] = []float64{0, 1, 2, 3, 4, 5}
	l.Planes[1] = l.Planes[0]
	l.Planes[2] = l.Planes[0]

	p := l.Patch(1, 0, 2, 2)
	assert.Equal(t, []float64{1, 2, 4, 5}, p.Planes[0])

	clipped := l.Patch(2, 1, 2, 2)
	assert.Equal(t, 1, clipped.Width)
	assert.Equal(t, 1, clipped.Height)
	assert.Equal(t, []float64{5}, clipped.Planes[0])
}

func TestHistogram(t *testing.T) {
	h := Histogram([]float64{0, 0, 255, 10})
	assert.Len(t, h, Bins)
	assert.Equal(t, 0.5, h[0])
	assert.Equal(t, 0.25, h[10])
	assert.Equal(t, 0.25, h[255])

	empty := Histogram(nil)
	assert.Equal(t, 0.0, empty[0])
}

func TestBhattacharyya(t *testing.T) {
	p := Histogram([]float64{1, 2, 3, 3})
	assert.InDelta(t, 0, Bhattacharyya(p, p), 1e-7)

	q := Histogram([]float64{200, 201})
	assert.InDelta(t, 1, Bhattacharyya(p, q), 1e-7)

	d := Bhattacharyya(p, Histogram([]float64{1, 2, 3, 200}))
	assert.True(t, d > 0 && d < 1, "partial overlap gave %v", d)

	assert.Equal(t, 1.0, Bhattacharyya(p, make([]float64, Bins)))
}

func TestCompareHistograms(t *testing.T) {
	img := gradient(16, 16)
	d, c, err := CompareHistograms(img, img)
	require.NoError(t, err)
	for i := range d {
		assert.InDelta(t, 0, d[i], 1e-7)
		assert.InDelta(t, 1, c[i], 1e-7)
	}

	_, _, err = CompareHistograms(img, gradient(8, 8))
	assert.Equal(t, ErrSizeMismatch, errors.Cause(err))
}

func TestNormalizedMutualInformation(t *testing.T) {
	x := []float64{0, 1, 2, 3, 0, 1, 2, 3}
	assert.InDelta(t, 2, NormalizedMutualInformation(x, x), 1e-9)

	// y is independent of x
	a := []float64{0, 0, 1, 1}
	b := []float64{0, 1, 0, 1}
	assert.InDelta(t, 1, NormalizedMutualInformation(a, b), 1e-9)

	assert.Equal(t, 2.0, NormalizedMutualInformation([]float64{5, 5}, []float64{7, 7}))
}

func TestMeanMutualInformation(t *testing.T) {
	img := gradient(20, 20)
	mi, err := MeanMutualInformation(img, img, 8)
	require.NoError(t, err)
	assert.InDelta(t, 2, mi, 1e-9)

	_, err = MeanMutualInformation(img, img, 0)
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	img := gradient(16, 16)
	r, err := Compare("same", img, img, DefaultPatch)
	require.NoError(t, err)
	assert.Equal(t, "same", r.Name)
	assert.InDelta(t, 0, r.Distance.Mean(), 1e-7)

	other := Result{Name: "other", MutualInformation: 1}
	other.Distance = Channelwise{1, 1, 1}
	s := Summarize([]Result{r, other})
	assert.Equal(t, "mean", s.Name)
	assert.InDelta(t, 0.5, s.Distance[0], 1e-7)
	assert.InDelta(t, 1.5, s.MutualInformation, 1e-9)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []Result{other}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(reportHeader, ","), lines[0])
	assert.Equal(t, "other,1.000000,1.000000,1.000000,0.000000,0.000000,0.000000,1.000000", lines[1])
}

func TestPlots(t *testing.T) {
	dir := t.TempDir()
	img := gradient(16, 16)
	hist := filepath.Join(dir, "hist.png")
	require.NoError(t, PlotHistograms(ToLAB(img), ToLAB(uniform(16, 16, color.Gray{Y: 100})), "HE", hist))
	info, err := os.Stat(hist)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	dist := filepath.Join(dir, "dist.png")
	require.NoError(t, PlotDistances([]float64{0.1, 0.2, 0.4}, "L", dist))
	_, err = os.Stat(dist)
	assert.NoError(t, err)

	assert.Error(t, PlotDistances(nil, "L", dist))
}
