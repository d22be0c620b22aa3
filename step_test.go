package cyclestain

import (
	"math"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func batch(n, c, h, w int, v float32) *tensor.Dense {
	backing := make([]float32, n*c*h*w)
	for i := range backing {
		backing[i] = v
	}
	return tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(backing))
}

func TestTruncate(t *testing.T) {
	he, p63, err := truncate(batch(3, 3, 2, 2, 1), batch(2, 3, 2, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, 2, 2}, he.Shape())
	assert.Equal(t, tensor.Shape{2, 3, 2, 2}, p63.Shape())
	assert.Equal(t, float32(1), he.Data().([]float32)[0])

	same := batch(2, 3, 2, 2, 0)
	a, _, err := truncate(same, batch(2, 3, 2, 2, 0))
	require.NoError(t, err)
	assert.True(t, a == same)

	_, _, err = truncate(batch(1, 3, 2, 2, 0), batch(1, 3, 4, 4, 0))
	assert.Error(t, err)
	_, _, err = truncate(batch(0, 3, 2, 2, 0), batch(1, 3, 2, 2, 0))
	assert.Error(t, err)
	_, _, err = truncate(tensor.New(tensor.WithShape(3, 2, 2), tensor.Of(tensor.Float32)), batch(1, 3, 2, 2, 0))
	assert.Error(t, err)
}

func TestApplyMask(t *testing.T) {
	img := batch(1, 2, 1, 2, 3)
	mask := tensor.New(tensor.WithShape(1, 1, 1, 2), tensor.WithBacking([]float32{1, 0.5}))
	out := applyMask(img, mask)
	assert.Equal(t, []float32{3, 1.5, 3, 1.5}, out.Data())
	assert.Equal(t, []float32{3, 3, 3, 3}, img.Data())
}

func TestRefine(t *testing.T) {
	mask := tensor.New(tensor.WithShape(1, 1, 1, 3), tensor.WithBacking([]float32{0, 0.5, 1}))
	delta := tensor.New(tensor.WithShape(1, 1, 1, 3), tensor.WithBacking([]float32{1, -1, 1}))
	out := refine(mask, delta, 0.5)
	// not clamped
	assert.Equal(t, []float32{0.5, 0, 1.5}, out.Data())
	assert.Equal(t, []float32{0, 0.5, 1}, mask.Data())
	assert.Equal(t, []float32{1, -1, 1}, delta.Data())
}

func TestSanitizeLosses(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	a, b, c, d := 1.5, math.NaN(), math.Inf(1), math.Inf(-1)
	sanitizeLosses(log, map[string]*float64{"a": &a, "b": &b, "c": &c, "d": &d})
	assert.Equal(t, 1.5, a)
	assert.Equal(t, 0.0, b)
	assert.Equal(t, 1.0, c)
	assert.Equal(t, -1.0, d)
	require.Len(t, hook.Entries, 1)
	assert.Contains(t, hook.LastEntry().Data, "b")
	assert.NotContains(t, hook.LastEntry().Data, "a")

	hook.Reset()
	sanitizeLosses(log, map[string]*float64{"a": &a})
	assert.Empty(t, hook.Entries)
}
