package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestOtsuBimodal(t *testing.T) {
	var values []float64
	for i := 0; i < 100; i++ {
		values = append(values, -1+float64(i%5)*0.01, 1-float64(i%5)*0.01)
	}
	th := Otsu(values, Bins)
	assert.True(t, th > -0.96 && th < 0.96, "threshold %v does not split the modes", th)
	assert.Equal(t, 2.0, Otsu([]float64{2, 2, 2}, Bins))
}

func TestOnes(t *testing.T) {
	g, err := New(Ones)
	require.NoError(t, err)
	m, err := g.Mask(tensor.New(tensor.WithShape(2, 3, 4, 4), tensor.Of(tensor.Float32)))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 1, 4, 4}, m.Shape())
	for _, v := range m.Data().([]float32) {
		assert.Equal(t, float32(1), v)
	}
}

func TestLuminance(t *testing.T) {
	// left half dark, right half bright; chroma planes flat
	backing := make([]float32, 3*4*4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if x < 2 {
				backing[y*4+x] = -1.5
			} else {
				backing[y*4+x] = 1.5
			}
		}
	}
	batch := tensor.New(tensor.WithShape(1, 3, 4, 4), tensor.WithBacking(backing))
	g, err := New(Luminance)
	require.NoError(t, err)
	m, err := g.Mask(batch)
	require.NoError(t, err)
	got := m.Data().([]float32)
	for y := 0; y < 4; y++ {
		assert.Equal(t, []float32{1, 1, 0, 0}, got[y*4:y*4+4])
	}
}

func TestChroma(t *testing.T) {
	backing := make([]float32, 3*2*2)
	backing[4] = 2 // a channel, first pixel
	batch := tensor.New(tensor.WithShape(1, 3, 2, 2), tensor.WithBacking(backing))
	g, err := New(Chroma)
	require.NoError(t, err)
	m, err := g.Mask(batch)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, m.Data().([]float32))
}

func TestUnknown(t *testing.T) {
	_, err := New("saliency")
	assert.Error(t, err)
	g, _ := New(Ones)
	_, err = g.Mask(tensor.New(tensor.WithShape(3, 4), tensor.Of(tensor.Float32)))
	assert.Error(t, err)
}
