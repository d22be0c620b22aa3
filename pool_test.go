package cyclestain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func filled(n int, v float32) *tensor.Dense {
	backing := make([]float32, n*2)
	for i := range backing {
		backing[i] = v + float32(i/2)
	}
	return tensor.New(tensor.WithShape(n, 1, 1, 2), tensor.WithBacking(backing))
}

func TestImagePoolDisabled(t *testing.T) {
	p := NewImagePool(0, nil)
	in := filled(2, 1)
	out, err := p.Query(in)
	require.NoError(t, err)
	assert.True(t, in == out)
	assert.Equal(t, 0, p.Len())
}

func TestImagePoolFilling(t *testing.T) {
	p := NewImagePool(3, rand.New(rand.NewSource(1)))
	in := filled(2, 10)
	out, err := p.Query(in)
	require.NoError(t, err)
	assert.Equal(t, in.Data(), out.Data())
	assert.Equal(t, 2, p.Len())

	// the pool fills up and keeps its size from then on
	for i := 0; i < 5; i++ {
		_, err = p.Query(filled(2, float32(100*i)))
		require.NoError(t, err)
		assert.True(t, p.Len() <= 3)
	}
	assert.Equal(t, 3, p.Len())
}

func TestImagePoolMixes(t *testing.T) {
	p := NewImagePool(4, rand.New(rand.NewSource(1337)))
	_, err := p.Query(filled(4, 0))
	require.NoError(t, err)

	var swapped, kept int
	for i := 0; i < 50; i++ {
		in := filled(1, 1000)
		out, err := p.Query(in)
		require.NoError(t, err)
		assert.Equal(t, in.Shape(), out.Shape())
		if out.Data().([]float32)[0] == 1000 {
			kept++
		} else {
			swapped++
		}
	}
	assert.NotZero(t, swapped)
	assert.NotZero(t, kept)
}

func TestImagePoolShapes(t *testing.T) {
	p := NewImagePool(2, nil)
	_, err := p.Query(filled(1, 0))
	require.NoError(t, err)
	_, err = p.Query(tensor.New(tensor.WithShape(1, 2, 1, 2), tensor.Of(tensor.Float32)))
	assert.Error(t, err)
	_, err = p.Query(tensor.New(tensor.WithShape(4), tensor.Of(tensor.Float32)))
	assert.Error(t, err)
}
