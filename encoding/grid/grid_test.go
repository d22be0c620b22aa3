package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/gorgonia/cyclestain/internal/lab"
)

func white(h, w int) *tensor.Dense {
	norm := lab.DefaultNormalizer()
	rgb := make([]uint8, 3*h*w)
	for i := range rgb {
		rgb[i] = 255
	}
	return tensor.New(tensor.WithShape(1, 3, h, w), tensor.WithBacking(norm.EncodePlanes(nil, rgb, h, w)))
}

func TestDecode(t *testing.T) {
	img, err := Decode(lab.DefaultNormalizer(), white(4, 6))
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
	r, g, b, _ := img.At(2, 2).RGBA()
	assert.InDelta(t, 0xffff, r, 0x300)
	assert.InDelta(t, 0xffff, g, 0x300)
	assert.InDelta(t, 0xffff, b, 0x300)

	mask := tensor.New(tensor.WithShape(1, 2, 2), tensor.WithBacking([]float32{0, 1, 0.5, 2}))
	img, err = Decode(lab.DefaultNormalizer(), mask)
	require.NoError(t, err)
	r, _, _, _ = img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)
	r, _, _, _ = img.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	_, err = Decode(lab.DefaultNormalizer(), tensor.New(tensor.WithShape(2, 2), tensor.Of(tensor.Float32)))
	assert.Error(t, err)
}

func TestCompose(t *testing.T) {
	img, err := Compose(lab.DefaultNormalizer(),
		[]Cell{{Image: white(8, 8)}, {Image: white(8, 8)}, {Image: white(8, 8)}},
		[]Cell{{Image: white(8, 8)}, {Image: white(8, 8)}, {Image: white(8, 8)}},
	)
	require.NoError(t, err)
	assert.Equal(t, 24, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())

	labelled, err := Compose(lab.DefaultNormalizer(), []Cell{{Image: white(8, 8), Label: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 8+lineHeight(), labelled.Bounds().Dy())

	_, err = Compose(lab.DefaultNormalizer())
	assert.Error(t, err)
}

func TestCaption(t *testing.T) {
	img, err := Decode(lab.DefaultNormalizer(), white(8, 8))
	require.NoError(t, err)
	out := Caption(img, "Paired")
	assert.True(t, out.Bounds().Dx() >= 8)
	assert.Equal(t, 8+lineHeight()+pad, out.Bounds().Dy())
}
