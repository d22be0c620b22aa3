package gif

import (
	"bytes"
	"image"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewGifEncoder(&buf, 64, 64)
	require.NoError(t, enc.Flush())
	assert.Zero(t, buf.Len())

	for i := 0; i < 3; i++ {
		require.NoError(t, enc.LogImage(i, image.NewRGBA(image.Rect(0, 0, 32, 32)), "Paired"))
	}
	assert.Equal(t, 3, enc.Frames())
	assert.Error(t, enc.LogImage(3, nil, ""))
	require.NoError(t, enc.Flush())

	g, err := gif.DecodeAll(&buf)
	require.NoError(t, err)
	assert.Len(t, g.Image, 3)
	for _, im := range g.Image {
		assert.True(t, im.Bounds().Dx() <= 64)
		assert.True(t, im.Bounds().Dy() <= 64)
	}
}
