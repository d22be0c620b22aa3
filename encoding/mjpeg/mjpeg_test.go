package mjpeg

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogImage(t *testing.T) {
	enc := NewEncoder()
	assert.NoError(t, enc.LogImage(1, image.NewRGBA(image.Rect(0, 0, 16, 8)), "grid"))
	assert.Error(t, enc.LogImage(1, nil, "grid"))
	assert.NoError(t, enc.Flush())
	assert.NoError(t, enc.Close())
}
