package lab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	colours := [][3]float32{
		{0, 0, 0},
		{1, 1, 1},
		{0.8, 0.2, 0.5},
		{0.1, 0.6, 0.3},
	}
	for _, c := range colours {
		l, a, b := FromRGB(c[0], c[1], c[2])
		r, g, bb := ToRGB(l, a, b)
		assert.InDelta(t, c[0], r, 1e-3)
		assert.InDelta(t, c[1], g, 1e-3)
		assert.InDelta(t, c[2], bb, 1e-3)
	}
}

func TestWhiteIsNeutral(t *testing.T) {
	l, a, b := FromRGB(1, 1, 1)
	assert.InDelta(t, 100, l, 1e-2)
	assert.InDelta(t, 0, a, 1e-2)
	assert.InDelta(t, 0, b, 1e-2)
}

func TestNormalizerPlanes(t *testing.T) {
	n := DefaultNormalizer()
	rgb := []uint8{255, 255, 255, 0, 0, 0}
	planes := n.EncodePlanes(nil, rgb, 1, 2)
	assert.Len(t, planes, 6)
	assert.InDelta(t, (100-50)/29.59, planes[0], 1e-3)
	assert.InDelta(t, -50/29.59, planes[1], 1e-3)

	back := n.DecodePlanes(planes, 1, 2)
	assert.Equal(t, rgb, back)
}
