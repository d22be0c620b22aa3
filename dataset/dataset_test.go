package dataset

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func fixture(t *testing.T, n int) string {
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		writePNG(t, filepath.Join(dir, string(rune('a'+i))+".png"), 20, 12, color.RGBA{uint8(40 * i), 100, 200, 255})
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0644))
	return dir
}

func TestOpen(t *testing.T) {
	dir := fixture(t, 3)
	f, err := Open(dir, Options{Size: 16}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png", "c.png"}, f.Files())

	img, err := f.Get(1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 16, 16}, img.Shape())

	_, err = Open(t.TempDir(), Options{}, nil)
	assert.Error(t, err)
	_, err = Open(dir, Options{Size: 8, Crop: 16}, nil)
	assert.Error(t, err)
}

func TestCrop(t *testing.T) {
	f, err := Open(fixture(t, 1), Options{Size: 16, Crop: 8, FlipH: true, FlipV: true}, nil)
	require.NoError(t, err)
	img, err := f.Random()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 8, 8}, img.Shape())
}

func TestSequential(t *testing.T) {
	f, err := Open(fixture(t, 2), Options{}, nil)
	require.NoError(t, err)
	first, err := f.Sequential()
	require.NoError(t, err)
	_, err = f.Sequential()
	require.NoError(t, err)
	again, err := f.Sequential()
	require.NoError(t, err)
	assert.Equal(t, first.Data(), again.Data())

	// the second cursor is independent
	paired, err := f.Sequential2()
	require.NoError(t, err)
	assert.Equal(t, first.Data(), paired.Data())
	assert.Equal(t, tensor.Shape{3, 12, 20}, paired.Shape())
}

func TestCorruptImageIsDeleted(t *testing.T) {
	dir := fixture(t, 2)
	bad := filepath.Join(dir, "0bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0644))

	log, hook := test.NewNullLogger()
	f, err := Open(dir, Options{Size: 8}, log)
	require.NoError(t, err)
	require.Equal(t, 3, f.Len())

	img, err := f.Get(0)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 8, 8}, img.Shape())
	assert.Equal(t, 2, f.Len())
	assert.NoFileExists(t, bad)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestLoader(t *testing.T) {
	f, err := Open(fixture(t, 5), Options{Size: 8}, nil)
	require.NoError(t, err)
	l, err := NewLoader(f, 2, 3, true, 1)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 3, l.Batches())

	for pass := 0; pass < 2; pass++ {
		require.NoError(t, l.Reset(context.Background()))
		images := 0
		for {
			b, err := l.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			assert.Equal(t, 4, b.Dims())
			images += b.Shape()[0]
		}
		assert.Equal(t, 5, images)
	}

	_, err = NewLoader(f, 0, 1, false, 1)
	assert.Error(t, err)
}

func TestLoaderCancel(t *testing.T) {
	f, err := Open(fixture(t, 4), Options{Size: 8}, nil)
	require.NoError(t, err)
	l, err := NewLoader(f, 1, 1, false, 1)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Reset(ctx))
	cancel()
	for {
		_, err = l.Next()
		if err != nil {
			break
		}
	}
	assert.Equal(t, context.Canceled, err)
}
