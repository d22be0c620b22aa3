// Package dataset reads folders of RGB images as normalized LAB tensors.
package dataset

import (
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gorgonia.org/tensor"

	"github.com/gorgonia/cyclestain/internal/lab"
)

// ErrEmpty is returned when a folder has no readable images left.
var ErrEmpty = errors.New("no images")

var extensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// Options control how images are prepared.
type Options struct {
	Size  int // images are resized to Size×Size. 0 keeps the original size
	Crop  int // random Crop×Crop crops are taken after resizing. 0 disables cropping
	FlipH bool
	FlipV bool
	Norm  lab.Normalizer
	Seed  int64
}

// Folder is a sorted listing of the images in a directory. Unreadable images are
// deleted from disk the first time they are read and replaced by another image.
//
// Folder is safe for concurrent use.
type Folder struct {
	Options
	dir string
	log logrus.FieldLogger

	mu        sync.Mutex
	files     []string
	rng       *rand.Rand
	seq, seq2 int
}

// Open lists the images of dir.
func Open(dir string, opts Options, log logrus.FieldLogger) (*Folder, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.Crop > 0 && opts.Size > 0 && opts.Crop > opts.Size {
		return nil, errors.Errorf("crop %d is larger than size %d", opts.Crop, opts.Size)
	}
	if !opts.Norm.Valid() {
		opts.Norm = lab.DefaultNormalizer()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, errors.Wrap(ErrEmpty, dir)
	}
	return &Folder{
		Options: opts,
		dir:     dir,
		log:     log.WithField("dir", dir),
		files:   files,
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Dir is the directory the images are read from.
func (f *Folder) Dir() string { return f.dir }

// Len is the number of images still listed.
func (f *Folder) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

// Files returns a copy of the listing.
func (f *Folder) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.files...)
}

// Get returns the (3,H,W) tensor of the i-th image, augmented.
func (f *Folder) Get(i int) (*tensor.Dense, error) { return f.get(i, true) }

// Random returns a random image.
func (f *Folder) Random() (*tensor.Dense, error) {
	f.mu.Lock()
	n := len(f.files)
	var i int
	if n > 0 {
		i = f.rng.Intn(n)
	}
	f.mu.Unlock()
	return f.get(i, true)
}

// Sequential returns the images in order, wrapping around at the end.
func (f *Folder) Sequential() (*tensor.Dense, error) {
	f.mu.Lock()
	i := f.seq
	f.seq++
	if f.seq >= len(f.files) {
		f.seq = 0
	}
	f.mu.Unlock()
	return f.get(i, true)
}

// Sequential2 is Sequential with a cursor of its own and without flips, so that two
// folders of registered images stay aligned.
func (f *Folder) Sequential2() (*tensor.Dense, error) {
	f.mu.Lock()
	i := f.seq2
	f.seq2++
	if f.seq2 >= len(f.files) {
		f.seq2 = 0
	}
	f.mu.Unlock()
	return f.get(i, false)
}

// load reads the i-th image. Unreadable files are deleted and dropped from the
// listing; the image that slides into their place is read instead. Indices past the
// end of the listing are replaced by random ones.
func (f *Folder) load(i int) (image.Image, error) {
	for {
		f.mu.Lock()
		if len(f.files) == 0 {
			f.mu.Unlock()
			return nil, errors.Wrap(ErrEmpty, f.dir)
		}
		if i < 0 || i >= len(f.files) {
			i = f.rng.Intn(len(f.files))
		}
		name := f.files[i]
		f.mu.Unlock()

		path := filepath.Join(f.dir, name)
		img, err := decode(path)
		if err == nil {
			return img, nil
		}
		f.log.WithError(err).WithField("file", name).Warn("unreadable image, deleting it")
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			f.log.WithError(rmErr).WithField("file", name).Error("could not delete image")
		}
		f.drop(name)
	}
}

func (f *Folder) drop(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for j, n := range f.files {
		if n == name {
			f.files = append(f.files[:j], f.files[j+1:]...)
			return
		}
	}
}

func decode(path string) (image.Image, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()
	img, _, err := image.Decode(r)
	return img, errors.WithStack(err)
}

func (f *Folder) get(i int, augment bool) (*tensor.Dense, error) {
	img, err := f.load(i)
	if err != nil {
		return nil, err
	}
	rgba, err := f.prepare(img)
	if err != nil {
		return nil, err
	}
	var flipH, flipV bool
	if augment {
		f.mu.Lock()
		flipH = f.FlipH && f.rng.Float64() < 0.5
		flipV = f.FlipV && f.rng.Float64() < 0.5
		f.mu.Unlock()
	}
	b := rgba.Bounds()
	h, w := b.Dy(), b.Dx()
	rgb := make([]uint8, 0, 3*h*w)
	for y := 0; y < h; y++ {
		sy := y
		if flipV {
			sy = h - 1 - y
		}
		for x := 0; x < w; x++ {
			sx := x
			if flipH {
				sx = w - 1 - x
			}
			off := rgba.PixOffset(b.Min.X+sx, b.Min.Y+sy)
			rgb = append(rgb, rgba.Pix[off], rgba.Pix[off+1], rgba.Pix[off+2])
		}
	}
	planes := f.Norm.EncodePlanes(make([]float32, 0, 3*h*w), rgb, h, w)
	return tensor.New(tensor.WithShape(3, h, w), tensor.WithBacking(planes)), nil
}

// prepare resizes and crops an image.
func (f *Folder) prepare(img image.Image) (*image.RGBA, error) {
	src := img.Bounds()
	var rgba *image.RGBA
	if f.Size > 0 && (src.Dx() != f.Size || src.Dy() != f.Size) {
		rgba = image.NewRGBA(image.Rect(0, 0, f.Size, f.Size))
		xdraw.BiLinear.Scale(rgba, rgba.Bounds(), img, src, draw.Src, nil)
	} else {
		rgba = image.NewRGBA(image.Rect(0, 0, src.Dx(), src.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, src.Min, draw.Src)
	}
	if f.Crop <= 0 {
		return rgba, nil
	}
	b := rgba.Bounds()
	if b.Dx() < f.Crop || b.Dy() < f.Crop {
		return nil, errors.Errorf("cannot crop %d×%d from a %d×%d image", f.Crop, f.Crop, b.Dx(), b.Dy())
	}
	f.mu.Lock()
	x := f.rng.Intn(b.Dx() - f.Crop + 1)
	y := f.rng.Intn(b.Dy() - f.Crop + 1)
	f.mu.Unlock()
	return rgba.SubImage(image.Rect(x, y, x+f.Crop, y+f.Crop)).(*image.RGBA), nil
}
