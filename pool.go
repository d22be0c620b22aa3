package cyclestain

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// swapProbability is the chance that a full pool hands back a stored image.
const swapProbability = 0.5

// ImagePool keeps a history of generated images. Discriminators are trained on
// images drawn from it rather than only on the most recent generator output.
type ImagePool struct {
	size   int
	images [][]float32
	shape  tensor.Shape // shape of one image
	rng    *rand.Rand
}

// NewImagePool creates a pool holding up to size images. A size of 0 disables the pool.
func NewImagePool(size int, rng *rand.Rand) *ImagePool {
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}
	return &ImagePool{
		size: size,
		rng:  rng,
	}
}

// Len is the number of stored images.
func (p *ImagePool) Len() int { return len(p.images) }

// Query returns a batch of the same shape as fakes. While the pool is filling up,
// every image is stored and returned as is. Once full, each image is either returned
// as is or swapped with a random stored image, which is returned in its place.
func (p *ImagePool) Query(fakes *tensor.Dense) (*tensor.Dense, error) {
	if p.size == 0 {
		return fakes, nil
	}
	shp := fakes.Shape()
	if shp.Dims() < 2 {
		return nil, errors.Errorf("image pool expects a batch, got shape %v", shp)
	}
	one := shp[1:].Clone()
	if p.shape == nil {
		p.shape = one
	} else if !p.shape.Eq(one) {
		return nil, errors.Errorf("image pool holds images of shape %v, got %v", p.shape, one)
	}

	n, size := shp[0], one.TotalSize()
	src := fakes.Data().([]float32)
	out := make([]float32, len(src))
	for i := 0; i < n; i++ {
		img := src[i*size : (i+1)*size]
		dst := out[i*size : (i+1)*size]
		if len(p.images) < p.size {
			p.images = append(p.images, append([]float32(nil), img...))
			copy(dst, img)
			continue
		}
		if p.rng.Float64() > swapProbability {
			j := p.rng.Intn(p.size)
			copy(dst, p.images[j])
			copy(p.images[j], img)
			continue
		}
		copy(dst, img)
	}
	return tensor.New(tensor.WithShape(shp.Clone()...), tensor.WithBacking(out)), nil
}
