package gan

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MinDiscriminatorSize is the smallest image side a discriminator can score.
const MinDiscriminatorSize = 32

// DiscriminatorConfig configures a discriminator.
type DiscriminatorConfig struct {
	Channels int
	Filters  int
}

// Validate checks the configuration.
func (c DiscriminatorConfig) Validate() error {
	if c.Channels < 1 {
		return errors.Errorf("discriminator needs at least one channel, got %d", c.Channels)
	}
	if c.Filters < 1 {
		return errors.Errorf("discriminator filters must be positive, got %d", c.Filters)
	}
	return nil
}

// Discriminator is a PatchGAN: it scores overlapping patches of an image instead of the whole image.
type Discriminator struct {
	DiscriminatorConfig
	*Params
}

// NewDiscriminator creates a discriminator with freshly initialized parameters.
func NewDiscriminator(name string, conf DiscriminatorConfig) (*Discriminator, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	nf := conf.Filters
	p := NewParams(name)
	p.conv("conv1", conf.Channels, nf, 4, true)
	p.conv("conv2", nf, 2*nf, 4, false)
	p.conv("conv3", 2*nf, 4*nf, 4, false)
	p.conv("conv4", 4*nf, 8*nf, 4, false)
	p.conv("out", 8*nf, 1, 4, true)
	return &Discriminator{DiscriminatorConfig: conf, Params: p}, nil
}

// Fwd returns the (N,1,h,w) map of patch scores.
func (d *Discriminator) Fwd(b *Builder, x *G.Node) *G.Node {
	if b.err != nil {
		return nil
	}
	shp := x.Shape()
	if shp.Dims() != 4 || shp[1] != d.Channels || shp[2] < MinDiscriminatorSize || shp[3] < MinDiscriminatorSize {
		b.err = errors.Errorf("%s: cannot score images of shape %v", d.name, shp)
		return nil
	}
	p := d.Params
	out := b.convBlock(p, "conv1", x, 2, 1, false, LeakyReLU)
	out = b.convBlock(p, "conv2", out, 2, 1, true, LeakyReLU)
	out = b.convBlock(p, "conv3", out, 2, 1, true, LeakyReLU)
	out = b.convBlock(p, "conv4", out, 1, 1, true, LeakyReLU)
	return b.convBlock(p, "out", out, 1, 1, false, NoActivation)
}

// LossFake is the highest patch score of every image, shaped (N,1,1,1).
func (d *Discriminator) LossFake(b *Builder, x *G.Node) *G.Node {
	out := d.Fwd(b, x)
	if b.err != nil {
		return nil
	}
	h, w := out.Shape()[2], out.Shape()[3]
	return b.do(func() (*G.Node, error) { return G.MaxPool2D(out, tensor.Shape{h, w}, []int{0, 0}, []int{h, w}) })
}
