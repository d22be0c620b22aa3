package gan

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DownsampleFactor is the total stride of the generator's encoder. Image sides must be multiples of it.
const DownsampleFactor = 8

// Attention reductions of the two decoder attention blocks.
const (
	bottleneckReduction = 64
	decoderReduction    = 32
)

// GeneratorConfig configures a generator.
type GeneratorConfig struct {
	Channels  int // image channels
	Filters   int // filters of the first encoder stage. Doubled at every downsampling.
	ResBlocks int // residual blocks in the bottleneck
}

// Validate checks the configuration.
func (c GeneratorConfig) Validate() error {
	switch {
	case c.Channels < 1:
		return errors.Errorf("generator needs at least one channel, got %d", c.Channels)
	case c.Filters < 2 || c.Filters%2 != 0:
		return errors.Errorf("generator filters must be even and at least 2, got %d", c.Filters)
	case c.ResBlocks < 0:
		return errors.Errorf("generator residual blocks must be non-negative, got %d", c.ResBlocks)
	}
	return nil
}

// Generator translates images of one domain into the other.
//
// With a mask, the image is split in two: the masked region goes through the whole
// network while the rest is projected by a 1×1 convolution and added back after decoding.
type Generator struct {
	GeneratorConfig
	*Params
}

// Output holds the nodes of one generator application.
type Output struct {
	Image      *G.Node // translated image, after the post filters
	Final      *G.Node // output of the final layer, before range correction
	Bottleneck *G.Node // last encoder activation
	Residual   *G.Node // output of the residual stack
}

// NewGenerator creates a generator with freshly initialized parameters.
func NewGenerator(name string, conf GeneratorConfig) (*Generator, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	c, nf := conf.Channels, conf.Filters
	p := NewParams(name)

	p.conv("mask", c+1, c, 1, true)
	p.conv("context", c+1, c, 1, true)
	p.conv("interp1", c, nf/2, 1, false)
	p.conv("interp2", nf/2, nf/2, 1, false)

	p.conv("enc1", nf/2, nf, 7, false)
	p.conv("enc2", nf, 2*nf, 3, false)
	p.conv("enc3", 2*nf, 4*nf, 3, false)
	p.conv("enc4", 4*nf, 8*nf, 3, false)
	for i := 0; i < conf.ResBlocks; i++ {
		p.conv(fmt.Sprintf("res%d.a", i), 8*nf, 8*nf, 3, false)
		p.conv(fmt.Sprintf("res%d.b", i), 8*nf, 8*nf, 3, false)
	}

	p.attention("att1", 8*nf, bottleneckReduction)
	p.conv("dec1", 8*nf, 4*nf, 3, false)
	p.attention("att2", 4*nf, decoderReduction)
	p.conv("dec2", 4*nf, 2*nf, 3, false)
	p.conv("dec3", 2*nf, nf, 3, false)
	p.conv("dec4", nf, nf, 7, false)
	p.conv("correction", nf, nf, 3, true)
	p.conv("final", nf, c, 3, true)
	p.add("luminance", G.Ones(), 1, 1, 1, 1)

	return &Generator{GeneratorConfig: conf, Params: p}, nil
}

// CheckSize reports whether h×w images can be translated.
func CheckSize(h, w int) error {
	if h <= 0 || w <= 0 || h%DownsampleFactor != 0 || w%DownsampleFactor != 0 {
		return errors.Errorf("image size %dx%d is not a positive multiple of %d", h, w, DownsampleFactor)
	}
	return nil
}

// Fwd applies the generator to img (N,C,H,W). mask (N,1,H,W) is optional. When probe
// is not nil it must have the shape of img; it is added to the final layer's output so
// the gradient with respect to that output can be read from the probe.
func (gen *Generator) Fwd(b *Builder, img, mask, probe *G.Node) (retVal Output) {
	return gen.fwd(b, img, mask, probe, nil)
}

func (gen *Generator) fwd(b *Builder, img, mask, probe *G.Node, edit *G.Node) (retVal Output) {
	if b.err != nil {
		return
	}
	p := gen.Params
	shp := img.Shape()
	if shp.Dims() != 4 || shp[1] != gen.Channels {
		b.err = errors.Errorf("%s: expected a (N,%d,H,W) image, got %v", p.name, gen.Channels, shp)
		return
	}
	if b.err = CheckSize(shp[2], shp[3]); b.err != nil {
		return
	}

	x := img
	var context *G.Node
	if mask != nil {
		inv := b.do(func() (*G.Node, error) { return G.Sub(G.NewConstant(float32(1)), mask) })
		roi := b.maskMul(img, mask)
		ctx := b.maskMul(img, inv)
		masked := b.do(func() (*G.Node, error) { return G.Concat(1, roi, mask) })
		rest := b.do(func() (*G.Node, error) { return G.Concat(1, ctx, inv) })
		x = b.convBlock(p, "mask", masked, 1, 0, false, NoActivation)
		context = b.convBlock(p, "context", rest, 1, 0, false, NoActivation)
	}
	x = b.convBlock(p, "interp1", x, 1, 0, true, ReLU)
	x = b.convBlock(p, "interp2", x, 1, 0, true, ReLU)
	if edit != nil {
		x = b.edit(x, edit)
	}

	enc1 := b.convBlock(p, "enc1", x, 1, 3, true, ReLU)
	enc2 := b.convBlock(p, "enc2", enc1, 2, 1, true, ReLU)
	enc3 := b.convBlock(p, "enc3", enc2, 2, 1, true, ReLU)
	enc4 := b.convBlock(p, "enc4", enc3, 2, 1, true, ReLU)

	res := enc4
	for i := 0; i < gen.ResBlocks; i++ {
		res = b.resBlock(p, fmt.Sprintf("res%d", i), res)
	}

	dec := b.upBlock(p, "dec1", b.attention(p, "att1", enc4, res))
	dec = b.upBlock(p, "dec2", b.attention(p, "att2", dec, enc3))
	dec = b.upBlock(p, "dec3", b.add(dec, enc2))
	dec = b.convBlock(p, "dec4", b.add(dec, enc1), 1, 3, true, ReLU)

	out := b.convBlock(p, "correction", dec, 1, 1, false, NoActivation)
	final := b.convBlock(p, "final", out, 1, 1, false, Tanh)
	if probe != nil {
		final = b.add(final, probe)
	}
	out = b.rangeCorrect(p, "luminance", final)
	if context != nil {
		out = b.add(out, context)
	}
	out = b.jointBilateral(out, img)
	out = b.unsharp(out)

	return Output{
		Image:      out,
		Final:      final,
		Bottleneck: enc4,
		Residual:   res,
	}
}

// FwdEdited is Fwd with the interpretable codes shifted along a direction before
// decoding. direction is a (1,K,1,1) node of per channel weights, where K is half the
// generator's filters; every image gets codes + direction·Σ codes over the batch.
func (gen *Generator) FwdEdited(b *Builder, img, mask, direction *G.Node) Output {
	return gen.fwd(b, img, mask, nil, direction)
}

func (b *Builder) edit(codes, direction *G.Node) *G.Node {
	if b.err != nil {
		return nil
	}
	shp := codes.Shape()
	total := b.do(func() (*G.Node, error) { return G.Sum(codes, 0) })
	total = b.reshape(total, tensor.Shape{1, shp[1], shp[2], shp[3]})
	shift := b.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(total, direction, nil, []byte{2, 3}) })
	return b.do(func() (*G.Node, error) { return G.BroadcastAdd(codes, shift, nil, []byte{0}) })
}
