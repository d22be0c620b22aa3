package cyclestain

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	gan "github.com/gorgonia/cyclestain/gannet"
)

// EvalStep translates a batch of each domain and reconstructs it. Masks come from
// the mask generator alone. It works in either state and never changes the networks.
func (c *Controller) EvalStep(he, p63 *tensor.Dense) (retVal Translations, err error) {
	if he, p63, err = truncate(he, p63); err != nil {
		return retVal, err
	}
	retVal.RealHE, retVal.RealP63 = he, p63
	if retVal.MaskHE, err = c.masks.Mask(he); err != nil {
		return retVal, errors.Wrap(err, "H&E mask")
	}
	if retVal.MaskP63, err = c.masks.Mask(p63); err != nil {
		return retVal, errors.Wrap(err, "P63 mask")
	}

	shp := he.Shape()
	g, err := c.translateGraphFor(shp[0], shp[2], shp[3])
	if err != nil {
		return retVal, err
	}
	if err = run(g.m, c.ctx, feed{g.he, he}, feed{g.p63, p63}, feed{g.maskHE, retVal.MaskHE}, feed{g.maskP63, retVal.MaskP63}); err != nil {
		return retVal, errors.Wrap(err, "translation pass")
	}
	for _, o := range []struct {
		dst **tensor.Dense
		n   *G.Node
	}{
		{&retVal.FakeP63, g.fakeP63},
		{&retVal.CycledHE, g.cycledHE},
		{&retVal.FakeHE, g.fakeHE},
		{&retVal.CycledP63, g.cycledP63},
	} {
		if *o.dst, err = valueOf(o.n); err != nil {
			return retVal, err
		}
	}
	return retVal, nil
}

// batchOf turns a (C,H,W) image into a batch of one.
func batchOf(img *tensor.Dense) (*tensor.Dense, error) {
	shp := img.Shape()
	switch shp.Dims() {
	case 4:
		return img, nil
	case 3:
		return tensor.New(tensor.WithShape(1, shp[0], shp[1], shp[2]), tensor.WithBacking(img.Data())), nil
	}
	return nil, errors.Errorf("expected an image, got shape %v", shp)
}

func (c *Controller) pairs(he, p63 func() (*tensor.Dense, error)) (Translations, error) {
	a, err := he()
	if err != nil {
		return Translations{}, errors.Wrap(err, "H&E sample")
	}
	b, err := p63()
	if err != nil {
		return Translations{}, errors.Wrap(err, "P63 sample")
	}
	if a, err = batchOf(a); err != nil {
		return Translations{}, err
	}
	if b, err = batchOf(b); err != nil {
		return Translations{}, err
	}
	return c.EvalStep(a, b)
}

// ImagePairs translates the next held-out image of each domain.
func (c *Controller) ImagePairs(he, p63 Samples) (Translations, error) {
	return c.pairs(he.Sequential, p63.Sequential)
}

// ImagePairsPaired is ImagePairs over the second cursor of the samples. Used with
// registered H&E and P63 sections, it walks the matching pairs.
func (c *Controller) ImagePairsPaired(he, p63 Samples) (Translations, error) {
	return c.pairs(he.Sequential2, p63.Sequential2)
}

// Direction selects a generator.
type Direction int

const (
	HEToP63 Direction = iota
	P63ToHE
)

func (d Direction) String() string {
	if d == P63ToHE {
		return "p63_to_he"
	}
	return "he_to_p63"
}

func (c *Controller) generator(d Direction) *gan.Generator {
	if d == P63ToHE {
		return c.GeneratorP63ToHE
	}
	return c.GeneratorHEToP63
}

// Edit translates a batch with the generator's interpretable codes shifted along
// direction, one weight per code channel. With a zero direction it is a plain translation.
func (c *Controller) Edit(d Direction, imgs *tensor.Dense, direction []float32) (*tensor.Dense, error) {
	shp := imgs.Shape()
	if shp.Dims() != 4 {
		return nil, errors.Errorf("expected an (N,C,H,W) batch, got %v", shp)
	}
	gen := c.generator(d)
	if k := gen.Filters / 2; len(direction) != k {
		return nil, errors.Errorf("%v has %d interpretable channels, got %d weights", d, k, len(direction))
	}
	m, err := c.masks.Mask(imgs)
	if err != nil {
		return nil, err
	}

	b := gan.NewBuilder(c.ctx)
	x := b.Input("img", shp...)
	mask := b.Input("mask", shp[0], 1, shp[2], shp[3])
	dir := b.Input("direction", 1, len(direction), 1, 1)
	out := gen.FwdEdited(b, x, mask, dir)
	if err = b.Err(); err != nil {
		return nil, err
	}
	vm := G.NewTapeMachine(b.Graph())
	defer vm.Close()
	weights := tensor.New(tensor.WithShape(1, len(direction), 1, 1), tensor.WithBacking(append([]float32(nil), direction...)))
	if err = run(vm, c.ctx, feed{x, imgs}, feed{mask, m}, feed{dir, weights}); err != nil {
		return nil, err
	}
	return valueOf(out.Image)
}
