package explain

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	gan "github.com/gorgonia/cyclestain/gannet"
)

// Attribute computes integrated gradients of the full discriminator's LossFake
// along the straight path from a black image to images, using steps midpoint samples.
// The result is the (N,1,H,W) saliency of the attribution.
func (c *Controller) Attribute(images *tensor.Dense, steps int) (*tensor.Dense, error) {
	return IntegratedGradients(c.full, c.ctx, images, steps)
}

// AttributeMasked is Attribute for the masked discriminator.
func (c *Controller) AttributeMasked(images *tensor.Dense, steps int) (*tensor.Dense, error) {
	return IntegratedGradients(c.masked, c.ctx, images, steps)
}

// IntegratedGradients attributes d's LossFake to the pixels of images.
func IntegratedGradients(d *gan.Discriminator, ctx gan.ExecContext, images *tensor.Dense, steps int) (retVal *tensor.Dense, err error) {
	if d == nil {
		return nil, errors.New("no discriminator to attribute")
	}
	if steps < 1 {
		return nil, errors.Errorf("integrated gradients need at least one step, got %d", steps)
	}
	shp := images.Shape().Clone()
	b := gan.NewBuilder(ctx)
	x := b.Input("attribution_input", shp...)
	lf := d.LossFake(b, x)
	var total *G.Node
	if b.Err() == nil {
		if total, err = G.Sum(lf); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if err = b.Err(); err != nil {
		return nil, err
	}
	if _, err = G.Grad(total, x); err != nil {
		return nil, errors.WithStack(err)
	}

	m := G.NewTapeMachine(b.Graph())
	defer m.Close()

	src := images.Data().([]float32)
	acc := make([]float32, len(src))
	for k := 0; k < steps; k++ {
		alpha := (float32(k) + 0.5) / float32(steps)
		scaled := make([]float32, len(src))
		copy(scaled, src)
		vecf32.Scale(scaled, alpha)
		in := ctx.Round(tensor.New(tensor.WithShape(shp...), tensor.WithBacking(scaled)))
		if err = G.Let(x, in); err != nil {
			return nil, errors.WithStack(err)
		}
		if err = m.RunAll(); err != nil {
			return nil, errors.WithStack(err)
		}
		var grad G.Value
		if grad, err = x.Grad(); err != nil {
			return nil, errors.WithStack(err)
		}
		vecf32.Add(acc, grad.Data().([]float32))
		m.Reset()
	}
	vecf32.Scale(acc, 1/float32(steps))
	grads := tensor.New(tensor.WithShape(shp...), tensor.WithBacking(acc))
	return Saliency(grads, src), nil
}
