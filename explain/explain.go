// Package explain turns the gradients a discriminator sends back into a generator
// into saliency masks that point the next training step at the regions the
// discriminator objects to most.
//
// A Controller is driven in two phases per step. Before the backward pass the
// training loop hands it the generated images and the discriminator losses; after
// the backward pass it collects the gradient at the generator's final layer and
// computes the explanation, which is used as a mask delta in the following step.
package explain

import (
	"github.com/chewxy/math32"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	gan "github.com/gorgonia/cyclestain/gannet"
)

// Controller explains the decisions of one domain's discriminators.
type Controller struct {
	Ratio float64 // weight of the masked discriminator
	Ramp  Ramp

	full, masked *gan.Discriminator
	ctx          gan.ExecContext
	log          logrus.FieldLogger

	fake, fakeMasked *tensor.Dense
	lossFull         float64
	lossMasked       float64
	grad             *tensor.Dense
	explanation      *tensor.Dense
}

// New creates a controller for the discriminators of one domain.
func New(full, masked *gan.Discriminator, ratio float64, ramp Ramp, ctx gan.ExecContext, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		Ratio:  ratio,
		Ramp:   ramp,
		full:   full,
		masked: masked,
		ctx:    ctx,
		log:    log,
	}
}

// SetExplanation records the generated images being explained.
func (c *Controller) SetExplanation(fake *tensor.Dense) { c.fake = fake }

// SetExplanationM records the masked generated images being explained.
func (c *Controller) SetExplanationM(fakeMasked *tensor.Dense) { c.fakeMasked = fakeMasked }

// SetLosses records the full and masked discriminator losses.
func (c *Controller) SetLosses(full, masked float64) {
	c.lossFull, c.lossMasked = full, masked
}

// CollectGradient records the gradient at the generator's final layer. A nil gradient,
// or one that does not match the recorded images, is dropped.
func (c *Controller) CollectGradient(grad *tensor.Dense) {
	c.grad = nil
	if grad == nil {
		c.log.Debug("no gradient to explain")
		return
	}
	if grad.Dims() != 4 {
		c.log.WithField("shape", grad.Shape()).Debug("gradient is not an image batch")
		return
	}
	if ref := c.reference(); ref != nil && !ref.Shape().Eq(grad.Shape()) {
		c.log.WithFields(logrus.Fields{
			"gradient": grad.Shape(),
			"images":   ref.Shape(),
		}).Debug("gradient does not match the explained images")
		return
	}
	c.grad = grad.Clone().(*tensor.Dense)
}

func (c *Controller) reference() *tensor.Dense {
	if c.fakeMasked != nil {
		return c.fakeMasked
	}
	return c.fake
}

// Weight is the ramp of the masked share of the discriminator losses.
func (c *Controller) Weight() float64 {
	total := c.lossFull + c.lossMasked
	if total <= 0 {
		return c.Ramp.Apply(0)
	}
	return c.Ramp.Apply(c.lossMasked / total)
}

// GetExplanation computes the mask delta from the collected gradient. The result is
// (N,1,H,W); it is nil when there is nothing to explain. The saliency depends on the
// gradient alone, so regions outside of the current mask can be highlighted too.
func (c *Controller) GetExplanation() *tensor.Dense {
	if c.grad == nil {
		c.explanation = nil
		return nil
	}
	sal := Saliency(c.grad, nil)
	vecf32.Scale(sal.Data().([]float32), float32(c.Weight()))
	c.explanation = sal
	return sal
}

// Explanation returns the last computed mask delta.
func (c *Controller) Explanation() *tensor.Dense { return c.explanation }

// ExplanationMask returns the last mask delta if it fits an (n,1,h,w) mask, else nil.
func (c *Controller) ExplanationMask(n, h, w int) *tensor.Dense {
	if c.explanation == nil || !c.explanation.Shape().Eq(tensor.Shape{n, 1, h, w}) {
		return nil
	}
	return c.explanation
}

// GetCoefficientMask scales a mask discriminator loss into the weight of the mask delta.
func (c *Controller) GetCoefficientMask(loss float64) float64 {
	return c.Ratio * c.Ramp.Apply(loss)
}

// Saliency is |grad| (or |grad·input| when input is given) summed over channels and
// normalized to [0, 1] per image. grad is (N,C,H,W); the result is (N,1,H,W).
func Saliency(grad *tensor.Dense, input []float32) *tensor.Dense {
	shp := grad.Shape()
	n, ch, hw := shp[0], shp[1], shp[2]*shp[3]
	g := grad.Data().([]float32)
	if len(input) != len(g) {
		input = nil
	}
	out := make([]float32, n*hw)
	for i := 0; i < n; i++ {
		plane := out[i*hw : (i+1)*hw]
		for c := 0; c < ch; c++ {
			off := (i*ch + c) * hw
			for j := range plane {
				v := g[off+j]
				if input != nil {
					v *= input[off+j]
				}
				plane[j] += math32.Abs(v)
			}
		}
		var max float32
		for _, v := range plane {
			if v > max && !math32.IsInf(v, 1) {
				max = v
			}
		}
		if max <= 0 || math32.IsNaN(max) {
			for j := range plane {
				plane[j] = 0
			}
			continue
		}
		for j, v := range plane {
			switch {
			case math32.IsNaN(v):
				plane[j] = 0
			case v > max:
				plane[j] = 1
			default:
				plane[j] = v / max
			}
		}
	}
	return tensor.New(tensor.WithShape(n, 1, shp[2], shp[3]), tensor.WithBacking(out))
}
