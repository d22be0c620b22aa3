package gan

import (
	G "gorgonia.org/gorgonia"
)

// MSE is the mean squared distance between x and a constant target.
func (b *Builder) MSE(x *G.Node, target float32) *G.Node {
	d := x
	if target != 0 {
		d = b.do(func() (*G.Node, error) { return G.Sub(x, G.NewConstant(target)) })
	}
	d = b.do(func() (*G.Node, error) { return G.Square(d) })
	return b.do(func() (*G.Node, error) { return G.Mean(d) })
}

// L1 is the mean absolute difference.
func (b *Builder) L1(x, y *G.Node) *G.Node {
	d := b.sub(x, y)
	d = b.do(func() (*G.Node, error) { return G.Abs(d) })
	return b.do(func() (*G.Node, error) { return G.Mean(d) })
}

// Huber is the mean smooth L1 distance with a threshold of 1:
// 0.5d² where |d| < 1 and |d|-0.5 elsewhere.
func (b *Builder) Huber(x, y *G.Node) *G.Node {
	d := b.sub(x, y)
	abs := b.do(func() (*G.Node, error) { return G.Abs(d) })
	over := b.do(func() (*G.Node, error) { return G.Sub(abs, G.NewConstant(float32(1))) })
	over = b.rectify(over)

	// min(|d|, 1)
	quad := b.sub(abs, over)
	quad = b.do(func() (*G.Node, error) { return G.Square(quad) })
	quad = b.scale(quad, 0.5)
	total := b.add(quad, over)
	return b.do(func() (*G.Node, error) { return G.Mean(total) })
}

// Weight creates a scalar input for a loss weight that may change between runs.
func (b *Builder) Weight(name string) *G.Node {
	return G.NewScalar(b.g, Float, G.WithName(name))
}

// Weighted multiplies a scalar loss by a weight.
func (b *Builder) Weighted(x, w *G.Node) *G.Node {
	return b.do(func() (*G.Node, error) { return G.Mul(x, w) })
}

// Scale multiplies by a constant.
func (b *Builder) Scale(x *G.Node, k float64) *G.Node { return b.scale(x, float32(k)) }

// Sum adds all the nodes, which must have the same shape.
func (b *Builder) Sum(xs ...*G.Node) *G.Node {
	if len(xs) == 0 {
		return nil
	}
	retVal := xs[0]
	for _, x := range xs[1:] {
		retVal = b.add(retVal, x)
	}
	return retVal
}

// Mask multiplies every channel of img by mask.
func (b *Builder) Mask(img, mask *G.Node) *G.Node { return b.maskMul(img, mask) }

// Complement is 1 - mask.
func (b *Builder) Complement(mask *G.Node) *G.Node {
	return b.do(func() (*G.Node, error) { return G.Sub(G.NewConstant(float32(1)), mask) })
}
