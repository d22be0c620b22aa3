package gan

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/cyclestain/internal/lab"
)

// channelVector fills a (1, C, 1, 1) tensor with l for channel 0 and ab for the others.
func channelVector(c int, l, ab float32) *tensor.Dense {
	backing := make([]float32, c)
	for i := range backing {
		backing[i] = ab
	}
	backing[0] = l
	return tensor.New(tensor.WithShape(1, c, 1, 1), tensor.WithBacking(backing))
}

// rangeCorrect maps a tanh output in [-1, 1] onto the normalized LAB ranges and
// applies the learned luminance gain sigmoid(4g) to channel 0.
func (b *Builder) rangeCorrect(p *Params, name string, x *G.Node) *G.Node {
	if b.err != nil {
		return nil
	}
	c := x.Shape()[1]
	scale := b.constant(fmt.Sprintf("rangeScale%d", c), func() *tensor.Dense {
		return channelVector(c, (lab.MaxL-lab.MinL)/2, (lab.MaxAB-lab.MinAB)/2)
	})
	offset := b.constant(fmt.Sprintf("rangeOffset%d", c), func() *tensor.Dense {
		return channelVector(c, (lab.MaxL+lab.MinL)/2, (lab.MaxAB+lab.MinAB)/2)
	})
	first := b.constant(fmt.Sprintf("firstChannel%d", c), func() *tensor.Dense { return channelVector(c, 1, 0) })
	rest := b.constant(fmt.Sprintf("otherChannels%d", c), func() *tensor.Dense { return channelVector(c, 0, 1) })

	out := b.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(x, scale, nil, []byte{0, 2, 3}) })
	out = b.do(func() (*G.Node, error) { return G.BroadcastAdd(out, offset, nil, []byte{0, 2, 3}) })

	g := b.scale(b.param(p, name), 4)
	g = b.do(func() (*G.Node, error) { return G.Sigmoid(g) })
	gain := b.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(first, g, nil, []byte{1}) })
	gain = b.add(gain, rest)
	return b.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(out, gain, nil, []byte{0, 2, 3}) })
}
