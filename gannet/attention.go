package gan

import (
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// scoreBound soft-limits attention scores so the exponential stays finite.
const scoreBound = 20

// attentionWidth is the width of the query and key projections.
func attentionWidth(channels, reduction int) int {
	if k := channels / reduction; k > 0 {
		return k
	}
	return 1
}

func (p *Params) attention(name string, channels, reduction int) {
	k := attentionWidth(channels, reduction)
	p.add(name+".query.w", G.GlorotU(1.0), k, channels, 1, 1)
	p.add(name+".key.w", G.GlorotU(1.0), k, channels, 1, 1)
	p.add(name+".value.w", G.GlorotU(1.0), channels, channels, 1, 1)
	p.add(name+".gamma", G.Zeroes(), 1, 1, 1)
}

// attention lets every position of skip attend over all positions of res:
//
//	o = gamma · value(res) · softmax(query(skip)ᵀ key(skip)) + skip
//
// The softmax is taken over the first position axis. gamma starts at zero.
func (b *Builder) attention(p *Params, name string, skip, res *G.Node) *G.Node {
	if b.err != nil {
		return nil
	}
	shp := skip.Shape()
	n, c, hw := shp[0], shp[1], shp[2]*shp[3]

	fw := b.param(p, name+".query.w")
	k := fw.Shape()[0]
	f := b.reshape(b.conv(skip, fw, 1, 0), tensor.Shape{n, k, hw})
	g := b.reshape(b.conv(skip, b.param(p, name+".key.w"), 1, 0), tensor.Shape{n, k, hw})
	h := b.reshape(b.conv(res, b.param(p, name+".value.w"), 1, 0), tensor.Shape{n, c, hw})

	scores := b.do(func() (*G.Node, error) { return G.BatchedMatMul(f, g, true, false) }) // (N, HW, HW)
	scores = b.scale(scores, float32(1/(math.Sqrt(float64(k))*scoreBound)))
	scores = b.do(func() (*G.Node, error) { return G.Tanh(scores) })
	scores = b.scale(scores, scoreBound)

	e := b.do(func() (*G.Node, error) { return G.Exp(scores) })
	z := b.do(func() (*G.Node, error) { return G.Sum(e, 1) })
	z = b.reshape(z, tensor.Shape{n, 1, hw})
	beta := b.do(func() (*G.Node, error) { return G.BroadcastHadamardDiv(e, z, nil, []byte{1}) })

	o := b.do(func() (*G.Node, error) { return G.BatchedMatMul(h, beta) }) // (N, C, HW)
	gamma := b.param(p, name+".gamma")
	o = b.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(o, gamma, nil, []byte{0, 1, 2}) })
	o = b.reshape(o, skip.Shape().Clone())
	return b.add(o, skip)
}
