package gan

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var Float = G.Float32

// Builder assembles networks into one expression graph. Parameters are bound to
// the graph once, no matter how many times a network is applied in it, so the
// gradients of every application accumulate on the same node.
type Builder struct {
	maebe
	ctx ExecContext
	g   *G.ExprGraph

	bound  map[string]*G.Node
	consts map[string]*G.Node
}

// NewBuilder creates a builder with an empty graph.
func NewBuilder(ctx ExecContext) *Builder {
	return &Builder{
		ctx:    ctx,
		g:      G.NewGraph(),
		bound:  make(map[string]*G.Node),
		consts: make(map[string]*G.Node),
	}
}

// Graph returns the graph being built.
func (b *Builder) Graph() *G.ExprGraph { return b.g }

// Context returns the execution context the graph is built for.
func (b *Builder) Context() ExecContext { return b.ctx }

// Err returns the first error encountered while building.
func (b *Builder) Err() error { return b.err }

// Input creates a float32 input node. Names must be unique within the graph.
func (b *Builder) Input(name string, shape ...int) *G.Node {
	return G.NewTensor(b.g, Float, len(shape), G.WithShape(shape...), G.WithName(name))
}

func (b *Builder) param(p *Params, name string) *G.Node {
	key := p.name + "/" + name
	if n, ok := b.bound[key]; ok {
		return n
	}
	v := p.Get(name)
	if v == nil {
		if b.err == nil {
			b.err = errors.Errorf("%s has no parameter %q", p.name, name)
		}
		return nil
	}
	n := G.NewTensor(b.g, Float, v.Dims(), G.WithShape(v.Shape().Clone()...), G.WithName(key), G.WithValue(v))
	b.bound[key] = n
	return n
}

// Model returns the nodes of the parameters in ps, in parameter order. Each set
// should already have been used by a network in the graph.
func (b *Builder) Model(ps ...*Params) G.Nodes {
	var retVal G.Nodes
	for _, p := range ps {
		for _, name := range p.names {
			retVal = append(retVal, b.param(p, name))
		}
	}
	return retVal
}

// constant returns a cached constant tensor, creating it with fill on first use.
// Constants live in the graph but are never part of a Model, so no gradient is
// taken with respect to them.
func (b *Builder) constant(key string, fill func() *tensor.Dense) *G.Node {
	if n, ok := b.consts[key]; ok {
		return n
	}
	v := fill()
	n := G.NewTensor(b.g, Float, v.Dims(), G.WithShape(v.Shape().Clone()...), G.WithValue(v), G.WithName(key))
	b.consts[key] = n
	return n
}

// convBlock is convolution, optional instance normalization and activation. The
// bias is only used when the block is not normalized.
func (b *Builder) convBlock(p *Params, name string, x *G.Node, stride, pad int, norm bool, act Activation) *G.Node {
	w := b.param(p, name+".w")
	out := b.conv(x, w, stride, pad)
	if p.Has(name + ".b") {
		out = b.addBias(out, b.param(p, name+".b"))
	}
	if norm {
		out = b.instanceNorm(out)
	}
	return b.activate(out, act)
}

func (b *Builder) resBlock(p *Params, name string, x *G.Node) *G.Node {
	out := b.convBlock(p, name+".a", x, 1, 1, true, GELU)
	out = b.convBlock(p, name+".b", out, 1, 1, true, NoActivation)
	return b.add(out, x)
}

// upBlock doubles the resolution: nearest neighbour upsampling, a 3x3 convolution,
// instance normalization and ELU.
func (b *Builder) upBlock(p *Params, name string, x *G.Node) *G.Node {
	if b.err != nil {
		return nil
	}
	up := b.upsample(x)
	return b.convBlock(p, name, up, 1, 1, true, ELU)
}
