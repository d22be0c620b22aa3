package cyclestain

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	gan "github.com/gorgonia/cyclestain/gannet"
)

// The controller trains with static graphs. Every graph binds the same parameter
// tensors, so a solver step on one graph is seen by all of them. Graphs depend on the
// batch size and are built the first time a batch of that size is seen.

// feed pairs an input node with the value it takes in a run.
type feed struct {
	node *G.Node
	val  G.Value
}

// run resets m, binds the inputs and runs the whole tape. Tensor inputs are rounded
// to the context's precision.
func run(m G.VM, ctx gan.ExecContext, feeds ...feed) error {
	m.Reset()
	for _, f := range feeds {
		v := f.val
		if d, ok := v.(*tensor.Dense); ok {
			v = ctx.Round(d)
		}
		if err := G.Let(f.node, v); err != nil {
			return errors.Wrapf(err, "binding %v", f.node.Name())
		}
	}
	return errors.WithStack(m.RunAll())
}

// lossTerm is a scalar loss multiplied by a weight input. The weight is lambda,
// or 0 when the term is dropped from a run.
type lossTerm struct {
	name   string
	loss   *G.Node
	weight *G.Node
	lambda float64
}

func newTerm(b *gan.Builder, name string, raw *G.Node, lambda float64) lossTerm {
	w := b.Weight("weight_" + name)
	return lossTerm{name: name, loss: b.Weighted(raw, w), weight: w, lambda: lambda}
}

// total sums the losses of terms.
func total(b *gan.Builder, terms []lossTerm) *G.Node {
	ls := make([]*G.Node, len(terms))
	for i, t := range terms {
		ls[i] = t.loss
	}
	return b.Sum(ls...)
}

// weightFeeds binds the weights of terms. Terms named in drop weigh 0.
func weightFeeds(terms []lossTerm, drop logrus.Fields) []feed {
	feeds := make([]feed, len(terms))
	for i, t := range terms {
		w := G.F32(t.lambda)
		if _, ok := drop[t.name]; ok {
			w = 0
		}
		feeds[i] = feed{t.weight, &w}
	}
	return feeds
}

// valueOf copies the value of a node out of the graph.
func valueOf(n *G.Node) (*tensor.Dense, error) {
	v, ok := n.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("%v has no tensor value", n.Name())
	}
	return v.Clone().(*tensor.Dense), nil
}

// gradOf copies the gradient arriving at a node. A missing gradient is nil.
func gradOf(n *G.Node) *tensor.Dense {
	g, err := n.Grad()
	if err != nil || g == nil {
		return nil
	}
	d, ok := g.(*tensor.Dense)
	if !ok {
		return nil
	}
	return d.Clone().(*tensor.Dense)
}

// maskedDiscriminatorLoss is half the real/fake loss of a mask discriminator, with the
// real and the fake images weighted by the same mask.
func maskedDiscriminatorLoss(b *gan.Builder, d *gan.Discriminator, real, mask, fake *G.Node) *G.Node {
	realLoss := b.MSE(d.Fwd(b, b.Mask(real, mask)), 1)
	fakeLoss := b.MSE(d.Fwd(b, b.Mask(fake, mask)), 0)
	return b.Scale(b.Sum(realLoss, fakeLoss), 0.5)
}

// discriminatorLoss is half the real/fake loss of one discriminator.
func discriminatorLoss(b *gan.Builder, d *gan.Discriminator, real, fake *G.Node) *G.Node {
	realLoss := b.MSE(d.Fwd(b, real), 1)
	fakeLoss := b.MSE(d.Fwd(b, fake), 0)
	return b.Scale(b.Sum(realLoss, fakeLoss), 0.5)
}

// partialDiscriminatorLoss is discriminatorLoss weighted by coef.
func partialDiscriminatorLoss(b *gan.Builder, d *gan.Discriminator, real, fake *G.Node, coef float64) *G.Node {
	return b.Scale(discriminatorLoss(b, d, real, fake), coef)
}

// cycleLoss blends the pixel loss inside and outside of the mask.
func cycleLoss(b *gan.Builder, cycled, real, mask *G.Node, ratio float64) *G.Node {
	inv := b.Complement(mask)
	inside := b.L1(b.Mask(cycled, mask), b.Mask(real, mask))
	outside := b.L1(b.Mask(cycled, inv), b.Mask(real, inv))
	return b.Sum(b.Scale(inside, ratio), b.Scale(outside, 1-ratio))
}

// contextLoss compares the encoding of one translation with the residual stack output
// of the other, both ways.
func contextLoss(b *gan.Builder, forward, backward gan.Output) *G.Node {
	l := b.Sum(b.Huber(forward.Bottleneck, backward.Residual), b.Huber(forward.Residual, backward.Bottleneck))
	return b.Scale(l, 0.5)
}

// preGraph computes the mask discriminator losses the masks are refined with.
type preGraph struct {
	he, p63         *G.Node
	maskHE, maskP63 *G.Node

	heMaskLoss, p63MaskLoss *G.Node

	m G.VM
}

func (c *Controller) buildPre(n, h, w int) (*preGraph, error) {
	ch := c.Channels
	b := gan.NewBuilder(c.ctx)
	g := &preGraph{
		he:      b.Input("he", n, ch, h, w),
		p63:     b.Input("p63", n, ch, h, w),
		maskHE:  b.Input("mask_he", n, 1, h, w),
		maskP63: b.Input("mask_p63", n, 1, h, w),
	}
	fakeP63 := c.GeneratorHEToP63.Fwd(b, g.he, g.maskHE, nil)
	fakeHE := c.GeneratorP63ToHE.Fwd(b, g.p63, g.maskP63, nil)
	g.heMaskLoss = maskedDiscriminatorLoss(b, c.DiscriminatorHEMask, g.he, g.maskHE, fakeHE.Image)
	g.p63MaskLoss = maskedDiscriminatorLoss(b, c.DiscriminatorP63Mask, g.p63, g.maskP63, fakeP63.Image)
	if err := b.Err(); err != nil {
		return nil, err
	}
	g.m = G.NewTapeMachine(b.Graph())
	return g, nil
}

func (g *preGraph) Run(ctx gan.ExecContext, he, p63, maskHE, maskP63 *tensor.Dense) (heLoss, p63Loss float64, err error) {
	if err = run(g.m, ctx, feed{g.he, he}, feed{g.p63, p63}, feed{g.maskHE, maskHE}, feed{g.maskP63, maskP63}); err != nil {
		return 0, 0, err
	}
	return gan.Scalar(g.heMaskLoss.Value()), gan.Scalar(g.p63MaskLoss.Value()), nil
}

// genGraph is the generator training graph.
type genGraph struct {
	he, p63           *G.Node
	maskHE0, maskP630 *G.Node // masks of the mask generator
	maskHE, maskP63   *G.Node // refined masks
	probeAB, probeBA  *G.Node // zero valued; their gradients are the gradients at the final layers

	fakeP63, fakeHE       *G.Node // translations with the unrefined masks
	advFakeP63, advFakeHE *G.Node // translations the adversarial losses are computed on

	// adversarial H&E→P63, adversarial P63→H&E, cycle, identity, context, cycle context
	terms []lossTerm
	total *G.Node

	// discriminator losses, forward only
	heFull, heMasked   *G.Node
	p63Full, p63Masked *G.Node

	model G.Nodes
	m     G.VM
}

func (c *Controller) buildGen(n, h, w int) (*genGraph, error) {
	ch := c.Channels
	r := c.LambdaMaskAdversarialRatio
	gab, gba := c.GeneratorHEToP63, c.GeneratorP63ToHE
	b := gan.NewBuilder(c.ctx)
	g := &genGraph{
		he:       b.Input("he", n, ch, h, w),
		p63:      b.Input("p63", n, ch, h, w),
		maskHE0:  b.Input("mask_he_base", n, 1, h, w),
		maskP630: b.Input("mask_p63_base", n, 1, h, w),
		maskHE:   b.Input("mask_he", n, 1, h, w),
		maskP63:  b.Input("mask_p63", n, 1, h, w),
		probeAB:  b.Input("probe_he_to_p63", n, ch, h, w),
		probeBA:  b.Input("probe_p63_to_he", n, ch, h, w),
	}

	// translations and their reconstructions
	forwardHE := gab.Fwd(b, g.he, g.maskHE0, nil)
	cycledHE := gba.Fwd(b, forwardHE.Image, g.maskHE0, nil)
	forwardP63 := gba.Fwd(b, g.p63, g.maskP630, nil)
	cycledP63 := gab.Fwd(b, forwardP63.Image, g.maskP630, nil)
	g.fakeP63, g.fakeHE = forwardHE.Image, forwardP63.Image

	// adversarial
	adv := func(gen *gan.Generator, img, mask, probe *G.Node, full, masked *gan.Discriminator) (*G.Node, *G.Node) {
		fake := gen.Fwd(b, img, mask, probe).Image
		maskLoss := b.MSE(masked.Fwd(b, b.Mask(fake, mask)), 1)
		fullLoss := b.MSE(full.Fwd(b, fake), 1)
		return fake, b.Sum(b.Scale(maskLoss, r), b.Scale(fullLoss, 1-r))
	}
	var adversarialAB, adversarialBA *G.Node
	g.advFakeP63, adversarialAB = adv(gab, g.he, g.maskHE, g.probeAB, c.DiscriminatorP63, c.DiscriminatorP63Mask)
	g.advFakeHE, adversarialBA = adv(gba, g.p63, g.maskP63, g.probeBA, c.DiscriminatorHE, c.DiscriminatorHEMask)

	cycle := b.Sum(
		cycleLoss(b, cycledHE.Image, g.he, g.maskHE, c.LambdaMaskCycleRatio),
		cycleLoss(b, cycledP63.Image, g.p63, g.maskP63, c.LambdaMaskCycleRatio),
	)
	identity := b.Sum(
		b.L1(g.he, gba.Fwd(b, g.he, g.maskHE, nil).Image),
		b.L1(g.p63, gab.Fwd(b, g.p63, g.maskP63, nil).Image),
	)

	g.terms = []lossTerm{
		newTerm(b, GeneratorHEToP63Loss, adversarialAB, c.LambdaAdversarial),
		newTerm(b, GeneratorP63ToHELoss, adversarialBA, c.LambdaAdversarial),
		newTerm(b, "cycle_loss", cycle, c.LambdaCycle),
		newTerm(b, "identity_loss", identity, c.LambdaIdentity),
		newTerm(b, ContextLoss, contextLoss(b, forwardHE, cycledHE), c.LambdaContext),
		newTerm(b, CycleContextLoss, contextLoss(b, forwardP63, cycledP63), c.LambdaCycleContext),
	}
	g.total = total(b, g.terms)

	g.heFull = partialDiscriminatorLoss(b, c.DiscriminatorHE, g.he, g.fakeHE, 1-r)
	g.heMasked = partialDiscriminatorLoss(b, c.DiscriminatorHEMask, b.Mask(g.he, g.maskHE), b.Mask(g.fakeHE, g.maskP63), r)
	g.p63Full = partialDiscriminatorLoss(b, c.DiscriminatorP63, g.p63, g.fakeP63, 1-r)
	g.p63Masked = partialDiscriminatorLoss(b, c.DiscriminatorP63Mask, b.Mask(g.p63, g.maskP63), b.Mask(g.fakeP63, g.maskHE), r)
	if err := b.Err(); err != nil {
		return nil, err
	}

	g.model = b.Model(gab.Params, gba.Params)
	if _, err := G.Grad(g.total, append(g.model, g.probeAB, g.probeBA)...); err != nil {
		return nil, errors.Wrap(err, "generator gradients")
	}
	g.m = G.NewTapeMachine(b.Graph(), G.BindDualValues(g.model...))
	return g, nil
}

// Run runs the generator graph. The terms named in drop are left out of the total.
func (g *genGraph) Run(ctx gan.ExecContext, he, p63, maskHE0, maskP630, maskHE, maskP63 *tensor.Dense, drop logrus.Fields) error {
	probe := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(he.Shape().Clone()...))
	feeds := append(weightFeeds(g.terms, drop),
		feed{g.he, he}, feed{g.p63, p63},
		feed{g.maskHE0, maskHE0}, feed{g.maskP630, maskP630},
		feed{g.maskHE, maskHE}, feed{g.maskP63, maskP63},
		feed{g.probeAB, probe}, feed{g.probeBA, probe},
	)
	return run(g.m, ctx, feeds...)
}

// discGraph trains the full and the mask discriminator of one domain.
type discGraph struct {
	real, realMask   *G.Node
	fake, fakeMasked *G.Node

	// full and mask discriminator
	terms []lossTerm
	loss  *G.Node

	model G.Nodes
	m     G.VM
}

func (c *Controller) buildDisc(full, masked *gan.Discriminator, n, h, w int) (*discGraph, error) {
	ch := c.Channels
	r := c.LambdaMaskAdversarialRatio
	b := gan.NewBuilder(c.ctx)
	g := &discGraph{
		real:       b.Input("real", n, ch, h, w),
		realMask:   b.Input("real_mask", n, 1, h, w),
		fake:       b.Input("fake", n, ch, h, w),
		fakeMasked: b.Input("fake_masked", n, ch, h, w),
	}
	g.terms = []lossTerm{
		newTerm(b, full.Name(), discriminatorLoss(b, full, g.real, g.fake), 1-r),
		newTerm(b, masked.Name(), discriminatorLoss(b, masked, b.Mask(g.real, g.realMask), g.fakeMasked), r),
	}
	g.loss = total(b, g.terms)
	if err := b.Err(); err != nil {
		return nil, err
	}
	g.model = b.Model(full.Params, masked.Params)
	if _, err := G.Grad(g.loss, g.model...); err != nil {
		return nil, errors.Wrapf(err, "gradients of %v and %v", full.Name(), masked.Name())
	}
	g.m = G.NewTapeMachine(b.Graph(), G.BindDualValues(g.model...))
	return g, nil
}

func (g *discGraph) Run(ctx gan.ExecContext, real, realMask, fake, fakeMasked *tensor.Dense, drop logrus.Fields) error {
	feeds := append(weightFeeds(g.terms, drop),
		feed{g.real, real}, feed{g.realMask, realMask}, feed{g.fake, fake}, feed{g.fakeMasked, fakeMasked})
	return run(g.m, ctx, feeds...)
}

// stepGraphs are the graphs of one training step.
type stepGraphs struct {
	pre             *preGraph
	gen             *genGraph
	discHE, discP63 *discGraph
}

func (c *Controller) buildStep(n, h, w int) (sg *stepGraphs, err error) {
	sg = new(stepGraphs)
	defer func() {
		if err != nil {
			sg.Close()
			sg = nil
		}
	}()
	if sg.pre, err = c.buildPre(n, h, w); err != nil {
		return
	}
	if sg.gen, err = c.buildGen(n, h, w); err != nil {
		return
	}
	if sg.discHE, err = c.buildDisc(c.DiscriminatorHE, c.DiscriminatorHEMask, n, h, w); err != nil {
		return
	}
	sg.discP63, err = c.buildDisc(c.DiscriminatorP63, c.DiscriminatorP63Mask, n, h, w)
	return
}

func (sg *stepGraphs) Close() error {
	var ms []G.VM
	if sg.pre != nil {
		ms = append(ms, sg.pre.m)
	}
	if sg.gen != nil {
		ms = append(ms, sg.gen.m)
	}
	if sg.discHE != nil {
		ms = append(ms, sg.discHE.m)
	}
	if sg.discP63 != nil {
		ms = append(ms, sg.discP63.m)
	}
	return gan.CloseAll(ms...)
}

// batchShape keys cached graphs.
type batchShape struct{ n, h, w int }

// stepGraphsFor returns the cached graphs for a batch shape.
func (c *Controller) stepGraphsFor(n, h, w int) (*stepGraphs, error) {
	key := batchShape{n, h, w}
	if sg, ok := c.steps[key]; ok {
		return sg, nil
	}
	c.log.WithFields(logrus.Fields{"batch": n, "height": h, "width": w}).Debug("building training graphs")
	sg, err := c.buildStep(n, h, w)
	if err != nil {
		return nil, err
	}
	c.steps[key] = sg
	return sg, nil
}

// translateGraph translates a batch of each domain and reconstructs it.
type translateGraph struct {
	he, p63         *G.Node
	maskHE, maskP63 *G.Node

	fakeP63, cycledHE *G.Node
	fakeHE, cycledP63 *G.Node

	m G.VM
}

func (c *Controller) buildTranslate(n, h, w int) (*translateGraph, error) {
	ch := c.Channels
	b := gan.NewBuilder(c.ctx)
	g := &translateGraph{
		he:      b.Input("he", n, ch, h, w),
		p63:     b.Input("p63", n, ch, h, w),
		maskHE:  b.Input("mask_he", n, 1, h, w),
		maskP63: b.Input("mask_p63", n, 1, h, w),
	}
	g.fakeP63 = c.GeneratorHEToP63.Fwd(b, g.he, g.maskHE, nil).Image
	g.cycledHE = c.GeneratorP63ToHE.Fwd(b, g.fakeP63, g.maskHE, nil).Image
	g.fakeHE = c.GeneratorP63ToHE.Fwd(b, g.p63, g.maskP63, nil).Image
	g.cycledP63 = c.GeneratorHEToP63.Fwd(b, g.fakeHE, g.maskP63, nil).Image
	if err := b.Err(); err != nil {
		return nil, err
	}
	g.m = G.NewTapeMachine(b.Graph())
	return g, nil
}

func (g *translateGraph) Close() error { return gan.CloseAll(g.m) }

func (c *Controller) translateGraphFor(n, h, w int) (*translateGraph, error) {
	key := batchShape{n, h, w}
	if g, ok := c.translator[key]; ok {
		return g, nil
	}
	g, err := c.buildTranslate(n, h, w)
	if err != nil {
		return nil, err
	}
	c.translator[key] = g
	return g, nil
}
