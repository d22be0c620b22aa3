package cyclestain

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"

	gan "github.com/gorgonia/cyclestain/gannet"
	"github.com/gorgonia/cyclestain/optim"
)

// truncate cuts both batches to the size of the smaller one.
func truncate(he, p63 *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	hs, ps := he.Shape(), p63.Shape()
	if hs.Dims() != 4 || ps.Dims() != 4 {
		return nil, nil, errors.Errorf("expected (N,C,H,W) batches, got %v and %v", hs, ps)
	}
	if !hs[1:].Eq(ps[1:]) {
		return nil, nil, errors.Errorf("batches hold images of different shapes: %v and %v", hs[1:], ps[1:])
	}
	n := hs[0]
	if ps[0] < n {
		n = ps[0]
	}
	if n == 0 {
		return nil, nil, errors.New("empty batch")
	}
	return head(he, n), head(p63, n), nil
}

// head returns the first n images of a batch.
func head(t *tensor.Dense, n int) *tensor.Dense {
	shp := t.Shape()
	if shp[0] == n {
		return t
	}
	size := shp[1:].TotalSize()
	backing := make([]float32, n*size)
	copy(backing, t.Data().([]float32))
	out := shp.Clone()
	out[0] = n
	return tensor.New(tensor.WithShape(out...), tensor.WithBacking(backing))
}

// applyMask multiplies every channel of an (N,C,H,W) batch by an (N,1,H,W) mask.
func applyMask(img, mask *tensor.Dense) *tensor.Dense {
	shp := img.Shape()
	n, c, hw := shp[0], shp[1], shp[2]*shp[3]
	src := img.Data().([]float32)
	m := mask.Data().([]float32)
	out := make([]float32, len(src))
	for i := 0; i < n; i++ {
		plane := m[i*hw : (i+1)*hw]
		for j := 0; j < c; j++ {
			off := (i*c + j) * hw
			copy(out[off:off+hw], src[off:off+hw])
			vecf32.Mul(out[off:off+hw], plane)
		}
	}
	return tensor.New(tensor.WithShape(shp.Clone()...), tensor.WithBacking(out))
}

// refine adds a scaled explanation to a mask. The result is not clamped.
func refine(mask, delta *tensor.Dense, coef float64) *tensor.Dense {
	out := make([]float32, mask.Shape().TotalSize())
	copy(out, mask.Data().([]float32))
	d := make([]float32, len(out))
	copy(d, delta.Data().([]float32))
	vecf32.Scale(d, float32(coef))
	vecf32.Add(out, d)
	return tensor.New(tensor.WithShape(mask.Shape().Clone()...), tensor.WithBacking(out))
}

// stepSolver sanitizes and clips the gradients of a parameter group and steps its solver.
func (c *Controller) stepSolver(o *optim.NAdam, model G.Nodes, group string) error {
	vgs := G.NodesToValueGrads(model)
	replaced, err := optim.ClipGradients(vgs, float32(c.GradientClip))
	if err != nil {
		return errors.Wrapf(err, "clipping %s gradients", group)
	}
	if replaced > 0 {
		c.log.WithFields(logrus.Fields{"group": group, "replaced": replaced}).Warn("non-finite gradients replaced")
	}
	return errors.Wrapf(o.Step(vgs), "stepping %s", group)
}

// runTerms runs a graph once with every loss term. If any term is not finite the
// graph is run again without those terms, so that only the finite terms reach the
// gradients. It returns the sanitized values of the first run.
func (c *Controller) runTerms(group string, terms []lossTerm, run func(drop logrus.Fields) error) ([]float64, error) {
	if err := run(nil); err != nil {
		return nil, err
	}
	values, bad := sanitizeTerms(terms)
	if bad == nil {
		return values, nil
	}
	c.log.WithFields(bad).WithField("group", group).Warn("non-finite losses left out of the update")
	return values, run(bad)
}

// TrainingStep makes one adversarial update with a batch of each domain. Batches
// of different sizes are truncated to the smaller one.
func (c *Controller) TrainingStep(he, p63 *tensor.Dense) (err error) {
	if c.state == Evaluating {
		return ErrEvaluating
	}
	if he, p63, err = truncate(he, p63); err != nil {
		return err
	}
	shp := he.Shape()
	n, h, w := shp[0], shp[2], shp[3]
	sg, err := c.stepGraphsFor(n, h, w)
	if err != nil {
		return err
	}

	maskHE0, err := c.masks.Mask(he)
	if err != nil {
		return errors.Wrap(err, "H&E mask")
	}
	maskP630, err := c.masks.Mask(p63)
	if err != nil {
		return errors.Wrap(err, "P63 mask")
	}

	// Refine the masks with the explanations of the previous step. The P63
	// discriminators explain the H&E→P63 generator, which works on H&E masks.
	maskHE, maskP63 := maskHE0, maskP630
	deltaHE := c.p63Explainer.ExplanationMask(n, h, w)
	deltaP63 := c.heExplainer.ExplanationMask(n, h, w)
	if deltaHE != nil || deltaP63 != nil {
		heMaskLoss, p63MaskLoss, err := sg.pre.Run(c.ctx, he, p63, maskHE0, maskP630)
		if err != nil {
			return errors.Wrap(err, "mask discriminator losses")
		}
		heMaskLoss, p63MaskLoss = optim.SanitizeScalar(heMaskLoss), optim.SanitizeScalar(p63MaskLoss)
		if deltaHE != nil {
			maskHE = refine(maskHE0, deltaHE, c.p63Explainer.GetCoefficientMask(p63MaskLoss))
		}
		if deltaP63 != nil {
			maskP63 = refine(maskP630, deltaP63, c.heExplainer.GetCoefficientMask(heMaskLoss))
		}
	}

	// generators
	gen := sg.gen
	values, err := c.runTerms("generator", gen.terms, func(drop logrus.Fields) error {
		return gen.Run(c.ctx, he, p63, maskHE0, maskP630, maskHE, maskP63, drop)
	})
	if err != nil {
		return errors.Wrap(err, "generator pass")
	}
	var fakeHE, fakeP63, advFakeHE, advFakeP63 *tensor.Dense
	for _, o := range []struct {
		dst **tensor.Dense
		n   *G.Node
	}{
		{&fakeHE, gen.fakeHE},
		{&fakeP63, gen.fakeP63},
		{&advFakeHE, gen.advFakeHE},
		{&advFakeP63, gen.advFakeP63},
	} {
		if *o.dst, err = valueOf(o.n); err != nil {
			return err
		}
	}

	c.p63Explainer.SetExplanation(advFakeP63)
	c.p63Explainer.SetExplanationM(applyMask(advFakeP63, maskHE))
	c.heExplainer.SetExplanation(advFakeHE)
	c.heExplainer.SetExplanationM(applyMask(advFakeHE, maskP63))
	c.p63Explainer.SetLosses(gan.Scalar(gen.heFull.Value()), gan.Scalar(gen.heMasked.Value()))
	c.heExplainer.SetLosses(gan.Scalar(gen.p63Full.Value()), gan.Scalar(gen.p63Masked.Value()))
	c.p63Explainer.CollectGradient(gradOf(gen.probeAB))
	c.heExplainer.CollectGradient(gradOf(gen.probeBA))
	c.p63Explainer.GetExplanation()
	c.heExplainer.GetExplanation()

	losses := Losses{
		Generator:        floats.Sum(values),
		GeneratorHEToP63: values[0],
		GeneratorP63ToHE: values[1],
		Cycle:            values[2],
		Identity:         values[3],
		Context:          values[4],
		CycleContext:     values[5],
	}
	if err = c.stepSolver(c.generatorOpt, gen.model, "generator"); err != nil {
		return err
	}

	// discriminators
	if losses.DiscriminatorHE, err = c.trainDiscriminator(sg.discHE, c.fakeHEPool, c.discriminatorHEOpt, "discriminator_he",
		he, maskHE, fakeHE, maskP63); err != nil {
		return err
	}
	if losses.DiscriminatorP63, err = c.trainDiscriminator(sg.discP63, c.fakeP63Pool, c.discriminatorP63Opt, "discriminator_p63",
		p63, maskP63, fakeP63, maskHE); err != nil {
		return err
	}

	c.recordLosses(losses)
	return nil
}

// trainDiscriminator steps the discriminators of one domain. Both the full and the
// masked fakes are drawn through the domain's image pool.
func (c *Controller) trainDiscriminator(g *discGraph, pool *ImagePool, o *optim.NAdam, group string, real, realMask, fake, fakeMask *tensor.Dense) (float64, error) {
	pooled, err := pool.Query(fake)
	if err != nil {
		return 0, err
	}
	pooledMasked, err := pool.Query(applyMask(fake, fakeMask))
	if err != nil {
		return 0, err
	}
	values, err := c.runTerms(group, g.terms, func(drop logrus.Fields) error {
		return g.Run(c.ctx, real, realMask, pooled, pooledMasked, drop)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "%s pass", group)
	}
	return floats.Sum(values), c.stepSolver(o, g.model, group)
}

// recordLosses sanitizes the losses of a step and pushes them into the running means.
func (c *Controller) recordLosses(l Losses) {
	sanitizeLosses(c.log, map[string]*float64{
		TotalGeneratorLoss:   &l.Generator,
		GeneratorHEToP63Loss: &l.GeneratorHEToP63,
		GeneratorP63ToHELoss: &l.GeneratorP63ToHE,
		DiscriminatorHELoss:  &l.DiscriminatorHE,
		DiscriminatorP63Loss: &l.DiscriminatorP63,
		"identity_loss":      &l.Identity,
		"cycle_loss":         &l.Cycle,
		ContextLoss:          &l.Context,
		CycleContextLoss:     &l.CycleContext,
	})
	c.Latest = l

	c.push(GeneratorHEToP63Loss, l.GeneratorHEToP63)
	c.push(GeneratorP63ToHELoss, l.GeneratorP63ToHE)
	c.push(DiscriminatorHELoss, l.DiscriminatorHE)
	c.push(DiscriminatorP63Loss, l.DiscriminatorP63)
	c.push(CycleHELoss, l.Cycle)
	c.push(CycleP63Loss, l.Cycle)
	c.push(TotalGeneratorLoss, l.Generator)
	c.push(ContextLoss, l.Context)
	c.push(CycleContextLoss, l.CycleContext)
}
