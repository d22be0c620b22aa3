// Package cyclestain trains a pair of generators that translate H&E stained tissue
// images into P63 stained ones and back, without paired examples.
//
// Besides the usual adversarial, cycle and identity losses, the generators are
// conditioned on region-of-interest masks, and the masks are refined every step by
// saliency maps of what the discriminators found most objectionable.
package cyclestain

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gorgonia/cyclestain/explain"
	gan "github.com/gorgonia/cyclestain/gannet"
	"github.com/gorgonia/cyclestain/mask"
	"github.com/gorgonia/cyclestain/optim"
)

// State is the mode of a Controller.
type State int

const (
	Training State = iota
	Evaluating
)

func (s State) String() string {
	if s == Evaluating {
		return "EVAL"
	}
	return "TRAIN"
}

// ErrEvaluating is returned when a controller in the Evaluating state is asked to train.
var ErrEvaluating = errors.New("controller is evaluating")

// Controller owns the six networks of a run, their optimizers, the explanation
// controllers and the image pools. It is not safe for concurrent use.
type Controller struct {
	Settings
	Statistics

	// Latest holds the losses of the most recent training step.
	Latest Losses
	// Epoch is the current epoch of the run.
	Epoch int

	GeneratorHEToP63     *gan.Generator
	GeneratorP63ToHE     *gan.Generator
	DiscriminatorHE      *gan.Discriminator
	DiscriminatorP63     *gan.Discriminator
	DiscriminatorHEMask  *gan.Discriminator
	DiscriminatorP63Mask *gan.Discriminator

	heExplainer  *explain.Controller // explains the H&E discriminators to the P63→H&E generator
	p63Explainer *explain.Controller // explains the P63 discriminators to the H&E→P63 generator
	masks        mask.Generator

	generatorOpt        *optim.NAdam
	discriminatorHEOpt  *optim.NAdam
	discriminatorP63Opt *optim.NAdam
	schedule            optim.LinearDecay

	fakeHEPool  *ImagePool
	fakeP63Pool *ImagePool

	ctx      gan.ExecContext
	state    State
	sink     Sink
	archiver Archiver
	log      logrus.FieldLogger
	rng      *rand.Rand

	steps      map[batchShape]*stepGraphs
	translator map[batchShape]*translateGraph
}

// New creates a controller with freshly initialized networks. sink may be nil.
func New(s Settings, sink Sink, log logrus.FieldLogger) (*Controller, error) {
	if err := s.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid settings")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, err := s.execContext()
	if err != nil {
		return nil, err
	}
	ramp, err := explain.ParseRamp(s.ExplanationRampType)
	if err != nil {
		return nil, err
	}
	masks, err := mask.New(mask.Type(s.MaskType))
	if err != nil {
		return nil, err
	}
	schedule, err := optim.NewLinearDecay(s.Epochs, s.DecayEpoch)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		Settings:   s,
		Statistics: makeStatistics(s.LogFrequency),
		masks:      masks,
		schedule:   schedule,
		ctx:        ctx,
		sink:       sink,
		log:        log.WithField("run", s.Name),
		rng:        rand.New(rand.NewSource(s.Seed)),
		steps:      make(map[batchShape]*stepGraphs),
		translator: make(map[batchShape]*translateGraph),
	}
	if err = c.initNetworks(); err != nil {
		return nil, err
	}
	if err = c.initOptimizers(); err != nil {
		return nil, err
	}
	c.fakeHEPool = NewImagePool(s.PoolSize, rand.New(rand.NewSource(c.rng.Int63())))
	c.fakeP63Pool = NewImagePool(s.PoolSize, rand.New(rand.NewSource(c.rng.Int63())))

	c.heExplainer = explain.New(c.DiscriminatorHE, c.DiscriminatorHEMask, s.LambdaMaskAdversarialRatio, ramp, ctx, c.log.WithField("explainer", "he"))
	c.p63Explainer = explain.New(c.DiscriminatorP63, c.DiscriminatorP63Mask, s.LambdaMaskAdversarialRatio, ramp, ctx, c.log.WithField("explainer", "p63"))
	return c, nil
}

func (c *Controller) initNetworks() (err error) {
	gc, dc := c.generatorConfig(), c.discriminatorConfig()
	if c.GeneratorHEToP63, err = gan.NewGenerator(GeneratorHEToP63Key, gc); err != nil {
		return err
	}
	if c.GeneratorP63ToHE, err = gan.NewGenerator(GeneratorP63ToHEKey, gc); err != nil {
		return err
	}
	for _, d := range []struct {
		name string
		dst  **gan.Discriminator
	}{
		{DiscriminatorHEKey, &c.DiscriminatorHE},
		{DiscriminatorP63Key, &c.DiscriminatorP63},
		{DiscriminatorHEMaskKey, &c.DiscriminatorHEMask},
		{DiscriminatorP63MaskKey, &c.DiscriminatorP63Mask},
	} {
		if *d.dst, err = gan.NewDiscriminator(d.name, dc); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) initOptimizers() (err error) {
	if c.generatorOpt, err = optim.NewNAdam(c.nadam(c.LRGenerator)); err != nil {
		return err
	}
	if c.discriminatorHEOpt, err = optim.NewNAdam(c.nadam(c.LRDiscriminator)); err != nil {
		return err
	}
	c.discriminatorP63Opt, err = optim.NewNAdam(c.nadam(c.LRDiscriminator))
	return err
}

// State returns the mode of the controller.
func (c *Controller) State() State { return c.state }

// SetEvaluating switches the controller to the Evaluating state. The
// transition is one way: optimizers are dropped along with the training graphs.
func (c *Controller) SetEvaluating() error {
	if c.state == Evaluating {
		return nil
	}
	c.state = Evaluating
	err := c.closeSteps()
	c.generatorOpt, c.discriminatorHEOpt, c.discriminatorP63Opt = nil, nil, nil
	return err
}

// Context returns the execution context graphs are built for.
func (c *Controller) Context() gan.ExecContext { return c.ctx }

// Pools returns the pools of generated H&E and P63 images.
func (c *Controller) Pools() (he, p63 *ImagePool) { return c.fakeHEPool, c.fakeP63Pool }

// Explainers returns the explanation controllers of the H&E and P63 discriminators.
func (c *Controller) Explainers() (he, p63 *explain.Controller) { return c.heExplainer, c.p63Explainer }

// Optimizers returns the solvers of the generators and of both discriminator pairs.
// They are nil once the controller is evaluating.
func (c *Controller) Optimizers() (generator, he, p63 *optim.NAdam) {
	return c.generatorOpt, c.discriminatorHEOpt, c.discriminatorP63Opt
}

// Schedule sets the learning rates for an epoch.
func (c *Controller) Schedule(epoch int) {
	if c.state == Evaluating {
		return
	}
	optim.Apply(c.schedule, epoch, c.generatorOpt, c.discriminatorHEOpt, c.discriminatorP63Opt)
}

func (c *Controller) closeSteps() error {
	var errs manyErr
	for k, g := range c.steps {
		if err := g.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.steps, k)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Close releases every cached graph.
func (c *Controller) Close() error {
	var errs manyErr
	if err := c.closeSteps(); err != nil {
		errs = append(errs, err)
	}
	for k, g := range c.translator {
		if err := g.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.translator, k)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
