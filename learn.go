package cyclestain

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gorgonia/cyclestain/encoding/grid"
)

// Captions of the logged image grids.
const (
	PairsCaption       = "Top row HE->P63, Bottom P63->HE, L to R orig., transf., reconstr."
	PairedPairsCaption = "Paired"
)

// Archiver keeps saved checkpoints somewhere else, e.g. in object storage.
type Archiver interface {
	Archive(ctx context.Context, filename string) error
}

// SetArchiver sets where checkpoints are archived after they are saved.
func (c *Controller) SetArchiver(a Archiver) { c.archiver = a }

// Grid lays the translations of the first image of each batch out in two rows:
// H&E→P63 on top, P63→H&E below; original, translated and reconstructed from left to right.
func (t Translations) Grid(c *Controller) (image.Image, error) {
	return grid.Compose(c.Norm,
		[]grid.Cell{{Image: t.RealHE}, {Image: t.FakeP63}, {Image: t.CycledHE}},
		[]grid.Cell{{Image: t.RealP63}, {Image: t.FakeHE}, {Image: t.CycledP63}},
	)
}

// Log reports the running means of the losses to the sink and keeps them in the history.
func (c *Controller) Log(epoch int) error {
	means := c.Means()
	c.Statistics.record(epoch, means)
	fields := make(logrus.Fields, len(means)+1)
	for k, v := range means {
		fields[k] = v
	}
	fields["epoch"] = epoch
	c.log.WithFields(fields).Info("losses")
	if c.sink == nil {
		return nil
	}
	return errors.Wrap(c.sink.LogScalars(epoch, means), "logging losses")
}

// LogImages translates the next held-out pair and sends the grid to the sink.
func (c *Controller) LogImages(epoch int, he, p63 Samples) error {
	return c.logImages(epoch, c.ImagePairs, he, p63, PairsCaption)
}

// LogImagesPaired is LogImages over the paired cursor of the held-out data.
func (c *Controller) LogImagesPaired(epoch int, he, p63 Samples) error {
	return c.logImages(epoch, c.ImagePairsPaired, he, p63, PairedPairsCaption)
}

func (c *Controller) logImages(epoch int, pairs func(he, p63 Samples) (Translations, error), he, p63 Samples, caption string) error {
	if c.sink == nil || he == nil || p63 == nil {
		return nil
	}
	t, err := pairs(he, p63)
	if err != nil {
		return err
	}
	img, err := t.Grid(c)
	if err != nil {
		return err
	}
	return errors.Wrap(c.sink.LogImage(epoch, img, caption), "logging images")
}

// Learn trains from the current epoch until Epochs. Each epoch is one pass over
// the shorter of the two training sets. Every LogFrequency steps the losses and a
// grid of held-out translations are logged. A checkpoint is saved after every
// epoch when CheckpointDir is set. The held-out samples may be nil.
func (c *Controller) Learn(ctx context.Context, trainHE, trainP63 Batches, testHE, testP63 Samples) error {
	if c.state == Evaluating {
		return ErrEvaluating
	}
	for c.Epoch < c.Epochs {
		c.Schedule(c.Epoch)
		start := time.Now()
		steps, err := c.trainEpoch(ctx, trainHE, trainP63, testHE, testP63)
		if err != nil {
			return errors.WithMessagef(err, "epoch %d", c.Epoch)
		}
		genOpt, _, _ := c.Optimizers()
		c.log.WithFields(logrus.Fields{
			"epoch":    c.Epoch,
			"steps":    steps,
			"lr":       genOpt.LearnRate,
			"duration": time.Since(start),
		}).Info("epoch done")

		c.Epoch++
		if c.CheckpointDir == "" {
			continue
		}
		filename := c.CheckpointPath(c.Epoch)
		if err = c.Save(filename); err != nil {
			return errors.WithMessage(err, "saving checkpoint")
		}
		if c.archiver != nil {
			if err = c.archiver.Archive(ctx, filename); err != nil {
				c.log.WithError(err).WithField("checkpoint", filename).Warn("archiving failed")
			}
		}
	}
	return nil
}

func (c *Controller) trainEpoch(ctx context.Context, trainHE, trainP63 Batches, testHE, testP63 Samples) (steps int, err error) {
	if err = trainHE.Reset(ctx); err != nil {
		return 0, err
	}
	if err = trainP63.Reset(ctx); err != nil {
		return 0, err
	}
	for {
		if err = ctx.Err(); err != nil {
			return steps, err
		}
		he, err := trainHE.Next()
		if err == io.EOF {
			return steps, nil
		}
		if err != nil {
			return steps, err
		}
		p63, err := trainP63.Next()
		if err == io.EOF {
			return steps, nil
		}
		if err != nil {
			return steps, err
		}
		if err = c.TrainingStep(he, p63); err != nil {
			return steps, errors.WithMessagef(err, "step %d", steps)
		}
		steps++
		if steps%c.LogFrequency != 0 {
			continue
		}
		if err = c.Log(c.Epoch); err != nil {
			c.log.WithError(err).Warn("logging failed")
		}
		if err = c.LogImages(c.Epoch, testHE, testP63); err != nil {
			c.log.WithError(err).Warn("logging images failed")
		}
		if err = c.LogImagesPaired(c.Epoch, testHE, testP63); err != nil {
			c.log.WithError(err).Warn("logging paired images failed")
		}
	}
}
