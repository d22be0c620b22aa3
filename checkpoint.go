package cyclestain

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	gan "github.com/gorgonia/cyclestain/gannet"
	"github.com/gorgonia/cyclestain/optim"
)

// Checkpoint keys of the networks.
const (
	GeneratorHEToP63Key     = "generator_he_to_p63"
	GeneratorP63ToHEKey     = "generator_p63_to_he"
	DiscriminatorHEKey      = "discriminator_he"
	DiscriminatorP63Key     = "discriminator_p63"
	DiscriminatorHEMaskKey  = "discriminator_he_mask"
	DiscriminatorP63MaskKey = "discriminator_p63_mask"
)

// Checkpoint keys of the optimizers.
const (
	GeneratorOptimizerKey        = "generator"
	DiscriminatorHEOptimizerKey  = DiscriminatorHEKey
	DiscriminatorP63OptimizerKey = DiscriminatorP63Key
)

// ErrMissingNetwork is the cause of a load failure when a checkpoint lacks a network.
var ErrMissingNetwork = errors.New("checkpoint is missing a network")

// Checkpoint is what is written to disk. Networks are rebuilt from Settings and
// their parameters are then loaded by exact key.
type Checkpoint struct {
	Settings   Settings
	Epoch      int
	Networks   map[string][]byte
	Optimizers map[string][]byte
}

func (c *Controller) networks() map[string]*gan.Params {
	return map[string]*gan.Params{
		GeneratorHEToP63Key:     c.GeneratorHEToP63.Params,
		GeneratorP63ToHEKey:     c.GeneratorP63ToHE.Params,
		DiscriminatorHEKey:      c.DiscriminatorHE.Params,
		DiscriminatorP63Key:     c.DiscriminatorP63.Params,
		DiscriminatorHEMaskKey:  c.DiscriminatorHEMask.Params,
		DiscriminatorP63MaskKey: c.DiscriminatorP63Mask.Params,
	}
}

func (c *Controller) optimizers() map[string]*optim.NAdam {
	return map[string]*optim.NAdam{
		GeneratorOptimizerKey:        c.generatorOpt,
		DiscriminatorHEOptimizerKey:  c.discriminatorHEOpt,
		DiscriminatorP63OptimizerKey: c.discriminatorP63Opt,
	}
}

// Checkpoint snapshots the controller.
func (c *Controller) Checkpoint() (*Checkpoint, error) {
	ckpt := &Checkpoint{
		Settings:   c.Settings,
		Epoch:      c.Epoch,
		Networks:   make(map[string][]byte),
		Optimizers: make(map[string][]byte),
	}
	for k, p := range c.networks() {
		data, err := p.GobEncode()
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s", k)
		}
		ckpt.Networks[k] = data
	}
	if c.state == Evaluating {
		return ckpt, nil
	}
	for k, o := range c.optimizers() {
		data, err := o.GobEncode()
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s optimizer", k)
		}
		ckpt.Optimizers[k] = data
	}
	return ckpt, nil
}

// Save writes a checkpoint to filename.
func (c *Controller) Save(filename string) error {
	ckpt, err := c.Checkpoint()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err = gob.NewEncoder(&buf).Encode(ckpt); err != nil {
		return errors.WithStack(err)
	}
	if dir := filepath.Dir(filename); dir != "" {
		if err = os.MkdirAll(dir, 0755); err != nil {
			return errors.WithStack(err)
		}
	}
	tmp := filename + ".tmp"
	if err = os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp, filename))
}

// CheckpointPath is where the checkpoint of an epoch is saved.
func (c *Controller) CheckpointPath(epoch int) string {
	return filepath.Join(c.CheckpointDir, c.Name+"_"+strconv.Itoa(epoch)+".ckpt")
}

// ReadCheckpoint reads a checkpoint written by Save.
func ReadCheckpoint(filename string) (*Checkpoint, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	ckpt := new(Checkpoint)
	if err = gob.NewDecoder(f).Decode(ckpt); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", filename)
	}
	return ckpt, nil
}

// Load rebuilds a controller from a checkpoint file. In the Training state the
// optimizers are restored and training continues; in the Evaluating state only
// the networks are loaded. A missing network or a mismatched parameter is an error.
func Load(filename string, state State, sink Sink, log logrus.FieldLogger) (*Controller, error) {
	ckpt, err := ReadCheckpoint(filename)
	if err != nil {
		return nil, err
	}
	return FromCheckpoint(ckpt, state, sink, log)
}

// FromCheckpoint rebuilds a controller from a checkpoint. On error the
// partially built controller is closed.
func FromCheckpoint(ckpt *Checkpoint, state State, sink Sink, log logrus.FieldLogger) (_ *Controller, err error) {
	c, err := New(ckpt.Settings, sink, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()
	for k, p := range c.networks() {
		data, ok := ckpt.Networks[k]
		if !ok {
			return nil, errors.Wrap(ErrMissingNetwork, k)
		}
		if err = p.GobDecode(data); err != nil {
			return nil, errors.Wrapf(err, "loading %s", k)
		}
	}
	c.Epoch = ckpt.Epoch

	if state == Evaluating {
		if err = c.SetEvaluating(); err != nil {
			return nil, err
		}
		return c, nil
	}
	for k, o := range c.optimizers() {
		data, ok := ckpt.Optimizers[k]
		if !ok {
			return nil, errors.Errorf("checkpoint has no state for the %s optimizer", k)
		}
		if err = o.GobDecode(data); err != nil {
			return nil, errors.Wrapf(err, "loading %s optimizer", k)
		}
	}
	c.Schedule(c.Epoch)
	c.log.WithField("epoch", c.Epoch).Info("resumed from checkpoint")
	return c, nil
}
