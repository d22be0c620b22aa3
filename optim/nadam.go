// Package optim holds the optimizer and learning rate schedule used to train
// the translation networks.
package optim

import (
	"bytes"
	"encoding/gob"
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// momentumDecay is the ψ term of the Nesterov momentum schedule.
const momentumDecay = 0.004

// NAdamConfig configures a NAdam solver. Weight decay is decoupled from the gradient.
type NAdamConfig struct {
	LearnRate   float64 `mapstructure:"lr"`
	Beta1       float64 `mapstructure:"beta1"`
	Beta2       float64 `mapstructure:"beta2"`
	Eps         float64 `mapstructure:"eps"`
	WeightDecay float64 `mapstructure:"weight_decay"`
}

// DefaultNAdamConfig returns the settings the networks are trained with.
func DefaultNAdamConfig() NAdamConfig {
	return NAdamConfig{
		LearnRate:   0.0002,
		Beta1:       0.5,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: 0.001,
	}
}

// Validate checks the hyperparameters.
func (c NAdamConfig) Validate() error {
	switch {
	case c.LearnRate <= 0:
		return errors.Errorf("learning rate must be positive, got %v", c.LearnRate)
	case c.Beta1 < 0 || c.Beta1 >= 1:
		return errors.Errorf("beta1 must be in [0, 1), got %v", c.Beta1)
	case c.Beta2 < 0 || c.Beta2 >= 1:
		return errors.Errorf("beta2 must be in [0, 1), got %v", c.Beta2)
	case c.Eps <= 0:
		return errors.Errorf("epsilon must be positive, got %v", c.Eps)
	case c.WeightDecay < 0:
		return errors.Errorf("weight decay must be non-negative, got %v", c.WeightDecay)
	}
	return nil
}

// NAdam is Adam with Nesterov momentum. It implements gorgonia's Solver interface.
// Gradients are used as they are; see ClipGradients.
//
// Moment buffers are matched to parameters by position, so every call to Step
// must pass the parameters of a group in the same order.
type NAdam struct {
	NAdamConfig
	base float64 // learn rate before scheduling

	state nadamState
}

type nadamState struct {
	Step      int
	MuProduct float64
	M, V      [][]float32
}

// NewNAdam creates a solver.
func NewNAdam(conf NAdamConfig) (*NAdam, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &NAdam{
		NAdamConfig: conf,
		base:        conf.LearnRate,
		state:       nadamState{MuProduct: 1},
	}, nil
}

// SetLearnRate sets the effective learning rate.
func (o *NAdam) SetLearnRate(lr float64) { o.LearnRate = lr }

// BaseLearnRate returns the rate the solver was configured with.
func (o *NAdam) BaseLearnRate() float64 { return o.base }

// Steps returns the number of steps taken.
func (o *NAdam) Steps() int { return o.state.Step }

// Step updates the values in place.
func (o *NAdam) Step(model []G.ValueGrad) (err error) {
	if o.state.M == nil {
		o.state.M = make([][]float32, len(model))
		o.state.V = make([][]float32, len(model))
	}
	if len(o.state.M) != len(model) {
		return errors.Errorf("solver holds state for %d parameters, got %d", len(o.state.M), len(model))
	}

	o.state.Step++
	t := float64(o.state.Step)
	mu := o.Beta1 * (1 - 0.5*math.Pow(0.96, t*momentumDecay))
	muNext := o.Beta1 * (1 - 0.5*math.Pow(0.96, (t+1)*momentumDecay))
	o.state.MuProduct *= mu
	muProductNext := o.state.MuProduct * muNext
	biasCorrection2 := 1 - math.Pow(o.Beta2, t)

	gradStep := float32(o.LearnRate * (1 - mu) / (1 - o.state.MuProduct))
	momentumStep := float32(o.LearnRate * muNext / (1 - muProductNext))
	decay := float32(1 - o.LearnRate*o.WeightDecay)
	b1, b2 := float32(o.Beta1), float32(o.Beta2)
	eps := float32(o.Eps)
	bc2 := float32(biasCorrection2)

	for i, n := range model {
		var grad G.Value
		if grad, err = n.Grad(); err != nil {
			return errors.Wrapf(err, "no gradient for parameter %d", i)
		}
		w, ok := n.Value().Data().([]float32)
		if !ok {
			return errors.Errorf("parameter %d is not float32", i)
		}
		g, ok := grad.Data().([]float32)
		if !ok || len(g) != len(w) {
			return errors.Errorf("gradient %d does not match its parameter", i)
		}
		if o.state.M[i] == nil {
			o.state.M[i] = make([]float32, len(w))
			o.state.V[i] = make([]float32, len(w))
		}
		m, v := o.state.M[i], o.state.V[i]
		if len(m) != len(w) {
			return errors.Errorf("parameter %d changed size from %d to %d", i, len(m), len(w))
		}

		for j := range w {
			w[j] *= decay
			m[j] = b1*m[j] + (1-b1)*g[j]
			v[j] = b2*v[j] + (1-b2)*g[j]*g[j]
			denom := math32.Sqrt(v[j]/bc2) + eps
			w[j] -= gradStep * g[j] / denom
			w[j] -= momentumStep * m[j] / denom
		}
	}
	return nil
}

// GobEncode encodes the solver state and configuration.
func (o *NAdam) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(o.NAdamConfig); err != nil {
		return nil, err
	}
	if err := enc.Encode(o.base); err != nil {
		return nil, err
	}
	if err := enc.Encode(o.state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode restores a solver written by GobEncode.
func (o *NAdam) GobDecode(p []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(p))
	if err := dec.Decode(&o.NAdamConfig); err != nil {
		return errors.WithStack(err)
	}
	if err := dec.Decode(&o.base); err != nil {
		return errors.WithStack(err)
	}
	o.state = nadamState{}
	if err := dec.Decode(&o.state); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
