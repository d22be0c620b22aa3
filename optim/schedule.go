package optim

import "github.com/pkg/errors"

// Scheduler computes a learning rate multiplier for an epoch.
type Scheduler interface {
	Multiplier(epoch int) float64
}

// LinearDecay keeps the multiplier at 1 until DecayEpoch and then decays it
// linearly to 0 at Epochs.
type LinearDecay struct {
	Epochs     int
	DecayEpoch int
}

// NewLinearDecay validates the epoch bounds.
func NewLinearDecay(epochs, decayEpoch int) (LinearDecay, error) {
	if epochs <= 0 {
		return LinearDecay{}, errors.Errorf("epochs must be positive, got %d", epochs)
	}
	if decayEpoch < 0 || decayEpoch >= epochs {
		return LinearDecay{}, errors.Errorf("decay epoch %d must be in [0, %d)", decayEpoch, epochs)
	}
	return LinearDecay{Epochs: epochs, DecayEpoch: decayEpoch}, nil
}

// Multiplier implements Scheduler.
func (s LinearDecay) Multiplier(epoch int) float64 {
	if epoch <= s.DecayEpoch {
		return 1
	}
	if epoch >= s.Epochs {
		return 0
	}
	return 1 - float64(epoch-s.DecayEpoch)/float64(s.Epochs-s.DecayEpoch)
}

// Apply sets the learning rate of every solver to its base rate scaled for epoch.
func Apply(s Scheduler, epoch int, solvers ...*NAdam) {
	k := s.Multiplier(epoch)
	for _, o := range solvers {
		o.SetLearnRate(o.BaseLearnRate() * k)
	}
}
