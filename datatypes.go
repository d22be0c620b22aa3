package cyclestain

import (
	"context"
	"image"

	"gorgonia.org/tensor"
)

// Sink receives what a training run reports. Implementations live in package tracking.
type Sink interface {
	// LogScalars receives the running mean of every loss channel.
	LogScalars(epoch int, values map[string]float64) error
	// LogImage receives a composited grid of sample translations.
	LogImage(epoch int, grid image.Image, caption string) error
}

// Batches yields batches of normalized images, one (N,C,H,W) tensor per call.
type Batches interface {
	// Reset starts a new pass over the data in a new order.
	Reset(ctx context.Context) error
	// Next returns io.EOF once the pass is exhausted.
	Next() (*tensor.Dense, error)
}

// Samples hands out single held-out images, one (C,H,W) tensor per call. The two
// methods walk the data with independent cursors, wrapping around at the end.
type Samples interface {
	Sequential() (*tensor.Dense, error)
	Sequential2() (*tensor.Dense, error)
}

// Losses holds the losses of the latest training step.
type Losses struct {
	Generator        float64 // total generator loss
	GeneratorHEToP63 float64 // adversarial loss of the H&E→P63 generator
	GeneratorP63ToHE float64 // adversarial loss of the P63→H&E generator
	DiscriminatorHE  float64
	DiscriminatorP63 float64
	Identity         float64
	Cycle            float64
	Context          float64
	CycleContext     float64
}

// Translations are the images produced for one pair of batches.
type Translations struct {
	RealHE, RealP63     *tensor.Dense
	FakeHE, FakeP63     *tensor.Dense
	CycledHE, CycledP63 *tensor.Dense
	MaskHE, MaskP63     *tensor.Dense
}
