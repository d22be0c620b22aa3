package cyclestain

import (
	"context"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	gan "github.com/gorgonia/cyclestain/gannet"
)

const testSize = 32

func testSettings() Settings {
	s := DefaultSettings()
	s.ImageSize = testSize
	s.BatchSize = 2
	s.Workers = 1
	s.GeneratorDownconvFilters = 4
	s.DiscriminatorDownconvFilters = 2
	s.NumResnetBlocks = 1
	s.MaskType = "ones"
	s.PoolSize = 2
	s.LogFrequency = 1
	s.Epochs = 1
	s.DecayEpoch = 0
	s.CheckpointDir = ""
	return s
}

func testLogger() logrus.FieldLogger {
	log, _ := logtest.NewNullLogger()
	return log
}

type recordingSink struct {
	scalars []map[string]float64
	grids   []image.Image
	labels  []string
}

func (s *recordingSink) LogScalars(epoch int, values map[string]float64) error {
	s.scalars = append(s.scalars, values)
	return nil
}

func (s *recordingSink) LogImage(epoch int, grid image.Image, caption string) error {
	s.grids = append(s.grids, grid)
	s.labels = append(s.labels, caption)
	return nil
}

type fixedBatches struct {
	batches []*tensor.Dense
	i       int
}

func (b *fixedBatches) Reset(ctx context.Context) error { b.i = 0; return nil }

func (b *fixedBatches) Next() (*tensor.Dense, error) {
	if b.i >= len(b.batches) {
		return nil, io.EOF
	}
	b.i++
	return b.batches[b.i-1], nil
}

type fixedSamples struct{ v float32 }

func (s fixedSamples) Sequential() (*tensor.Dense, error) {
	return tensor.New(tensor.WithShape(3, testSize, testSize), tensor.WithBacking(make([]float32, 3*testSize*testSize))), nil
}

func (s fixedSamples) Sequential2() (*tensor.Dense, error) { return s.Sequential() }

func finite(t *testing.T, name string, v float64) {
	assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%s is %v", name, v)
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())
	require.NoError(t, testSettings().Validate())

	for _, mod := range []func(*Settings){
		func(s *Settings) { s.BatchSize = 0 },
		func(s *Settings) { s.ImageSize = 30 },
		func(s *Settings) { s.ImageSize = 16 },
		func(s *Settings) { s.CropSize = 64 },
		func(s *Settings) { s.Channels = 1 },
		func(s *Settings) { s.LambdaMaskAdversarialRatio = 1.5 },
		func(s *Settings) { s.DecayEpoch = s.Epochs },
		func(s *Settings) { s.MaskType = "nope" },
		func(s *Settings) { s.ExplanationRampType = "nope" },
		func(s *Settings) { s.Precision = "float8" },
		func(s *Settings) { s.Norm.LStd = 0 },
		func(s *Settings) { s.GradientClip = 0 },
	} {
		s := testSettings()
		mod(&s)
		assert.Error(t, s.Validate(), "%+v", s)
	}

	_, err := New(Settings{}, nil, testLogger())
	assert.Error(t, err)
}

func TestTrainingStep(t *testing.T) {
	c, err := New(testSettings(), nil, testLogger())
	require.NoError(t, err)
	defer c.Close()

	he := batch(4, 3, testSize, testSize, 0)
	p63 := batch(4, 3, testSize, testSize, 0)
	for i := 0; i < 2; i++ {
		require.NoError(t, c.TrainingStep(he, p63))
	}
	l := c.Latest
	for name, v := range map[string]float64{
		"generator":         l.Generator,
		"generator_ab":      l.GeneratorHEToP63,
		"generator_ba":      l.GeneratorP63ToHE,
		"discriminator_he":  l.DiscriminatorHE,
		"discriminator_p63": l.DiscriminatorP63,
		"cycle":             l.Cycle,
		"identity":          l.Identity,
		"context":           l.Context,
		"cycle_context":     l.CycleContext,
	} {
		finite(t, name, v)
	}
	assert.True(t, l.DiscriminatorHE >= 0)
	assert.True(t, l.DiscriminatorP63 >= 0)

	hePool, p63Pool := c.Pools()
	assert.Equal(t, 2, hePool.Len())
	assert.Equal(t, 2, p63Pool.Len())

	sg, ok := c.steps[batchShape{4, testSize, testSize}]
	require.True(t, ok)
	for _, model := range []G.Nodes{sg.gen.model, sg.discHE.model, sg.discP63.model} {
		for _, vg := range G.NodesToValueGrads(model) {
			grad, err := vg.Grad()
			require.NoError(t, err)
			for _, v := range grad.Data().([]float32) {
				if math.IsNaN(float64(v)) || math.Abs(float64(v)) > c.GradientClip {
					t.Fatalf("gradient %v outside [-%v, %v]", v, c.GradientClip, c.GradientClip)
				}
			}
		}
	}

	// batches of different sizes are truncated
	require.NoError(t, c.TrainingStep(batch(1, 3, testSize, testSize, 0), p63))
}

func TestNonFiniteLossTerm(t *testing.T) {
	c, err := New(testSettings(), nil, testLogger())
	require.NoError(t, err)
	defer c.Close()
	c.LambdaAdversarial = math.Inf(1)

	img := batch(2, 3, testSize, testSize, 0)
	require.NoError(t, c.TrainingStep(img, img))

	l := c.Latest
	assert.Equal(t, 1.0, l.GeneratorHEToP63)
	assert.Equal(t, 1.0, l.GeneratorP63ToHE)
	assert.True(t, l.Cycle > 0)
	assert.InDelta(t, 2+l.Cycle+l.Identity+l.Context+l.CycleContext, l.Generator, 1e-9)

	for _, p := range []*gan.Params{c.GeneratorHEToP63.Params, c.GeneratorP63ToHE.Params} {
		for _, name := range p.Names() {
			for _, v := range p.Get(name).Data().([]float32) {
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					t.Fatalf("%s/%s holds %v", p.Name(), name, v)
				}
			}
		}
	}
}

func TestEvaluating(t *testing.T) {
	c, err := New(testSettings(), nil, testLogger())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, Training, c.State())

	require.NoError(t, c.SetEvaluating())
	assert.Equal(t, Evaluating, c.State())
	assert.Equal(t, "EVAL", c.State().String())
	g, he, p63 := c.Optimizers()
	assert.Nil(t, g)
	assert.Nil(t, he)
	assert.Nil(t, p63)

	img := batch(2, 3, testSize, testSize, 0)
	assert.Equal(t, ErrEvaluating, c.TrainingStep(img, img))
	assert.Equal(t, ErrEvaluating, c.Learn(context.Background(), &fixedBatches{}, &fixedBatches{}, nil, nil))

	tr, err := c.EvalStep(img, img)
	require.NoError(t, err)
	for _, out := range []*tensor.Dense{tr.FakeHE, tr.FakeP63, tr.CycledHE, tr.CycledP63} {
		require.NotNil(t, out)
		assert.Equal(t, img.Shape(), out.Shape())
	}
	assert.Equal(t, tensor.Shape{2, 1, testSize, testSize}, tr.MaskHE.Shape())

	edited, err := c.Edit(HEToP63, img, make([]float32, c.GeneratorHEToP63.Filters/2))
	require.NoError(t, err)
	assert.Equal(t, img.Shape(), edited.Shape())
	_, err = c.Edit(P63ToHE, img, []float32{1})
	assert.Error(t, err)
}

func TestCheckpoint(t *testing.T) {
	c, err := New(testSettings(), nil, testLogger())
	require.NoError(t, err)
	defer c.Close()
	img := batch(2, 3, testSize, testSize, 0)
	require.NoError(t, c.TrainingStep(img, img))
	c.Epoch = 3

	filename := filepath.Join(t.TempDir(), "run.ckpt")
	require.NoError(t, c.Save(filename))

	loaded, err := Load(filename, Training, nil, testLogger())
	require.NoError(t, err)
	defer loaded.Close()
	assert.Equal(t, 3, loaded.Epoch)
	assert.Equal(t, c.Settings, loaded.Settings)
	for k, p := range c.networks() {
		q := loaded.networks()[k]
		require.Equal(t, p.Names(), q.Names(), k)
		for _, name := range p.Names() {
			assert.Equal(t, p.Get(name).Data(), q.Get(name).Data(), "%s/%s", k, name)
		}
	}

	evaluating, err := Load(filename, Evaluating, nil, testLogger())
	require.NoError(t, err)
	defer evaluating.Close()
	assert.Equal(t, Evaluating, evaluating.State())

	ckpt, err := c.Checkpoint()
	require.NoError(t, err)
	assert.Len(t, ckpt.Networks, 6)
	assert.Len(t, ckpt.Optimizers, 3)
	delete(ckpt.Networks, GeneratorHEToP63Key)
	_, err = FromCheckpoint(ckpt, Training, nil, testLogger())
	assert.Equal(t, ErrMissingNetwork, errors.Cause(err))
}

func TestCheckpointCorrupted(t *testing.T) {
	c, err := New(testSettings(), nil, testLogger())
	require.NoError(t, err)
	defer c.Close()

	ckpt, err := c.Checkpoint()
	require.NoError(t, err)
	data := ckpt.Networks[DiscriminatorHEKey]
	ckpt.Networks[DiscriminatorHEKey] = data[:len(data)/2]
	loaded, err := FromCheckpoint(ckpt, Training, nil, testLogger())
	assert.Error(t, err)
	assert.Nil(t, loaded)

	ckpt, err = c.Checkpoint()
	require.NoError(t, err)
	ckpt.Optimizers = map[string][]byte{}
	loaded, err = FromCheckpoint(ckpt, Training, nil, testLogger())
	assert.Error(t, err)
	assert.Nil(t, loaded)

	loaded, err = FromCheckpoint(ckpt, Evaluating, nil, testLogger())
	require.NoError(t, err)
	assert.NoError(t, loaded.Close())
}

type archived struct{ files []string }

func (a *archived) Archive(ctx context.Context, filename string) error {
	a.files = append(a.files, filename)
	return errors.New("bucket unavailable")
}

func TestLearn(t *testing.T) {
	s := testSettings()
	s.CheckpointDir = t.TempDir()
	sink := new(recordingSink)
	c, err := New(s, sink, testLogger())
	require.NoError(t, err)
	defer c.Close()
	a := new(archived)
	c.SetArchiver(a)

	img := batch(2, 3, testSize, testSize, 0)
	he := &fixedBatches{batches: []*tensor.Dense{img, img, img}}
	p63 := &fixedBatches{batches: []*tensor.Dense{img, img}}
	require.NoError(t, c.Learn(context.Background(), he, p63, fixedSamples{}, fixedSamples{}))

	assert.Equal(t, 1, c.Epoch)
	require.Len(t, sink.scalars, 2)
	for _, ch := range Channels {
		assert.Contains(t, sink.scalars[0], ch)
	}
	require.Len(t, sink.grids, 4)
	assert.Equal(t, []string{PairsCaption, PairedPairsCaption, PairsCaption, PairedPairsCaption}, sink.labels)
	assert.Equal(t, []int{0, 0}, c.Reported)

	filename := c.CheckpointPath(1)
	_, err = os.Stat(filename)
	require.NoError(t, err)
	assert.Equal(t, []string{filename}, a.files)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Epoch = 0
	assert.Equal(t, context.Canceled, errors.Cause(c.Learn(ctx, he, p63, nil, nil)))
}
