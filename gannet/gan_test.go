package gan

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const testSize = 32

func testGenerator(t *testing.T, name string) *Generator {
	gen, err := NewGenerator(name, GeneratorConfig{Channels: 3, Filters: 4, ResBlocks: 1})
	require.NoError(t, err)
	return gen
}

func testDiscriminator(t *testing.T, name string) *Discriminator {
	d, err := NewDiscriminator(name, DiscriminatorConfig{Channels: 3, Filters: 2})
	require.NoError(t, err)
	return d
}

func randomImages(n, c int) *tensor.Dense {
	return tensor.New(tensor.WithShape(n, c, testSize, testSize), tensor.WithBacking(G.Gaussian(0, 1)(Float, n, c, testSize, testSize)))
}

func filled(v float32, shape ...int) *tensor.Dense {
	backing := make([]float32, tensor.Shape(shape).TotalSize())
	for i := range backing {
		backing[i] = v
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

func TestGeneratorShapes(t *testing.T) {
	assert := assert.New(t)
	ab := testGenerator(t, "ab")
	ba := testGenerator(t, "ba")

	b := NewBuilder(DefaultContext())
	img := b.Input("img", 2, 3, testSize, testSize)
	mask := b.Input("mask", 2, 1, testSize, testSize)
	fake := ab.Fwd(b, img, mask, nil)
	cycled := ba.Fwd(b, fake.Image, mask, nil)
	require.NoError(t, b.Err())

	m := G.NewTapeMachine(b.Graph())
	defer m.Close()
	require.NoError(t, G.Let(img, randomImages(2, 3)))
	require.NoError(t, G.Let(mask, filled(1, 2, 1, testSize, testSize)))
	require.NoError(t, m.RunAll())

	assert.Equal(tensor.Shape{2, 3, testSize, testSize}, fake.Image.Value().Shape())
	assert.Equal(tensor.Shape{2, 3, testSize, testSize}, cycled.Image.Value().Shape())
	assert.Equal(tensor.Shape{2, 32, 4, 4}, fake.Bottleneck.Value().Shape())
	assert.Equal(tensor.Shape{2, 32, 4, 4}, fake.Residual.Value().Shape())
	assert.Equal(tensor.Shape{2, 3, testSize, testSize}, fake.Final.Value().Shape())
}

func TestGeneratorRejectsSize(t *testing.T) {
	gen := testGenerator(t, "ab")
	b := NewBuilder(DefaultContext())
	img := b.Input("img", 1, 3, 36, 36)
	gen.Fwd(b, img, nil, nil)
	assert.Error(t, b.Err())
	assert.Error(t, CheckSize(36, 32))
	assert.NoError(t, CheckSize(256, 256))
}

func TestDiscriminator(t *testing.T) {
	d := testDiscriminator(t, "d")
	b := NewBuilder(DefaultContext())
	x := b.Input("x", 2, 3, testSize, testSize)
	patches := d.Fwd(b, x)
	lf := d.LossFake(b, x)
	cost := b.do(func() (*G.Node, error) { return G.Sum(lf) })
	require.NoError(t, b.Err())

	model := b.Model(d.Params)
	_, err := G.Grad(cost, append(model, x)...)
	require.NoError(t, err)
	m := G.NewTapeMachine(b.Graph(), G.BindDualValues(model...))
	defer m.Close()
	require.NoError(t, G.Let(x, randomImages(2, 3)))
	require.NoError(t, m.RunAll())

	assert.Equal(t, tensor.Shape{2, 1, 2, 2}, patches.Value().Shape())
	assert.Equal(t, tensor.Shape{2, 1, 1, 1}, lf.Value().Shape())
	grad, err := x.Grad()
	require.NoError(t, err)
	assert.Equal(t, x.Shape(), grad.Shape())
	for _, n := range model {
		g, err := n.Grad()
		require.NoError(t, err, n.Name())
		assert.Equal(t, n.Shape(), g.Shape(), n.Name())
	}
}

func TestGeneratorProbe(t *testing.T) {
	gen := testGenerator(t, "ab")
	d := testDiscriminator(t, "d")
	b := NewBuilder(DefaultContext())
	img := b.Input("img", 1, 3, testSize, testSize)
	probe := b.Input("probe", 1, 3, testSize, testSize)
	out := gen.Fwd(b, img, nil, probe)
	cost := b.MSE(d.Fwd(b, out.Image), 1)
	require.NoError(t, b.Err())

	model := b.Model(gen.Params)
	_, err := G.Grad(cost, append(model, probe)...)
	require.NoError(t, err)
	m := G.NewTapeMachine(b.Graph(), G.BindDualValues(model...))
	defer m.Close()
	require.NoError(t, G.Let(img, randomImages(1, 3)))
	require.NoError(t, G.Let(probe, filled(0, 1, 3, testSize, testSize)))
	require.NoError(t, m.RunAll())

	grad, err := probe.Grad()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, testSize, testSize}, grad.Shape())
	assert.True(t, Scalar(cost.Value()) >= 0)
}

func TestFiltersPreserveConstants(t *testing.T) {
	b := NewBuilder(DefaultContext())
	x := b.Input("x", 1, 3, 8, 8)
	smooth := b.jointBilateral(x, x)
	sharp := b.unsharp(x)
	require.NoError(t, b.Err())

	m := G.NewTapeMachine(b.Graph())
	defer m.Close()
	require.NoError(t, G.Let(x, filled(0.7, 1, 3, 8, 8)))
	require.NoError(t, m.RunAll())

	for _, v := range smooth.Value().Data().([]float32) {
		assert.InDelta(t, 0.7, v, 1e-4)
	}
	for _, v := range sharp.Value().Data().([]float32) {
		assert.InDelta(t, 0.7, v, 1e-4)
	}
}

func TestUpsample(t *testing.T) {
	b := NewBuilder(DefaultContext())
	x := b.Input("x", 1, 1, 2, 2)
	up := b.upsample(x)
	cost := b.do(func() (*G.Node, error) { return G.Sum(up) })
	require.NoError(t, b.Err())
	_, err := G.Grad(cost, x)
	require.NoError(t, err)

	m := G.NewTapeMachine(b.Graph())
	defer m.Close()
	require.NoError(t, G.Let(x, tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking([]float32{1, 2, 3, 4}))))
	require.NoError(t, m.RunAll())

	assert.Equal(t, tensor.Shape{1, 1, 4, 4}, up.Value().Shape())
	assert.Equal(t, []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, up.Value().Data())
	grad, err := x.Grad()
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 4, 4, 4}, grad.Data())
}

func TestUpBlock(t *testing.T) {
	p := NewParams("up")
	p.conv("block", 2, 3, 3, false)

	b := NewBuilder(DefaultContext())
	x := b.Input("x", 2, 2, 4, 4)
	out := b.upBlock(p, "block", x)
	require.NoError(t, b.Err())

	m := G.NewTapeMachine(b.Graph())
	defer m.Close()
	require.NoError(t, G.Let(x, filled(0.5, 2, 2, 4, 4)))
	require.NoError(t, m.RunAll())
	assert.Equal(t, tensor.Shape{2, 3, 8, 8}, out.Value().Shape())
}

func TestAttentionLargeScores(t *testing.T) {
	p := NewParams("att")
	p.attention("att", 4, 2)
	require.NoError(t, p.Get("att.gamma").Memset(float32(1)))

	b := NewBuilder(DefaultContext())
	skip := b.Input("skip", 1, 4, 4, 4)
	res := b.Input("res", 1, 4, 4, 4)
	out := b.attention(p, "att", skip, res)
	require.NoError(t, b.Err())

	m := G.NewTapeMachine(b.Graph())
	defer m.Close()
	require.NoError(t, G.Let(skip, filled(1e4, 1, 4, 4, 4)))
	require.NoError(t, G.Let(res, filled(1, 1, 4, 4, 4)))
	require.NoError(t, m.RunAll())
	assert.Equal(t, tensor.Shape{1, 4, 4, 4}, out.Value().Shape())
	for i, v := range out.Value().Data().([]float32) {
		require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0), "element %d is %v", i, v)
	}
}

func TestParamsGob(t *testing.T) {
	a := testDiscriminator(t, "d")
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(a.Params))

	b := testDiscriminator(t, "d")
	require.NoError(t, gob.NewDecoder(&buf).Decode(b.Params))
	for i, name := range a.Names() {
		if !cmp.Equal(a.values[i].Data(), b.Get(name).Data()) {
			t.Errorf("%s differs after decoding", name)
		}
	}

	buf.Reset()
	require.NoError(t, gob.NewEncoder(&buf).Encode(a.Params))
	bigger, err := NewDiscriminator("d", DiscriminatorConfig{Channels: 3, Filters: 4})
	require.NoError(t, err)
	err = gob.NewDecoder(&buf).Decode(bigger.Params)
	require.Error(t, err)

	truncated := paramsRecord{Names: a.Names(), Shapes: shapesOf(a.values)}
	for _, v := range a.values {
		truncated.Data = append(truncated.Data, v.Data().([]float32)[1:])
	}
	buf.Reset()
	require.NoError(t, gob.NewEncoder(&buf).Encode(truncated))
	assert.Error(t, a.GobDecode(buf.Bytes()))
}

func TestParamsCopyFrom(t *testing.T) {
	a := testGenerator(t, "ab")
	b := testGenerator(t, "ab")
	require.NoError(t, b.CopyFrom(a.Params))
	assert.Equal(t, a.Get("enc1.w").Data(), b.Get("enc1.w").Data())
	assert.Equal(t, a.Size(), b.Size())

	d := testDiscriminator(t, "d")
	assert.Error(t, d.CopyFrom(a.Params))
}

func TestExecContext(t *testing.T) {
	assert := assert.New(t)
	assert.NoError(DefaultContext().Validate())
	assert.Error(ExecContext{Device: Device(3)}.Validate())

	p, err := ParsePrecision("bf16")
	assert.NoError(err)
	assert.Equal(BFloat16, p)
	_, err = ParsePrecision("int8")
	assert.Error(err)

	a := []float32{1.00390625, 1.01171875, 0.1}
	ExecContext{Precision: BFloat16}.RoundSlice(a)
	assert.Equal(float32(1), a[0])
	assert.Equal(float32(1.015625), a[1])

	h := []float32{0.1}
	ExecContext{Precision: Float16}.RoundSlice(h)
	assert.InDelta(0.0999755859375, h[0], 1e-9)

	x := filled(0.1, 2)
	assert.True(DefaultContext().Round(x) == x)
	y := ExecContext{Precision: Float16}.Round(x)
	assert.False(y == x)
	assert.Equal(float32(0.1), x.Data().([]float32)[0])
}

func TestActivationString(t *testing.T) {
	assert.Equal(t, "lrelu", LeakyReLU.String())
	assert.Equal(t, "Activation(42)", Activation(42).String())
}
