package gan

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	nnops "gorgonia.org/gorgonia/ops/nn"
	"gorgonia.org/tensor"

	"github.com/gorgonia/cyclestain/internal/lab"
)

const instanceNormEps = 1e-5

type maebe struct {
	err error
}

// generic monad... may be useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) conv(input, filter *G.Node, stride, pad int) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	k := filter.Shape()[2]
	if retVal, m.err = nnops.Conv2d(input, filter, tensor.Shape{k, k}, []int{pad, pad}, []int{stride, stride}, []int{1, 1}); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// addBias adds a (1,C,1,1) bias to a BCHW tensor.
func (m *maebe) addBias(input, bias *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(input, bias, nil, []byte{0, 2, 3}) })
}

// instanceNorm normalizes every (image, channel) plane to zero mean and unit variance.
func (m *maebe) instanceNorm(input *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	shp := input.Shape()
	n, c, hw := shp[0], shp[1], shp[2]*shp[3]
	inv := float32(1) / float32(hw)

	mean := m.do(func() (*G.Node, error) { return G.Sum(input, 2, 3) })
	mean = m.scale(mean, inv)
	mean = m.reshape(mean, tensor.Shape{n, c, 1, 1})
	centered := m.do(func() (*G.Node, error) { return G.BroadcastSub(input, mean, nil, []byte{2, 3}) })

	variance := m.do(func() (*G.Node, error) { return G.Square(centered) })
	variance = m.do(func() (*G.Node, error) { return G.Sum(variance, 2, 3) })
	variance = m.scale(variance, inv)
	variance = m.do(func() (*G.Node, error) { return G.Add(variance, G.NewConstant(float32(instanceNormEps))) })
	std := m.do(func() (*G.Node, error) { return G.Sqrt(variance) })
	std = m.reshape(std, tensor.Shape{n, c, 1, 1})
	return m.do(func() (*G.Node, error) { return G.BroadcastHadamardDiv(centered, std, nil, []byte{2, 3}) })
}

func (m *maebe) activate(input *G.Node, act Activation) *G.Node {
	if m.err != nil {
		return nil
	}
	switch act {
	case NoActivation:
		return input
	case ReLU:
		return m.rectify(input)
	case LeakyReLU:
		return m.do(func() (*G.Node, error) { return G.LeakyRelu(input, leakySlope) })
	case Tanh:
		return m.do(func() (*G.Node, error) { return G.Tanh(input) })
	case ELU:
		return m.elu(input, float32(-lab.MinAB))
	case GELU:
		// sigmoid approximation
		s := m.scale(input, 1.702)
		s = m.do(func() (*G.Node, error) { return G.Sigmoid(s) })
		return m.do(func() (*G.Node, error) { return G.HadamardProd(input, s) })
	}
	m.err = errors.Errorf("unknown activation %v", act)
	return nil
}

// elu is relu(x) + alpha*(exp(min(x, 0)) - 1)
func (m *maebe) elu(input *G.Node, alpha float32) *G.Node {
	pos := m.rectify(input)
	neg := m.do(func() (*G.Node, error) { return G.Neg(input) })
	neg = m.rectify(neg)
	neg = m.do(func() (*G.Node, error) { return G.Neg(neg) })
	neg = m.do(func() (*G.Node, error) { return G.Exp(neg) })
	neg = m.do(func() (*G.Node, error) { return G.Sub(neg, G.NewConstant(float32(1))) })
	neg = m.scale(neg, alpha)
	return m.do(func() (*G.Node, error) { return G.Add(pos, neg) })
}

func (m *maebe) rectify(input *G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = nnops.Rectify(input); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) reshape(input *G.Node, to tensor.Shape) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Reshape(input, to); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) scale(input *G.Node, k float32) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Mul(input, G.NewConstant(k)) })
}

func (m *maebe) add(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Add(a, b) })
}

func (m *maebe) sub(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sub(a, b) })
}

// upsample doubles the height and width of a BCHW tensor by repeating every pixel.
// Columns are doubled by concatenating a trailing unit axis with itself, then rows
// the same way.
func (m *maebe) upsample(input *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	shp := input.Shape()
	n, c, h, w := shp[0], shp[1], shp[2], shp[3]
	x := m.reshape(input, tensor.Shape{n, c, h, w, 1})
	x = m.do(func() (*G.Node, error) { return G.Concat(4, x, x) })
	x = m.reshape(x, tensor.Shape{n, c, h, 1, 2 * w})
	x = m.do(func() (*G.Node, error) { return G.Concat(3, x, x) })
	return m.reshape(x, tensor.Shape{n, c, 2 * h, 2 * w})
}

// maskMul multiplies every channel of a BCHW image by a (N,1,H,W) mask.
func (m *maebe) maskMul(img, mask *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(img, mask, nil, []byte{1}) })
}
