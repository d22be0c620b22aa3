package gan

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Post filter settings of the generator.
const (
	filterSize     = 5
	bilateralColor = 0.1 // sigma of the colour kernel
	bilateralSpace = 1.5 // sigma of the spatial kernel
	unsharpSigma   = 1.5
	filterTaps     = filterSize * filterSize
	filterHalf     = filterSize / 2
)

// gaussian1D returns a normalized 1D gaussian kernel.
func gaussian1D(size int, sigma float64) []float64 {
	k := make([]float64, size)
	var sum float64
	c := float64(size / 2)
	for i := range k {
		d := float64(i) - c
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// unfoldFilter is a (K*C, C, size, size) filter that copies channel c at window
// offset k into output channel k*C+c.
func unfoldFilter(c int) *tensor.Dense {
	backing := make([]float32, filterTaps*c*c*filterTaps)
	for k := 0; k < filterTaps; k++ {
		for ch := 0; ch < c; ch++ {
			out := k*c + ch
			backing[((out*c+ch)*filterSize+k/filterSize)*filterSize+k%filterSize] = 1
		}
	}
	return tensor.New(tensor.WithShape(filterTaps*c, c, filterSize, filterSize), tensor.WithBacking(backing))
}

// unfold returns every 5x5 window of x as a (N, 25, C, H, W) tensor. Pixels outside the image are zero.
func (b *Builder) unfold(x *G.Node) *G.Node {
	if b.err != nil {
		return nil
	}
	shp := x.Shape()
	n, c, h, w := shp[0], shp[1], shp[2], shp[3]
	filter := b.constant(fmt.Sprintf("unfold%d", c), func() *tensor.Dense { return unfoldFilter(c) })
	out := b.conv(x, filter, 1, filterHalf)
	return b.reshape(out, tensor.Shape{n, filterTaps, c, h, w})
}

// bilateralWeights is the spatial kernel multiplied by a mask of the window
// offsets that fall inside an h×w image, shaped (1, 25, H, W).
func bilateralWeights(h, w int) *tensor.Dense {
	g := gaussian1D(filterSize, bilateralSpace)
	backing := make([]float32, filterTaps*h*w)
	for k := 0; k < filterTaps; k++ {
		dy, dx := k/filterSize-filterHalf, k%filterSize-filterHalf
		space := float32(g[k/filterSize] * g[k%filterSize])
		for y := 0; y < h; y++ {
			if y+dy < 0 || y+dy >= h {
				continue
			}
			for x := 0; x < w; x++ {
				if x+dx < 0 || x+dx >= w {
					continue
				}
				backing[(k*h+y)*w+x] = space
			}
		}
	}
	return tensor.New(tensor.WithShape(1, filterTaps, h, w), tensor.WithBacking(backing))
}

// jointBilateral smooths x while preserving the edges of guide. The colour distance
// is the L1 distance across channels.
func (b *Builder) jointBilateral(x, guide *G.Node) *G.Node {
	if b.err != nil {
		return nil
	}
	shp := x.Shape()
	n, c, h, w := shp[0], shp[1], shp[2], shp[3]

	gw := b.unfold(guide)
	gc := b.reshape(guide, tensor.Shape{n, 1, c, h, w})
	diff := b.do(func() (*G.Node, error) { return G.BroadcastSub(gw, gc, nil, []byte{1}) })
	diff = b.do(func() (*G.Node, error) { return G.Abs(diff) })
	dist := b.do(func() (*G.Node, error) { return G.Sum(diff, 2) }) // (N, K, H, W)
	colour := b.scale(dist, float32(-0.5/(bilateralColor*bilateralColor)))
	colour = b.do(func() (*G.Node, error) { return G.Exp(colour) })

	space := b.constant(fmt.Sprintf("bilateral%dx%d", h, w), func() *tensor.Dense { return bilateralWeights(h, w) })
	weights := b.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(colour, space, nil, []byte{0}) })

	xw := b.unfold(x)
	wr := b.reshape(weights, tensor.Shape{n, filterTaps, 1, h, w})
	num := b.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(xw, wr, nil, []byte{2}) })
	num = b.do(func() (*G.Node, error) { return G.Sum(num, 1) }) // (N, C, H, W)
	den := b.do(func() (*G.Node, error) { return G.Sum(weights, 1) })
	den = b.reshape(den, tensor.Shape{n, 1, h, w})
	return b.do(func() (*G.Node, error) { return G.BroadcastHadamardDiv(num, den, nil, []byte{1}) })
}

// blurFilter is a per channel gaussian as a full (C, C, size, size) filter.
func blurFilter(c int) *tensor.Dense {
	g := gaussian1D(filterSize, unsharpSigma)
	backing := make([]float32, c*c*filterTaps)
	for ch := 0; ch < c; ch++ {
		for i := 0; i < filterSize; i++ {
			for j := 0; j < filterSize; j++ {
				backing[((ch*c+ch)*filterSize+i)*filterSize+j] = float32(g[i] * g[j])
			}
		}
	}
	return tensor.New(tensor.WithShape(c, c, filterSize, filterSize), tensor.WithBacking(backing))
}

// blurCoverage is the share of the gaussian mass that falls inside an h×w image, shaped (1, 1, H, W).
func blurCoverage(h, w int) *tensor.Dense {
	g := gaussian1D(filterSize, unsharpSigma)
	rows := make([]float64, h)
	cols := make([]float64, w)
	for i, v := range g {
		d := i - filterHalf
		for y := range rows {
			if y+d >= 0 && y+d < h {
				rows[y] += v
			}
		}
		for x := range cols {
			if x+d >= 0 && x+d < w {
				cols[x] += v
			}
		}
	}
	backing := make([]float32, h*w)
	for y := range rows {
		for x := range cols {
			backing[y*w+x] = float32(rows[y] * cols[x])
		}
	}
	return tensor.New(tensor.WithShape(1, 1, h, w), tensor.WithBacking(backing))
}

// unsharp is x + (x - blur(x)).
func (b *Builder) unsharp(x *G.Node) *G.Node {
	if b.err != nil {
		return nil
	}
	shp := x.Shape()
	c, h, w := shp[1], shp[2], shp[3]
	filter := b.constant(fmt.Sprintf("blur%d", c), func() *tensor.Dense { return blurFilter(c) })
	coverage := b.constant(fmt.Sprintf("coverage%dx%d", h, w), func() *tensor.Dense { return blurCoverage(h, w) })

	blurred := b.conv(x, filter, 1, filterHalf)
	blurred = b.do(func() (*G.Node, error) { return G.BroadcastHadamardDiv(blurred, coverage, nil, []byte{0, 1}) })
	sharp := b.scale(x, 2)
	return b.sub(sharp, blurred)
}
