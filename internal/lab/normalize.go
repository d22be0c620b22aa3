package lab

// Value ranges of normalized LAB planes. The generator output is remapped into
// these ranges by its range correction stage.
const (
	MinAB = -1.72879524581
	MaxAB = 1.71528903296
	MinL  = -1.68976005407
	MaxL  = 1.68976005407
)

// Normalizer standardizes LAB planes.
type Normalizer struct {
	LMean  float32 `mapstructure:"l_mean"`
	LStd   float32 `mapstructure:"l_std"`
	ABMean float32 `mapstructure:"ab_mean"`
	ABStd  float32 `mapstructure:"ab_std"`
}

// DefaultNormalizer returns the normalization used for training.
func DefaultNormalizer() Normalizer {
	return Normalizer{LMean: 50, LStd: 29.59, ABMean: 0, ABStd: 74.04}
}

// Valid reports whether both standard deviations are positive.
func (n Normalizer) Valid() bool { return n.LStd > 0 && n.ABStd > 0 }

// Forward normalizes one LAB pixel.
func (n Normalizer) Forward(l, a, b float32) (float32, float32, float32) {
	return (l - n.LMean) / n.LStd, (a - n.ABMean) / n.ABStd, (b - n.ABMean) / n.ABStd
}

// Inverse undoes Forward.
func (n Normalizer) Inverse(l, a, b float32) (float32, float32, float32) {
	return l*n.LStd + n.LMean, a*n.ABStd + n.ABMean, b*n.ABStd + n.ABMean
}

// EncodePlanes converts interleaved RGB bytes (len = 3*h*w) into three normalized
// planes laid out CHW, appended to dst.
func (n Normalizer) EncodePlanes(dst []float32, rgb []uint8, h, w int) []float32 {
	hw := h * w
	start := len(dst)
	dst = append(dst, make([]float32, 3*hw)...)
	planes := dst[start:]
	for i := 0; i < hw; i++ {
		l, a, b := FromRGB(float32(rgb[3*i])/255, float32(rgb[3*i+1])/255, float32(rgb[3*i+2])/255)
		planes[i], planes[hw+i], planes[2*hw+i] = n.Forward(l, a, b)
	}
	return dst
}

// DecodePlanes converts three normalized CHW planes back into interleaved RGB bytes.
func (n Normalizer) DecodePlanes(planes []float32, h, w int) []uint8 {
	hw := h * w
	out := make([]uint8, 3*hw)
	for i := 0; i < hw; i++ {
		l, a, b := n.Inverse(planes[i], planes[hw+i], planes[2*hw+i])
		r, g, bb := ToRGB(l, a, b)
		out[3*i] = uint8(r*255 + 0.5)
		out[3*i+1] = uint8(g*255 + 0.5)
		out[3*i+2] = uint8(bb*255 + 0.5)
	}
	return out
}
