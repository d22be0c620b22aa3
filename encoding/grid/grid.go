// Package grid renders batches of normalized LAB images as RGB pictures and lays
// them out in captioned grids.
package grid

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
	"gorgonia.org/tensor"

	"github.com/gorgonia/cyclestain/internal/lab"
)

var regular *truetype.Font

const (
	dpi        = 72.0
	fontsize   = 12.0
	lineheight = 1.4
	pad        = 4
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

// Face returns a new face of the font captions are written in.
func Face() font.Face {
	return truetype.NewFace(regular, &truetype.Options{
		Size:    fontsize,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
}

// Cell is one tile of a grid.
type Cell struct {
	Image *tensor.Dense // (C,H,W) or (N,C,H,W), of which the first image is drawn
	Label string
}

// Decode renders the first image of t. Three channel images are converted from
// normalized LAB. One channel images are drawn as grey levels of values in [0, 1].
func Decode(norm lab.Normalizer, t *tensor.Dense) (*image.RGBA, error) {
	if t == nil {
		return nil, errors.New("no image")
	}
	shp := t.Shape()
	var c, h, w int
	switch shp.Dims() {
	case 3:
		c, h, w = shp[0], shp[1], shp[2]
	case 4:
		c, h, w = shp[1], shp[2], shp[3]
	default:
		return nil, errors.Errorf("cannot draw a tensor of shape %v", shp)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("cannot draw %v tensors", t.Dtype())
	}
	data = data[:c*h*w]

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	switch c {
	case 3:
		rgb := norm.DecodePlanes(data, h, w)
		for i := 0; i < h*w; i++ {
			copy(img.Pix[4*i:4*i+3], rgb[3*i:3*i+3])
			img.Pix[4*i+3] = 0xff
		}
	case 1:
		for i, v := range data {
			g := uint8(math.Round(255 * math.Max(0, math.Min(1, float64(v)))))
			img.Pix[4*i], img.Pix[4*i+1], img.Pix[4*i+2], img.Pix[4*i+3] = g, g, g, 0xff
		}
	default:
		return nil, errors.Errorf("cannot draw images with %d channels", c)
	}
	return img, nil
}

// Compose lays the cells out row by row. Every tile takes the size of the largest
// image; labels are written under the tiles that have one.
func Compose(norm lab.Normalizer, rows ...[]Cell) (*image.RGBA, error) {
	var tiles [][]*image.RGBA
	var tw, th, cols int
	labelled := false
	for _, row := range rows {
		var tr []*image.RGBA
		for _, cell := range row {
			img, err := Decode(norm, cell.Image)
			if err != nil {
				return nil, err
			}
			b := img.Bounds()
			tw, th = maxInt(tw, b.Dx()), maxInt(th, b.Dy())
			labelled = labelled || cell.Label != ""
			tr = append(tr, img)
		}
		cols = maxInt(cols, len(tr))
		tiles = append(tiles, tr)
	}
	if cols == 0 {
		return nil, errors.New("nothing to compose")
	}

	var lh int
	if labelled {
		lh = lineHeight()
	}
	out := image.NewRGBA(image.Rect(0, 0, cols*tw, len(rows)*(th+lh)))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	face := Face()
	defer face.Close()
	d := font.Drawer{Dst: out, Src: image.Black, Face: face}
	for i, tr := range tiles {
		for j, img := range tr {
			at := image.Pt(j*tw, i*(th+lh))
			draw.Draw(out, img.Bounds().Add(at), img, image.Point{}, draw.Src)
			if label := rows[i][j].Label; label != "" {
				d.Dot = fixed.P(at.X+pad, at.Y+th+lh-pad)
				d.DrawString(label)
			}
		}
	}
	return out, nil
}

func lineHeight() int { return int(math.Ceil(fontsize * lineheight * dpi / 72)) }

// Caption returns a copy of img with a strip of text underneath.
func Caption(img image.Image, text string) *image.RGBA {
	b := img.Bounds()
	lh := lineHeight()
	face := Face()
	defer face.Close()
	w := maxInt(b.Dx(), font.MeasureString(face, text).Ceil()+2*pad)
	out := image.NewRGBA(image.Rect(0, 0, w, b.Dy()+lh+pad))
	draw.Draw(out, out.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(0, 0, b.Dx(), b.Dy()), img, b.Min, draw.Src)
	d := font.Drawer{Dst: out, Src: image.Black, Face: face}
	d.Dot = fixed.P(pad, b.Dy()+lh)
	d.DrawString(text)
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
