// Package gif collects logged image grids into an animated GIF, one frame per grid.
package gif

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"

	"github.com/pkg/errors"

	"github.com/gorgonia/cyclestain/encoding/grid"
)

// Encoder accumulates frames and writes them out on Flush.
type Encoder struct {
	io.Writer
	Delay int // hundredths of a second per frame

	maxH, maxW int // frames are cropped to this size
	out        *gif.GIF
}

// NewGifEncoder creates an encoder for frames of at most h×w pixels.
func NewGifEncoder(w io.Writer, h, wd int) *Encoder {
	return &Encoder{
		Writer: w,
		Delay:  50,
		maxH:   h,
		maxW:   wd,
		out:    &gif.GIF{LoopCount: 0},
	}
}

// Frames is the number of frames encoded so far.
func (enc *Encoder) Frames() int { return len(enc.out.Image) }

// LogImage adds a frame captioned with the epoch and caption.
func (enc *Encoder) LogImage(epoch int, img image.Image, caption string) error {
	if img == nil {
		return errors.New("no image to encode")
	}
	captioned := grid.Caption(img, fmt.Sprintf("Epoch %d: %s", epoch, caption))
	b := captioned.Bounds()
	if enc.maxW > 0 && b.Dx() > enc.maxW {
		b.Max.X = b.Min.X + enc.maxW
	}
	if enc.maxH > 0 && b.Dy() > enc.maxH {
		b.Max.Y = b.Min.Y + enc.maxH
	}
	im := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette.Plan9)
	draw.FloydSteinberg.Draw(im, im.Bounds(), captioned, b.Min)
	enc.out.Image = append(enc.out.Image, im)
	enc.out.Delay = append(enc.out.Delay, enc.Delay)
	return nil
}

// Flush writes the gif into the writer
func (enc *Encoder) Flush() error {
	if len(enc.out.Image) == 0 {
		return nil
	}
	return errors.WithStack(gif.EncodeAll(enc.Writer, enc.out))
}
