// Package mjpeg streams the latest logged image grid over HTTP as motion JPEG.
package mjpeg

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"

	"github.com/mattn/go-mjpeg"
	"github.com/pkg/errors"

	"github.com/gorgonia/cyclestain/encoding/grid"
)

// Encoder publishes every logged grid as a frame of a stream.
type Encoder struct {
	Quality int

	stream *mjpeg.Stream
}

func (e *Encoder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.stream.ServeHTTP(w, r)
}

// NewEncoder creates an encoder with an empty stream.
func NewEncoder() *Encoder {
	return &Encoder{
		Quality: jpeg.DefaultQuality,
		stream:  mjpeg.NewStream(),
	}
}

// LogImage replaces the current frame of the stream.
func (enc *Encoder) LogImage(epoch int, img image.Image, caption string) error {
	if img == nil {
		return errors.New("no image to encode")
	}
	captioned := grid.Caption(img, fmt.Sprintf("Epoch %d: %s", epoch, caption))
	var b bytes.Buffer
	if err := jpeg.Encode(&b, captioned, &jpeg.Options{Quality: enc.Quality}); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(enc.stream.Update(b.Bytes()))
}

// Close stops the stream.
func (enc *Encoder) Close() error { return enc.stream.Close() }

func (enc *Encoder) Flush() error { return nil }
