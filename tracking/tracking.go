// Package tracking holds the sinks a training run reports to: structured logs,
// Prometheus gauges, InfluxDB points, CSV files, websocket clients, image files and
// checkpoint archives in S3.
package tracking

import (
	"bytes"
	"fmt"
	"image"

	"github.com/google/uuid"
)

// ScalarLogger receives loss values.
type ScalarLogger interface {
	LogScalars(epoch int, values map[string]float64) error
}

// ImageLogger receives image grids.
type ImageLogger interface {
	LogImage(epoch int, grid image.Image, caption string) error
}

// NewRunID returns a new identifier for a run.
func NewRunID() string { return uuid.New().String() }

type manyErr []error

func (err manyErr) Error() string {
	var buf bytes.Buffer
	for _, e := range err {
		fmt.Fprintln(&buf, e.Error())
	}
	return buf.String()
}

func (err manyErr) orNil() error {
	if len(err) == 0 {
		return nil
	}
	return err
}

// Fanout forwards everything to several loggers. A failing logger does not stop
// the others; all errors are returned together.
type Fanout struct {
	Scalars []ScalarLogger
	Images  []ImageLogger
}

// Add registers a logger with every role it can take. Anything that is neither a
// ScalarLogger nor an ImageLogger is ignored and false is returned.
func (f *Fanout) Add(l interface{}) bool {
	var ok bool
	if s, is := l.(ScalarLogger); is {
		f.Scalars = append(f.Scalars, s)
		ok = true
	}
	if i, is := l.(ImageLogger); is {
		f.Images = append(f.Images, i)
		ok = true
	}
	return ok
}

// LogScalars implements ScalarLogger.
func (f *Fanout) LogScalars(epoch int, values map[string]float64) error {
	var errs manyErr
	for _, s := range f.Scalars {
		if err := s.LogScalars(epoch, values); err != nil {
			errs = append(errs, err)
		}
	}
	return errs.orNil()
}

// LogImage implements ImageLogger.
func (f *Fanout) LogImage(epoch int, grid image.Image, caption string) error {
	var errs manyErr
	for _, i := range f.Images {
		if err := i.LogImage(epoch, grid, caption); err != nil {
			errs = append(errs, err)
		}
	}
	return errs.orNil()
}
