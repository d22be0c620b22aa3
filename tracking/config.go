package tracking

import (
	"io"
	"os"

	"github.com/gorgonia/cyclestain/encoding/gif"
	"github.com/gorgonia/cyclestain/encoding/mjpeg"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config selects the sinks of a run. Empty values disable a sink.
type Config struct {
	Log        bool         `mapstructure:"log"`
	Prometheus bool         `mapstructure:"prometheus"`
	Namespace  string       `mapstructure:"namespace"`
	Websocket  bool         `mapstructure:"websocket"`
	MJPEG      bool         `mapstructure:"mjpeg"`
	CSV        string       `mapstructure:"csv"`
	PNGDir     string       `mapstructure:"png_dir"`
	GIF        string       `mapstructure:"gif"`
	GIFSize    int          `mapstructure:"gif_size"`
	Influx     InfluxConfig `mapstructure:"influx"`
	S3         S3Config     `mapstructure:"s3"`
}

// DefaultConfig logs to logrus only.
func DefaultConfig() Config {
	return Config{
		Log:       true,
		Namespace: "cyclestain",
		GIFSize:   1024,
	}
}

// Run is the set of sinks built from a Config.
type Run struct {
	*Fanout
	ID string

	Metrics  *Metrics
	Hub      *Hub
	Stream   *mjpeg.Encoder
	Archiver *S3Archiver

	gif     *gif.Encoder
	closers []io.Closer
}

// Setup builds every sink the config asks for. On error, sinks already opened are
// closed.
func Setup(conf Config, log logrus.FieldLogger) (r *Run, err error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r = &Run{Fanout: new(Fanout), ID: NewRunID()}
	log = log.WithField("run", r.ID)
	defer func() {
		if err != nil {
			r.Close()
			r = nil
		}
	}()

	if conf.Log {
		r.Add(NewLogger(log))
	}
	if conf.Prometheus {
		if r.Metrics, err = NewMetrics(conf.Namespace, r.ID); err != nil {
			return r, errors.Wrap(err, "registering metrics")
		}
		r.Add(r.Metrics)
	}
	if conf.Websocket {
		r.Hub = NewHub(log)
		r.Add(r.Hub)
		r.closers = append(r.closers, r.Hub)
	}
	if conf.MJPEG {
		r.Stream = mjpeg.NewEncoder()
		r.Add(r.Stream)
		r.closers = append(r.closers, r.Stream)
	}
	if conf.CSV != "" {
		f, err := os.Create(conf.CSV)
		if err != nil {
			return r, errors.WithStack(err)
		}
		r.closers = append(r.closers, f)
		r.Add(NewCSV(f, nil))
	}
	if conf.PNGDir != "" {
		d, err := NewPNGDir(conf.PNGDir)
		if err != nil {
			return r, err
		}
		r.Add(d)
	}
	if conf.GIF != "" {
		f, err := os.Create(conf.GIF)
		if err != nil {
			return r, errors.WithStack(err)
		}
		r.gif = gif.NewGifEncoder(f, conf.GIFSize, conf.GIFSize)
		r.closers = append(r.closers, f)
		r.Add(r.gif)
	}
	if conf.Influx.URL != "" {
		i := NewInflux(conf.Influx, r.ID, log)
		r.closers = append(r.closers, i)
		r.Add(i)
	}
	if conf.S3.Bucket != "" {
		if r.Archiver, err = NewS3Archiver(conf.S3, r.ID, log); err != nil {
			return r, err
		}
	}
	return r, nil
}

// Close flushes the GIF and closes every sink.
func (r *Run) Close() error {
	var errs manyErr
	if r.gif != nil {
		if err := r.gif.Flush(); err != nil {
			errs = append(errs, err)
		}
		r.gif = nil
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errs.orNil()
}
