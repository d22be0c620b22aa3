package tracking

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"
)

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Organization  string        `mapstructure:"organization"`
	Bucket        string        `mapstructure:"bucket"`
	Measurement   string        `mapstructure:"measurement"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Influx writes every report as one point, with a field per loss channel.
type Influx struct {
	client      influxdb2.Client
	write       api.WriteAPI
	measurement string
	run         string
	log         logrus.FieldLogger
	done        chan struct{}
}

// NewInflux connects to InfluxDB. Writes are batched; write errors are logged.
func NewInflux(conf InfluxConfig, run string, log logrus.FieldLogger) *Influx {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if conf.BatchSize <= 0 {
		conf.BatchSize = 100
	}
	if conf.FlushInterval <= 0 {
		conf.FlushInterval = time.Second
	}
	if conf.Measurement == "" {
		conf.Measurement = "losses"
	}
	client := influxdb2.NewClientWithOptions(conf.URL, conf.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(conf.BatchSize)).
			SetFlushInterval(uint(conf.FlushInterval.Milliseconds())).
			SetPrecision(time.Millisecond),
	)
	return newInflux(client, client.WriteAPI(conf.Organization, conf.Bucket), conf.Measurement, run, log)
}

func newInflux(client influxdb2.Client, write api.WriteAPI, measurement, run string, log logrus.FieldLogger) *Influx {
	i := &Influx{
		client:      client,
		write:       write,
		measurement: measurement,
		run:         run,
		log:         log,
		done:        make(chan struct{}),
	}
	go i.handleWriteErrors()
	return i
}

func (i *Influx) handleWriteErrors() {
	defer close(i.done)
	for err := range i.write.Errors() {
		i.log.WithError(err).Error("InfluxDB write error")
	}
}

// LogScalars implements ScalarLogger.
func (i *Influx) LogScalars(epoch int, values map[string]float64) error {
	p := influxdb2.NewPointWithMeasurement(i.measurement).
		AddTag("run", i.run).
		AddField("epoch", epoch).
		SetTime(time.Now())
	for k, v := range values {
		p.AddField(k, v)
	}
	i.write.WritePoint(p)
	return nil
}

// Close flushes pending points and closes the client.
func (i *Influx) Close() error {
	i.write.Flush()
	if i.client != nil {
		i.client.Close()
	}
	return nil
}
