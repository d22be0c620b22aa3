package tracking

import (
	"image"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the latest running losses as Prometheus gauges.
type Metrics struct {
	registry *prometheus.Registry

	losses *prometheus.GaugeVec
	epoch  prometheus.Gauge
	images *prometheus.CounterVec
}

// NewMetrics creates the gauges in a registry of their own.
func NewMetrics(namespace, run string) (*Metrics, error) {
	labels := prometheus.Labels{"run": run}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		losses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "loss",
			Help:        "Running mean of a training loss.",
			ConstLabels: labels,
		}, []string{"channel"}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "epoch",
			Help:        "Epoch of the latest report.",
			ConstLabels: labels,
		}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "image_grids_total",
			Help:        "Image grids logged.",
			ConstLabels: labels,
		}, []string{"caption"}),
	}
	for _, c := range []prometheus.Collector{m.losses, m.epoch, m.images} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the gauges live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// LogScalars implements ScalarLogger.
func (m *Metrics) LogScalars(epoch int, values map[string]float64) error {
	m.epoch.Set(float64(epoch))
	for k, v := range values {
		m.losses.WithLabelValues(k).Set(v)
	}
	return nil
}

// LogImage implements ImageLogger.
func (m *Metrics) LogImage(epoch int, grid image.Image, caption string) error {
	m.images.WithLabelValues(caption).Inc()
	return nil
}
