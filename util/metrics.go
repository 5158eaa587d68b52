package util

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// TrainMetrics tracks the latest loss terms and the number of optimizer
// steps for one training run. Each instance owns its registry so several
// trainers (as in tests) never collide on registration.
type TrainMetrics struct {
	registry *prometheus.Registry

	Loss       *prometheus.GaugeVec
	Steps      prometheus.Counter
	Epochs     prometheus.Counter
	SampleRate prometheus.Gauge
}

func NewTrainMetrics(runID string) *TrainMetrics {
	labels := prometheus.Labels{"run": runID}
	m := &TrainMetrics{
		registry: prometheus.NewRegistry(),
		Loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "decoder",
			Name:        "loss",
			Help:        "Most recent value of each loss term.",
			ConstLabels: labels,
		}, []string{"term"}),
		Steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "decoder",
			Name:        "optimizer_steps_total",
			Help:        "Optimizer steps applied to the decoder.",
			ConstLabels: labels,
		}),
		Epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "decoder",
			Name:        "epochs_total",
			Help:        "Completed passes over the embedding dataset.",
			ConstLabels: labels,
		}),
		SampleRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "decoder",
			Name:        "samples_per_second",
			Help:        "Throughput of the last completed epoch.",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(m.Loss, m.Steps, m.Epochs, m.SampleRate)
	return m
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *TrainMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "write metrics to %s", path)
	}
	return nil
}
