// ABOUTME: Prometheus metrics for generation outcomes and workflow duration.

package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lookbook-studio/lookbook/tryon"
)

// Metrics counts generation outcomes per provider and tracks end-to-end
// workflow duration. A nil *Metrics is valid and records nothing.
type Metrics struct {
	generations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics registers the orchestrator's collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lookbook_generations_total",
			Help: "Generation attempts by provider and outcome.",
		}, []string{"provider", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lookbook_generation_duration_seconds",
			Help:    "End-to-end workflow duration from pending call to settled outcome.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"provider"}),
	}
}

func (m *Metrics) observe(tag tryon.ProviderTag, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(string(tag), status).Inc()
	m.duration.WithLabelValues(string(tag)).Observe(elapsed.Seconds())
}
