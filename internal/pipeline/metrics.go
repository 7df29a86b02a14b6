package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ahrav/go-t2ieval/internal/domain"
)

// Metrics collects pipeline progress metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	items          *prometheus.CounterVec
	stages         *prometheus.CounterVec
	extractFailure prometheus.Counter
	itemDuration   prometheus.Histogram
}

// NewMetrics registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "t2ieval",
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Dataset items processed by outcome.",
		}, []string{"outcome"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "t2ieval",
			Subsystem: "pipeline",
			Name:      "stage_results_total",
			Help:      "Stage results by stage and whether they were generated or read from the progress index.",
		}, []string{"stage", "source"}),
		extractFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "t2ieval",
			Subsystem: "pipeline",
			Name:      "extract_failures_total",
			Help:      "Items whose extraction never reconciled.",
		}),
		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "t2ieval",
			Subsystem: "pipeline",
			Name:      "item_duration_seconds",
			Help:      "Wall time per dataset item.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
	reg.MustRegister(m.items, m.stages, m.extractFailure, m.itemDuration)
	return m
}

func (m *Metrics) item(outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(string(outcome)).Inc()
	m.itemDuration.Observe(d.Seconds())
}

func (m *Metrics) stage(kind domain.StageKind, cached bool) {
	if m == nil {
		return
	}
	source := "generated"
	if cached {
		source = "cached"
	}
	m.stages.WithLabelValues(string(kind), source).Inc()
}

func (m *Metrics) extractFailed() {
	if m == nil {
		return
	}
	m.extractFailure.Inc()
}
