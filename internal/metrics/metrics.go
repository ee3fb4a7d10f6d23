// Package metrics exposes merge engine counters to Prometheus.
//
// Every method is safe on a nil *Metrics, so components take an optional
// *Metrics and never check for it.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/rowmerge/internal/fold"
)

const namespace = "rowmerge"

// Metrics holds the engine's collectors.
type Metrics struct {
	outcomes    *prometheus.CounterVec
	diagnostics *prometheus.CounterVec
	appended    *prometheus.CounterVec
	duration    prometheus.Histogram
	pending     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg creates a private registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_outcomes_total",
			Help:      "Merge outcomes by action.",
		}, []string{"action"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fold_diagnostics_total",
			Help:      "Operations skipped or partially applied during folds, by reason.",
		}, []string{"reason"}),
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_appended_total",
			Help:      "Operations submitted to the log, by kind and whether they were new.",
		}, []string{"kind", "new"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Time to read, fold and translate one key.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_length",
			Help:      "Events waiting in the engine loop.",
		}),
	}

	for _, c := range []prometheus.Collector{m.outcomes, m.diagnostics, m.appended, m.duration, m.pending} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveOutcome records one merge.
func (m *Metrics) ObserveOutcome(out fold.Outcome, took time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(out.Action.String()).Inc()
	for _, d := range out.Diagnostics {
		m.diagnostics.WithLabelValues(string(d.Reason)).Inc()
	}
	m.duration.Observe(took.Seconds())
}

// ObserveAppend records one submitted operation.
func (m *Metrics) ObserveAppend(kind string, inserted bool) {
	if m == nil {
		return
	}
	isNew := "false"
	if inserted {
		isNew = "true"
	}
	m.appended.WithLabelValues(kind, isNew).Inc()
}

// SetQueueLength records the current event queue length.
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// WriteText gathers g and writes every metric family to w in the Prometheus
// text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
