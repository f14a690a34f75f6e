// Package metrics collects Prometheus counters for one bidsify invocation
// and writes them to a node-exporter textfile at the end of the run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a run
type Metrics struct {
	registry *prometheus.Registry

	EntriesIndexed    *prometheus.CounterVec
	SidecarsRewritten *prometheus.CounterVec
	FieldsFilled      *prometheus.CounterVec
	ToolRuns          *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
}

// New creates the metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EntriesIndexed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidsify_entries_indexed_total",
				Help: "Imaging entries loaded into the dataset index",
			},
			[]string{"pass"},
		),
		SidecarsRewritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidsify_sidecars_rewritten_total",
				Help: "Sidecar JSON files rewritten to disk",
			},
			[]string{"pass"},
		),
		FieldsFilled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidsify_fields_filled_total",
				Help: "Sidecar fields set by the completion pass",
			},
			[]string{"field"},
		),
		ToolRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bidsify_tool_runs_total",
				Help: "External tool invocations by outcome",
			},
			[]string{"tool", "status"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bidsify_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"stage"},
		),
	}
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// IncRewritten counts one rewritten sidecar for pass.
func (m *Metrics) IncRewritten(pass string) {
	if m == nil {
		return
	}
	m.SidecarsRewritten.WithLabelValues(pass).Inc()
}

// AddIndexed counts n indexed entries for pass.
func (m *Metrics) AddIndexed(pass string, n int) {
	if m == nil {
		return
	}
	m.EntriesIndexed.WithLabelValues(pass).Add(float64(n))
}

// IncField counts one filled field.
func (m *Metrics) IncField(field string) {
	if m == nil {
		return
	}
	m.FieldsFilled.WithLabelValues(field).Inc()
}

// IncTool counts one tool run with status "ok" or "failed".
func (m *Metrics) IncTool(tool string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.ToolRuns.WithLabelValues(tool, status).Inc()
}

// WriteTextfile writes all metrics in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
