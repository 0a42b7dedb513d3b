// Package metrics defines the Prometheus collectors of an indexing run.
// Collectors are registered on a caller-supplied registerer; a nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "codegraph"

// Metrics holds the run collectors.
type Metrics struct {
	FilesParsed     prometheus.Counter
	FilesFailed     *prometheus.CounterVec
	ImportsResolved *prometheus.CounterVec
	CallsResolved   *prometheus.CounterVec
	CallMisses      *prometheus.CounterVec
	EntitiesWritten *prometheus.CounterVec
	WriteRetries    prometheus.Counter
	FallbackQueued  prometheus.Counter
	Abandoned       prometheus.Counter
	InFlightWrites  prometheus.Gauge
	PhaseSeconds    *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FilesParsed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_parsed_total",
			Help: "Files parsed successfully.",
		}),
		FilesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_failed_total",
			Help: "Files excluded from the graph, by reason.",
		}, []string{"reason"}),
		ImportsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "imports_total",
			Help: "Imports by outcome (resolved, external).",
		}, []string{"outcome"}),
		CallsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "calls_resolved_total",
			Help: "Resolved calls by stage and confidence.",
		}, []string{"stage", "confidence"}),
		CallMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "call_misses_total",
			Help: "Calls without an edge, by category.",
		}, []string{"category"}),
		EntitiesWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "entities_written_total",
			Help: "Entities committed to the durable store, by write mode.",
		}, []string{"mode"}),
		WriteRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "write_retries_total",
			Help: "Direct-write retry attempts.",
		}),
		FallbackQueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "write_fallback_total",
			Help: "Entities moved to the batched fallback queue.",
		}),
		Abandoned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "write_abandoned_total",
			Help: "Entities the durable store never accepted.",
		}),
		InFlightWrites: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "writes_in_flight",
			Help: "Direct writes currently issued.",
		}),
		PhaseSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "phase_seconds",
			Help:    "Pipeline phase duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"phase"}),
	}
}

// FileParsed counts one parsed file.
func (m *Metrics) FileParsed() {
	if m != nil {
		m.FilesParsed.Inc()
	}
}

// FileFailed counts one failed file.
func (m *Metrics) FileFailed(reason string) {
	if m != nil {
		m.FilesFailed.WithLabelValues(reason).Inc()
	}
}

// Import counts one import outcome.
func (m *Metrics) Import(resolved bool) {
	if m == nil {
		return
	}
	outcome := "external"
	if resolved {
		outcome = "resolved"
	}
	m.ImportsResolved.WithLabelValues(outcome).Inc()
}

// Call counts one resolved call.
func (m *Metrics) Call(stage, confidence string) {
	if m != nil {
		m.CallsResolved.WithLabelValues(stage, confidence).Inc()
	}
}

// CallMiss counts one call that produced no edge.
func (m *Metrics) CallMiss(category string) {
	if m != nil {
		m.CallMisses.WithLabelValues(category).Inc()
	}
}

// Written counts n entities committed in mode.
func (m *Metrics) Written(mode string, n int) {
	if m != nil && n > 0 {
		m.EntitiesWritten.WithLabelValues(mode).Add(float64(n))
	}
}

// Retry counts one direct-write retry.
func (m *Metrics) Retry() {
	if m != nil {
		m.WriteRetries.Inc()
	}
}

// Fallback counts one entity moved to the fallback queue.
func (m *Metrics) Fallback() {
	if m != nil {
		m.FallbackQueued.Inc()
	}
}

// Abandon counts n abandoned entities.
func (m *Metrics) Abandon(n int) {
	if m != nil && n > 0 {
		m.Abandoned.Add(float64(n))
	}
}

// InFlight moves the in-flight gauge by delta.
func (m *Metrics) InFlight(delta int) {
	if m != nil {
		m.InFlightWrites.Add(float64(delta))
	}
}

// Phase records the duration of a pipeline phase.
func (m *Metrics) Phase(name string, seconds float64) {
	if m != nil {
		m.PhaseSeconds.WithLabelValues(name).Observe(seconds)
	}
}
