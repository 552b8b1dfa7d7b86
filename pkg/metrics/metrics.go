// Package metrics exposes Prometheus counters for the decision engine.
//
// A nil *Metrics is valid and records nothing, so libraries can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicever"

// Metrics holds the collectors registered by New.
type Metrics struct {
	Decisions         *prometheus.CounterVec
	PlaybackDecisions *prometheus.CounterVec
	RateLimit         *prometheus.CounterVec
	SynthCache        *prometheus.CounterVec
	Collaborator      *prometheus.HistogramVec
	MissingBlobs      prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. If reg is also a Gatherer,
// Handler serves it.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Version decisions by action and reason.",
		}, []string{"action", "reason"}),
		PlaybackDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_decisions_total",
			Help:      "Playback decisions by mode.",
		}, []string{"mode"}),
		RateLimit: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_total",
			Help:      "Synthesis rate limit checks by result.",
		}, []string{"result"}),
		SynthCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synth_cache_total",
			Help:      "Synthesis cache lookups by result.",
		}, []string{"result"}),
		Collaborator: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_seconds",
			Help:      "Latency of external collaborator attempts.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"collaborator"}),
		MissingBlobs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_blobs_total",
			Help:      "Embedding blobs referenced by a version but not found.",
		}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Decision counts one version decision.
func (m *Metrics) Decision(action, reason string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(action, reason).Inc()
}

// Playback counts one playback decision.
func (m *Metrics) Playback(mode string) {
	if m == nil {
		return
	}
	m.PlaybackDecisions.WithLabelValues(mode).Inc()
}

// Limit counts one limiter check.
func (m *Metrics) Limit(allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.RateLimit.WithLabelValues(result).Inc()
}

// Cache counts one cache lookup. result is "hit", "miss" or "shared".
func (m *Metrics) Cache(result string) {
	if m == nil {
		return
	}
	m.SynthCache.WithLabelValues(result).Inc()
}

// Observer returns a function recording attempt latency for collaborator.
// It matches retry.Policy.Observe and is nil for a nil *Metrics.
func (m *Metrics) Observer(collaborator string) func(time.Duration, error) {
	if m == nil {
		return nil
	}
	h := m.Collaborator.WithLabelValues(collaborator)
	return func(d time.Duration, _ error) { h.Observe(d.Seconds()) }
}

// MissingBlob counts one unresolvable embedding reference.
func (m *Metrics) MissingBlob() {
	if m == nil {
		return
	}
	m.MissingBlobs.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
