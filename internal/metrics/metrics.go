// Package metrics holds the Prometheus collectors for the caption pipelines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the pipelines. A nil *Metrics
// records nothing.
type Metrics struct {
	// Capture metrics
	WindowsSubmitted prometheus.Counter
	WindowSeconds    prometheus.Histogram
	DecodeFailures   prometheus.Counter
	RetryRequests    prometheus.Counter

	// Inference metrics
	GateDenied        *prometheus.CounterVec
	InferenceResults  *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec

	// Broadcast metrics
	BroadcastsPublished prometheus.Counter
	BroadcastsReceived  prometheus.Counter
	BroadcastErrors     *prometheus.CounterVec
	HubClients          prometheus.Gauge
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WindowsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "transcast_windows_submitted_total",
			Help: "Total number of audio windows submitted for transcription",
		}),
		WindowSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcast_window_duration_seconds",
			Help:    "Length of submitted audio windows",
			Buckets: prometheus.LinearBuckets(2.5, 2.5, 12), // 2.5s to 30s
		}),
		DecodeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "transcast_decode_failures_total",
			Help: "Total number of capture chunks that failed to decode",
		}),
		RetryRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "transcast_retry_requests_total",
			Help: "Total number of delayed data requests after an empty chunk",
		}),

		GateDenied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcast_gate_denied_total",
			Help: "Total number of requests dropped because one was already in flight",
		}, []string{"kind"}),
		InferenceResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcast_inference_results_total",
			Help: "Total number of finished inference requests",
		}, []string{"kind", "outcome"}),
		InferenceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcast_inference_duration_seconds",
			Help:    "Duration of inference requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"kind"}),

		BroadcastsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "transcast_broadcasts_published_total",
			Help: "Total number of transcripts published",
		}),
		BroadcastsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "transcast_broadcasts_received_total",
			Help: "Total number of transcripts received from a channel",
		}),
		BroadcastErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transcast_broadcast_errors_total",
			Help: "Total number of broadcast failures",
		}, []string{"stage"}),
		HubClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "transcast_hub_clients",
			Help: "Current number of connected hub clients",
		}),
	}
}

// RecordWindow counts a submitted window of the given length.
func (m *Metrics) RecordWindow(d time.Duration) {
	if m == nil {
		return
	}
	m.WindowsSubmitted.Inc()
	m.WindowSeconds.Observe(d.Seconds())
}

// RecordDecodeFailure increments the decode failures counter.
func (m *Metrics) RecordDecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

// RecordRetry increments the retry requests counter.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.RetryRequests.Inc()
}

// RecordGateDenied counts a dropped request of kind.
func (m *Metrics) RecordGateDenied(kind string) {
	if m == nil {
		return
	}
	m.GateDenied.WithLabelValues(kind).Inc()
}

// RecordInference records the outcome and duration of one request.
func (m *Metrics) RecordInference(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.InferenceResults.WithLabelValues(kind, outcome).Inc()
	m.InferenceDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordPublished increments the published counter.
func (m *Metrics) RecordPublished() {
	if m == nil {
		return
	}
	m.BroadcastsPublished.Inc()
}

// RecordReceived increments the received counter.
func (m *Metrics) RecordReceived() {
	if m == nil {
		return
	}
	m.BroadcastsReceived.Inc()
}

// RecordBroadcastError counts a failure at stage (publish, decode, relay).
func (m *Metrics) RecordBroadcastError(stage string) {
	if m == nil {
		return
	}
	m.BroadcastErrors.WithLabelValues(stage).Inc()
}

// SetHubClients sets the number of connected hub clients.
func (m *Metrics) SetHubClients(n int) {
	if m == nil {
		return
	}
	m.HubClients.Set(float64(n))
}
