// Package metrics exposes Prometheus metrics for scans, inference and Grad-CAM rendering.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics of the service. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	UploadsTotal        *prometheus.CounterVec
	PredictionsTotal    *prometheus.CounterVec
	CacheRequestsTotal  *prometheus.CounterVec
	InferenceDuration   *prometheus.HistogramVec
	VisualizationsTotal *prometheus.CounterVec
	GradCAMDuration     prometheus.Histogram
	ModelInfo           *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates the metrics and registers them, plus the Go runtime and process
// collectors, on a fresh registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tumorcam_uploads_total",
			Help: "Total number of scan uploads partitioned by status.",
		},
		[]string{"status"},
	)
	m.PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tumorcam_predictions_total",
			Help: "Total number of predictions partitioned by label and source.",
		},
		[]string{"label", "source"},
	)
	m.CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tumorcam_prediction_cache_requests_total",
			Help: "Prediction cache lookups partitioned by result.",
		},
		[]string{"result"},
	)
	m.InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tumorcam_inference_duration_seconds",
			Help:    "Time taken to classify a scan",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"backend"},
	)
	m.VisualizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tumorcam_visualizations_total",
			Help: "Total number of Grad-CAM renderings partitioned by status.",
		},
		[]string{"status"},
	)
	m.GradCAMDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tumorcam_gradcam_duration_seconds",
			Help:    "Time taken to compute and render a Grad-CAM overlay",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)
	m.ModelInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tumorcam_model_info",
			Help: "Loaded model; always 1.",
		},
		[]string{"backend", "fingerprint"},
	)
}

// RecordUpload counts an upload attempt.
func (m *Metrics) RecordUpload(err error) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(status(err)).Inc()
}

// RecordPrediction counts a prediction. source is "model" or "cache".
func (m *Metrics) RecordPrediction(label, source string) {
	if m == nil {
		return
	}
	m.PredictionsTotal.WithLabelValues(label, source).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordInference observes the duration of a forward pass.
func (m *Metrics) RecordInference(backend string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.InferenceDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordVisualization counts a rendering and observes its duration on success.
func (m *Metrics) RecordVisualization(durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.VisualizationsTotal.WithLabelValues(status(err)).Inc()
	if err == nil {
		m.GradCAMDuration.Observe(durationSeconds)
	}
}

// SetModel publishes the loaded model's identity.
func (m *Metrics) SetModel(backend, fingerprint string) {
	if m == nil {
		return
	}
	m.ModelInfo.Reset()
	m.ModelInfo.WithLabelValues(backend, fingerprint).Set(1)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.UploadsTotal.Describe(ch)
	m.PredictionsTotal.Describe(ch)
	m.CacheRequestsTotal.Describe(ch)
	m.InferenceDuration.Describe(ch)
	m.VisualizationsTotal.Describe(ch)
	ch <- m.GradCAMDuration.Desc()
	m.ModelInfo.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.UploadsTotal.Collect(ch)
	m.PredictionsTotal.Collect(ch)
	m.CacheRequestsTotal.Collect(ch)
	m.InferenceDuration.Collect(ch)
	m.VisualizationsTotal.Collect(ch)
	ch <- m.GradCAMDuration
	m.ModelInfo.Collect(ch)
}
