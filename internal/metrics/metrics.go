package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	layerRequests       *prometheus.CounterVec
	layerQueryDuration  *prometheus.HistogramVec
	layersLoading       prometheus.Gauge
	layersRendered      prometheus.Gauge
	allClearTotal       prometheus.Counter
}

// New creates a fresh Metrics registry with HTTP and layer metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aqueduct",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by map-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aqueduct",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by map-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	layerRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aqueduct",
		Name:      "layer_requests_total",
		Help:      "Layer requests by terminal outcome (success, error, cancelled)",
	}, []string{"provider", "category", "outcome"})

	layerQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aqueduct",
		Name:      "layer_query_duration_seconds",
		Help:      "Duration of remote layer queries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "stage"})

	layersLoading := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aqueduct",
		Name:      "layers_loading",
		Help:      "Layers awaiting their terminal resolution",
	})

	layersRendered := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aqueduct",
		Name:      "layers_rendered",
		Help:      "Layers currently attached to the map surface",
	})

	allClearTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aqueduct",
		Name:      "layers_all_clear_total",
		Help:      "Times the loading set drained to empty",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		layerRequests,
		layerQueryDuration,
		layersLoading,
		layersRendered,
		allClearTotal,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		layerRequests:       layerRequests,
		layerQueryDuration:  layerQueryDuration,
		layersLoading:       layersLoading,
		layersRendered:      layersRendered,
		allClearTotal:       allClearTotal,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncLayerRequest counts a layer request reaching a terminal outcome.
func (m *Metrics) IncLayerRequest(provider, category, outcome string) {
	if m == nil {
		return
	}
	m.layerRequests.With(prometheus.Labels{
		"provider": provider,
		"category": category,
		"outcome":  outcome,
	}).Inc()
}

// ObserveLayerQuery observes one remote query of a layer request.
func (m *Metrics) ObserveLayerQuery(provider, stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.layerQueryDuration.With(prometheus.Labels{
		"provider": provider,
		"stage":    stage,
	}).Observe(duration.Seconds())
}

// SetLayerCounts publishes the loading and rendered layer counts.
func (m *Metrics) SetLayerCounts(loading, rendered int) {
	if m == nil {
		return
	}
	m.layersLoading.Set(float64(loading))
	m.layersRendered.Set(float64(rendered))
}

func (m *Metrics) IncAllClear() {
	if m == nil {
		return
	}
	m.allClearTotal.Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
