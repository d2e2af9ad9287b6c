package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	pipelineRunsTotal  *prometheus.CounterVec
	pipelineDuration   *prometheus.HistogramVec
	stageDuration      *prometheus.HistogramVec
	retrievalHitTotal  *prometheus.CounterVec
	noContextTotal     *prometheus.CounterVec
	retrievedDocuments *prometheus.HistogramVec
	directAnswersTotal *prometheus.CounterVec
	validationTotal    *prometheus.CounterVec
	regenerationsTotal *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sfa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sfa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sfa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	pipelineRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sfa",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total completed pipeline runs by terminal validation status.",
		},
		[]string{"service", "status"},
	)
	pipelineDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sfa",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "End-to-end pipeline run duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sfa",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
	retrievalHitTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sfa",
			Subsystem: "retrieval",
			Name:      "hit_total",
			Help:      "Total runs with at least one retrieved document.",
		},
		[]string{"service"},
	)
	noContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sfa",
			Subsystem: "retrieval",
			Name:      "no_context_total",
			Help:      "Total runs that produced no retrieved documents.",
		},
		[]string{"service"},
	)
	retrievedDocuments := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sfa",
			Subsystem: "retrieval",
			Name:      "documents",
			Help:      "Distribution of documents surviving the rerank cascade.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 8},
		},
		[]string{"service"},
	)
	directAnswersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sfa",
			Subsystem: "pipeline",
			Name:      "direct_answers_total",
			Help:      "Total definitional queries answered without retrieval.",
		},
		[]string{"service"},
	)
	validationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sfa",
			Subsystem: "validation",
			Name:      "outcomes_total",
			Help:      "Total citation validation outcomes by status.",
		},
		[]string{"service", "status"},
	)
	regenerationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sfa",
			Subsystem: "validation",
			Name:      "regenerations_total",
			Help:      "Total answer regenerations triggered by failed validation.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		pipelineRunsTotal,
		pipelineDuration,
		stageDuration,
		retrievalHitTotal,
		noContextTotal,
		retrievedDocuments,
		directAnswersTotal,
		validationTotal,
		regenerationsTotal,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		pipelineRunsTotal:  pipelineRunsTotal,
		pipelineDuration:   pipelineDuration,
		stageDuration:      stageDuration,
		retrievalHitTotal:  retrievalHitTotal,
		noContextTotal:     noContextTotal,
		retrievedDocuments: retrievedDocuments,
		directAnswersTotal: directAnswersTotal,
		validationTotal:    validationTotal,
		regenerationsTotal: regenerationsTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/glossary/"):
		return "/v1/glossary/{term}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordPipelineRun(service, status string, documentCount int, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	m.pipelineRunsTotal.WithLabelValues(service, status).Inc()
	m.pipelineDuration.WithLabelValues(service).Observe(duration.Seconds())
	m.retrievedDocuments.WithLabelValues(service).Observe(float64(documentCount))

	if documentCount > 0 {
		m.retrievalHitTotal.WithLabelValues(service).Inc()
		return
	}
	m.noContextTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordStageDuration(service, stage string, duration time.Duration) {
	if stage == "" {
		stage = "unknown"
	}
	m.stageDuration.WithLabelValues(service, stage).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordDirectAnswer(service string) {
	m.directAnswersTotal.WithLabelValues(service).Inc()
}

func (m *HTTPServerMetrics) RecordValidationOutcome(service, status string) {
	if status == "" {
		status = "unknown"
	}
	m.validationTotal.WithLabelValues(service, status).Inc()
}

func (m *HTTPServerMetrics) RecordRegeneration(service string) {
	m.regenerationsTotal.WithLabelValues(service).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
