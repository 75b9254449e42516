package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the sync engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	syncPushes      *prometheus.CounterVec
	syncPushLatency prometheus.Observer
	reconciled      *prometheus.CounterVec
	pendingDeletes  prometheus.Gauge
	progressRefresh prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	syncPushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_pushes_total",
		Help: "Outbound pushes to the shared store by kind and result",
	}, []string{"kind", "result"})

	syncPushLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_push_duration_seconds",
		Help:    "Duration of outbound push jobs",
		Buckets: prometheus.DefBuckets,
	})

	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_inbound_records_total",
		Help: "Inbound records by record type and reconcile outcome",
	}, []string{"record_type", "outcome"})

	pendingDeletes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_pending_remote_deletes",
		Help: "Tombstones not yet delivered to the shared store",
	})

	progressRefresh := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "progress_refresh_total",
		Help: "Number of student progress recomputations",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, syncPushes, syncPushLatency, reconciled, pendingDeletes, progressRefresh, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		syncPushes:      syncPushes,
		syncPushLatency: syncPushLatency,
		reconciled:      reconciled,
		pendingDeletes:  pendingDeletes,
		progressRefresh: progressRefresh,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the private registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordPush counts one push job outcome.
func (m *MetricsService) RecordPush(kind string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.syncPushes.WithLabelValues(kind, result).Inc()
	m.syncPushLatency.Observe(duration.Seconds())
}

// RecordInbound counts one reconciled inbound record.
func (m *MetricsService) RecordInbound(recordType, outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(recordType, outcome).Inc()
}

// SetPendingDeletes updates the undelivered tombstone gauge.
func (m *MetricsService) SetPendingDeletes(count int) {
	if m == nil {
		return
	}
	m.pendingDeletes.Set(float64(count))
}

// RecordProgressRefresh counts a progress recomputation.
func (m *MetricsService) RecordProgressRefresh() {
	if m == nil {
		return
	}
	m.progressRefresh.Inc()
}
