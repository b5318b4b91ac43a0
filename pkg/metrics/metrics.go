// Package metrics provides Prometheus metrics for the memory service and its HTTP surface.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/lewisedginton/chat_memory/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "memory"
)

// Eviction reasons used as the "reason" label.
const (
	ReasonTTL      = "ttl"
	ReasonCategory = "category"
	ReasonGlobal   = "global"
	ReasonCacheTTL = "cache_ttl"
)

// Metrics owns a private registry. Every method is safe to call on a nil
// *Metrics, so components can take one optionally.
type Metrics struct {
	reg *prometheus.Registry

	HTTPRequestsCounter   *prometheus.CounterVec
	HTTPDurationHistogram *prometheus.HistogramVec

	CyclesCounter           prometheus.Counter
	EvictionsCounter        *prometheus.CounterVec
	EvictionFailuresCounter prometheus.Counter
	CycleDurationHistogram  prometheus.Histogram

	FailoversCounter prometheus.Counter
	DegradedGauge    prometheus.Gauge
	RecordsGauge     *prometheus.GaugeVec

	log logger.Logger
}

// NewMetrics creates a new Metrics instance. HTTP collectors are only
// registered when httpCounters is set.
func NewMetrics(httpCounters bool, l logger.Logger) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: l,
	}
	if httpCounters {
		m.HTTPRequestsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method and status",
		}, []string{"method", "status"})
		m.HTTPDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1.0, 3.0, 5.0, 10.0},
		}, []string{"method", "status"})
		m.reg.MustRegister(m.HTTPRequestsCounter, m.HTTPDurationHistogram)
	}

	m.CyclesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "optimizer_cycles_total",
		Help:      "Completed optimization cycles",
	})
	m.EvictionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "optimizer_evictions_total",
		Help:      "Records and cache entries removed by the optimizer",
	}, []string{"reason"})
	m.EvictionFailuresCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "optimizer_eviction_failures_total",
		Help:      "Deletes the optimizer attempted and skipped after an error",
	})
	m.CycleDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "optimizer_cycle_duration_seconds",
		Help:      "Optimization cycle duration in seconds",
		Buckets:   prometheus.DefBuckets,
	})
	m.FailoversCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_failovers_total",
		Help:      "Switches from the primary to the fallback store",
	})
	m.DegradedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backend_degraded",
		Help:      "1 while serving from the fallback store",
	})
	m.RecordsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "records",
		Help:      "Memory records seen by the last stats pass",
	}, []string{"kind"})

	m.reg.MustRegister(
		m.CyclesCounter,
		m.EvictionsCounter,
		m.EvictionFailuresCounter,
		m.CycleDurationHistogram,
		m.FailoversCounter,
		m.DegradedGauge,
		m.RecordsGauge,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Listen serves /metrics on port until ctx is cancelled.
func (m *Metrics) Listen(ctx context.Context, port int) error {
	m.log.Info("Starting metrics listener", logger.IntField("port", port))
	mux := http.NewServeMux()
	mux.Handle("/", http.NotFoundHandler())
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics listener: %w", err)
	case <-ctx.Done():
		m.log.Info("Stopping metrics listener")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// AddCustomMetric registers a custom Prometheus collector.
func (m *Metrics) AddCustomMetric(c prometheus.Collector) {
	if m == nil {
		return
	}
	m.reg.MustRegister(c)
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesCounter.Inc()
	m.CycleDurationHistogram.Observe(d.Seconds())
}

func (m *Metrics) AddEvictions(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EvictionsCounter.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) IncEvictionFailure() {
	if m == nil {
		return
	}
	m.EvictionFailuresCounter.Inc()
}

func (m *Metrics) IncFailover() {
	if m == nil {
		return
	}
	m.FailoversCounter.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.DegradedGauge.Set(1)
		return
	}
	m.DegradedGauge.Set(0)
}

// SetRecords publishes the counts from a stats pass.
func (m *Metrics) SetRecords(total, userDefined, highImportance int) {
	if m == nil {
		return
	}
	m.RecordsGauge.WithLabelValues("total").Set(float64(total))
	m.RecordsGauge.WithLabelValues("user_defined").Set(float64(userDefined))
	m.RecordsGauge.WithLabelValues("high_importance").Set(float64(highImportance))
}

// HTTPMiddleware returns a Chi-compatible middleware that tracks HTTP metrics
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil || m.HTTPRequestsCounter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			m.HTTPRequestsCounter.WithLabelValues(r.Method, status).Inc()
			m.HTTPDurationHistogram.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
