// Package metrics exposes Prometheus collectors for the dashboard. Every
// method is safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "soferklesia"

type Metrics struct {
	registry *prometheus.Registry

	attendance    *prometheus.GaugeVec
	mutations     *prometheus.CounterVec
	persistErrors prometheus.Counter
	rollovers     *prometheus.CounterVec
	lastRollup    prometheus.Gauge
	polls         *prometheus.CounterVec
	pollDuration  prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attendance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attendance",
			Help:      "Live attendance count for the current week by category.",
		}, []string{"category"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_mutations_total",
			Help:      "Counter mutations applied, by source (manual, detection).",
		}, []string{"source"}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed writes of counter state or activity log entries.",
		}),
		rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollovers_total",
			Help:      "Week rollovers performed, by outcome (rollup, missing_log).",
		}, []string{"outcome"}),
		lastRollup: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_rollup_total",
			Help:      "Total attendance of the most recently closed week.",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_polls_total",
			Help:      "Detection service polls by result (ok, empty, error).",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_poll_duration_seconds",
			Help:      "Latency of detection service requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.attendance,
		m.mutations,
		m.persistErrors,
		m.rollovers,
		m.lastRollup,
		m.polls,
		m.pollDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetAttendance(male, female int) {
	if m == nil {
		return
	}
	m.attendance.WithLabelValues("male").Set(float64(male))
	m.attendance.WithLabelValues("female").Set(float64(female))
}

func (m *Metrics) Mutation(source string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(source).Inc()
}

func (m *Metrics) PersistError() {
	if m == nil {
		return
	}
	m.persistErrors.Inc()
}

func (m *Metrics) Rollover(rollupWritten bool, total int) {
	if m == nil {
		return
	}
	if !rollupWritten {
		m.rollovers.WithLabelValues("missing_log").Inc()
		return
	}
	m.rollovers.WithLabelValues("rollup").Inc()
	m.lastRollup.Set(float64(total))
}

func (m *Metrics) Poll(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
	m.pollDuration.Observe(d.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records request count and latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
