// Copyright 2024-2026 Aiku AI

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one Server. Each Server gets its own
// registry so several can coexist in one process.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec
}

func newMetrics(ready func() bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mattermost_rest_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mattermost_rest_http_request_duration_seconds",
				Help:    "Histogram of response latency (seconds) for HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method"},
		),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mattermost_rest_upstream_errors_total",
				Help: "Total number of failed Mattermost API calls",
			},
			[]string{"handler"},
		),
	}
	readyGauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mattermost_rest_session_ready",
			Help: "1 when the Mattermost session is ready to serve requests",
		},
		func() float64 {
			if ready() {
				return 1
			}
			return 0
		},
	)
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.upstreamErrors,
		readyGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// instrument records request count and latency under a fixed handler name.
func (m *Metrics) instrument(handlerName string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		m.requestsTotal.WithLabelValues(handlerName, r.Method, strconv.Itoa(ww.status)).Inc()
		m.requestDuration.WithLabelValues(handlerName, r.Method).Observe(time.Since(start).Seconds())
		if ww.upstreamError {
			m.upstreamErrors.WithLabelValues(handlerName).Inc()
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status        int
	upstreamError bool
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
