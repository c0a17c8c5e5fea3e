// Package metrics holds the Prometheus collectors of the portal.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage outcomes of the maintenance pipeline.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PipelineStages      *prometheus.CounterVec
	SubmissionDuration  prometheus.Histogram
	MessagesSent        *prometheus.CounterVec
}

// New registers the collectors on a private registry.
func New(prefix string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		PipelineStages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_maintenance_stage_total",
				Help: "Maintenance pipeline stage results by outcome",
			},
			[]string{"stage", "outcome"},
		),
		SubmissionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    prefix + "_maintenance_submission_duration_seconds",
				Help:    "End-to-end duration of maintenance submissions",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
		),
		MessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_chat_messages_total",
				Help: "Chat messages stored, by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordStage counts one pipeline stage result.
func (m *Metrics) RecordStage(stage, outcome string) {
	m.PipelineStages.WithLabelValues(stage, outcome).Inc()
}

// ObserveSubmission records the duration of a full submission.
func (m *Metrics) ObserveSubmission(d time.Duration) {
	m.SubmissionDuration.Observe(d.Seconds())
}

// RecordMessage counts a stored chat message.
func (m *Metrics) RecordMessage(kind string) {
	m.MessagesSent.WithLabelValues(kind).Inc()
}

// Middleware records request counts and latencies per route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
