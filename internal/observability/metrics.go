package observability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline labels shared by the job metrics.
const (
	PipelineBatch   = "batch"
	PipelineWebhook = "webhook"
	PipelinePlan    = "plan"
)

// Metrics stores Prometheus collectors used by the API and the job pipelines.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	batchUnitsTotal         *prometheus.CounterVec
	batchesFinishedTotal    *prometheus.CounterVec
	webhookDeliveriesTotal  *prometheus.CounterVec
	webhookDispatchDuration prometheus.Histogram
	planExecutionsTotal     *prometheus.CounterVec
	retryScheduledTotal     *prometheus.CounterVec
	jobsInflight            *prometheus.GaugeVec
}

func counterVec(name, help, label string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ServiceName, Name: name, Help: help}, []string{label})
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ServiceName,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ServiceName,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchUnitsTotal:        counterVec("batch_units_total", "Batch order units processed by outcome.", "outcome"),
		batchesFinishedTotal:   counterVec("batches_finished_total", "Batches that reached a terminal status.", "status"),
		webhookDeliveriesTotal: counterVec("webhook_deliveries_total", "Webhook dispatch attempts by outcome.", "outcome"),
		webhookDispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ServiceName,
			Name:      "webhook_dispatch_duration_seconds",
			Help:      "Duration of one webhook POST in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		planExecutionsTotal: counterVec("plan_executions_total", "Plan installment executions by outcome.", "outcome"),
		retryScheduledTotal: counterVec("retry_scheduled_total", "Retries scheduled by pipeline.", "pipeline"),
		jobsInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: ServiceName, Name: "jobs_inflight", Help: "Units of work currently executing by pipeline."},
			[]string{"pipeline"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchUnitsTotal,
		m.batchesFinishedTotal,
		m.webhookDeliveriesTotal,
		m.webhookDispatchDuration,
		m.planExecutionsTotal,
		m.retryScheduledTotal,
		m.jobsInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records every request except scrapes of /metrics. statusOf maps a handler
// error to the status the error handler will answer with; nil counts every error as 500.
func (m *Metrics) HTTPMiddleware(statusOf func(error) int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err, statusOf), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchUnit(success bool) {
	if m == nil {
		return
	}
	m.batchUnitsTotal.WithLabelValues(outcomeLabel(success)).Inc()
}

func (m *Metrics) IncBatchFinished(status string) {
	if m == nil {
		return
	}
	m.batchesFinishedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncWebhookDelivery(success bool) {
	if m == nil {
		return
	}
	m.webhookDeliveriesTotal.WithLabelValues(outcomeLabel(success)).Inc()
}

func (m *Metrics) ObserveWebhookDispatch(duration time.Duration) {
	if m == nil {
		return
	}
	m.webhookDispatchDuration.Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncPlanExecution(success bool) {
	if m == nil {
		return
	}
	m.planExecutionsTotal.WithLabelValues(outcomeLabel(success)).Inc()
}

func (m *Metrics) IncRetryScheduled(pipeline string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(pipeline)).Inc()
}

func (m *Metrics) IncInFlight(pipeline string) {
	if m == nil {
		return
	}
	m.jobsInflight.WithLabelValues(normalizeLabel(pipeline)).Inc()
}

func (m *Metrics) DecInFlight(pipeline string) {
	if m == nil {
		return
	}
	m.jobsInflight.WithLabelValues(normalizeLabel(pipeline)).Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error, statusOf func(error) int) int {
	if err != nil {
		if statusOf != nil {
			return statusOf(err)
		}
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}
	if status := c.Response().StatusCode(); status != 0 {
		return status
	}
	return fiber.StatusOK
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
