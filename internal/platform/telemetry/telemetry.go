// Package telemetry exposes Prometheus metrics for the ingest service:
// per-message parse outcomes, storage and callback results, batch timings,
// and HTTP request metrics, served in text exposition format at /metrics.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hl7ingest"

// Outcome label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Failure stages reported by MessageFailed.
const (
	StageEnvelope = "envelope"
	StageParse    = "parse"
	StageLedger   = "ledger"
	StageUpload   = "upload"
	StageNotify   = "notify"
	StageAck      = "ack"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds the static labels and histogram layout.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Buckets for the batch duration histogram, in seconds.
	BatchBuckets []float64
	// RuntimeCollectors adds Go runtime and process collectors.
	RuntimeCollectors bool
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "hl7-ingest"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if len(c.BatchBuckets) == 0 {
		c.BatchBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	}
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	cfg      Config
	registry *prometheus.Registry

	parsed        *prometheus.CounterVec
	failed        *prometheus.CounterVec
	duplicates    prometheus.Counter
	uploads       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	batchDuration prometheus.Histogram
	batchSize     prometheus.Histogram
	inFlight      prometheus.Gauge

	httpDuration *prometheus.HistogramVec
	httpActive   prometheus.Gauge
}

// New creates and registers the ingest metrics.
func New(cfg Config) *Metrics {
	cfg.applyDefaults()
	constLabels := prometheus.Labels{"service": cfg.ServiceName, "version": cfg.ServiceVersion, "env": cfg.Environment}

	m := &Metrics{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		parsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_parsed_total",
			Help:        "Messages parsed into reports, by dialect and report type.",
			ConstLabels: constLabels,
		}, []string{"dialect", "report_type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_failed_total",
			Help:        "Messages that failed, by pipeline stage.",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_duplicate_total",
			Help:        "Messages skipped because the ledger had already recorded them.",
			ConstLabels: constLabels,
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "uploads_total",
			Help:        "Report uploads to the content store, by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help:        "Callback notifications, by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_duration_seconds",
			Help:        "Wall time of one pipeline pass.",
			ConstLabels: constLabels,
			Buckets:     cfg.BatchBuckets,
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_messages",
			Help:        "Messages per pipeline pass.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "batches_in_flight",
			Help:        "Pipeline passes currently running.",
			ConstLabels: constLabels,
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:        "HTTP request latency by method, route and status.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_active_requests",
			Help:        "HTTP requests currently being served.",
			ConstLabels: constLabels,
		}),
	}

	m.registry.MustRegister(
		m.parsed, m.failed, m.duplicates, m.uploads, m.notifications,
		m.batchDuration, m.batchSize, m.inFlight, m.httpDuration, m.httpActive,
	)
	if cfg.RuntimeCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) MessageParsed(dialect, reportType string) {
	if m == nil {
		return
	}
	m.parsed.WithLabelValues(dialect, reportType).Inc()
}

func (m *Metrics) MessageFailed(stage string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(stage).Inc()
}

func (m *Metrics) MessageDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) Upload(ok bool) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Notification(ok bool) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result(ok)).Inc()
}

// BatchStarted marks a pipeline pass as running and returns a func that
// records its duration and size when called.
func (m *Metrics) BatchStarted() func(messages int) {
	if m == nil {
		return func(int) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(messages int) {
		m.inFlight.Dec()
		m.batchDuration.Observe(time.Since(start).Seconds())
		m.batchSize.Observe(float64(messages))
	}
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// Middleware records request latency and in-flight requests.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.httpActive.Inc()
			start := time.Now()

			err := next(c)

			m.httpActive.Dec()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			m.httpDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
}
