package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ---------------------------------------------------------------------------
// Config defaults
// ---------------------------------------------------------------------------

func TestConfig_Defaults(t *testing.T) {
	m := New(Config{})
	if m.cfg.ServiceName != "hl7-ingest" {
		t.Fatalf("expected default ServiceName='hl7-ingest', got %q", m.cfg.ServiceName)
	}
	if m.cfg.Environment != "development" {
		t.Fatalf("expected default Environment='development', got %q", m.cfg.Environment)
	}
	if len(m.cfg.BatchBuckets) == 0 {
		t.Fatal("expected default batch buckets")
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	a := New(Config{})
	b := New(Config{})
	a.MessageParsed("generic", "lab")
	if got := testutil.ToFloat64(b.parsed.WithLabelValues("generic", "lab")); got != 0 {
		t.Errorf("expected separate registries, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

func TestCounters(t *testing.T) {
	m := New(Config{})
	m.MessageParsed("emr", "lab")
	m.MessageParsed("emr", "lab")
	m.MessageParsed("generic", "document")
	m.MessageFailed(StageParse)
	m.MessageDuplicate()
	m.Upload(true)
	m.Upload(false)
	m.Notification(true)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"parsed emr/lab", testutil.ToFloat64(m.parsed.WithLabelValues("emr", "lab")), 2},
		{"parsed generic/document", testutil.ToFloat64(m.parsed.WithLabelValues("generic", "document")), 1},
		{"failed parse", testutil.ToFloat64(m.failed.WithLabelValues(StageParse)), 1},
		{"duplicates", testutil.ToFloat64(m.duplicates), 1},
		{"uploads ok", testutil.ToFloat64(m.uploads.WithLabelValues(ResultSuccess)), 1},
		{"uploads failed", testutil.ToFloat64(m.uploads.WithLabelValues(ResultFailure)), 1},
		{"notifications ok", testutil.ToFloat64(m.notifications.WithLabelValues(ResultSuccess)), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, tt.got)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.MessageParsed("generic", "lab")
	m.MessageFailed(StageUpload)
	m.MessageDuplicate()
	m.Upload(true)
	m.Notification(false)
	m.BatchStarted()(3)
}

func TestBatchStarted(t *testing.T) {
	m := New(Config{})
	done := m.BatchStarted()
	if got := testutil.ToFloat64(m.inFlight); got != 1 {
		t.Errorf("expected 1 batch in flight, got %v", got)
	}
	done(4)
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Errorf("expected 0 batches in flight, got %v", got)
	}
	if n := testutil.CollectAndCount(m.batchDuration); n != 1 {
		t.Errorf("expected one batch duration series, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

func TestMiddleware_RecordsRouteAndStatus(t *testing.T) {
	m := New(Config{})
	e := echo.New()
	e.Use(m.Middleware())
	e.POST("/api/v1/hl7v2/parse", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad")
	})
	e.GET("/fail", func(c echo.Context) error { return errors.New("plain") })

	for _, r := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/hl7v2/parse"},
		{http.MethodGet, "/boom"},
		{http.MethodGet, "/fail"},
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(r.method, r.path, nil))
	}

	if n := testutil.CollectAndCount(m.httpDuration); n != 3 {
		t.Fatalf("expected 3 series, got %d", n)
	}
	if got := testutil.ToFloat64(m.httpActive); got != 0 {
		t.Errorf("expected no active requests, got %v", got)
	}

	body := scrape(t, m)
	for _, want := range []string{
		`route="/api/v1/hl7v2/parse"`,
		`status="400"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in exposition", want)
		}
	}
}

func TestHandler_Exposition(t *testing.T) {
	m := New(Config{ServiceName: "svc", Environment: "test"})
	m.MessageParsed("generic", "lab")

	body := scrape(t, m)
	for _, want := range []string{
		"# TYPE hl7ingest_messages_parsed_total counter",
		`hl7ingest_messages_parsed_total{dialect="generic",env="test",report_type="lab",service="svc",version="0.0.0"} 1`,
		"# HELP hl7ingest_batch_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in exposition:\n%s", want, body)
		}
	}
}

func TestHandler_RuntimeCollectors(t *testing.T) {
	m := New(Config{RuntimeCollectors: true})
	if body := scrape(t, m); !strings.Contains(body, "go_goroutines") {
		t.Error("expected go runtime metrics")
	}
}

func TestMetrics_ConcurrentSafe(t *testing.T) {
	m := New(Config{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := m.BatchStarted()
			m.MessageParsed("generic", "lab")
			m.Upload(true)
			done(1)
		}()
	}
	wg.Wait()
	if got := testutil.ToFloat64(m.parsed.WithLabelValues("generic", "lab")); got != 50 {
		t.Errorf("expected 50, got %v", got)
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	if err := m.Handler()(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}
