package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/hl7ingest/internal/config"
	"github.com/ehr/hl7ingest/internal/labreport"
	"github.com/ehr/hl7ingest/internal/platform/auth"
)

const sampleORU = "MSH|^~\\&|LABSYS|CML|EMR|CLINIC|20240115101500||ORU^R01|CLI1|P|2.3-ON\r" +
	"PID|1||1234567890^^^ON^JHN||Doe^Jane\r" +
	"OBR|1|PL1|FL1|CBC^Complete Blood Count\r" +
	"OBX|1|NM|718-7^Hemoglobin^LN||135|g/L"

func testConfig() *config.Config {
	return &config.Config{
		Env:                "test",
		LogStream:          "hl7-ingest",
		Dialect:            "auto",
		ParseConcurrency:   2,
		EnvelopeElement:    "Message",
		EnvelopeIDAttr:     "id",
		PollSchedule:       "@every 5m",
		BlobDriver:         "memory",
		S3Bucket:           "lab-results",
		PresignTTL:         time.Minute,
		CallbackMaxRetries: 0,
		LedgerDriver:       "memory",
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func runCommand(t *testing.T, args []string, stdin string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// =========== CLI ===========

func TestParseCommand(t *testing.T) {
	out, err := runCommand(t, []string{"parse"}, sampleORU)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var r labreport.Report
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("output is not a report: %v\n%s", err, out)
	}
	if r.MessageHeader == nil || r.MessageHeader.ControlID != "CLI1" {
		t.Errorf("unexpected header %+v", r.MessageHeader)
	}
	if r.IsOntarioFormat == nil || !*r.IsOntarioFormat {
		t.Error("expected EMR dialect detected")
	}
}

func TestParseCommand_FromFileWithDialect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.hl7")
	if err := os.WriteFile(path, []byte(sampleORU), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := runCommand(t, []string{"parse", "--dialect", "generic", "--pretty", path}, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if strings.Contains(out, "isOntarioFormat") {
		t.Errorf("expected forced generic dialect, got %s", out)
	}
	if !strings.Contains(out, "\n  ") {
		t.Error("expected indented output")
	}
}

func TestParseCommand_Errors(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
	}{
		{"empty input", []string{"parse"}, "  "},
		{"bad dialect", []string{"parse", "--dialect", "v3"}, sampleORU},
		{"no header", []string{"parse"}, "PID|1"},
		{"missing file", []string{"parse", "/does/not/exist.hl7"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCommand(t, tt.args, tt.stdin); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestExtractCommand(t *testing.T) {
	doc := `<Batch><Msg ref="A"><![CDATA[` + sampleORU + `]]></Msg><Msg ref="B">junk</Msg></Batch>`
	out, err := runCommand(t, []string{"extract", "--element", "Msg", "--id-attr", "ref"}, doc)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var results []labreport.EnvelopeResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("output is not a result list: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "A" || results[0].Report == nil {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[1].ID != "B" || results[1].Error == "" {
		t.Errorf("expected error for B, got %+v", results[1])
	}

	if _, err := runCommand(t, []string{"extract"}, "<Batch>"); err == nil {
		t.Error("expected error for a malformed envelope")
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	out, err := runCommand(t, []string{"token", "--subject", "lab-bridge"}, "")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out), "."); len(parts) != 3 {
		t.Errorf("expected a JWT, got %q", out)
	}
}

// =========== Wiring ===========

func TestOpenStore(t *testing.T) {
	cfg := testConfig()
	store, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	if store.Bucket() != "lab-results" {
		t.Errorf("expected lab-results, got %s", store.Bucket())
	}

	cfg.BlobDriver = "gcs"
	if _, err := openStore(context.Background(), cfg); err == nil {
		t.Error("expected error for an unknown driver")
	}
}

func TestNewNotifier(t *testing.T) {
	cfg := testConfig()
	n, err := newNotifier(cfg)
	if err != nil || n != nil {
		t.Fatalf("expected no notifier without CALLBACK_URL, got %v / %v", n, err)
	}
	cfg.CallbackURL = "ftp://example.com"
	if _, err := newNotifier(cfg); err == nil {
		t.Error("expected error for a non-http callback url")
	}
	cfg.CallbackURL = "https://example.com/hook"
	if n, err := newNotifier(cfg); err != nil || n == nil {
		t.Errorf("expected notifier, got %v / %v", n, err)
	}
}

func TestParseOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Dialect = "ontario"
	if _, err := parseOptions(cfg); err != nil {
		t.Errorf("expected ontario alias accepted, got %v", err)
	}
	cfg.Dialect = "v3"
	if _, err := parseOptions(cfg); err == nil {
		t.Error("expected error for an unknown dialect")
	}
}

// =========== HTTP Surface ===========

func do(e http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestServer_DevAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "development"
	e := newTestApp(t, cfg).newEcho()

	if rec := do(e, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec := do(e, http.MethodPost, "/api/v1/hl7v2/parse", sampleORU, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("parse: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"controlId":"CLI1"`) {
		t.Errorf("unexpected report %s", rec.Body.String())
	}
	if rec := do(e, http.MethodPost, "/api/v1/hl7v2/tokenize", sampleORU, ""); rec.Code != http.StatusOK {
		t.Errorf("tokenize: expected 200, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "hl7ingest_http_request_duration_seconds") {
		t.Errorf("metrics: expected request histogram, got %d", rec.Code)
	}
}

func TestServer_JWTAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.JWTSecret = "server-secret"
	e := newTestApp(t, cfg).newEcho()

	if rec := do(e, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("health should be public, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/v1/hl7v2/parse", sampleORU, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}

	tok, err := auth.IssueToken([]byte("server-secret"), "tester", []string{auth.ScopeParse}, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if rec := do(e, http.MethodPost, "/api/v1/hl7v2/parse", sampleORU, tok); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with a token, got %d: %s", rec.Code, rec.Body.String())
	}

	noScope, _ := auth.IssueToken([]byte("server-secret"), "tester", nil, time.Minute)
	if rec := do(e, http.MethodPost, "/api/v1/hl7v2/parse", sampleORU, noScope); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without the parse scope, got %d", rec.Code)
	}
}

func TestServer_Envelope(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "development"
	e := newTestApp(t, cfg).newEcho()

	doc := `<Batch><Message id="E1"><![CDATA[` + sampleORU + `]]></Message></Batch>`
	rec := do(e, http.MethodPost, "/api/v1/hl7v2/envelope", doc, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var results []labreport.EnvelopeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 1 || results[0].ID != "E1" || results[0].Report == nil {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestPipelineFromApp(t *testing.T) {
	cfg := testConfig()
	a := newTestApp(t, cfg)

	doc := []byte(`<Batch><Message id="P1"><![CDATA[` + sampleORU + `]]></Message></Batch>`)
	results, err := a.pipeline.ProcessEnvelope(context.Background(), doc)
	if err != nil {
		t.Fatalf("ProcessEnvelope: %v", err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results %+v", results)
	}
	if seen, _ := a.ledger.Seen(context.Background(), "P1"); !seen {
		t.Error("expected P1 recorded in the ledger")
	}
	if _, _, err := a.store.Get(context.Background(), results[0].Key); err != nil {
		t.Errorf("expected stored report: %v", err)
	}
}
