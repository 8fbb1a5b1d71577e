package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type downLedger struct{ *MemoryLedger }

func (downLedger) Ping(context.Context) error { return errors.New("connection refused") }

func callHealth(t *testing.T, l Ledger) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(l)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	code, body := callHealth(t, NewMemoryLedger())
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" || body["ledger"] != "memory" {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["pool"]; ok {
		t.Error("expected no pool stats for the memory ledger")
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	code, body := callHealth(t, downLedger{NewMemoryLedger()})
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body["status"] != "unhealthy" || body["error"] != "connection refused" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestCheck_PoolStatsOmittedWhenAbsent(t *testing.T) {
	st := Check(context.Background(), NewMemoryLedger())
	if st.Pool != nil || st.Error != "" {
		t.Errorf("unexpected status %+v", st)
	}
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"status":"healthy","ledger":"memory"}` {
		t.Errorf("unexpected JSON %s", data)
	}
}
