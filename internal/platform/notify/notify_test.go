package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_ValidatesURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://emr.example.com/callback", false},
		{"http with query", "http://localhost:9000/cb?tenant=a", false},
		{"empty", "", true},
		{"ftp scheme", "ftp://example.com/cb", true},
		{"no host", "http:///cb", true},
		{"unparseable", "http://[::1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
	if _, err := New(""); !errors.Is(err, ErrNoCallbackURL) {
		t.Errorf("expected ErrNoCallbackURL, got %v", err)
	}
}

func TestNotify_SendsQueryAndSignature(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		if !Verify(r, "s3cret") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(srv.URL+"/cb?tenant=clinic-1", WithSecret("s3cret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, err := n.Notify(context.Background(), Notification{
		Bucket:    "lab-results",
		FileKey:   "hl7/2024/01/15/MSG1.json",
		MessageID: "MSG1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v (%+v)", err, d)
	}
	if d.Attempts != 1 || d.StatusCode != http.StatusOK {
		t.Errorf("expected one successful attempt, got %+v", d)
	}
	if got.Method != http.MethodGet {
		t.Errorf("expected GET, got %s", got.Method)
	}
	q := got.URL.Query()
	if q.Get("bucket") != "lab-results" || q.Get("fileKey") != "hl7/2024/01/15/MSG1.json" {
		t.Errorf("unexpected query %v", q)
	}
	if q.Get("tenant") != "clinic-1" || q.Get("messageId") != "MSG1" {
		t.Errorf("expected existing and message id params kept, got %v", q)
	}
	if got.Header.Get(HeaderDelivery) != d.ID {
		t.Errorf("expected delivery id header %s, got %s", d.ID, got.Header.Get(HeaderDelivery))
	}
}

func TestNotify_UnsignedWithoutSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderSignature) != "" {
			t.Errorf("expected no signature header")
		}
	}))
	defer srv.Close()

	n, _ := New(srv.URL)
	if _, err := n.Notify(context.Background(), Notification{Bucket: "b", FileKey: "k"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNotify_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, _ := New(srv.URL, WithMaxRetries(3), WithRetryDelays(time.Millisecond))
	d, err := n.Notify(context.Background(), Notification{Bucket: "b", FileKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Attempts != 3 || d.StatusCode != http.StatusNoContent || d.Error != "" {
		t.Errorf("expected success on third attempt, got %+v", d)
	}
}

func TestNotify_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, _ := New(srv.URL, WithMaxRetries(2), WithRetryDelays(time.Millisecond))
	d, err := n.Notify(context.Background(), Notification{Bucket: "b", FileKey: "k"})
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
	if d.StatusCode != http.StatusBadGateway || d.Error == "" {
		t.Errorf("expected last failure recorded, got %+v", d)
	}
}

func TestNotify_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n, _ := New(srv.URL, WithRetryDelays(time.Millisecond))
	if _, err := n.Notify(context.Background(), Notification{Bucket: "b", FileKey: "k"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single call, got %d", got)
	}
}

func TestNotify_TransportErrorRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	n, _ := New(url, WithMaxRetries(1), WithRetryDelays(time.Millisecond))
	d, err := n.Notify(context.Background(), Notification{Bucket: "b", FileKey: "k"})
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if d.Attempts != 2 || d.StatusCode != 0 {
		t.Errorf("expected 2 attempts without a status, got %+v", d)
	}
}

func TestNotify_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	n, _ := New(srv.URL, WithMaxRetries(5), WithRetryDelays(time.Hour))
	d, err := n.Notify(ctx, Notification{Bucket: "b", FileKey: "k"})
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected ErrDelivery, got %v", err)
	}
	if d.Attempts != 1 {
		t.Errorf("expected to stop during backoff after 1 attempt, got %d", d.Attempts)
	}
}

func TestSignAndVerify(t *testing.T) {
	sig := SignPayload([]byte("payload"), "secret")
	if !VerifySignature([]byte("payload"), "secret", sig) {
		t.Error("expected signature to verify")
	}
	if VerifySignature([]byte("payload"), "other", sig) {
		t.Error("expected wrong secret to fail")
	}
	if VerifySignature([]byte("tampered"), "secret", sig) {
		t.Error("expected tampered payload to fail")
	}

	r := httptest.NewRequest(http.MethodGet, "/cb?bucket=b&fileKey=k", nil)
	if Verify(r, "secret") {
		t.Error("expected unsigned request to fail verification")
	}
}
