package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runWithHeader(t *testing.T, mw echo.MiddlewareFunc, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/parse", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen echo.Context
	handler := func(c echo.Context) error {
		seen = c
		return c.String(http.StatusOK, "ok")
	}
	err := mw(handler)(c)
	return seen, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runWithHeader(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer  "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runWithHeader(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token, err := IssueToken(testSigningKey, "lab-feed", []string{ScopeParse}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	c, err := runWithHeader(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if SubjectFromContext(ctx) != "lab-feed" {
		t.Errorf("expected subject lab-feed, got %q", SubjectFromContext(ctx))
	}
	if !HasScope(ScopesFromContext(ctx), ScopeParse) {
		t.Errorf("expected parse scope, got %v", ScopesFromContext(ctx))
	}
}

func TestJWTMiddleware_RejectsBadTokens(t *testing.T) {
	expired := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "lab-feed",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSigningKey)
	noExpiry := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "lab-feed"},
	}, testSigningKey)
	wrongKey, _ := IssueToken([]byte("another-key"), "lab-feed", nil, time.Hour)
	wrongIssuer := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSigningKey)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"no expiry", noExpiry},
		{"wrong key", wrongKey},
		{"wrong issuer", wrongIssuer},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "hl7-ingest"})
			_, err := runWithHeader(t, mw, "Bearer "+tt.token)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	c, err := runWithHeader(t, DevAuthMiddleware(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := c.Request().Context()
	if SubjectFromContext(ctx) != "dev-user" {
		t.Errorf("expected dev-user, got %q", SubjectFromContext(ctx))
	}
	if !HasScope(ScopesFromContext(ctx), ScopeParse) {
		t.Error("expected dev identity to hold every scope")
	}
}

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		want   int
	}{
		{"exact scope", []string{ScopeParse}, http.StatusOK},
		{"wildcard", []string{ScopeAll}, http.StatusOK},
		{"other scope", []string{"hl7:admin"}, http.StatusForbidden},
		{"no identity", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/hl7v2/parse", nil)
			if tt.scopes != nil {
				req = req.WithContext(withIdentity(context.Background(), "u", tt.scopes))
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireScope(ScopeParse)(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})(c)
			if tt.want == http.StatusOK {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			expectStatus(t, err, tt.want)
		})
	}
}

func TestIssueToken_EmptyKey(t *testing.T) {
	if _, err := IssueToken(nil, "x", nil, time.Minute); err == nil {
		t.Fatal("expected error for empty signing key")
	}
}
