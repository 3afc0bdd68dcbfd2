package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kiko-hq/kiko/internal/auth"
	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := corsMiddleware([]string{"*"}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("preflight should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/process-email", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q", got)
	}
}

func TestCORSMiddleware_AllowList(t *testing.T) {
	handler := corsMiddleware([]string{"https://ok.example.com"}, okHandler())

	for _, tt := range []struct {
		origin string
		want   string
	}{
		{"https://ok.example.com", "https://ok.example.com"},
		{"https://evil.example.com", ""},
		{"", ""},
	} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("origin %q: got status %d", tt.origin, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %q: Access-Control-Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "req-123" || rec.Header().Get("X-Request-ID") != "req-123" {
		t.Errorf("caller request id not propagated: ctx=%q header=%q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "req-123" {
		t.Errorf("expected a generated request id, got %q", seen)
	}
}

func TestAuthMiddleware(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer := auth.NewSigner(priv, time.Hour)
	token, _, err := signer.Issue("dashboard")
	if err != nil {
		t.Fatal(err)
	}

	var subject string
	handler := authMiddleware(auth.NewVerifier(pub), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := ClaimsFromContext(r.Context()); c != nil {
			subject = c.Subject
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"root is open", http.MethodGet, "/", "", http.StatusOK},
		{"health is open", http.MethodGet, "/health", "", http.StatusOK},
		{"preflight is open", http.MethodOptions, "/action", "", http.StatusOK},
		{"missing header", http.MethodPost, "/action", "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodPost, "/action", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", http.MethodPost, "/action", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid token", http.MethodPost, "/action", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("got status %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if subject != "dashboard" {
		t.Errorf("claims subject = %q, want dashboard", subject)
	}
}

func TestAuthMiddleware_NilVerifierDisablesAuth(t *testing.T) {
	handler := authMiddleware(nil, okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process-email", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(testLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	var body model.APIError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != model.ErrCodeInternalError {
		t.Errorf("error code = %q", body.Error.Code)
	}
}

func TestHandleDecodeError_TooLarge(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := decodeJSON(w, r, &v, 16); err != nil {
			handleDecodeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	body := `{"conversation": "` + strings.Repeat("x", 64) + `"}`
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: got status %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got status %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 2)
	defer func() { _ = limiter.Close() }()

	handler := rateLimitMiddleware(limiter, testLogger(), okHandler())

	// The first two requests consume the burst; the third is rejected.
	for i := range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/process-email", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		handler.ServeHTTP(rec, req)

		if i < 2 {
			if rec.Code != http.StatusOK {
				t.Errorf("request %d: got status %d, want %d (within burst)", i+1, rec.Code, http.StatusOK)
			}
			continue
		}
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("request %d: got status %d, want %d (burst exhausted)", i+1, rec.Code, http.StatusTooManyRequests)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("rate-limited response should include Retry-After header")
		}
	}

	// Another address has its own bucket.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/process-email", nil)
	req.RemoteAddr = "192.168.1.2:12345"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("second address: got status %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimitKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/action", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	if got := rateLimitKey(req); got != "ip:10.1.2.3" {
		t.Errorf("anonymous key = %q", got)
	}

	claims := &auth.Claims{}
	claims.Subject = "dashboard"
	req = req.WithContext(context.WithValue(req.Context(), contextKeyClaims, claims))
	if got := rateLimitKey(req); got != "sub:dashboard" {
		t.Errorf("authenticated key = %q", got)
	}
}
