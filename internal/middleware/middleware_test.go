package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/duesledger/duesledger/internal/auth"
	"github.com/duesledger/duesledger/internal/cache"
	"github.com/duesledger/duesledger/internal/metrics"
	"github.com/duesledger/duesledger/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generates", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
			t.Errorf("expected generated ID in context and header, got %q / %q", seen, rec.Header().Get(RequestIDHeader))
		}
	})

	t.Run("reuses client ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if seen != "abc-123" {
			t.Errorf("expected abc-123, got %q", seen)
		}
	})

	t.Run("replaces oversized ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
		h.ServeHTTP(httptest.NewRecorder(), req)
		if len(seen) > maxRequestIDLength {
			t.Errorf("expected oversized ID to be replaced")
		}
	})
}

func TestLogger_LevelsByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte("body"))
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/mana.json", nil))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("invalid log line: %v", err)
		}
		if entry["level"] != tt.level {
			t.Errorf("status %d: level = %v, want %s", tt.status, entry["level"], tt.level)
		}
		if entry["status_code"] != float64(tt.status) || entry["bytes"] != float64(4) {
			t.Errorf("unexpected entry: %v", entry)
		}
	}
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Status != "error" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

type fakeLimiter struct {
	allowed bool
	err     error
	lastIP  string
}

func (f *fakeLimiter) CheckIPRateLimit(_ context.Context, ip string, rps, burst int) (*cache.RateLimitResult, error) {
	f.lastIP = ip
	if f.err != nil {
		return nil, f.err
	}
	return &cache.RateLimitResult{Allowed: f.allowed, Remaining: 0, RetryAfter: 2 * time.Second}, nil
}

func TestRateLimitIP(t *testing.T) {
	t.Run("blocks when bucket is empty", func(t *testing.T) {
		limiter := &fakeLimiter{allowed: false}
		h := RateLimitIP(RateLimitConfig{Logger: discardLogger(), Limiter: limiter, Enabled: true, RPS: 1, Burst: 1})(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want 429", rec.Code)
		}
		if rec.Header().Get("Retry-After") != "2" {
			t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
		}
		if limiter.lastIP != "203.0.113.7" {
			t.Errorf("limited IP = %q", limiter.lastIP)
		}
	})

	t.Run("fails open", func(t *testing.T) {
		h := RateLimitIP(RateLimitConfig{Logger: discardLogger(), Limiter: &fakeLimiter{err: errors.New("redis down")}, Enabled: true, RPS: 1, Burst: 1})(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("disabled without limiter", func(t *testing.T) {
		h := RateLimitIP(RateLimitConfig{Logger: discardLogger(), Enabled: true})(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4567"
	if got := clientIP(req); got != "192.0.2.1" {
		t.Errorf("clientIP = %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.2")
	if got := clientIP(req); got != "198.51.100.2" {
		t.Errorf("clientIP = %q", got)
	}
}

type fakeAuthenticator struct {
	req *auth.Request
	err error
}

func (f fakeAuthenticator) Authenticate(context.Context, []byte) (*auth.Request, error) {
	return f.req, f.err
}

func TestPrivateAPI(t *testing.T) {
	principal := auth.Principal{KeyID: "k1", Scope: model.ScopedTo{Username: "alice"}}

	tests := []struct {
		name       string
		auth       fakeAuthenticator
		body       string
		maxBody    int64
		wantStatus int
		wantResult string
	}{
		{"authenticated", fakeAuthenticator{req: &auth.Request{Principal: principal}}, "e30=,bWFj", 0, http.StatusOK, "ok"},
		{"malformed body", fakeAuthenticator{err: auth.ErrMalformedBody}, "nocomma", 0, http.StatusBadRequest, "malformed"},
		{"malformed payload", fakeAuthenticator{err: auth.ErrMalformedPayload}, "x,y", 0, http.StatusBadRequest, "malformed"},
		{"unknown mac", fakeAuthenticator{err: auth.ErrUnauthorized}, "x,y", 0, http.StatusForbidden, "denied"},
		{"store failure", fakeAuthenticator{err: errors.New("db down")}, "x,y", 0, http.StatusInternalServerError, "error"},
		{"too large", fakeAuthenticator{}, strings.Repeat("a", 32), 16, http.StatusRequestEntityTooLarge, "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := metrics.NewInMemory()
			var got auth.Principal
			h := PrivateAPI(PrivateAPIConfig{
				Logger:        discardLogger(),
				Authenticator: tt.auth,
				Recorder:      recorder,
				MaxBodySize:   tt.maxBody,
			})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				req, ok := auth.RequestFromContext(r.Context())
				if !ok {
					t.Error("expected request in context")
					return
				}
				got = req.Principal
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/list_members", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if snap := recorder.Snapshot(); snap.AuthResults[tt.wantResult] != 1 {
				t.Errorf("auth results = %v, want one %q", snap.AuthResults, tt.wantResult)
			}
			if tt.wantStatus == http.StatusOK && got != principal {
				t.Errorf("principal = %+v", got)
			}
		})
	}
}

func TestPublicCORS(t *testing.T) {
	h := PublicCORS([]string{"https://hackerspace.example", "*.example.org"})(okHandler())

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"same origin", http.MethodGet, "", http.StatusOK, ""},
		{"exact", http.MethodGet, "https://hackerspace.example", http.StatusOK, "https://hackerspace.example"},
		{"subdomain", http.MethodGet, "https://wiki.example.org", http.StatusOK, "https://wiki.example.org"},
		{"not allowed", http.MethodGet, "https://evil.example", http.StatusOK, ""},
		{"preflight", http.MethodOptions, "https://hackerspace.example", http.StatusNoContent, "https://hackerspace.example"},
		{"preflight denied", http.MethodOptions, "https://evil.example", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/mana.json", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestSecureHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecureHeaders(false)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("missing HSTS in production")
	}

	rec = httptest.NewRecorder()
	SecureHeaders(true)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS should be off in development")
	}
}
