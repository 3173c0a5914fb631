package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCORSMiddleware(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.AllowCredentials = true
	handler := CORSMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		method         string
		origin         string
		preflight      bool
		wantStatus     int
		wantCORSHeader bool
	}{
		{name: "no origin", method: "GET", wantStatus: http.StatusOK},
		{name: "allowed origin", method: "GET", origin: "http://localhost:3000", wantStatus: http.StatusOK, wantCORSHeader: true},
		{name: "other origin", method: "GET", origin: "http://evil.example", wantStatus: http.StatusOK},
		{name: "preflight", method: "OPTIONS", origin: "http://localhost:3000", preflight: true, wantStatus: http.StatusNoContent, wantCORSHeader: true},
		{name: "preflight from other origin", method: "OPTIONS", origin: "http://evil.example", preflight: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/emails", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			got := w.Header().Get("Access-Control-Allow-Origin")
			if tt.wantCORSHeader && got != tt.origin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.origin)
			}
			if !tt.wantCORSHeader && got != "" {
				t.Errorf("unexpected CORS header: %s", got)
			}
			if tt.wantCORSHeader && w.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("credentials header missing")
			}
		})
	}
}

func TestCORSPreflightHeaders(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"*"}
	handler := CORSMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("OPTIONS", "/api/emails", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, DELETE, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Accept, Authorization, Content-Type, X-API-Key" {
		t.Errorf("Allow-Headers = %q", got)
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Max-Age = %q", got)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Close()

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("burst requests rejected")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("separate client throttled")
	}

	rl.evict(time.Now().Add(time.Hour))
	if len(rl.limiters) != 0 {
		t.Errorf("idle limiters not evicted: %d left", len(rl.limiters))
	}
	rl.Close()
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}
	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Error("Retry-After header missing")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	if got := clientIP(req); got != "198.51.100.4" {
		t.Errorf("clientIP = %q", got)
	}
	req.Header.Set("X-Real-IP", "203.0.113.9")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Errorf("clientIP with X-Real-IP = %q", got)
	}
}
