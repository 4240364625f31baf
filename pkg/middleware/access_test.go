package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/OpenModelDB/model-search/pkg/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORS(t *testing.T) {
	h := CORS(DefaultCORSConfig("https://openmodeldb.info"))(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=x", nil)
	req.Header.Set("Origin", "https://openmodeldb.info")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://openmodeldb.info" || rec.Code != http.StatusOK {
		t.Errorf("allowed origin: code %d headers %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://openmodeldb.info")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Errorf("preflight: code %d headers %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("foreign origin received CORS headers")
	}
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.New(2, time.Minute)
	defer limiter.Stop()
	h := RateLimit(limiter)(okHandler)

	do := func(path, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	for i := 0; i < 2; i++ {
		if rec := do("/api/v1/search", "10.0.0.1:5000"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: code %d", i, rec.Code)
		}
	}
	rec := do("/api/v1/search", "10.0.0.1:5001")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "30" {
		t.Errorf("third request: code %d retry-after %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if rec := do("/health/ready", "10.0.0.1:5002"); rec.Code != http.StatusOK {
		t.Errorf("health probe limited: %d", rec.Code)
	}
	if rec := do("/api/v1/search", "10.0.0.2:5000"); rec.Code != http.StatusOK {
		t.Errorf("other client limited: %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := ClientIP(req); got != "192.0.2.1" {
		t.Errorf("ClientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Errorf("ClientIP with X-Forwarded-For = %q", got)
	}
}
