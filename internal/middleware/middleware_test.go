package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/R3E-Network/loyalty_layer/internal/logging"
	"github.com/R3E-Network/loyalty_layer/internal/metrics"
)

func TestCORSMiddleware(t *testing.T) {
	m := NewCORSMiddleware([]string{"https://pos.example.com", "*.shop.test", ""})
	handler := m.Handler(okHandler())

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://pos.example.com", true},
		{"https://till-3.shop.test", true},
		{"https://evil-pos.example.com", false},
		{"https://shop.test.attacker.io", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/loyalty/settings", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		got := rec.Header().Get("Access-Control-Allow-Origin")
		if tt.allowed && got != tt.origin {
			t.Errorf("origin %s: allow header = %q", tt.origin, got)
		}
		if !tt.allowed && got != "" {
			t.Errorf("origin %s should not be allowed, got %q", tt.origin, got)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := NewCORSMiddleware([]string{"*"}).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight reached the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/loyalty/adjust/c1", nil)
	req.Header.Set("Origin", "https://anywhere.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, testLogger())
	handler := rl.Handler(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/loyalty/settings", nil)
		req.RemoteAddr = "10.0.0.9:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			if body := decodeError(t, rec); body["code"] != "RATE_LIMIT_EXCEEDED" {
				t.Errorf("code = %v", body["code"])
			}
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loyalty/settings", nil)
	req.RemoteAddr = "10.0.0.10:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other client throttled: %d", rec.Code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, testLogger())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.getLimiter("a")
	now = now.Add(time.Hour)
	rl.getLimiter("b")

	rl.Cleanup(30 * time.Minute)
	if n := rl.size(); n != 1 {
		t.Fatalf("expected 1 limiter after cleanup, got %d", n)
	}
}

func TestTracingReusesHeader(t *testing.T) {
	var seen string
	handler := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceHeader, "trace-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "trace-123" || rec.Header().Get(TraceHeader) != "trace-123" {
		t.Fatalf("trace id not propagated: ctx=%q header=%q", seen, rec.Header().Get(TraceHeader))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(TraceHeader) != seen {
		t.Fatalf("expected generated trace id, got ctx=%q header=%q", seen, rec.Header().Get(TraceHeader))
	}
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(MetricsMiddleware("middleware-test"), LoggingMiddleware(testLogger()))
	r.HandleFunc("/customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers/"+id, nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("Status code = %d", rec.Code)
		}
	}

	const want = `
# HELP loyalty_layer_http_requests_total Total number of HTTP requests handled.
# TYPE loyalty_layer_http_requests_total counter
loyalty_layer_http_requests_total{method="GET",path="/customers/{id}",service="middleware-test",status="202"} 2
`
	if err := testutil.GatherAndCompare(metrics.Registry, strings.NewReader(want), "loyalty_layer_http_requests_total"); err != nil {
		t.Fatal(err)
	}
}
