package router

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fraud-report-intake/internal/config"
	"fraud-report-intake/internal/handlers"
	"fraud-report-intake/internal/middleware"
	"fraud-report-intake/internal/storage"
)

func newTestServer(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	api := &handlers.API{Store: storage.NewMemoryStore(), Logger: logger}
	cfg := config.Config{
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		RateLimiterTTL: time.Minute,
		AdminTokens:    tokens,
	}
	ts := httptest.NewServer(New(api, nil, logger, cfg, "test"))
	t.Cleanup(ts.Close)
	return ts
}

func TestRoutesAndHeaders(t *testing.T) {
	ts := newTestServer(t, []string{"admin-secret-token"})

	resp, err := http.Get(ts.URL + "/api/reports")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	for _, h := range []string{"X-Request-ID", "X-Content-Type-Options", "X-Service-Version"} {
		if resp.Header.Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}

	resp, err = http.Get(ts.URL + "/api/statistics?days=14")
	if err != nil {
		t.Fatal(err)
	}
	stats, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(stats), `"total_reports":0`) {
		t.Fatalf("statistics: got %d %s", resp.StatusCode, stats)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
	if !strings.Contains(string(body), `path="/api/reports"`) {
		t.Fatalf("expected /api/reports path label in metrics")
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, []string{"admin-secret-token"})

	resp, err := http.Get(ts.URL + "/api/admin/statuses")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/admin/statuses", nil)
	req.Header.Set("X-Admin-Token", "admin-secret-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/admin/reports/zzzzzzzzzzzz", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for delete without token, got %d", resp.StatusCode)
	}
}

func TestSharedThrottle(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	cfg := config.Config{RateLimitRPS: 1, RateLimitBurst: 1, RateLimiterTTL: time.Minute}
	throttle := middleware.NewThrottle(ThrottleConfig(cfg), logger)
	api := &handlers.API{Store: storage.NewMemoryStore(), Logger: logger}
	ts := httptest.NewServer(New(api, throttle, logger, cfg, "test"))
	defer ts.Close()

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/livez")
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if throttle.Len() != 1 {
		t.Fatalf("expected the caller's throttle to hold one bucket, have %d", throttle.Len())
	}
}

func TestReadyWithoutPipeline(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without intake, got %d", resp.StatusCode)
	}
}
