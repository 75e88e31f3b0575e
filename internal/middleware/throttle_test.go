package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestThrottle(cfg ThrottleConfig) (*Throttle, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	th := NewThrottle(cfg, nil)
	th.Now = clock.Now
	return th, clock
}

func TestThrottleRefill(t *testing.T) {
	th, clock := newTestThrottle(ThrottleConfig{RPS: 1, Burst: 2, TTL: time.Minute})

	steps := []struct {
		advance time.Duration
		key     string
		want    bool
	}{
		{0, "203.0.113.1", true},
		{0, "203.0.113.1", true},
		{0, "203.0.113.1", false},
		{0, "198.51.100.2", true},
		{time.Second, "203.0.113.1", true},
		{0, "203.0.113.1", false},
	}
	for i, s := range steps {
		clock.Advance(s.advance)
		if got := th.Allow(s.key); got != s.want {
			t.Fatalf("step %d: Allow(%s) = %v, want %v", i, s.key, got, s.want)
		}
	}
}

func TestThrottleSweep(t *testing.T) {
	th, clock := newTestThrottle(ThrottleConfig{RPS: 1, Burst: 1, TTL: time.Minute})
	th.Allow("203.0.113.1")
	clock.Advance(45 * time.Second)
	th.Allow("203.0.113.2")
	clock.Advance(30 * time.Second)

	th.Sweep()
	if th.Len() != 1 {
		t.Fatalf("expected only the recent bucket to survive, have %d", th.Len())
	}
	if !th.Allow("203.0.113.1") {
		t.Fatal("swept client should start with a full bucket")
	}
}

func TestThrottleDefaults(t *testing.T) {
	th := NewThrottle(ThrottleConfig{}, nil)
	if th.rps != DefaultThrottleRPS || th.burst != DefaultThrottleBurst || th.ttl != DefaultThrottleTTL {
		t.Fatalf("unexpected defaults rps=%v burst=%d ttl=%s", th.rps, th.burst, th.ttl)
	}
}

func TestThrottleMiddleware(t *testing.T) {
	withTrust(t, true)
	th, _ := newTestThrottle(ThrottleConfig{RPS: 1, Burst: 1, TTL: time.Minute, BypassHosts: []string{" Monitor.Fraud-Intake.Example "}})
	h := th.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	send := func(host, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "http://"+host+"/api/reports", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		if rec := send("monitor.fraud-intake.example:8080", "203.0.113.9"); rec.Code != http.StatusNoContent {
			t.Fatalf("bypass host request %d: got %d", i, rec.Code)
		}
	}
	if th.Len() != 0 {
		t.Fatalf("bypassed requests must not allocate buckets, have %d", th.Len())
	}

	if rec := send("reports.example", "203.0.113.9"); rec.Code != http.StatusNoContent {
		t.Fatalf("first request: got %d", rec.Code)
	}
	rec := send("reports.example", "203.0.113.9:4455")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same client: got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("missing Retry-After, headers=%v", rec.Header())
	}
	var body struct {
		Error struct {
			Code string         `json:"code"`
			Meta map[string]int `json:"meta"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "rate_limited" || body.Error.Meta["retry_after"] != 1 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	if rec := send("reports.example", "198.51.100.4"); rec.Code != http.StatusNoContent {
		t.Fatalf("other client should have its own bucket, got %d", rec.Code)
	}
}
