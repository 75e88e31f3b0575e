package middleware

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	h := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = RequestID(r) }))
	serve := func(inbound string) string {
		req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
		if inbound != "" {
			req.Header.Set("X-Request-ID", inbound)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != seen {
			t.Fatalf("response id %q differs from context id %q", got, seen)
		}
		return seen
	}

	withTrust(t, false)
	if id := serve("edge-4f1c2a9b"); id == "edge-4f1c2a9b" || len(id) != 16 {
		t.Fatalf("untrusted inbound id must be replaced, got %q", id)
	}

	withTrust(t, true)
	if id := serve("edge-4f1c2a9b"); id != "edge-4f1c2a9b" {
		t.Fatalf("trusted inbound id must be kept, got %q", id)
	}
	for _, bad := range []string{"short", "has space in it", strings.Repeat("a", 65), "id\nwith-newline"} {
		if id := serve(bad); id == bad {
			t.Fatalf("malformed inbound id %q kept", bad)
		}
	}
}

func TestRecoverWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }),
		RequestIDMiddleware(), Recover(log.New(&buf, "", 0)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"internal_error"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if !strings.Contains(buf.String(), "panic: boom rid="+rec.Header().Get("X-Request-ID")) {
		t.Fatalf("panic log missing request id: %s", buf.String())
	}
}

func TestLoggingUsesRouteLabel(t *testing.T) {
	var buf bytes.Buffer
	h := Logging(log.New(&buf, "", 0))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/reports/abc123def456", nil))

	line := buf.String()
	for _, want := range []string{"GET /api/reports/abc123def456", "route=/api/reports/{id}", "status=200", "bytes=2"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), SecurityHeaders(), VersionHeader("1.2.3"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"X-Service-Version":      "1.2.3",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}
