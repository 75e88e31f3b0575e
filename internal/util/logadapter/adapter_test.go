package logadapter

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewEmitsStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := New(base, "preview")
	l.Printf("preview: fetch failed url=%s", "https://example.com")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "preview: fetch failed url=https://example.com" {
		t.Fatalf("unexpected msg %v", rec["msg"])
	}
	if rec["component"] != "preview" {
		t.Fatalf("expected component attr, got %v", rec["component"])
	}
	if rec["level"] != "ERROR" {
		t.Fatalf("expected ERROR level, got %v", rec["level"])
	}
}

func TestLevelOf(t *testing.T) {
	cases := map[string]slog.Level{
		"config: invalid PORT=\"x\"":    slog.LevelWarn,
		"store: insert failed":          slog.LevelError,
		"panic recovered":               slog.LevelError,
		"server starting on :8080":      slog.LevelInfo,
		"ratelimit: warn key space big": slog.LevelWarn,
	}
	for msg, want := range cases {
		if got := levelOf(msg); got != want {
			t.Errorf("levelOf(%q) = %v, want %v", msg, got, want)
		}
	}
}
