package domain

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

func writeList(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "preview_denylist.conf")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDenylistContains(t *testing.T) {
	d := NewDenylist(writeList(t, "# internal tools\nTracker.Example.com.\n\nbad.example\nbücher.de\n"))
	if err := d.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if d.Len() != 3 || d.UpdatedAt().IsZero() {
		t.Fatalf("unexpected state len=%d", d.Len())
	}
	cases := map[string]bool{
		"tracker.example.com":     true,
		"a.b.tracker.example.com": true,
		"TRACKER.example.com.":    true,
		"example.com":             false,
		"nottracker.example.com":  false,
		"bad.example":             true,
		"www.bad.example":         true,
		"":                        false,
		"xn--bcher-kva.de":        true,
		"shop.BÜCHER.de":          true,
		"buecher.de":              false,
	}
	for host, want := range cases {
		if got := d.Contains(host); got != want {
			t.Errorf("Contains(%q) = %v, want %v", host, got, want)
		}
	}
	u, _ := url.Parse("https://cdn.bad.example/x.png")
	if d.Allow(u) {
		t.Error("expected listed host to be refused")
	}
	u, _ = url.Parse("https://good.example/")
	if !d.Allow(u) || d.Allow(nil) {
		t.Error("unexpected Allow result")
	}
}

func TestDenylistLoadFailureKeepsEntries(t *testing.T) {
	p := writeList(t, "bad.example\n")
	d := NewDenylist(p)
	if err := d.Load(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	if err := d.Load(); err == nil {
		t.Fatal("expected error for missing file")
	}
	if !d.Contains("bad.example") {
		t.Fatal("previous entries should survive a failed reload")
	}
}

func TestEmptyDenylistAllowsEverything(t *testing.T) {
	d := NewDenylist("")
	if d.Contains("anything.example") {
		t.Fatal("empty list must not match")
	}
}
