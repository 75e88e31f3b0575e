package preview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fraud-report-intake/internal/ssrf"
)

// loopbackOnly admits the httptest listener (127.0.0.1) and nothing else,
// which keeps every other host forbidden like production.
var loopbackOnly = ssrf.PolicyFunc(func(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() == "127.0.0.1"
})

func newTestFetcher() *Fetcher {
	return &Fetcher{
		Client:   &http.Client{},
		Policy:   loopbackOnly,
		Timeout:  time.Second,
		MaxBytes: 1 << 20,
	}
}

func TestPreviewExtractsTitleAndThumbnail(t *testing.T) {
	var gotUA, gotLang, gotCache atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		gotLang.Store(r.Header.Get("Accept-Language"))
		gotCache.Store(r.Header.Get("Cache-Control"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><meta property="og:title" content="Shop &amp; Save"><meta property="og:image" content="/og.png"></head></html>`))
	}))
	defer srv.Close()

	p := newTestFetcher().Preview(context.Background(), srv.URL+"/item")
	if p.Title != "Shop & Save" {
		t.Fatalf("title = %q", p.Title)
	}
	if p.Thumbnail != srv.URL+"/og.png" {
		t.Fatalf("thumbnail = %q", p.Thumbnail)
	}
	if gotUA.Load() != DefaultUserAgent || gotLang.Load() != DefaultAcceptLanguage || gotCache.Load() != "no-cache" {
		t.Fatalf("unexpected headers ua=%v lang=%v cache=%v", gotUA.Load(), gotLang.Load(), gotCache.Load())
	}
}

func TestFetchTimeoutReturnsNoDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := newTestFetcher()
	f.Timeout = 50 * time.Millisecond
	start := time.Now()
	if _, ok := f.Fetch(context.Background(), srv.URL); ok {
		t.Fatal("expected no document on timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("fetch was not bounded by the timeout")
	}
}

func TestFetchRejections(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non 2xx", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("<html><title>nope</title></html>"))
		}},
		{"json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"title":"x"}`))
		}},
		{"declared too large", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><title>" + strings.Repeat("x", 500) + "</title></html>"))
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(c.handler)
			defer srv.Close()
			f := newTestFetcher()
			f.MaxBytes = 100
			if doc, ok := f.Fetch(context.Background(), srv.URL); ok {
				t.Fatalf("expected no document, got %q", doc.Body)
			}
		})
	}
}

func TestFetchSniffsHTMLWithoutHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("<title>Sniffed</title>"))
	}))
	defer srv.Close()
	p := newTestFetcher().Preview(context.Background(), srv.URL)
	if p.Title != "Sniffed" {
		t.Fatalf("title = %q", p.Title)
	}
}

func TestFetchDecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<title>Caf\xe9</title>"))
	}))
	defer srv.Close()
	p := newTestFetcher().Preview(context.Background(), srv.URL)
	if p.Title != "Café" {
		t.Fatalf("title = %q", p.Title)
	}
}

func TestRedirectToForbiddenHostIsRefused(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("<title>internal</title>"))
	}))
	defer target.Close()
	// same listener, but addressed as localhost, which the policy forbids
	forbidden := strings.Replace(target.URL, "127.0.0.1", "localhost", 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, forbidden+"/admin", http.StatusFound)
	}))
	defer srv.Close()

	if _, ok := newTestFetcher().Fetch(context.Background(), srv.URL); ok {
		t.Fatal("expected redirect to forbidden host to yield no document")
	}
	if hits.Load() != 0 {
		t.Fatal("forbidden redirect target must not be contacted")
	}
}

func TestRedirectFinalURLUsedForThumbnail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/landing/page", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/landing/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<link rel="icon" href="fav.ico">`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestFetcher().Preview(context.Background(), srv.URL+"/start")
	if p.Thumbnail != srv.URL+"/landing/fav.ico" {
		t.Fatalf("thumbnail = %q", p.Thumbnail)
	}
}

func TestHTTPFallbackWhenSchemeOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<title>Plain HTTP</title>"))
	}))
	defer srv.Close()

	bare := strings.TrimPrefix(srv.URL, "http://")
	f := newTestFetcher()
	cands := f.Candidates(bare)
	if len(cands) != 2 || cands[0].Scheme != "https" || cands[1].Scheme != "http" {
		t.Fatalf("unexpected candidates %v", cands)
	}
	if p := f.Preview(context.Background(), bare); p.Title != "Plain HTTP" {
		t.Fatalf("expected http fallback to succeed, title = %q", p.Title)
	}
}

func TestCandidates(t *testing.T) {
	f := &Fetcher{}
	if c := f.Candidates("https://example.com/x"); len(c) != 1 {
		t.Fatalf("explicit scheme must not add fallback: %v", c)
	}
	if c := f.Candidates("http://example.com/x"); len(c) != 1 || c[0].Scheme != "http" {
		t.Fatalf("unexpected candidates %v", c)
	}
	if c := f.Candidates("example.com/x"); len(c) != 2 {
		t.Fatalf("expected https + http fallback, got %v", c)
	}
	for _, raw := range []string{"", "localhost", "http://127.0.0.1/", "ftp://example.com", "http://[::1]/"} {
		if c := f.Candidates(raw); len(c) != 0 {
			t.Errorf("Candidates(%q) = %v, want none", raw, c)
		}
	}
}

func TestPublicPolicyRefusesLoopbackServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := New(time.Second, 1<<20, "", nil)
	if _, ok := f.Fetch(context.Background(), srv.URL); ok {
		t.Fatal("expected loopback to be refused")
	}
	if hits.Load() != 0 {
		t.Fatal("loopback server must not be contacted")
	}
}
