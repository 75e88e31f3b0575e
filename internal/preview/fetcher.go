// Package preview fetches a submitted link under the SSRF policy and turns the
// first usable HTML document into a LinkPreview.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html/charset"

	"fraud-report-intake/internal/metadata"
	"fraud-report-intake/internal/metrics"
	"fraud-report-intake/internal/ssrf"
)

const (
	DefaultTimeout        = 6 * time.Second
	DefaultMaxBytes int64 = 3_000_000
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	DefaultAcceptLanguage = "ja,en-US;q=0.9,en;q=0.8"

	maxRedirects = 10
)

var (
	errStatus      = errors.New("preview: non-2xx status")
	errTooLarge    = errors.New("preview: declared content length too large")
	errNotHTML     = errors.New("preview: response is not html")
	errNoCandidate = errors.New("preview: no fetchable candidate")
)

// Document is a fetched HTML body decoded to UTF-8 plus the URL it was
// ultimately served from.
type Document struct {
	Body        string
	FinalURL    *url.URL
	ContentType string
}

// LinkPreview holds the extracted title and thumbnail; "" means absent.
type LinkPreview struct {
	Title     string
	Thumbnail string
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	Client         *http.Client
	Policy         ssrf.Policy
	Timeout        time.Duration
	MaxBytes       int64
	UserAgent      string
	AcceptLanguage string
	Logger         *log.Logger
}

// NewClient builds the outbound client: environment proxies are ignored and
// every TCP connection is re-checked against the resolved IP.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tr := &http.Transport{
		Proxy:                 nil,
		DialContext:           ssrf.SafeDialContext(timeout),
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          32,
		IdleConnTimeout:       30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: tr}
}

func New(timeout time.Duration, maxBytes int64, userAgent string, logger *log.Logger) *Fetcher {
	return &Fetcher{
		Client:    NewClient(timeout),
		Policy:    ssrf.Public,
		Timeout:   timeout,
		MaxBytes:  maxBytes,
		UserAgent: userAgent,
		Logger:    logger,
	}
}

func (f *Fetcher) policy() ssrf.Policy {
	if f.Policy == nil {
		return ssrf.Public
	}
	return f.Policy
}

func (f *Fetcher) timeout() time.Duration {
	if f.Timeout <= 0 {
		return DefaultTimeout
	}
	return f.Timeout
}

func (f *Fetcher) maxBytes() int64 {
	if f.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return f.MaxBytes
}

// Candidates returns the URLs to try in order. Inputs typed without a scheme
// get an http fallback after the https primary.
func (f *Fetcher) Candidates(raw string) []*url.URL {
	primary, err := ssrf.ParseHTTPURL(raw, f.policy())
	if err != nil {
		if errors.Is(err, ssrf.ErrForbidden) {
			metrics.ObserveSSRFBlock("candidate")
		}
		return nil
	}
	out := []*url.URL{primary}
	if !ssrf.HasExplicitScheme(raw) && primary.Scheme == "https" {
		fallback := *primary
		fallback.Scheme = "http"
		out = append(out, &fallback)
	}
	return out
}

// Fetch returns the first usable document among the candidates. Every failure
// is logged and reported as "no document".
func (f *Fetcher) Fetch(ctx context.Context, raw string) (*Document, bool) {
	candidates := f.Candidates(raw)
	if len(candidates) == 0 {
		f.logf("preview: %v url=%q", errNoCandidate, raw)
		return nil, false
	}
	for _, c := range candidates {
		start := time.Now()
		doc, err := f.fetchOne(ctx, c)
		metrics.ObservePreview(resultLabel(err), time.Since(start))
		if err == nil {
			return doc, true
		}
		f.logf("preview: fetch failed url=%s err=%v", c, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, false
}

// Preview fetches raw and extracts the title and a thumbnail resolved
// against the final URL.
func (f *Fetcher) Preview(ctx context.Context, raw string) LinkPreview {
	doc, ok := f.Fetch(ctx, raw)
	if !ok {
		return LinkPreview{}
	}
	ex := metadata.Extractor{Policy: f.policy()}
	return LinkPreview{
		Title:     ex.ExtractTitle(doc.Body),
		Thumbnail: ex.ExtractThumbnail(doc.Body, doc.FinalURL),
	}
}

func (f *Fetcher) fetchOne(ctx context.Context, target *url.URL) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	lang := f.AcceptLanguage
	if lang == "" {
		lang = DefaultAcceptLanguage
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", DefaultAccept)
	req.Header.Set("Accept-Language", lang)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", errStatus, resp.StatusCode)
	}
	limit := f.maxBytes()
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %d", errTooLarge, resp.ContentLength)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, err
	}
	contentType := resp.Header.Get("Content-Type")
	body := decode(raw, contentType)
	if !metadata.IsHTMLContentType(contentType) && !metadata.LooksLikeHTML(body) {
		return nil, errNotHTML
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		if u, err := ssrf.ParseHTTPURL(resp.Request.URL.String(), f.policy()); err == nil {
			final = u
		}
	}
	return &Document{Body: body, FinalURL: final, ContentType: contentType}, nil
}

// client returns a shallow copy of the configured client with the redirect
// check installed, so injected clients are held to the same policy.
func (f *Fetcher) client() *http.Client {
	base := f.Client
	if base == nil {
		base = NewClient(f.timeout())
	}
	c := *base
	c.CheckRedirect = f.checkRedirect
	return &c
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("preview: stopped after %d redirects", maxRedirects)
	}
	if !f.policy().Allow(req.URL) {
		metrics.ObserveSSRFBlock("redirect")
		return fmt.Errorf("%w: redirect to %s", ssrf.ErrForbidden, req.URL.Redacted())
	}
	return nil
}

// decode converts body to UTF-8 using the Content-Type charset or a <meta>
// prescan. Undecodable input is returned as-is.
func decode(body []byte, contentType string) string {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(out)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ssrf.ErrForbidden):
		return "forbidden"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errStatus):
		return "status"
	case errors.Is(err, errTooLarge):
		return "too_large"
	case errors.Is(err, errNotHTML):
		return "not_html"
	}
	return "error"
}

func (f *Fetcher) logf(format string, args ...any) {
	if f.Logger != nil {
		f.Logger.Printf(format, args...)
	}
}
