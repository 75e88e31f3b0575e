// Package metadata pulls a title and a thumbnail URL out of untrusted HTML.
//
// Documents are never handed to a DOM parser. Only a bounded prefix is
// scanned with a fixed set of regular expressions over <meta>, <link> and
// <title> tags; the first allowlisted match wins. Go's regexp engine runs in
// linear time, so hostile markup cannot cause backtracking blowups.
package metadata

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"fraud-report-intake/internal/ssrf"
)

const (
	// ScanLimit bounds the prefix searched for meta/link/title tags.
	ScanLimit = 250_000
	// SniffLimit bounds the prefix searched by LooksLikeHTML.
	SniffLimit = 10_000
	// MaxTitleRunes caps normalized titles.
	MaxTitleRunes = 255
)

var (
	metaTagRe  = regexp.MustCompile(`(?i)<meta\b[^>]*>`)
	linkTagRe  = regexp.MustCompile(`(?i)<link\b[^>]*>`)
	titleTagRe = regexp.MustCompile(`(?is)<title\b[^>]*>(.*?)</title>`)
	htmlSniff  = regexp.MustCompile(`(?i)<(html|head|title|meta)\b`)
	spaceRe    = regexp.MustCompile(`\s+`)

	attrRes = map[string]*regexp.Regexp{}

	entityReplacer = strings.NewReplacer(
		"&amp;", "&",
		"&quot;", `"`,
		"&#39;", "'",
		"&lt;", "<",
		"&gt;", ">",
	)
)

var titleKeys = map[string]struct{}{
	"og:title":           {},
	"twitter:title":      {},
	"twitter:text:title": {},
	"title":              {},
}

var imageKeys = map[string]struct{}{
	"og:image":            {},
	"og:image:url":        {},
	"og:image:secure_url": {},
	"twitter:image":       {},
	"twitter:image:src":   {},
}

func init() {
	for _, name := range []string{"property", "name", "content", "rel", "href"} {
		attrRes[name] = regexp.MustCompile(`(?i)(?:^|[\s"'/])` + name + `\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>]+))`)
	}
}

// Extractor resolves thumbnails under an SSRF policy.
type Extractor struct {
	Policy ssrf.Policy
}

// New returns an Extractor using the public-host policy.
func New() *Extractor { return &Extractor{Policy: ssrf.Public} }

func head(doc string, limit int) string {
	if len(doc) > limit {
		return doc[:limit]
	}
	return doc
}

// LooksLikeHTML sniffs the first SniffLimit bytes for an html/head/title/meta tag.
func LooksLikeHTML(doc string) bool {
	return htmlSniff.MatchString(head(doc, SniffLimit))
}

// IsHTMLContentType reports whether a Content-Type header declares HTML.
func IsHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// attribute returns the trimmed value of name inside a raw tag, or "".
func attribute(tag, name string) string {
	re, ok := attrRes[name]
	if !ok {
		return ""
	}
	m := re.FindStringSubmatch(tag)
	if m == nil {
		return ""
	}
	for _, v := range m[1:] {
		if v != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// metaKey is the lower-cased property, falling back to name.
func metaKey(tag string) string {
	key := attribute(tag, "property")
	if key == "" {
		key = attribute(tag, "name")
	}
	return strings.ToLower(key)
}

// DecodeEntities decodes the minimal entity set used in titles.
func DecodeEntities(s string) string { return entityReplacer.Replace(s) }

// NormalizeTitle decodes entities, collapses whitespace, trims and caps the
// result. It returns "" when nothing is left.
func NormalizeTitle(s string) string {
	out := strings.TrimSpace(spaceRe.ReplaceAllString(DecodeEntities(s), " "))
	if out == "" {
		return ""
	}
	if utf8.RuneCountInString(out) > MaxTitleRunes {
		r := []rune(out)
		out = strings.TrimSpace(string(r[:MaxTitleRunes]))
	}
	return out
}

// ExtractTitle returns the page title or "" when none is found.
func ExtractTitle(doc string) string {
	chunk := head(doc, ScanLimit)
	for _, tag := range metaTagRe.FindAllString(chunk, -1) {
		if _, ok := titleKeys[metaKey(tag)]; !ok {
			continue
		}
		content := attribute(tag, "content")
		if content == "" {
			continue
		}
		if t := NormalizeTitle(content); t != "" {
			return t
		}
	}
	m := titleTagRe.FindStringSubmatch(chunk)
	if m == nil || m[1] == "" {
		return ""
	}
	return NormalizeTitle(m[1])
}

// ExtractTitle is a method form for symmetry with ExtractThumbnail.
func (e *Extractor) ExtractTitle(doc string) string { return ExtractTitle(doc) }

// ExtractThumbnail returns an absolute, policy-approved image URL or "".
func (e *Extractor) ExtractThumbnail(doc string, base *url.URL) string {
	if base == nil {
		return ""
	}
	chunk := head(doc, ScanLimit)
	for _, tag := range metaTagRe.FindAllString(chunk, -1) {
		if _, ok := imageKeys[metaKey(tag)]; !ok {
			continue
		}
		content := attribute(tag, "content")
		if content == "" {
			continue
		}
		if u := e.resolve(content, base); u != "" {
			return u
		}
	}
	for _, tag := range linkTagRe.FindAllString(chunk, -1) {
		rel := strings.ToLower(attribute(tag, "rel"))
		if rel == "" || !isImageRel(rel) {
			continue
		}
		href := attribute(tag, "href")
		if href == "" {
			continue
		}
		if u := e.resolve(href, base); u != "" {
			return u
		}
	}
	return ""
}

func isImageRel(rel string) bool {
	if strings.Contains(rel, "image_src") {
		return true
	}
	for _, tok := range strings.Fields(rel) {
		if tok == "icon" || tok == "apple-touch-icon" {
			return true
		}
	}
	return false
}

func (e *Extractor) resolve(candidate string, base *url.URL) string {
	ref, err := url.Parse(strings.ReplaceAll(candidate, "&amp;", "&"))
	if err != nil {
		return ""
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	host, ok := ssrf.ASCIIHost(u.Hostname())
	if !ok {
		return ""
	}
	if host != u.Hostname() {
		if port := u.Port(); port != "" {
			host += ":" + port
		}
		u.Host = host
	}
	policy := e.Policy
	if policy == nil {
		policy = ssrf.Public
	}
	if !policy.Allow(u) {
		return ""
	}
	return u.String()
}
