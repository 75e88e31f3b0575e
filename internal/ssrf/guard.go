// Package ssrf decides which hosts the service is willing to contact on behalf
// of untrusted input. Every outbound hop (initial URL, redirects, final URL,
// embedded image links) goes through the same policy.
package ssrf

import (
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// Verdict is the classification result for a host or URL.
type Verdict int

const (
	Forbidden Verdict = iota
	Fetchable
)

func (v Verdict) String() string {
	if v == Fetchable {
		return "fetchable"
	}
	return "forbidden"
}

var (
	ErrInvalidURL = errors.New("ssrf: invalid url")
	ErrForbidden  = errors.New("ssrf: forbidden target")
)

// Policy reports whether a parsed URL may be contacted.
type Policy interface {
	Allow(u *url.URL) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(u *url.URL) bool

func (f PolicyFunc) Allow(u *url.URL) bool { return f(u) }

// Public is the production policy: http/https only, public hostnames only.
var Public Policy = PolicyFunc(func(u *url.URL) bool {
	if u == nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return !IsPrivateHostname(u.Hostname())
})

// All allows a URL only when every non-nil policy does.
func All(policies ...Policy) Policy {
	return PolicyFunc(func(u *url.URL) bool {
		for _, p := range policies {
			if p != nil && !p.Allow(u) {
				return false
			}
		}
		return true
	})
}

var (
	schemeRe    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z\d+\-.]*:`)
	dottedQuad  = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)
	hostCharset = regexp.MustCompile(`^[a-z0-9._\-]+$`)
	numericish  = regexp.MustCompile(`^(0x[0-9a-f]*|[0-9]+)$`)
)

// HasExplicitScheme reports whether the raw input starts with "<scheme>:".
func HasExplicitScheme(raw string) bool {
	return schemeRe.MatchString(strings.TrimSpace(raw))
}

// Classify accepts either a bare hostname or an absolute URL.
func Classify(hostOrURL string) Verdict {
	s := strings.TrimSpace(hostOrURL)
	if s == "" {
		return Forbidden
	}
	if HasExplicitScheme(s) || strings.Contains(s, "/") {
		if _, err := ParseHTTPURL(s, Public); err != nil {
			return Forbidden
		}
		return Fetchable
	}
	if IsPrivateHostname(s) {
		return Forbidden
	}
	return Fetchable
}

// ASCIIHost returns the lookup (punycode) form of an internationalized
// hostname. ASCII input is returned unchanged; ok is false when the name is
// not a valid IDN.
func ASCIIHost(host string) (string, bool) {
	if isASCII(host) {
		return host, true
	}
	a, err := idna.Lookup.ToASCII(host)
	if err != nil || !isASCII(a) {
		return "", false
	}
	return a, true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// IsPrivateHostname is true for loopback names, *.local, any IPv6 literal,
// IPv4 literals in internal ranges and hosts that do not look like DNS names.
// Internationalized names are judged by their punycode form.
func IsPrivateHostname(hostname string) bool {
	host, ok := ASCIIHost(strings.TrimSpace(hostname))
	if !ok {
		return true
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return true
	}
	if host == "localhost" || host == "0.0.0.0" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".localhost") {
		return true
	}
	// IPv6 literals are rejected outright, with or without brackets.
	if strings.ContainsAny(host, ":[]") {
		return true
	}
	if m := dottedQuad.FindStringSubmatch(host); m != nil {
		var o [4]int
		for i := 0; i < 4; i++ {
			n, err := strconv.Atoi(m[i+1])
			if err != nil || n < 0 || n > 255 {
				return true
			}
			o[i] = n
		}
		return isInternalV4(o)
	}
	if !hostCharset.MatchString(host) {
		return true
	}
	// 2130706433, 0x7f.1, 127.1: resolvers may read these as IPv4.
	labels := strings.Split(host, ".")
	for _, l := range labels {
		if l == "" {
			return true
		}
	}
	if numericish.MatchString(labels[len(labels)-1]) {
		return true
	}
	return false
}

func isInternalV4(o [4]int) bool {
	a, b := o[0], o[1]
	switch {
	case a == 10, a == 127, a == 0:
		return true
	case a == 169 && b == 254:
		return true
	case a == 172 && b >= 16 && b <= 31:
		return true
	case a == 192 && b == 168:
		return true
	}
	return false
}

// ParsePublicHTTPURL normalizes user input into an absolute http(s) URL that
// passes the Public policy. Inputs without a scheme get "https://" when they
// contain at least one dot.
func ParsePublicHTTPURL(raw string) (*url.URL, error) { return ParseHTTPURL(raw, Public) }

// ParseHTTPURL is ParsePublicHTTPURL under an arbitrary policy; nil means Public.
func ParseHTTPURL(raw string, policy Policy) (*url.URL, error) {
	if policy == nil {
		policy = Public
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrInvalidURL
	}
	explicit := HasExplicitScheme(trimmed)
	if !explicit && !strings.Contains(trimmed, ".") {
		return nil, ErrInvalidURL
	}
	if !explicit {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrForbidden
	}
	if u.Host == "" {
		return nil, ErrInvalidURL
	}
	host, ok := ASCIIHost(u.Hostname())
	if !ok {
		return nil, ErrInvalidURL
	}
	if host != u.Hostname() {
		if port := u.Port(); port != "" {
			host += ":" + port
		}
		u.Host = host
	}
	if !policy.Allow(u) {
		return nil, ErrForbidden
	}
	return u, nil
}
