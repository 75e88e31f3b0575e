package domain

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

const (
	MaxEmailLength = 254
)

var (
	ErrEmptyTarget = errors.New("domain: empty target")
	ErrNoHost      = errors.New("domain: target has no host")

	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Target describes the host of a reported URL.
type Target struct {
	Input              string `json:"input"`
	Host               string `json:"host"`
	PublicSuffix       string `json:"public_suffix"`
	RegistrableDomain  string `json:"registrable_domain"`
	IsPublicSuffixOnly bool   `json:"is_public_suffix_only"`
	IsSubdomain        bool   `json:"is_subdomain"`
}

// Domain is the registrable domain when one exists, else the bare host.
func (t Target) Domain() string {
	if t.RegistrableDomain != "" {
		return t.RegistrableDomain
	}
	return t.Host
}

// ParseTarget accepts a URL with or without a scheme (scheme-less input is
// read as https) and resolves its host against the public suffix list. It does
// not decide whether the host may be contacted.
func ParseTarget(raw string) (Target, error) {
	t := Target{Input: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return t, ErrEmptyTarget
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return t, err
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return t, ErrNoHost
	}
	t.Host = host

	ps, _ := publicsuffix.PublicSuffix(host)
	etld1, _ := publicsuffix.EffectiveTLDPlusOne(host)
	t.PublicSuffix = ps
	t.RegistrableDomain = etld1
	t.IsPublicSuffixOnly = ps != "" && ps == host
	t.IsSubdomain = etld1 != "" && host != etld1
	return t, nil
}

// NormalizeEmail trims and lower-cases s and reports whether the result is a
// plausible address.
func NormalizeEmail(s string) (string, bool) {
	e := strings.ToLower(strings.TrimSpace(s))
	return e, ValidEmail(e)
}

// ValidEmail is a deliberately loose shape check: something@something.tld,
// no whitespace, at most 254 bytes.
func ValidEmail(s string) bool {
	if s == "" || len(s) > MaxEmailLength {
		return false
	}
	return emailRe.MatchString(s)
}
