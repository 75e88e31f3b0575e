package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
)

// Whether it should honor X-Forwarded-For / X-Real-IP headers.
// Set once during startup via SetTrustProxyHeaders and read concurrently.
var trustProxy atomic.Bool

// Configures whether ClientIP should trust proxy-provided headers.
func SetTrustProxyHeaders(v bool) { trustProxy.Store(v) }

// ClientIP returns the caller's address, or "" when none can be parsed.
// With proxy trust enabled the first X-Forwarded-For entry wins, then
// X-Real-IP; otherwise the connection's remote address is used.
func ClientIP(r *http.Request) string {
	if trustProxy.Load() {
		if v := r.Header.Get("X-Forwarded-For"); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if ip := NormalizeIP(first); ip != "" {
				return ip
			}
		}
		if ip := NormalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return NormalizeIP(r.RemoteAddr)
}

// NormalizeIP accepts a bare address, "ipv4:port" or "[ipv6]:port" and
// returns the canonical address text, or "" if v is not an IP.
func NormalizeIP(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if ip := net.ParseIP(v); ip != nil {
		return ip.String()
	}
	host, port, err := net.SplitHostPort(v)
	if err != nil {
		return ""
	}
	if _, err := strconv.Atoi(port); err != nil {
		return ""
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
