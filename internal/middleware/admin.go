package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"fraud-report-intake/internal/metrics"
)

// authDelay is replaced in tests.
var authDelay = randomAuthDelay

// AdminGuard requires every request, whatever its method, to present one of
// tokens either in X-Admin-Token or as an Authorization bearer token. Mount it
// only on admin routes. With no usable token the admin surface is disabled.
//
//	403 admin_disabled  no token configured
//	401 missing_token   nothing presented
//	403 invalid_token   presented token matches none
func AdminGuard(tokens []string, logger *log.Logger) Middleware {
	var accepted [][]byte
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			accepted = append(accepted, []byte(t))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(accepted) == 0 {
				writeError(w, http.StatusForbidden, "admin_disabled", "admin access is not configured", nil)
				return
			}
			presented := adminToken(r)
			if presented == "" {
				metrics.AdminAuthFailuresTotal.Inc()
				authDelay()
				writeError(w, http.StatusUnauthorized, "missing_token", "missing admin token", nil)
				return
			}
			if !matchesAny([]byte(presented), accepted) {
				metrics.AdminAuthFailuresTotal.Inc()
				if logger != nil {
					logger.Printf("admin: rejected token ip=%s method=%s path=%s rid=%s", ClientIP(r), r.Method, r.URL.Path, RequestID(r))
				}
				authDelay()
				writeError(w, http.StatusForbidden, "invalid_token", "invalid admin token", nil)
				return
			}
			metrics.AdminAuthSuccessTotal.Inc()
			next.ServeHTTP(w, r)
		})
	}
}

func adminToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Admin-Token")); v != "" {
		return v
	}
	scheme, cred, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(cred)
	}
	return ""
}

// matchesAny compares against every accepted token so the time taken does
// not reveal which one matched.
func matchesAny(presented []byte, accepted [][]byte) bool {
	match := 0
	for _, tok := range accepted {
		match |= subtle.ConstantTimeCompare(presented, tok)
	}
	return match == 1
}

// randomAuthDelay sleeps 50-150ms after a failed attempt.
func randomAuthDelay() {
	const low, high = 50, 150
	n, err := rand.Int(rand.Reader, big.NewInt(high-low+1))
	if err != nil {
		time.Sleep(100 * time.Millisecond)
		return
	}
	time.Sleep(time.Duration(n.Int64()+low) * time.Millisecond)
}
