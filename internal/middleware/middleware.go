package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"fraud-report-intake/internal/metrics"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
)

func RequestID(r *http.Request) string {
	if v := r.Context().Value(requestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequestIDMiddleware tags each request with an id. An inbound X-Request-ID
// is kept only when proxy headers are trusted and it looks like an id.
func RequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if !trustProxy.Load() || !validRequestID(id) {
				var buf [8]byte
				_, _ = rand.Read(buf[:])
				id = hex.EncodeToString(buf[:])
			}
			ctx := context.WithValue(r.Context(), requestIDKey, id)
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validRequestID(id string) bool {
	if len(id) < 8 || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// writeError renders the API error envelope shared with the handlers package.
func writeError(w http.ResponseWriter, status int, code, msg string, meta map[string]any) {
	body := map[string]any{"code": code, "message": msg}
	if len(meta) > 0 {
		body["meta"] = meta
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
}

type Middleware func(http.Handler) http.Handler

func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Logging records one access line and the request metrics per request.
func Logging(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			dur := time.Since(start)
			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			route := RouteLabel(r.URL.Path)
			metrics.ObserveRequest(r.Method, route, http.StatusText(sw.status), dur, sw.status)
			if logger == nil {
				return
			}
			logger.Printf("%s %s route=%s status=%d bytes=%d dur=%s ip=%s rid=%s ua=%q",
				r.Method, r.URL.Path, route, sw.status, sw.size, dur.Round(time.Microsecond), ClientIP(r), RequestID(r), r.Header.Get("User-Agent"))
		})
	}
}

// RouteLabel collapses report ids in a request path so the metrics path
// label stays bounded.
func RouteLabel(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(segs) >= 3 && segs[0] == "api" && segs[1] == "reports":
		segs[2] = "{id}"
	case len(segs) >= 4 && segs[0] == "api" && segs[1] == "admin" && segs[2] == "reports":
		segs[3] = "{id}"
	default:
		return p
	}
	return "/" + strings.Join(segs, "/")
}

func Recover(logger *log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Printf("panic: %v rid=%s\n%s", rec, RequestID(r), debug.Stack())
					writeError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
			w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
			w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

func VersionHeader(ver string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ver != "" {
				w.Header().Set("X-Service-Version", ver)
			}
			next.ServeHTTP(w, r)
		})
	}
}

