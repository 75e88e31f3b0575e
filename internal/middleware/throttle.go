package middleware

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"fraud-report-intake/internal/metrics"

	"golang.org/x/time/rate"
)

const (
	DefaultThrottleRPS   = 5
	DefaultThrottleBurst = 20
	DefaultThrottleTTL   = 10 * time.Minute

	throttleRetryAfter = 1 // seconds
)

type ThrottleConfig struct {
	RPS         float64
	Burst       int
	TTL         time.Duration // idle buckets older than this are dropped by Sweep
	BypassHosts []string      // request Host values exempt from throttling
}

type bucket struct {
	lim  *rate.Limiter
	last time.Time
}

// Throttle is a coarse per-client token bucket in front of every route.
// Report submissions are throttled again per submitter by the intake
// pipeline. Idle buckets are only dropped by Sweep.
type Throttle struct {
	rps    rate.Limit
	burst  int
	ttl    time.Duration
	bypass map[string]struct{}
	logger *log.Logger

	Now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewThrottle(cfg ThrottleConfig, logger *log.Logger) *Throttle {
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultThrottleRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultThrottleBurst
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultThrottleTTL
	}
	bypass := make(map[string]struct{}, len(cfg.BypassHosts))
	for _, h := range cfg.BypassHosts {
		if h = strings.TrimSpace(strings.ToLower(h)); h != "" {
			bypass[h] = struct{}{}
		}
	}
	return &Throttle{
		rps:     rate.Limit(cfg.RPS),
		burst:   cfg.Burst,
		ttl:     cfg.TTL,
		bypass:  bypass,
		logger:  logger,
		Now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from key's bucket, creating a full bucket on first use.
func (t *Throttle) Allow(key string) bool {
	now := t.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(t.rps, t.burst)}
		t.buckets[key] = b
	}
	b.last = now
	return b.lim.AllowN(now, 1)
}

// Bypassed reports whether requests addressed to host skip the throttle.
func (t *Throttle) Bypassed(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	_, ok := t.bypass[strings.ToLower(host)]
	return ok
}

// Sweep drops buckets that have not been touched for the configured TTL.
func (t *Throttle) Sweep() {
	cut := t.Now().Add(-t.ttl)
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, b := range t.buckets {
		if b.last.Before(cut) {
			delete(t.buckets, k)
		}
	}
}

func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

func (t *Throttle) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if t.Bypassed(r.Host) {
				next.ServeHTTP(w, r)
				return
			}
			ip := ClientIP(r)
			if ip == "" {
				ip = "unknown"
			}
			if !t.Allow(ip) {
				metrics.RateLimitRejectedTotal.Inc()
				if t.logger != nil {
					t.logger.Printf("throttle: rejected ip=%s path=%s", ip, r.URL.Path)
				}
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limited", map[string]any{"retry_after": throttleRetryAfter})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
