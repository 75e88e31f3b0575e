package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTurnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	DefaultPreviewUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"
	DefaultStorageBucket      = "report-screenshots"
)

type Config struct {
	Port string

	RateLimitRPS           float64       // tokens added per second per IP
	RateLimitBurst         int           // max burst tokens per IP
	RateLimiterTTL         time.Duration // idle bucket eviction horizon
	RateLimitBypassDomains []string      // hostnames (exact match) that bypass the HTTP throttle
	TrustProxyHeaders      bool          // trust X-Forwarded-For / X-Real-IP when true
	AdminTokens            []string      // one or more admin tokens (rotation)

	SubmissionWindow      time.Duration // sliding window length for report submissions
	SubmissionMaxInWindow int           // admitted submissions per key per window
	SubmissionMinInterval time.Duration // minimum spacing between admitted submissions
	MinFormCompletion     time.Duration // reject forms filled faster than this

	TurnstileSecret    string
	TurnstileVerifyURL string
	ChallengeTimeout   time.Duration

	PreviewTimeout   time.Duration // per candidate fetch
	PreviewMaxBytes  int64
	PreviewUserAgent string
	PreviewDenylist  string // optional file of hosts previews must never contact

	StoragePublicURL string // object storage origin that attachment URLs must live under
	StorageBucket    string

	DatabaseURL string // empty selects the in-memory store
}

func Load(logger *log.Logger) Config {
	c := Config{
		Port:                  "8080",
		RateLimitRPS:          5.0,
		RateLimitBurst:        20,
		RateLimiterTTL:        10 * time.Minute,
		SubmissionWindow:      10 * time.Minute,
		SubmissionMaxInWindow: 5,
		SubmissionMinInterval: 10 * time.Second,
		MinFormCompletion:     6 * time.Second,
		TurnstileVerifyURL:    DefaultTurnstileVerifyURL,
		ChallengeTimeout:      5 * time.Second,
		PreviewTimeout:        6 * time.Second,
		PreviewMaxBytes:       3_000_000,
		PreviewUserAgent:      DefaultPreviewUserAgent,
		StorageBucket:         DefaultStorageBucket,
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
			c.Port = v
		} else {
			logger.Printf("config: invalid PORT=%q", v)
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.RateLimitRPS = f
		} else if err != nil {
			logger.Printf("config: invalid RATE_LIMIT_RPS=%q: %v", v, err)
		}
	}
	c.RateLimitBurst = envInt(logger, "RATE_LIMIT_BURST", c.RateLimitBurst)
	c.RateLimiterTTL = envDuration(logger, "RATE_LIMIT_BUCKET_TTL", c.RateLimiterTTL)
	if v := os.Getenv("RATE_LIMIT_BYPASS_DOMAINS"); v != "" { // comma/space separated
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
			part = strings.TrimSpace(strings.ToLower(part))
			if part != "" {
				c.RateLimitBypassDomains = append(c.RateLimitBypassDomains, part)
			}
		}
	}
	c.TrustProxyHeaders = envBool("TRUST_PROXY_HEADERS", false)
	c.AdminTokens = adminTokens(logger)

	c.SubmissionWindow = envDuration(logger, "SUBMISSION_WINDOW", c.SubmissionWindow)
	c.SubmissionMaxInWindow = envInt(logger, "SUBMISSION_MAX_PER_WINDOW", c.SubmissionMaxInWindow)
	c.SubmissionMinInterval = envDuration(logger, "SUBMISSION_MIN_INTERVAL", c.SubmissionMinInterval)
	c.MinFormCompletion = envDuration(logger, "MIN_FORM_COMPLETION", c.MinFormCompletion)

	c.TurnstileSecret = strings.TrimSpace(os.Getenv("TURNSTILE_SECRET_KEY"))
	if v := strings.TrimSpace(os.Getenv("TURNSTILE_VERIFY_URL")); v != "" {
		c.TurnstileVerifyURL = v
	}
	c.ChallengeTimeout = envDuration(logger, "CHALLENGE_TIMEOUT", c.ChallengeTimeout)

	c.PreviewTimeout = envDuration(logger, "PREVIEW_TIMEOUT", c.PreviewTimeout)
	if v := os.Getenv("PREVIEW_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.PreviewMaxBytes = n
		} else {
			logger.Printf("config: invalid PREVIEW_MAX_BYTES=%q", v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("PREVIEW_USER_AGENT")); v != "" {
		c.PreviewUserAgent = v
	}

	c.PreviewDenylist = strings.TrimSpace(os.Getenv("PREVIEW_DENYLIST_FILE"))

	c.StoragePublicURL = strings.TrimSpace(os.Getenv("STORAGE_PUBLIC_URL"))
	if c.StoragePublicURL == "" {
		c.StoragePublicURL = strings.TrimSpace(os.Getenv("SUPABASE_URL"))
	}
	c.StoragePublicURL = strings.TrimRight(c.StoragePublicURL, "/")
	if v := strings.TrimSpace(os.Getenv("STORAGE_BUCKET")); v != "" {
		c.StorageBucket = v
	}
	c.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	return c
}

func adminTokens(logger *log.Logger) []string {
	var out []string
	if v := os.Getenv("ADMIN_TOKENS"); v != "" { // comma-separated
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if len(p) >= 16 {
				out = append(out, p)
			} else if p != "" {
				logger.Printf("config: ignoring short admin token (<16 chars)")
			}
		}
	}
	if len(out) == 0 {
		if single := os.Getenv("ADMIN_TOKEN"); single != "" {
			if len(single) >= 16 {
				out = []string{single}
			} else {
				logger.Printf("config: ADMIN_TOKEN provided but <16 chars; ignoring")
			}
		}
	}
	return out
}

func envInt(logger *log.Logger, name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		logger.Printf("config: invalid %s=%q", name, v)
		return def
	}
	return n
}

func envDuration(logger *log.Logger, name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Printf("config: invalid %s=%q", name, v)
		return def
	}
	return d
}

func envBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	out := c
	if out.TurnstileSecret != "" {
		out.TurnstileSecret = "***"
	}
	if len(out.AdminTokens) > 0 {
		out.AdminTokens = []string{strconv.Itoa(len(c.AdminTokens)) + " configured"}
	}
	if out.DatabaseURL != "" {
		out.DatabaseURL = "***"
	}
	return out
}
