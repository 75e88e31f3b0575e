package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reg = prometheus.NewRegistry()

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "path", "status_code"},
	)
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rate_limiter_rejected_total", Help: "Requests rejected by the per-IP HTTP throttle"},
	)
	ThrottleKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "http_throttle_keys", Help: "Client buckets currently held by the HTTP throttle"},
	)
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "report_submissions_total", Help: "Report submissions by outcome"},
		[]string{"outcome"},
	)
	SubmissionLimiterKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "submission_limiter_keys", Help: "Submitter keys currently tracked by the sliding window"},
	)
	ChallengeVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "challenge_verifications_total", Help: "Human challenge verifications by result"},
		[]string{"result"},
	)
	PreviewFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "preview_fetches_total", Help: "Link preview fetch attempts by result"},
		[]string{"result"},
	)
	PreviewFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "preview_fetch_duration_seconds",
			Help:    "Duration of a single preview candidate fetch",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 9),
		},
	)
	SSRFBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ssrf_blocked_total", Help: "Outbound targets refused by the SSRF policy"},
		[]string{"stage"},
	)
	ReportStatusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "report_status_changes_total", Help: "Admin status transitions by target status id"},
		[]string{"status_id"},
	)
	AdminAuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "admin_auth_failures_total", Help: "Total failed admin authentication attempts"},
	)
	AdminAuthSuccessTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "admin_auth_success_total", Help: "Total successful admin authentication attempts"},
	)
	StoreUp = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "store_up", Help: "1 when the last maintenance ping of the report store succeeded"},
	)
	StorePingFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "store_ping_failures_total", Help: "Failed maintenance pings of the report store"},
	)
	StoreConsecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "store_consecutive_failures", Help: "Current streak of failed store pings"},
	)
)

var registered atomic.Bool

func Register() {
	if registered.Swap(true) {
		return
	}
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, RateLimitRejectedTotal, ThrottleKeys,
		SubmissionsTotal, SubmissionLimiterKeys,
		ChallengeVerificationsTotal, PreviewFetchesTotal, PreviewFetchDuration, SSRFBlockedTotal,
		ReportStatusChangesTotal, AdminAuthFailuresTotal, AdminAuthSuccessTotal,
		StoreUp, StorePingFailuresTotal, StoreConsecutiveFailures,
	)
}

// Returns the /metrics HTTP handler
func Handler() http.Handler { Register(); return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}) }

// Records metrics for a request.
func ObserveRequest(method, path, status string, dur time.Duration, statusCode int) {
	Register()
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, fmt.Sprintf("%d", statusCode)).Observe(dur.Seconds())
}

func ObserveSubmission(outcome string) {
	Register()
	SubmissionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveChallenge(result string) {
	Register()
	ChallengeVerificationsTotal.WithLabelValues(result).Inc()
}

func ObservePreview(result string, dur time.Duration) {
	Register()
	PreviewFetchesTotal.WithLabelValues(result).Inc()
	PreviewFetchDuration.Observe(dur.Seconds())
}

func ObserveSSRFBlock(stage string) {
	Register()
	SSRFBlockedTotal.WithLabelValues(stage).Inc()
}

func ObserveStatusChange(statusID int) {
	Register()
	ReportStatusChangesTotal.WithLabelValues(fmt.Sprintf("%d", statusID)).Inc()
}
