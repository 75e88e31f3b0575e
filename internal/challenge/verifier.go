// Package challenge verifies human-challenge tokens against a Turnstile-style
// siteverify endpoint.
package challenge

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fraud-report-intake/internal/metrics"
)

const (
	CodeMissingSecret = "missing-secret-key"
	CodeHTTPError     = "turnstile-http-error"
	CodeRequestFailed = "turnstile-request-failed"

	DefaultTimeout = 5 * time.Second

	maxResponseBytes = 64 << 10
)

// Result is the verdict for a single token. Success is true only when the
// provider answered with success === true.
type Result struct {
	Success    bool
	ErrorCodes []string
}

// Misconfigured reports a failure caused by our own setup rather than the
// caller's token.
func (r Result) Misconfigured() bool {
	for _, c := range r.ErrorCodes {
		if c == CodeMissingSecret {
			return true
		}
	}
	return false
}

// Verifier posts tokens to Endpoint. A zero Client uses a plain http.Client;
// Timeout bounds each verification regardless of the caller's context.
type Verifier struct {
	Secret   string
	Endpoint string
	Client   *http.Client
	Timeout  time.Duration
	Logger   *log.Logger
}

func New(secret, endpoint string, timeout time.Duration, logger *log.Logger) *Verifier {
	return &Verifier{
		Secret:   secret,
		Endpoint: endpoint,
		Client:   &http.Client{},
		Timeout:  timeout,
		Logger:   logger,
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify never returns an error: every failure is folded into Result.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) Result {
	if strings.TrimSpace(v.Secret) == "" {
		v.logf("challenge: missing secret key; failing closed")
		metrics.ObserveChallenge("misconfigured")
		return Result{ErrorCodes: []string{CodeMissingSecret}}
	}
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	form := url.Values{}
	form.Set("secret", v.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		v.logf("challenge: build request error=%v", err)
		metrics.ObserveChallenge("error")
		return Result{ErrorCodes: []string{CodeRequestFailed}}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		v.logf("challenge: request failed err=%v", err)
		metrics.ObserveChallenge("error")
		return Result{ErrorCodes: []string{CodeRequestFailed}}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		v.logf("challenge: verify endpoint status=%d", resp.StatusCode)
		metrics.ObserveChallenge("error")
		return Result{ErrorCodes: []string{CodeHTTPError}}
	}
	var body siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		v.logf("challenge: decode failed err=%v", err)
		metrics.ObserveChallenge("error")
		return Result{ErrorCodes: []string{CodeRequestFailed}}
	}
	if !body.Success {
		metrics.ObserveChallenge("rejected")
		return Result{ErrorCodes: body.ErrorCodes}
	}
	metrics.ObserveChallenge("success")
	return Result{Success: true, ErrorCodes: body.ErrorCodes}
}

func (v *Verifier) logf(format string, args ...any) {
	if v.Logger != nil {
		v.Logger.Printf(format, args...)
	}
}
