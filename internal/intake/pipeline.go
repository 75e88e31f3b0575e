// Package intake runs a fraud report submission through validation, bot
// defenses, link preview and persistence.
//
// Stages run in a fixed order and each may short-circuit:
//
//	validate -> honeypot -> timing -> rate limit -> challenge -> preview -> assemble -> persist
//
// A submission rejected by a local check never reaches the challenge provider
// or the outbound fetcher.
package intake

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"fraud-report-intake/internal/challenge"
	"fraud-report-intake/internal/domain"
	"fraud-report-intake/internal/metrics"
	"fraud-report-intake/internal/preview"
	"fraud-report-intake/internal/ratelimit"
	"fraud-report-intake/internal/storage"
)

const (
	MaxURLLength          = 2048
	DefaultFormCompletion = 6 * time.Second
	DefaultPreviewBudget  = 2 * preview.DefaultTimeout

	maxUserAgentKey = 160
)

type Limiter interface {
	CheckAndRecord(key string) ratelimit.Decision
}

type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) challenge.Result
}

type Previewer interface {
	Preview(ctx context.Context, rawURL string) preview.LinkPreview
}

type Store interface {
	CreateReport(ctx context.Context, in storage.NewReport) (storage.Report, error)
}

// Submission is the raw request as decoded by the transport layer.
type Submission struct {
	URL            string
	Title          string
	Description    string
	Email          string
	PlatformID     int64
	CategoryID     int64
	Attachments    []string
	ChallengeToken string
	Honeypot       string
	FormStartedAt  *float64 // epoch milliseconds; nil when absent
	ClientIP       string
	UserAgent      string
}

// Result is returned on success. Decoy is set for honeypot hits, whose id
// was never persisted; callers must render it exactly like a real one.
type Result struct {
	ID        string
	CreatedAt time.Time
	Decoy     bool
}

type Pipeline struct {
	Limiter     Limiter
	Verifier    Verifier
	Previewer   Previewer // optional
	Store       Store
	Attachments AttachmentPolicy

	MinFormCompletion time.Duration
	PreviewBudget     time.Duration

	Now    func() time.Time
	NewID  func() string
	Logger *log.Logger
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Submit runs every stage for s. Rejections are *Error values.
func (p *Pipeline) Submit(ctx context.Context, s Submission) (Result, error) {
	res, err := p.submit(ctx, s)
	switch {
	case err != nil:
		metrics.ObserveSubmission(string(KindOf(err)))
	case res.Decoy:
		metrics.ObserveSubmission("honeypot")
	default:
		metrics.ObserveSubmission("created")
	}
	return res, err
}

func (p *Pipeline) submit(ctx context.Context, s Submission) (Result, error) {
	in, err := p.validate(s)
	if err != nil {
		return Result{}, err
	}

	if strings.TrimSpace(s.Honeypot) != "" {
		p.logf("intake: honeypot triggered %s", s)
		return Result{ID: p.newID(), CreatedAt: p.now().UTC(), Decoy: true}, nil
	}

	if strings.TrimSpace(s.ChallengeToken) == "" {
		return Result{}, invalid("challenge token is required")
	}
	if s.FormStartedAt == nil || math.IsNaN(*s.FormStartedAt) || math.IsInf(*s.FormStartedAt, 0) {
		return Result{}, invalid("form start time is missing")
	}
	minFill := p.MinFormCompletion
	if minFill <= 0 {
		minFill = DefaultFormCompletion
	}
	elapsedMs := float64(p.now().UnixMilli()) - *s.FormStartedAt
	if elapsedMs < float64(minFill.Milliseconds()) {
		return Result{}, &Error{Kind: KindTooFast, Message: "submitted too quickly; review the form and try again"}
	}

	if d := p.Limiter.CheckAndRecord(RateLimitKey(s.ClientIP, s.UserAgent)); !d.Allowed {
		retry := d.RetryAfterSeconds
		if retry <= 0 {
			retry = 60
		}
		return Result{}, &Error{Kind: KindRateLimited, Message: "too many submissions; try again later", RetryAfterSeconds: retry}
	}

	verdict := p.Verifier.Verify(ctx, strings.TrimSpace(s.ChallengeToken), s.ClientIP)
	if !verdict.Success {
		p.logf("intake: challenge rejected codes=%v", verdict.ErrorCodes)
		if verdict.Misconfigured() {
			return Result{}, &Error{Kind: KindChallengeUnavailable, Message: "spam protection is misconfigured"}
		}
		return Result{}, &Error{Kind: KindChallengeFailed, Message: "spam protection check failed; please retry"}
	}

	if p.Previewer != nil {
		budget := p.PreviewBudget
		if budget <= 0 {
			budget = DefaultPreviewBudget
		}
		pctx, cancel := context.WithTimeout(ctx, budget)
		lp := p.Previewer.Preview(pctx, in.URL)
		cancel()
		if lp.Title != "" {
			in.Title = lp.Title
		}
		in.ImageURLs = mergeAttachments(in.ImageURLs, lp.Thumbnail)
	}

	if t, err := domain.ParseTarget(in.URL); err == nil {
		in.Domain = t.Domain()
	}

	r, err := p.Store.CreateReport(ctx, in)
	if err != nil {
		p.logf("intake: persist failed %s err=%v", s, err)
		return Result{}, &Error{Kind: KindUpstream, Message: "could not save the report", Err: err}
	}
	return Result{ID: r.ID, CreatedAt: r.CreatedAt}, nil
}

// validate checks the fields that need no outside calls and builds the
// record to persist.
func (p *Pipeline) validate(s Submission) (storage.NewReport, error) {
	images, err := p.Attachments.Normalize(s.Attachments)
	if err != nil {
		return storage.NewReport{}, err
	}
	u := strings.TrimSpace(s.URL)
	if u == "" {
		return storage.NewReport{}, invalid("url is required")
	}
	if len(u) > MaxURLLength {
		return storage.NewReport{}, invalid("url is too long")
	}
	if s.PlatformID <= 0 {
		return storage.NewReport{}, invalid("platform is required")
	}
	if s.CategoryID <= 0 {
		return storage.NewReport{}, invalid("category is required")
	}
	email, ok := domain.NormalizeEmail(s.Email)
	if email == "" {
		return storage.NewReport{}, invalid("email is required")
	}
	if !ok {
		return storage.NewReport{}, invalid("email is malformed")
	}
	return storage.NewReport{
		Email:       email,
		URL:         u,
		Title:       strings.TrimSpace(s.Title),
		Description: s.Description,
		PlatformID:  s.PlatformID,
		CategoryID:  s.CategoryID,
		SourceIP:    s.ClientIP,
		ImageURLs:   images,
	}, nil
}

// RateLimitKey identifies a submitter: the client IP when known, else the
// lower-cased first 160 characters of the User-Agent.
func RateLimitKey(clientIP, userAgent string) string {
	if ip := strings.TrimSpace(clientIP); ip != "" {
		return "ip:" + ip
	}
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		ua = "unknown"
	}
	if r := []rune(ua); len(r) > maxUserAgentKey {
		ua = string(r[:maxUserAgentKey])
	}
	return "ua:" + strings.ToLower(ua)
}

func (p *Pipeline) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return storage.NewReportID()
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}

// String is used in log lines; it omits the email and token.
func (s Submission) String() string {
	return fmt.Sprintf("submission{url=%q platform=%d category=%d attachments=%d ip=%s}",
		s.URL, s.PlatformID, s.CategoryID, len(s.Attachments), s.ClientIP)
}
