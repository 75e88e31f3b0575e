package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fraud-report-intake/internal/intake"
	"fraud-report-intake/internal/middleware"
	"fraud-report-intake/internal/storage"
)

const defaultViewTimeout = 5 * time.Second

// flexID accepts a JSON number or a numeric string. Empty strings and null
// decode to zero, which the pipeline reports as a missing field.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("identifier %s is not an integer", string(b))
	}
	*f = flexID(n)
	return nil
}

type submitRequest struct {
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Email          string   `json:"email"`
	PlatformID     flexID   `json:"platformId"`
	CategoryID     flexID   `json:"categoryId"`
	TurnstileToken string   `json:"turnstileToken"`
	SpamTrap       string   `json:"spamTrap"`
	FormStartedAt  *float64 `json:"formStartedAt"`
	ScreenshotURLs []string `json:"screenshotUrls"`
}

type submitResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

// Reports serves /api/reports: GET lists, POST submits.
func (a *API) Reports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		a.listReports(w, r)
	case http.MethodPost:
		a.createReport(w, r)
	default:
		respondMethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createReport(w http.ResponseWriter, r *http.Request) {
	if a.Intake == nil {
		respondError(w, http.StatusServiceUnavailable, "intake not initialized")
		return
	}
	var req submitRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeAPIError(w, http.StatusBadRequest, string(intake.KindValidation), err.Error(), nil)
		return
	}
	res, err := a.Intake.Submit(r.Context(), intake.Submission{
		URL:            req.URL,
		Title:          req.Title,
		Description:    req.Description,
		Email:          req.Email,
		PlatformID:     int64(req.PlatformID),
		CategoryID:     int64(req.CategoryID),
		Attachments:    req.ScreenshotURLs,
		ChallengeToken: req.TurnstileToken,
		Honeypot:       req.SpamTrap,
		FormStartedAt:  req.FormStartedAt,
		ClientIP:       middleware.ClientIP(r),
		UserAgent:      r.Header.Get("User-Agent"),
	})
	if err != nil {
		writeIntakeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, submitResponse{
		ID:        res.ID,
		CreatedAt: res.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func writeIntakeError(w http.ResponseWriter, err error) {
	var ie *intake.Error
	if !errors.As(err, &ie) {
		writeAPIError(w, http.StatusInternalServerError, string(intake.KindUpstream), "internal error", nil)
		return
	}
	var meta map[string]any
	if ie.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ie.RetryAfterSeconds))
		meta = map[string]any{"retry_after": ie.RetryAfterSeconds}
	}
	writeAPIError(w, ie.Kind.HTTPStatus(), string(ie.Kind), ie.Message, meta)
}

func (a *API) listReports(w http.ResponseWriter, r *http.Request) {
	if a.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}
	q := r.URL.Query()
	f := storage.ListFilter{
		Query:      strings.TrimSpace(q.Get("q")),
		PlatformID: optionalInt(q.Get("platformId")),
		CategoryID: optionalInt(q.Get("categoryId")),
		StatusID:   int(optionalInt(q.Get("statusId"))),
		Sort:       storage.ParseSort(q.Get("sort")),
		Cursor:     strings.TrimSpace(q.Get("cursor")),
		Limit:      int(optionalInt(q.Get("limit"))),
	}
	page, err := a.Store.ListReports(r.Context(), f)
	if err != nil {
		a.logf("reports: list failed err=%v", err)
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "could not list reports", nil)
		return
	}
	if page.Items == nil {
		page.Items = []storage.Report{}
	}
	respondJSON(w, http.StatusOK, page)
}

// optionalInt parses a positive integer query value; anything else is 0.
func optionalInt(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// ReportByID serves GET /api/reports/{id}.
func (a *API) ReportByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		respondMethodNotAllowed(w, http.MethodGet)
		return
	}
	if a.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}
	segs := pathSegments(r.URL.Path, "/api/reports/")
	if len(segs) != 1 || !validReportID(segs[0]) {
		writeAPIError(w, http.StatusNotFound, "not_found", "report not found", nil)
		return
	}
	id := segs[0]
	rep, err := a.Store.GetReport(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeAPIError(w, http.StatusNotFound, "not_found", "report not found", nil)
		return
	}
	if err != nil {
		a.logf("reports: get failed id=%s err=%v", id, err)
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "could not load report", nil)
		return
	}
	a.countView(id)
	respondJSON(w, http.StatusOK, rep)
}

// countView bumps the view counter without holding up the response.
func (a *API) countView(id string) {
	timeout := a.ViewTimeout
	if timeout <= 0 {
		timeout = defaultViewTimeout
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.Store.IncrementViews(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			a.logf("reports: view count failed id=%s err=%v", id, err)
		}
	}()
}
