package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"fraud-report-intake/internal/intake"
	"fraud-report-intake/internal/storage"
)

const maxBodyBytes = 64 << 10

// Submitter runs a submission through the intake pipeline.
type Submitter interface {
	Submit(ctx context.Context, s intake.Submission) (intake.Result, error)
}

type API struct {
	Intake Submitter
	Store  storage.Store
	Logger *log.Logger

	// ViewTimeout bounds the background view-count update of a detail read.
	ViewTimeout time.Duration
}

// Helpers

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")

	w.WriteHeader(status)
	if v == nil || status == http.StatusNoContent {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

type apiError struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Meta    map[string]any `json:"meta,omitempty"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, code, msg string, meta map[string]any) {
	if code == "" {
		code = http.StatusText(status)
	}
	var body apiError
	body.Error.Code = code
	body.Error.Message = msg
	if len(meta) > 0 {
		body.Error.Meta = meta
	}
	respondJSON(w, status, body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	writeAPIError(w, status, "", msg, nil)
}

func respondMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) error {
	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		ct := r.Header.Get("Content-Type")
		if !strings.HasPrefix(ct, "application/json") {
			return errors.New("Content-Type must be application/json")
		}
	}

	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()

	limited := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(limited)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if dec.More() {
		return errors.New("only a single JSON object is allowed")
	}
	return nil
}

// pathSegments splits what follows prefix into non-empty path segments.
// It returns nil when the path does not start with prefix.
func pathSegments(path, prefix string) []string {
	if !strings.HasPrefix(path, prefix) {
		return nil
	}
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// validReportID accepts the 12 character lower-case base36 ids the store mints.
func validReportID(id string) bool {
	if len(id) != storage.ReportIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			continue
		}
		return false
	}
	return true
}

func (a *API) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}
