package handlers

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"fraud-report-intake/internal/metrics"
	"fraud-report-intake/internal/storage"
)

const maxStatusNoteRunes = 1000

type statusUpdateRequest struct {
	StatusID int    `json:"status_id"`
	Note     string `json:"note"`
}

// AdminStatuses lists the status catalogue.
func (a *API) AdminStatuses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondMethodNotAllowed(w, http.MethodGet)
		return
	}
	sts, err := a.Store.Statuses(r.Context())
	if err != nil {
		a.logf("admin: statuses failed err=%v", err)
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "could not load statuses", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": sts})
}

// AdminReports routes /api/admin/reports/{id} (DELETE) and
// /api/admin/reports/{id}/status (POST).
func (a *API) AdminReports(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r.URL.Path, "/api/admin/reports/")
	switch {
	case len(segs) == 1:
		if r.Method != http.MethodDelete {
			respondMethodNotAllowed(w, http.MethodDelete)
			return
		}
		a.deleteReport(w, r, segs[0])
	case len(segs) == 2 && segs[1] == "status":
		if r.Method != http.MethodPost {
			respondMethodNotAllowed(w, http.MethodPost)
			return
		}
		a.updateStatus(w, r, segs[0])
	default:
		writeAPIError(w, http.StatusNotFound, "not_found", "not found", nil)
	}
}

func (a *API) updateStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req statusUpdateRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	if req.StatusID <= 0 {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "status_id is required", nil)
		return
	}
	note := strings.TrimSpace(req.Note)
	if utf8.RuneCountInString(note) > maxStatusNoteRunes {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "note is too long", nil)
		return
	}
	rep, err := a.Store.UpdateStatus(r.Context(), id, req.StatusID, note)
	switch {
	case errors.Is(err, storage.ErrUnknownStatus):
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "unknown status", map[string]any{"status_id": req.StatusID})
		return
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "not_found", "report not found", nil)
		return
	case err != nil:
		a.logf("admin: update status failed id=%s err=%v", id, err)
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "could not update status", nil)
		return
	}
	metrics.ObserveStatusChange(req.StatusID)
	a.logf("admin: status changed id=%s status=%d", id, req.StatusID)
	respondJSON(w, http.StatusOK, rep)
}

func (a *API) deleteReport(w http.ResponseWriter, r *http.Request, id string) {
	err := a.Store.DeleteReport(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeAPIError(w, http.StatusNotFound, "not_found", "report not found", nil)
		return
	}
	if err != nil {
		a.logf("admin: delete failed id=%s err=%v", id, err)
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "could not delete report", nil)
		return
	}
	a.logf("admin: report deleted id=%s", id)
	respondJSON(w, http.StatusNoContent, nil)
}
