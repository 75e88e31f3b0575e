package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"fraud-report-intake/internal/storage"
)

// Statistics serves the dashboard aggregate. ?days= sets the trend length:
// unparsable values fall back to the default, the rest is clamped to 1..90.
func (a *API) Statistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		respondMethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}
	days := storage.DefaultStatsDays
	if v := strings.TrimSpace(r.URL.Query().Get("days")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			days = max(n, 1)
		}
	}
	st, err := a.Store.Statistics(r.Context(), days)
	if err != nil {
		a.logf("statistics: failed err=%v", err)
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "could not load statistics", nil)
		return
	}
	respondJSON(w, http.StatusOK, st)
}
