package handlers

import (
	"context"
	"net/http"
	"time"
)

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (a *API) Live(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondMethodNotAllowed(w, http.MethodGet)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"alive": true})
}

// Reports readiness: the pipeline is wired and the store answers a ping.
func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondMethodNotAllowed(w, http.MethodGet)
		return
	}
	if a.Store == nil || a.Intake == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.Store.Ping(ctx); err != nil {
		a.logf("ready: store ping failed err=%v", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": "store unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ready": true})
}
