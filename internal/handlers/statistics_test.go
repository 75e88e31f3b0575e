package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fraud-report-intake/internal/storage"
)

type statsStore struct {
	*storage.MemoryStore
	days []int
	err  error
}

func (s *statsStore) Statistics(ctx context.Context, days int) (storage.Statistics, error) {
	s.days = append(s.days, days)
	if s.err != nil {
		return storage.Statistics{}, s.err
	}
	return s.MemoryStore.Statistics(ctx, days)
}

func TestStatisticsDaysParam(t *testing.T) {
	cases := []struct {
		query    string
		wantDays int
		wantLen  int
	}{
		{"", storage.DefaultStatsDays, storage.DefaultStatsDays},
		{"?days=30", 30, 30},
		{"?days=abc", storage.DefaultStatsDays, storage.DefaultStatsDays},
		{"?days=0", 1, 1},
		{"?days=-4", 1, 1},
		{"?days=365", 365, storage.MaxStatsDays},
	}
	for _, c := range cases {
		store := &statsStore{MemoryStore: storage.NewMemoryStore()}
		api := newTestAPI(&fakeSubmitter{}, store)
		rec := httptest.NewRecorder()
		api.Statistics(rec, httptest.NewRequest(http.MethodGet, "/api/statistics"+c.query, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", c.query, rec.Code)
		}
		if len(store.days) != 1 || store.days[0] != c.wantDays {
			t.Fatalf("%q: store called with %v, want %d", c.query, store.days, c.wantDays)
		}
		var body struct {
			Summary struct {
				TotalReports  int64  `json:"total_reports"`
				TopPlatformID *int64 `json:"top_platform_id"`
			} `json:"summary"`
			Breakdown map[string][]storage.BreakdownItem `json:"breakdown"`
			Trend     []storage.TrendPoint                `json:"trend"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%q: decode: %v", c.query, err)
		}
		if len(body.Trend) != c.wantLen {
			t.Fatalf("%q: expected %d trend points, got %d", c.query, c.wantLen, len(body.Trend))
		}
		if body.Breakdown["platform"] == nil || body.Summary.TopPlatformID != nil {
			t.Fatalf("%q: unexpected empty aggregate %s", c.query, rec.Body.String())
		}
	}
}

func TestStatisticsCountsReports(t *testing.T) {
	store := storage.NewMemoryStore()
	seedReports(t, store, 3)
	api := newTestAPI(&fakeSubmitter{}, store)
	rec := httptest.NewRecorder()
	api.Statistics(rec, httptest.NewRequest(http.MethodGet, "/api/statistics", nil))

	var body storage.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Summary.TotalReports != 3 || len(body.Breakdown.Status) != 1 || body.Breakdown.Status[0].Count != 3 {
		t.Fatalf("unexpected statistics %s", rec.Body.String())
	}
}

func TestStatisticsErrors(t *testing.T) {
	store := &statsStore{MemoryStore: storage.NewMemoryStore(), err: errors.New("db down")}
	api := newTestAPI(&fakeSubmitter{}, store)

	rec := httptest.NewRecorder()
	api.Statistics(rec, httptest.NewRequest(http.MethodGet, "/api/statistics", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	api.Statistics(rec, httptest.NewRequest(http.MethodPost, "/api/statistics", nil))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") == "" {
		t.Fatalf("expected 405 with Allow, got %d", rec.Code)
	}
}
