package storage

import (
	"sort"
	"time"
)

const (
	HighRiskScore    = 80
	DefaultStatsDays = 7
	MaxStatsDays     = 90

	trendDateLayout = "2006-01-02"
)

// ClampStatsDays bounds a trend length to 1..MaxStatsDays; zero or less means
// DefaultStatsDays.
func ClampStatsDays(days int) int {
	switch {
	case days <= 0:
		return DefaultStatsDays
	case days > MaxStatsDays:
		return MaxStatsDays
	}
	return days
}

type BreakdownItem struct {
	ID    int64  `json:"id" db:"id"`
	Label string `json:"label,omitempty" db:"label"`
	Count int64  `json:"count" db:"count"`
}

type TrendPoint struct {
	Date  string `json:"date"` // UTC day, YYYY-MM-DD
	Count int64  `json:"count"`
}

type StatsSummary struct {
	TotalReports    int64  `json:"total_reports" db:"total"`
	HighRiskReports int64  `json:"high_risk_reports" db:"high_risk"`
	TodayReports    int64  `json:"today_reports" db:"today"`
	TopPlatformID   *int64 `json:"top_platform_id" db:"-"`
}

type Breakdown struct {
	Status   []BreakdownItem `json:"status"`
	Category []BreakdownItem `json:"category"`
	Platform []BreakdownItem `json:"platform"`
}

// Statistics is the dashboard aggregate over all reports.
type Statistics struct {
	Summary   StatsSummary `json:"summary"`
	Breakdown Breakdown    `json:"breakdown"`
	Trend     []TrendPoint `json:"trend"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// statsWindow returns midnight UTC of today and of the first trend day.
func statsWindow(now time.Time, days int) (today, start time.Time) {
	now = now.UTC()
	today = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today, today.AddDate(0, 0, -(days - 1))
}

// buildTrend lays out one point per day from start, zero-filling days that
// have no entry in counts (keyed by trendDateLayout).
func buildTrend(start time.Time, days int, counts map[string]int64) []TrendPoint {
	out := make([]TrendPoint, days)
	for i := range out {
		key := start.AddDate(0, 0, i).Format(trendDateLayout)
		out[i] = TrendPoint{Date: key, Count: counts[key]}
	}
	return out
}

// topPlatform picks the platform with the most reports, lowest id on ties.
func topPlatform(items []BreakdownItem) *int64 {
	var best *BreakdownItem
	for i := range items {
		it := &items[i]
		if best == nil || it.Count > best.Count || (it.Count == best.Count && it.ID < best.ID) {
			best = it
		}
	}
	if best == nil {
		return nil
	}
	id := best.ID
	return &id
}

func sortBreakdown(items []BreakdownItem) []BreakdownItem {
	if items == nil {
		return []BreakdownItem{}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}
