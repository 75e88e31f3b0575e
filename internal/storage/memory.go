package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process memory. It backs tests and
// deployments without DATABASE_URL.
type MemoryStore struct {
	Now func() time.Time

	mu       sync.RWMutex
	users    map[string]memUser // by email
	reports  map[string]Report
	statuses map[int]Status
}

type memUser struct {
	ID          string
	LastLoginAt time.Time
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		Now:      time.Now,
		users:    make(map[string]memUser),
		reports:  make(map[string]Report),
		statuses: make(map[int]Status, len(DefaultStatuses)),
	}
	for _, st := range DefaultStatuses {
		s.statuses[st.ID] = st
	}
	return s
}

func (s *MemoryStore) now() time.Time { return s.Now().UTC() }

func (s *MemoryStore) CreateReport(ctx context.Context, in NewReport) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	u, ok := s.users[in.Email]
	if !ok {
		u = memUser{ID: uuid.NewString()}
	}
	u.LastLoginAt = now
	s.users[in.Email] = u

	id := NewReportID()
	for _, taken := s.reports[id]; taken; _, taken = s.reports[id] {
		id = NewReportID()
	}
	r := Report{
		ID:          id,
		UserID:      u.ID,
		URL:         in.URL,
		Title:       optional(in.Title),
		Description: optional(in.Description),
		Domain:      in.Domain,
		PlatformID:  in.PlatformID,
		CategoryID:  in.CategoryID,
		StatusID:    StatusPending,
		StatusLabel: s.statuses[StatusPending].Label,
		ReportCount: 1,
		SourceIP:    optional(in.SourceIP),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, img := range in.ImageURLs {
		r.Images = append(r.Images, Image{ID: uuid.NewString(), ReportID: id, URL: img, DisplayOrder: i})
	}
	r.Timeline = []TimelineEntry{{
		ID:          uuid.NewString(),
		ReportID:    id,
		ActionLabel: receivedLabel,
		Description: optional(receivedDescription),
		CreatedAt:   now,
	}}
	s.reports[id] = r
	return clone(r), nil
}

func (s *MemoryStore) GetReport(_ context.Context, id string) (Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return Report{}, ErrNotFound
	}
	out := clone(r)
	// newest first
	sort.SliceStable(out.Timeline, func(i, j int) bool { return out.Timeline[i].CreatedAt.After(out.Timeline[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) IncrementViews(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return ErrNotFound
	}
	r.ViewCount++
	s.reports[id] = r
	return nil
}

func (s *MemoryStore) ListReports(_ context.Context, f ListFilter) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(f.Query))
	matched := make([]Report, 0, len(s.reports))
	for _, r := range s.reports {
		if f.PlatformID > 0 && r.PlatformID != f.PlatformID {
			continue
		}
		if f.CategoryID > 0 && r.CategoryID != f.CategoryID {
			continue
		}
		if f.StatusID > 0 && r.StatusID != f.StatusID {
			continue
		}
		if q != "" && !containsFold(r, q) {
			continue
		}
		matched = append(matched, r)
	}
	popular := f.Sort == SortPopular
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if popular && a.ReportCount != b.ReportCount {
			return a.ReportCount > b.ReportCount
		}
		if !popular && !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if f.Cursor != "" {
		idx := -1
		for i, r := range matched {
			if r.ID == f.Cursor {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Page{Items: []Report{}}, nil
		}
		matched = matched[idx+1:]
	}
	limit := f.ClampLimit()
	page := Page{Items: make([]Report, 0, limit)}
	for i, r := range matched {
		if i == limit {
			next := page.Items[limit-1].ID
			page.NextCursor = &next
			break
		}
		item := clone(r)
		item.Timeline = nil
		if len(item.Images) > 1 {
			item.Images = item.Images[:1]
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

func containsFold(r Report, q string) bool {
	if strings.Contains(strings.ToLower(r.URL), q) {
		return true
	}
	if r.Title != nil && strings.Contains(strings.ToLower(*r.Title), q) {
		return true
	}
	return r.Description != nil && strings.Contains(strings.ToLower(*r.Description), q)
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, statusID int, note string) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[statusID]
	if !ok {
		return Report{}, ErrUnknownStatus
	}
	r, ok := s.reports[id]
	if !ok {
		return Report{}, ErrNotFound
	}
	now := s.now()
	r.StatusID = st.ID
	r.StatusLabel = st.Label
	r.UpdatedAt = now
	r.Timeline = append(r.Timeline, TimelineEntry{
		ID:          uuid.NewString(),
		ReportID:    id,
		ActionLabel: st.Label,
		Description: optional(strings.TrimSpace(note)),
		CreatedAt:   now,
	})
	s.reports[id] = r
	return clone(r), nil
}

func (s *MemoryStore) DeleteReport(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return ErrNotFound
	}
	delete(s.reports, id)
	return nil
}

func (s *MemoryStore) Statuses(context.Context) ([]Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Statistics(ctx context.Context, days int) (Statistics, error) {
	if err := ctx.Err(); err != nil {
		return Statistics{}, err
	}
	days = ClampStatsDays(days)
	now := s.now()
	today, start := statsWindow(now, days)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum StatsSummary
	byStatus := map[int64]int64{}
	byCategory := map[int64]int64{}
	byPlatform := map[int64]int64{}
	trend := map[string]int64{}
	for _, r := range s.reports {
		sum.TotalReports++
		if r.RiskScore >= HighRiskScore {
			sum.HighRiskReports++
		}
		created := r.CreatedAt.UTC()
		if !created.Before(today) {
			sum.TodayReports++
		}
		if !created.Before(start) {
			trend[created.Format(trendDateLayout)]++
		}
		byStatus[int64(r.StatusID)]++
		byCategory[r.CategoryID]++
		byPlatform[r.PlatformID]++
	}
	items := func(counts map[int64]int64, label func(int64) string) []BreakdownItem {
		out := make([]BreakdownItem, 0, len(counts))
		for id, n := range counts {
			out = append(out, BreakdownItem{ID: id, Label: label(id), Count: n})
		}
		return sortBreakdown(out)
	}
	noLabel := func(int64) string { return "" }
	st := Statistics{
		Summary: sum,
		Breakdown: Breakdown{
			Status:   items(byStatus, func(id int64) string { return s.statuses[int(id)].Label }),
			Category: items(byCategory, noLabel),
			Platform: items(byPlatform, noLabel),
		},
		Trend:     buildTrend(start, days, trend),
		UpdatedAt: now,
	}
	st.Summary.TopPlatformID = topPlatform(st.Breakdown.Platform)
	return st, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// clone detaches the slices so callers cannot mutate stored state.
func clone(r Report) Report {
	r.Images = append([]Image(nil), r.Images...)
	r.Timeline = append([]TimelineEntry(nil), r.Timeline...)
	return r
}
