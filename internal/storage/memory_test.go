package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newClockedStore() (*MemoryStore, *time.Time) {
	s := NewMemoryStore()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }
	return s, &now
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	s, _ := newClockedStore()
	ctx := context.Background()
	r, err := s.CreateReport(ctx, NewReport{
		Email:      "a@b.co",
		URL:        "https://scam.example.com",
		Title:      "Scam shop",
		PlatformID: 1,
		CategoryID: 2,
		ImageURLs:  []string{"https://s/1.png", "https://s/2.png"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.StatusID != StatusPending || r.ReportCount != 1 || r.RiskScore != 0 {
		t.Fatalf("unexpected defaults %+v", r)
	}
	if r.Description != nil {
		t.Fatalf("empty description should be stored as null")
	}
	got, err := s.GetReport(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Images) != 2 || got.Images[0].URL != "https://s/1.png" || got.Images[1].DisplayOrder != 1 {
		t.Fatalf("unexpected images %+v", got.Images)
	}
	if len(got.Timeline) != 1 || got.Timeline[0].ActionLabel != receivedLabel {
		t.Fatalf("unexpected timeline %+v", got.Timeline)
	}
	got.Images[0].URL = "mutated"
	again, _ := s.GetReport(ctx, r.ID)
	if again.Images[0].URL != "https://s/1.png" {
		t.Fatal("stored report was mutated through a returned copy")
	}
	if _, err := s.GetReport(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpsertsUserByEmail(t *testing.T) {
	s, _ := newClockedStore()
	ctx := context.Background()
	r1, _ := s.CreateReport(ctx, NewReport{Email: "same@example.com", URL: "a.example"})
	r2, _ := s.CreateReport(ctx, NewReport{Email: "same@example.com", URL: "b.example"})
	r3, _ := s.CreateReport(ctx, NewReport{Email: "other@example.com", URL: "c.example"})
	if r1.UserID != r2.UserID || r1.UserID == r3.UserID {
		t.Fatalf("unexpected user ids %q %q %q", r1.UserID, r2.UserID, r3.UserID)
	}
}

func TestMemoryStoreUpdateStatus(t *testing.T) {
	s, now := newClockedStore()
	ctx := context.Background()
	r, _ := s.CreateReport(ctx, NewReport{Email: "a@b.co", URL: "x.example"})

	*now = now.Add(time.Hour)
	got, err := s.UpdateStatus(ctx, r.ID, 3, "  confirmed by admin ")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.StatusID != 3 || got.StatusLabel != "confirmed_fraud" {
		t.Fatalf("unexpected status %+v", got)
	}
	detail, _ := s.GetReport(ctx, r.ID)
	if len(detail.Timeline) != 2 || detail.Timeline[0].ActionLabel != "confirmed_fraud" {
		t.Fatalf("expected newest timeline entry first, got %+v", detail.Timeline)
	}
	if d := detail.Timeline[0].Description; d == nil || *d != "confirmed by admin" {
		t.Fatalf("unexpected note %v", d)
	}
	if _, err := s.UpdateStatus(ctx, r.ID, 42, ""); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
	if _, err := s.UpdateStatus(ctx, "missing", 2, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListPaginates(t *testing.T) {
	s, now := newClockedStore()
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		*now = now.Add(time.Minute)
		r, _ := s.CreateReport(ctx, NewReport{
			Email:      "a@b.co",
			URL:        fmt.Sprintf("https://site%d.example", i),
			PlatformID: int64(1 + i%2),
			ImageURLs:  []string{"https://s/first.png", "https://s/second.png"},
		})
		ids = append(ids, r.ID)
	}

	page, err := s.ListReports(ctx, ListFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != ids[4] || page.Items[1].ID != ids[3] {
		t.Fatalf("expected newest first, got %+v", page.Items)
	}
	if len(page.Items[0].Images) != 1 || page.Items[0].Timeline != nil {
		t.Fatalf("list items should carry only the first image")
	}
	if page.NextCursor == nil || *page.NextCursor != ids[3] {
		t.Fatalf("unexpected cursor %v", page.NextCursor)
	}

	page, _ = s.ListReports(ctx, ListFilter{Limit: 2, Cursor: *page.NextCursor})
	if len(page.Items) != 2 || page.Items[0].ID != ids[2] {
		t.Fatalf("unexpected second page %+v", page.Items)
	}
	page, _ = s.ListReports(ctx, ListFilter{Limit: 2, Cursor: *page.NextCursor})
	if len(page.Items) != 1 || page.NextCursor != nil {
		t.Fatalf("expected final page without cursor, got %+v", page)
	}

	filtered, _ := s.ListReports(ctx, ListFilter{PlatformID: 2})
	if len(filtered.Items) != 2 {
		t.Fatalf("expected 2 reports on platform 2, got %d", len(filtered.Items))
	}
	searched, _ := s.ListReports(ctx, ListFilter{Query: "SITE3"})
	if len(searched.Items) != 1 || searched.Items[0].ID != ids[3] {
		t.Fatalf("expected case-insensitive url match, got %+v", searched.Items)
	}
	unknown, _ := s.ListReports(ctx, ListFilter{Cursor: "nope"})
	if len(unknown.Items) != 0 {
		t.Fatalf("unknown cursor should yield an empty page")
	}
}

func TestMemoryStoreViewsAndDelete(t *testing.T) {
	s, _ := newClockedStore()
	ctx := context.Background()
	r, _ := s.CreateReport(ctx, NewReport{Email: "a@b.co", URL: "x.example"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.IncrementViews(ctx, r.ID)
		}()
	}
	wg.Wait()
	got, _ := s.GetReport(ctx, r.ID)
	if got.ViewCount != 20 {
		t.Fatalf("expected 20 views, got %d", got.ViewCount)
	}
	if err := s.DeleteReport(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteReport(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := s.IncrementViews(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFilterClampLimit(t *testing.T) {
	cases := map[int]int{0: 12, -3: 12, 1: 1, 30: 30, 31: 30, 500: 30}
	for in, want := range cases {
		if got := (ListFilter{Limit: in}).ClampLimit(); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
	if ParseSort("popular") != SortPopular || ParseSort("whatever") != SortNewest {
		t.Error("unexpected ParseSort mapping")
	}
}
