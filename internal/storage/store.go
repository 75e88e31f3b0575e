// Package storage persists fraud reports, their images and status timeline.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrUnknownStatus = errors.New("storage: unknown status")
)

const (
	StatusPending = 1

	DefaultListLimit = 12
	MaxListLimit     = 30

	receivedLabel       = "report received"
	receivedDescription = "accepted automatically by the intake pipeline"
)

// DefaultStatuses seeds both stores.
var DefaultStatuses = []Status{
	{ID: 1, Label: "pending"},
	{ID: 2, Label: "investigating"},
	{ID: 3, Label: "confirmed_fraud"},
	{ID: 4, Label: "not_fraud"},
	{ID: 5, Label: "resolved"},
}

type Status struct {
	ID    int    `json:"id" db:"id"`
	Label string `json:"label" db:"label"`
}

type Image struct {
	ID           string `json:"id" db:"id"`
	ReportID     string `json:"-" db:"report_id"`
	URL          string `json:"image_url" db:"image_url"`
	DisplayOrder int    `json:"display_order" db:"display_order"`
}

type TimelineEntry struct {
	ID          string    `json:"id" db:"id"`
	ReportID    string    `json:"-" db:"report_id"`
	ActionLabel string    `json:"action_label" db:"action_label"`
	Description *string   `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type Report struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"-" db:"user_id"`
	URL         string    `json:"url" db:"url"`
	Title       *string   `json:"title" db:"title"`
	Description *string   `json:"description" db:"description"`
	Domain      string    `json:"domain" db:"domain"`
	PlatformID  int64     `json:"platform_id" db:"platform_id"`
	CategoryID  int64     `json:"category_id" db:"category_id"`
	StatusID    int       `json:"status_id" db:"status_id"`
	StatusLabel string    `json:"status_label" db:"status_label"`
	RiskScore   int       `json:"risk_score" db:"risk_score"`
	ReportCount int       `json:"report_count" db:"report_count"`
	ViewCount   int64     `json:"view_count" db:"view_count"`
	SourceIP    *string   `json:"-" db:"source_ip"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`

	Images   []Image         `json:"images" db:"-"`
	Timeline []TimelineEntry `json:"timeline,omitempty" db:"-"`
}

// NewReport is an assembled, validated submission ready to persist.
type NewReport struct {
	Email       string
	URL         string
	Title       string
	Description string
	Domain      string
	PlatformID  int64
	CategoryID  int64
	SourceIP    string
	ImageURLs   []string
}

type Sort string

const (
	SortNewest  Sort = "newest"
	SortPopular Sort = "popular"
)

// ParseSort maps anything but "popular" to newest.
func ParseSort(s string) Sort {
	if s == string(SortPopular) {
		return SortPopular
	}
	return SortNewest
}

// ListFilter selects a page of reports. Zero ids disable the filter; Cursor is
// the id of the last item of the previous page.
type ListFilter struct {
	Query      string
	PlatformID int64
	CategoryID int64
	StatusID   int
	Sort       Sort
	Cursor     string
	Limit      int
}

// ClampLimit returns Limit bounded to 1..MaxListLimit, DefaultListLimit when unset.
func (f ListFilter) ClampLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

type Page struct {
	Items      []Report `json:"items"`
	NextCursor *string  `json:"next_cursor"`
}

// Store is implemented by MemoryStore and PostgresStore.
type Store interface {
	CreateReport(ctx context.Context, in NewReport) (Report, error)
	GetReport(ctx context.Context, id string) (Report, error)
	IncrementViews(ctx context.Context, id string) error
	ListReports(ctx context.Context, f ListFilter) (Page, error)
	UpdateStatus(ctx context.Context, id string, statusID int, note string) (Report, error)
	DeleteReport(ctx context.Context, id string) error
	Statuses(ctx context.Context) ([]Status, error)
	// Statistics aggregates all reports with a trend over the last days
	// (clamped by ClampStatsDays).
	Statistics(ctx context.Context, days int) (Statistics, error)
	Ping(ctx context.Context) error
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
