package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultPingTimeout     = 5 * time.Second
)

//go:embed schema.sql
var schemaSQL string

const reportColumns = `r.id, r.user_id, r.url, r.title, r.description, r.domain,
	r.platform_id, r.category_id, r.status_id, s.label AS status_label,
	r.risk_score, r.report_count, r.view_count, r.source_ip, r.created_at, r.updated_at`

// OpenPostgres connects with pooling and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// PostgresStore is the production Store.
type PostgresStore struct {
	db  *sqlx.DB
	Now func() time.Time
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, Now: time.Now}
}

// EnsureSchema creates tables and seeds statuses; safe to run on every start.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) CreateReport(ctx context.Context, in NewReport) (Report, error) {
	now := s.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("begin create report: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	upsertUser := `
		INSERT INTO users (id, email, last_login_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET last_login_at = EXCLUDED.last_login_at
		RETURNING id`
	if err := tx.GetContext(ctx, &userID, upsertUser, uuid.NewString(), in.Email, now); err != nil {
		return Report{}, fmt.Errorf("upsert user: %w", err)
	}

	r := Report{
		ID:          NewReportID(),
		UserID:      userID,
		URL:         in.URL,
		Title:       optional(in.Title),
		Description: optional(in.Description),
		Domain:      in.Domain,
		PlatformID:  in.PlatformID,
		CategoryID:  in.CategoryID,
		StatusID:    StatusPending,
		StatusLabel: statusLabel(StatusPending),
		ReportCount: 1,
		SourceIP:    optional(in.SourceIP),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	insertReport := `
		INSERT INTO reports (id, user_id, url, title, description, domain, platform_id,
			category_id, status_id, risk_score, report_count, source_ip, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 1, $10, $11, $11)`
	if _, err := tx.ExecContext(ctx, insertReport, r.ID, r.UserID, r.URL, r.Title, r.Description,
		r.Domain, r.PlatformID, r.CategoryID, r.StatusID, r.SourceIP, now); err != nil {
		return Report{}, fmt.Errorf("insert report: %w", err)
	}

	if len(in.ImageURLs) > 0 {
		ids := make([]string, len(in.ImageURLs))
		for i, u := range in.ImageURLs {
			ids[i] = uuid.NewString()
			r.Images = append(r.Images, Image{ID: ids[i], ReportID: r.ID, URL: u, DisplayOrder: i})
		}
		insertImages := `
			INSERT INTO report_images (id, report_id, image_url, display_order)
			SELECT u.id, $1, u.url, u.ord - 1
			FROM unnest($2::uuid[], $3::text[]) WITH ORDINALITY AS u(id, url, ord)`
		if _, err := tx.ExecContext(ctx, insertImages, r.ID, pq.Array(ids), pq.Array(in.ImageURLs)); err != nil {
			return Report{}, fmt.Errorf("insert images: %w", err)
		}
	}

	entry := TimelineEntry{
		ID:          uuid.NewString(),
		ReportID:    r.ID,
		ActionLabel: receivedLabel,
		Description: optional(receivedDescription),
		CreatedAt:   now,
	}
	if err := insertTimeline(ctx, tx, entry); err != nil {
		return Report{}, err
	}
	r.Timeline = []TimelineEntry{entry}

	if err := tx.Commit(); err != nil {
		return Report{}, fmt.Errorf("commit create report: %w", err)
	}
	return r, nil
}

func insertTimeline(ctx context.Context, tx *sqlx.Tx, e TimelineEntry) error {
	q := `INSERT INTO report_timelines (id, report_id, action_label, description, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(ctx, q, e.ID, e.ReportID, e.ActionLabel, e.Description, e.CreatedAt); err != nil {
		return fmt.Errorf("insert timeline: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (Report, error) {
	var r Report
	q := `SELECT ` + reportColumns + `
		FROM reports r JOIN report_statuses s ON s.id = r.status_id
		WHERE r.id = $1`
	if err := s.db.GetContext(ctx, &r, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Report{}, ErrNotFound
		}
		return Report{}, fmt.Errorf("get report: %w", err)
	}
	images := `SELECT id, report_id, image_url, display_order
		FROM report_images WHERE report_id = $1 ORDER BY display_order ASC`
	if err := s.db.SelectContext(ctx, &r.Images, images, id); err != nil {
		return Report{}, fmt.Errorf("get report images: %w", err)
	}
	timeline := `SELECT id, report_id, action_label, description, created_at
		FROM report_timelines WHERE report_id = $1 ORDER BY created_at DESC`
	if err := s.db.SelectContext(ctx, &r.Timeline, timeline, id); err != nil {
		return Report{}, fmt.Errorf("get report timeline: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) IncrementViews(ctx context.Context, id string) error {
	return s.execExpectOneRow(ctx, `UPDATE reports SET view_count = view_count + 1 WHERE id = $1`, id)
}

// execExpectOneRow returns ErrNotFound when no row was affected.
func (s *PostgresStore) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *PostgresStore) ListReports(ctx context.Context, f ListFilter) (Page, error) {
	where := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		p := arg("%" + likeEscaper.Replace(q) + "%")
		where = append(where, fmt.Sprintf("(r.url ILIKE %[1]s OR r.title ILIKE %[1]s OR r.description ILIKE %[1]s)", p))
	}
	if f.PlatformID > 0 {
		where = append(where, "r.platform_id = "+arg(f.PlatformID))
	}
	if f.CategoryID > 0 {
		where = append(where, "r.category_id = "+arg(f.CategoryID))
	}
	if f.StatusID > 0 {
		where = append(where, "r.status_id = "+arg(f.StatusID))
	}
	orderCol := "r.created_at"
	keyCol := "created_at"
	if f.Sort == SortPopular {
		orderCol, keyCol = "r.report_count", "report_count"
	}
	if f.Cursor != "" {
		where = append(where, fmt.Sprintf("(%s, r.id) < (SELECT %s, id FROM reports WHERE id = %s)", orderCol, keyCol, arg(f.Cursor)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	limit := f.ClampLimit()
	q := fmt.Sprintf(`SELECT %s
		FROM reports r JOIN report_statuses s ON s.id = r.status_id
		%s
		ORDER BY %s DESC, r.id DESC
		LIMIT %s`, reportColumns, clause, orderCol, arg(limit+1))

	var rows []Report
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return Page{}, fmt.Errorf("list reports: %w", err)
	}
	page := Page{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		next := page.Items[limit-1].ID
		page.NextCursor = &next
	}
	if page.Items == nil {
		page.Items = []Report{}
	}
	if err := s.attachFirstImages(ctx, page.Items); err != nil {
		return Page{}, err
	}
	return page, nil
}

func (s *PostgresStore) attachFirstImages(ctx context.Context, items []Report) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	for i, r := range items {
		ids[i] = r.ID
	}
	var images []Image
	q := `SELECT DISTINCT ON (report_id) id, report_id, image_url, display_order
		FROM report_images WHERE report_id = ANY($1)
		ORDER BY report_id, display_order ASC`
	if err := s.db.SelectContext(ctx, &images, q, pq.Array(ids)); err != nil {
		return fmt.Errorf("list first images: %w", err)
	}
	byReport := make(map[string]Image, len(images))
	for _, img := range images {
		byReport[img.ReportID] = img
	}
	for i := range items {
		if img, ok := byReport[items[i].ID]; ok {
			items[i].Images = []Image{img}
		}
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, statusID int, note string) (Report, error) {
	now := s.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Report{}, fmt.Errorf("begin update status: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var st Status
	if err := tx.GetContext(ctx, &st, `SELECT id, label FROM report_statuses WHERE id = $1`, statusID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Report{}, ErrUnknownStatus
		}
		return Report{}, fmt.Errorf("lookup status: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE reports SET status_id = $1, updated_at = $2 WHERE id = $3`, st.ID, now, id)
	if err != nil {
		return Report{}, fmt.Errorf("update status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Report{}, fmt.Errorf("get affected rows: %w", err)
	} else if n == 0 {
		return Report{}, ErrNotFound
	}
	entry := TimelineEntry{
		ID:          uuid.NewString(),
		ReportID:    id,
		ActionLabel: st.Label,
		Description: optional(strings.TrimSpace(note)),
		CreatedAt:   now,
	}
	if err := insertTimeline(ctx, tx, entry); err != nil {
		return Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return Report{}, fmt.Errorf("commit update status: %w", err)
	}
	return s.GetReport(ctx, id)
}

func (s *PostgresStore) DeleteReport(ctx context.Context, id string) error {
	return s.execExpectOneRow(ctx, `DELETE FROM reports WHERE id = $1`, id)
}

func (s *PostgresStore) Statuses(ctx context.Context) ([]Status, error) {
	var out []Status
	if err := s.db.SelectContext(ctx, &out, `SELECT id, label FROM report_statuses ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Statistics(ctx context.Context, days int) (Statistics, error) {
	days = ClampStatsDays(days)
	now := s.Now().UTC()
	today, start := statsWindow(now, days)

	st := Statistics{UpdatedAt: now}
	if err := s.db.GetContext(ctx, &st.Summary, `SELECT COUNT(*) AS total,
		COUNT(*) FILTER (WHERE risk_score >= $1) AS high_risk,
		COUNT(*) FILTER (WHERE created_at >= $2) AS today
		FROM reports`, HighRiskScore, today); err != nil {
		return Statistics{}, fmt.Errorf("count reports: %w", err)
	}
	if err := s.db.SelectContext(ctx, &st.Breakdown.Status, `SELECT r.status_id AS id, COALESCE(s.label, '') AS label, COUNT(*) AS count
		FROM reports r LEFT JOIN report_statuses s ON s.id = r.status_id
		GROUP BY r.status_id, s.label ORDER BY r.status_id`); err != nil {
		return Statistics{}, fmt.Errorf("count by status: %w", err)
	}
	if err := s.db.SelectContext(ctx, &st.Breakdown.Category, `SELECT category_id AS id, COUNT(*) AS count
		FROM reports GROUP BY category_id ORDER BY category_id`); err != nil {
		return Statistics{}, fmt.Errorf("count by category: %w", err)
	}
	if err := s.db.SelectContext(ctx, &st.Breakdown.Platform, `SELECT platform_id AS id, COUNT(*) AS count
		FROM reports GROUP BY platform_id ORDER BY platform_id`); err != nil {
		return Statistics{}, fmt.Errorf("count by platform: %w", err)
	}

	var rows []struct {
		Day   string `db:"day"`
		Count int64  `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*) AS count
		FROM reports WHERE created_at >= $1
		GROUP BY day ORDER BY day`, start); err != nil {
		return Statistics{}, fmt.Errorf("count trend: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Day] = r.Count
	}
	st.Trend = buildTrend(start, days, counts)

	st.Breakdown.Status = sortBreakdown(st.Breakdown.Status)
	st.Breakdown.Category = sortBreakdown(st.Breakdown.Category)
	st.Breakdown.Platform = sortBreakdown(st.Breakdown.Platform)
	st.Summary.TopPlatformID = topPlatform(st.Breakdown.Platform)
	return st, nil
}

func statusLabel(id int) string {
	for _, st := range DefaultStatuses {
		if st.ID == id {
			return st.Label
		}
	}
	return ""
}
