package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Post is the public-facing summary of one record.
type Post struct {
	ID           int64     `json:"id"`
	BlotterID    int64     `json:"blotter_id"`
	RecordID     int64     `json:"record_id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	City         string    `json:"city"`
	County       string    `json:"county"`
	AgencyType   string    `json:"agency_type"`
	AgencyName   string    `json:"agency_name"`
	IncidentDate string    `json:"incident_date"`
	IncidentType string    `json:"incident_type"`
	LLMStatus    string    `json:"llm_status"`
	ModelName    string    `json:"model_name"`
	CreatedAt    time.Time `json:"created_at"`
}

const postColumns = `id, blotter_id, record_id, title, summary, city, county, agency_type, agency_name, incident_date, incident_type, llm_status, model_name, created_at`

func (s *Store) InsertPost(ctx context.Context, p *Post) (int64, error) {
	ts := now()
	res, err := s.execRetry(ctx, `INSERT INTO posts(blotter_id, record_id, title, summary, city, county, agency_type, agency_name, incident_date, incident_type, llm_status, model_name, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.BlotterID, p.RecordID, p.Title, p.Summary, p.City, p.County, p.AgencyType, p.AgencyName, p.IncidentDate, p.IncidentType, p.LLMStatus, p.ModelName, ts)
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}
	id, _ := res.LastInsertId()
	p.ID = id
	p.CreatedAt = ts
	return id, nil
}

// PostFilter narrows ListPosts. Page is 1-based.
type PostFilter struct {
	County     string
	AgencyType string
	DateFrom   string
	DateTo     string
	Search     string
	Page       int
	PerPage    int
}

// ListPosts returns one page of posts newest first plus the unpaged total.
func (s *Store) ListPosts(ctx context.Context, f PostFilter) ([]Post, int, error) {
	var clauses []string
	var args []any
	if f.County != "" {
		clauses = append(clauses, "county=?")
		args = append(args, f.County)
	}
	if f.AgencyType != "" {
		clauses = append(clauses, "agency_type=?")
		args = append(args, f.AgencyType)
	}
	if f.DateFrom != "" {
		clauses = append(clauses, "incident_date>=?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		clauses = append(clauses, "incident_date<=?")
		args = append(args, f.DateTo)
	}
	if f.Search != "" {
		clauses = append(clauses, "(title LIKE ? OR summary LIKE ?)")
		q := "%" + f.Search + "%"
		args = append(args, q, q)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.queryRowRetry(ctx, func(row *sql.Row) error {
		return row.Scan(&total)
	}, `SELECT COUNT(*) FROM posts`+where, args...); err != nil {
		return nil, 0, err
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	query := `SELECT ` + postColumns + ` FROM posts` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d", perPage, (page-1)*perPage)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		var p Post
		if err := scanPost(rows.Scan, &p); err != nil {
			return nil, 0, err
		}
		posts = append(posts, p)
	}
	return posts, total, rows.Err()
}

func (s *Store) GetPost(ctx context.Context, id int64) (*Post, error) {
	var p Post
	err := s.queryRowRetry(ctx, func(row *sql.Row) error {
		return scanPost(row.Scan, &p)
	}, `SELECT `+postColumns+` FROM posts WHERE id=?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPost(scan func(...any) error, p *Post) error {
	return scan(&p.ID, &p.BlotterID, &p.RecordID, &p.Title, &p.Summary, &p.City, &p.County, &p.AgencyType, &p.AgencyName, &p.IncidentDate, &p.IncidentType, &p.LLMStatus, &p.ModelName, &p.CreatedAt)
}

// PostsSince returns posts created on or after the cutoff, oldest first.
// The digest builder groups them by county.
func (s *Store) PostsSince(ctx context.Context, cutoff time.Time) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts WHERE created_at>=? ORDER BY county ASC, created_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		var p Post
		if err := scanPost(rows.Scan, &p); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// CountyStat pairs a county with how much content it has.
type CountyStat struct {
	County      string `json:"county"`
	PostCount   int    `json:"post_count"`
	RecordCount int    `json:"record_count"`
}

// CountyStats merges post and record counts per county, most posts first.
func (s *Store) CountyStats(ctx context.Context) ([]CountyStat, error) {
	stats := map[string]*CountyStat{}
	get := func(county string) *CountyStat {
		if st, ok := stats[county]; ok {
			return st
		}
		st := &CountyStat{County: county}
		stats[county] = st
		return st
	}

	rows, err := s.db.QueryContext(ctx, `SELECT county, COUNT(*) FROM posts WHERE county != '' GROUP BY county`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var county string
		var n int
		if err := rows.Scan(&county, &n); err != nil {
			rows.Close()
			return nil, err
		}
		get(county).PostCount = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT county, COUNT(*) FROM records WHERE county != '' GROUP BY county`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var county string
		var n int
		if err := rows.Scan(&county, &n); err != nil {
			rows.Close()
			return nil, err
		}
		get(county).RecordCount = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]CountyStat, 0, len(stats))
	for _, st := range stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PostCount != out[j].PostCount {
			return out[i].PostCount > out[j].PostCount
		}
		return out[i].County < out[j].County
	})
	return out, nil
}

// AgencyStat summarizes one publishing agency.
type AgencyStat struct {
	AgencyName string `json:"agency_name"`
	AgencyType string `json:"agency_type"`
	County     string `json:"county"`
	PostCount  int    `json:"post_count"`
}

func (s *Store) AgencyStats(ctx context.Context) ([]AgencyStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agency_name, agency_type, county, COUNT(*) FROM posts
		WHERE agency_name != '' GROUP BY agency_name, agency_type, county ORDER BY COUNT(*) DESC, agency_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AgencyStat
	for rows.Next() {
		var st AgencyStat
		if err := rows.Scan(&st.AgencyName, &st.AgencyType, &st.County, &st.PostCount); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// DashboardStats is the aggregate view served by /ops/status.
type DashboardStats struct {
	Blotters    int       `json:"blotters"`
	Records     int       `json:"records"`
	Posts       int       `json:"posts"`
	Subscribers int       `json:"subscribers"`
	Failed      int       `json:"failed_blotters"`
	Recent      []Blotter `json:"recent_blotters"`
}

func (s *Store) Dashboard(ctx context.Context) (*DashboardStats, error) {
	var stats DashboardStats
	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM blotters`, &stats.Blotters},
		{`SELECT COUNT(*) FROM records`, &stats.Records},
		{`SELECT COUNT(*) FROM posts`, &stats.Posts},
		{`SELECT COUNT(*) FROM subscribers WHERE active=1`, &stats.Subscribers},
		{`SELECT COUNT(*) FROM blotters WHERE status='failed'`, &stats.Failed},
	}
	for _, c := range counts {
		if err := s.queryRowRetry(ctx, func(row *sql.Row) error {
			return row.Scan(c.dst)
		}, c.query); err != nil {
			return nil, err
		}
	}
	recent, err := s.ListBlotters(ctx, 5, 0)
	if err != nil {
		return nil, err
	}
	stats.Recent = recent
	return &stats, nil
}

// DailyCount is one day's post volume.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// TypeCount is one incident type's share.
type TypeCount struct {
	IncidentType string `json:"incident_type"`
	Count        int    `json:"count"`
}

// Analytics bundles the trend queries behind /api/analytics.
type Analytics struct {
	Daily       []DailyCount `json:"daily"`
	TopTypes    []TypeCount  `json:"top_types"`
	AgencyTypes []TypeCount  `json:"agency_types"`
}

func (s *Store) Analytics(ctx context.Context, days int) (*Analytics, error) {
	if days <= 0 {
		days = 30
	}
	out := &Analytics{}
	cutoff := now().AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, `SELECT incident_date, COUNT(*) FROM posts
		WHERE created_at>=? AND incident_date != '' GROUP BY incident_date ORDER BY incident_date ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var d DailyCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			rows.Close()
			return nil, err
		}
		out.Daily = append(out.Daily, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT incident_type, COUNT(*) FROM posts
		WHERE incident_type != '' GROUP BY incident_type ORDER BY COUNT(*) DESC LIMIT 10`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.IncidentType, &tc.Count); err != nil {
			rows.Close()
			return nil, err
		}
		out.TopTypes = append(out.TopTypes, tc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT agency_type, COUNT(*) FROM posts
		WHERE agency_type != '' GROUP BY agency_type ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.IncidentType, &tc.Count); err != nil {
			rows.Close()
			return nil, err
		}
		out.AgencyTypes = append(out.AgencyTypes, tc)
	}
	rows.Close()
	return out, rows.Err()
}
