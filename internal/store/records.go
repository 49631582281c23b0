package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Record is one persisted content item. Link is the identity key; fingerprint
// is the secondary dedup key. The curator is the only writer of summary, tags,
// score and processed.
type Record struct {
	ID          int64
	Title       string
	Link        string
	Fingerprint string
	Body        string
	Source      string
	Category    string
	CreatedAt   time.Time
	Summary     string
	Tags        string
	Score       int
	Processed   bool
}

// CurationUpdate is the write-back payload for one curated record.
type CurationUpdate struct {
	ID      int64
	Summary string
	Tags    string
	Score   int
}

// Stats contains aggregate store statistics.
type Stats struct {
	Total       int
	Processed   int
	Unprocessed int
	ByCategory  map[string]int
}

var recordColumns = []string{
	"id", "title", "link", "fingerprint", "body", "source",
	"category", "created_at", "summary", "tags", "score", "processed",
}

const timeFormat = time.RFC3339

// ExistingLinks returns which of the given links are already stored, querying
// in chunks of chunkSize to bound query width.
func (s *Store) ExistingLinks(links []string, chunkSize int) (map[string]struct{}, error) {
	return s.existingValues("link", links, chunkSize)
}

// ExistingFingerprints returns which of the given fingerprints are already
// stored, querying in chunks of chunkSize.
func (s *Store) ExistingFingerprints(fps []string, chunkSize int) (map[string]struct{}, error) {
	return s.existingValues("fingerprint", fps, chunkSize)
}

func (s *Store) existingValues(column string, values []string, chunkSize int) (map[string]struct{}, error) {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	existing := make(map[string]struct{})

	for start := 0; start < len(values); start += chunkSize {
		end := min(start+chunkSize, len(values))
		chunk := values[start:end]
		if len(chunk) == 0 {
			continue
		}

		query, args, err := sq.Select(column).
			From("content_records").
			Where(sq.Eq{column: chunk}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("building %s query: %w", column, err)
		}

		rows, err := s.conn.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("querying existing %ss: %w", column, err)
		}
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, err
			}
			existing[v] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return existing, nil
}

// InsertBatch inserts all records in one transaction. On any failure the
// transaction is rolled back and zero is returned; the caller decides whether
// the batch is retried (the harvest stage deliberately does not).
func (s *Store) InsertBatch(records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin insert batch: %w", err)
	}

	for _, r := range records {
		query, args, err := sq.Insert("content_records").
			Columns("title", "link", "fingerprint", "body", "source", "category", "created_at", "summary", "tags", "score", "processed").
			Values(r.Title, r.Link, r.Fingerprint, r.Body, r.Source, r.Category,
				r.CreatedAt.UTC().Format(timeFormat), r.Summary, r.Tags, r.Score, boolToInt(r.Processed)).
			ToSql()
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("building insert: %w", err)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("inserting %s: %w", r.Link, err)
		}
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("committing insert batch: %w", err)
	}
	return len(records), nil
}

// UnprocessedIDs returns up to limit identifiers of records awaiting curation.
func (s *Store) UnprocessedIDs(limit int) ([]int64, error) {
	query, args, err := sq.Select("id").
		From("content_records").
		Where(sq.Eq{"processed": 0}).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unprocessed ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordsByIDs loads full records for the given identifiers.
func (s *Store) RecordsByIDs(ids []int64) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sq.Select(recordColumns...).
		From("content_records").
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryRecords(query, args...)
}

// GetByLink returns the record with the given link, or nil.
func (s *Store) GetByLink(link string) (*Record, error) {
	query, args, err := sq.Select(recordColumns...).
		From("content_records").
		Where(sq.Eq{"link": link}).
		ToSql()
	if err != nil {
		return nil, err
	}
	records, err := s.queryRecords(query, args...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ApplyCurations marks the given records processed and stores their curation
// output, all in one transaction. On failure everything is rolled back.
func (s *Store) ApplyCurations(updates []CurationUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin curation commit: %w", err)
	}

	for _, u := range updates {
		query, args, err := sq.Update("content_records").
			Set("summary", u.Summary).
			Set("tags", u.Tags).
			Set("score", u.Score).
			Set("processed", 1).
			Where(sq.Eq{"id": u.ID}).
			ToSql()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("building curation update: %w", err)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("updating record %d: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return fmt.Errorf("committing curations: %w", err)
	}
	return nil
}

// ProcessedWithin returns curated records created within the window whose
// category is one of the given keys, ordered by (category, score desc,
// created_at desc) — the report aggregation order.
func (s *Store) ProcessedWithin(window time.Duration, categories []string) ([]Record, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	cutoff := time.Now().UTC().Add(-window).Format(timeFormat)

	query, args, err := sq.Select(recordColumns...).
		From("content_records").
		Where(sq.Eq{"processed": 1}).
		Where(sq.GtOrEq{"created_at": cutoff}).
		Where(sq.Eq{"category": categories}).
		OrderBy("category", "score DESC", "created_at DESC").
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryRecords(query, args...)
}

// CountCreatedSince returns how many records were created within the window.
func (s *Store) CountCreatedSince(window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window).Format(timeFormat)
	return s.count(sq.Select("COUNT(*)").From("content_records").Where(sq.GtOrEq{"created_at": cutoff}))
}

// CountProcessedSince returns how many curated records were created within
// the window.
func (s *Store) CountProcessedSince(window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window).Format(timeFormat)
	return s.count(sq.Select("COUNT(*)").From("content_records").
		Where(sq.Eq{"processed": 1}).
		Where(sq.GtOrEq{"created_at": cutoff}))
}

// GetStats returns aggregate store statistics.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{ByCategory: make(map[string]int)}

	var err error
	if stats.Total, err = s.count(sq.Select("COUNT(*)").From("content_records")); err != nil {
		return nil, err
	}
	if stats.Processed, err = s.count(sq.Select("COUNT(*)").From("content_records").Where(sq.Eq{"processed": 1})); err != nil {
		return nil, err
	}
	stats.Unprocessed = stats.Total - stats.Processed

	rows, err := s.conn.Query("SELECT COALESCE(category, ''), COUNT(*) FROM content_records GROUP BY category")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		stats.ByCategory[cat] = n
	}
	return stats, rows.Err()
}

// Reset deletes all content records. This is the only deletion path.
func (s *Store) Reset() error {
	if _, err := s.conn.Exec("DELETE FROM content_records"); err != nil {
		return fmt.Errorf("resetting store: %w", err)
	}
	return nil
}

func (s *Store) count(b sq.SelectBuilder) (int, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.conn.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) queryRecords(query string, args ...any) ([]Record, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var created string
		var summary, tags, body, source, category, fingerprint sql.NullString
		var processed int
		if err := rows.Scan(&r.ID, &r.Title, &r.Link, &fingerprint, &body, &source,
			&category, &created, &summary, &tags, &r.Score, &processed); err != nil {
			return nil, err
		}
		r.Fingerprint = fingerprint.String
		r.Body = body.String
		r.Source = source.String
		r.Category = category.String
		r.Summary = summary.String
		r.Tags = tags.String
		r.Processed = processed != 0
		if t, err := time.Parse(timeFormat, created); err == nil {
			r.CreatedAt = t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
