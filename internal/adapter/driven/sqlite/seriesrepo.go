package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SeriesStore = (*SeriesRepo)(nil)

// SeriesRepo is the SQLite implementation of the SeriesStore port interface.
type SeriesRepo struct {
	db *DB
}

// NewSeriesRepo creates a new SeriesRepo backed by the given DB.
func NewSeriesRepo(db *DB) *SeriesRepo {
	return &SeriesRepo{db: db}
}

// Add inserts a new series. Patch IDs are serialized as a JSON array in the
// TEXT column.
func (r *SeriesRepo) Add(ctx context.Context, s model.Series) error {
	const query = `
		INSERT INTO series (id, project, name, submitter_name, submitter_email, patch_ids, head_sha, retired, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	patchIDs := s.PatchIDs
	if patchIDs == nil {
		patchIDs = []int64{}
	}
	patchJSON, err := json.Marshal(patchIDs)
	if err != nil {
		return fmt.Errorf("marshal patch ids: %w", err)
	}

	retired := 0
	if s.Retired {
		retired = 1
	}

	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		s.ID, s.Project, s.Name, s.SubmitterName, s.SubmitterEmail,
		string(patchJSON), s.HeadSHA, retired, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert series %d: %w", s.ID, err)
	}

	return nil
}

// Get returns a series by ID. Returns nil, nil if the series does not exist.
func (r *SeriesRepo) Get(ctx context.Context, id int64) (*model.Series, error) {
	const query = `
		SELECT id, project, name, submitter_name, submitter_email, patch_ids, head_sha, retired, created_at
		FROM series
		WHERE id = ?
	`

	s, err := scanSeries(r.db.Reader.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get series %d: %w", id, err)
	}

	return s, nil
}

// ListActive returns all non-retired series, ordered by ID.
func (r *SeriesRepo) ListActive(ctx context.Context) ([]model.Series, error) {
	const query = `
		SELECT id, project, name, submitter_name, submitter_email, patch_ids, head_sha, retired, created_at
		FROM series
		WHERE retired = 0
		ORDER BY id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active series: %w", err)
	}
	defer rows.Close()

	var out []model.Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		out = append(out, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate series: %w", err)
	}

	return out, nil
}

// UpdateHead records a resubmission: new head SHA and patch set.
func (r *SeriesRepo) UpdateHead(ctx context.Context, id int64, headSHA string, patchIDs []int64) error {
	if patchIDs == nil {
		patchIDs = []int64{}
	}
	patchJSON, err := json.Marshal(patchIDs)
	if err != nil {
		return fmt.Errorf("marshal patch ids: %w", err)
	}

	const query = `UPDATE series SET head_sha = ?, patch_ids = ? WHERE id = ?`

	res, err := r.db.Writer.ExecContext(ctx, query, headSHA, string(patchJSON), id)
	if err != nil {
		return fmt.Errorf("update head for series %d: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update head for series %d: %w", id, sql.ErrNoRows)
	}

	return nil
}

// Retire marks a series as no longer needing CI tracking.
func (r *SeriesRepo) Retire(ctx context.Context, id int64) error {
	const query = `UPDATE series SET retired = 1 WHERE id = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("retire series %d: %w", id, err)
	}

	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}

func scanSeries(s scanner) (*model.Series, error) {
	var series model.Series
	var patchJSON, createdAt string
	var retired int

	err := s.Scan(
		&series.ID, &series.Project, &series.Name, &series.SubmitterName,
		&series.SubmitterEmail, &patchJSON, &series.HeadSHA, &retired, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	series.Retired = retired != 0

	if err := json.Unmarshal([]byte(patchJSON), &series.PatchIDs); err != nil {
		return nil, fmt.Errorf("unmarshal patch ids: %w", err)
	}

	series.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &series, nil
}
