package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.RecheckStore   = (*RecheckRepo)(nil)
	_ driven.ScanStateStore = (*RecheckRepo)(nil)
)

// RecheckRepo is the SQLite implementation of the RecheckStore and
// ScanStateStore port interfaces.
type RecheckRepo struct {
	db *DB
}

// NewRecheckRepo creates a new RecheckRepo backed by the given DB.
func NewRecheckRepo(db *DB) *RecheckRepo {
	return &RecheckRepo{db: db}
}

// Record stores a detected directive. The UNIQUE (comment_id, provider)
// constraint plus INSERT OR IGNORE makes re-scanning overlapping comment
// windows idempotent: returns false when the pair was already recorded.
func (r *RecheckRepo) Record(ctx context.Context, req model.RecheckRequest) (bool, error) {
	const query = `
		INSERT OR IGNORE INTO recheck_requests
			(comment_id, series_id, patch_id, provider, requested_by, processed, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := r.db.Writer.ExecContext(ctx, query,
		req.CommentID, req.SeriesID, req.PatchID, req.Provider, req.RequestedBy, createdAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record recheck for comment %s provider %s: %w", req.CommentID, req.Provider, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recheck rows affected: %w", err)
	}

	return n > 0, nil
}

// ListUnprocessed returns directives not yet acted upon, oldest first.
func (r *RecheckRepo) ListUnprocessed(ctx context.Context) ([]model.RecheckRequest, error) {
	const query = `
		SELECT id, comment_id, series_id, patch_id, provider, requested_by, processed, created_at
		FROM recheck_requests
		WHERE processed = 0
		ORDER BY id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed rechecks: %w", err)
	}
	defer rows.Close()

	var reqs []model.RecheckRequest
	for rows.Next() {
		var req model.RecheckRequest
		var processed int
		var createdAt string

		if err := rows.Scan(&req.ID, &req.CommentID, &req.SeriesID, &req.PatchID,
			&req.Provider, &req.RequestedBy, &processed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan recheck: %w", err)
		}

		req.Processed = processed != 0
		req.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}

		reqs = append(reqs, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rechecks: %w", err)
	}

	return reqs, nil
}

// MarkProcessed flags a directive as handled.
func (r *RecheckRepo) MarkProcessed(ctx context.Context, id int64) error {
	const query = `UPDATE recheck_requests SET processed = 1 WHERE id = ?`

	res, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark recheck %d processed: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark recheck %d processed: %w", id, sql.ErrNoRows)
	}

	return nil
}

// Get returns the stored scan-state value for key, or "" if unset.
func (r *RecheckRepo) Get(ctx context.Context, key string) (string, error) {
	const query = `SELECT value FROM scan_state WHERE key = ?`

	var value string
	err := r.db.Reader.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get scan state %q: %w", key, err)
	}

	return value, nil
}

// Set stores the scan-state value for key, replacing any previous value.
func (r *RecheckRepo) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO scan_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`

	if _, err := r.db.Writer.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("set scan state %q: %w", key, err)
	}

	return nil
}
