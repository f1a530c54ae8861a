package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.AttemptStore    = (*AttemptRepo)(nil)
	_ driven.CheckpointStore = (*AttemptRepo)(nil)
)

// AttemptRepo is the SQLite implementation of the AttemptStore and
// CheckpointStore port interfaces. Checkpoints live here rather than in a
// separate repo because their writes must share a transaction with attempt
// updates.
type AttemptRepo struct {
	db *DB
}

// NewAttemptRepo creates a new AttemptRepo backed by the given DB.
func NewAttemptRepo(db *DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

const attemptCols = `id, series_id, provider, commit_sha, state, verdict, run_cursor, reported, created_at, last_polled_at`

// Create inserts a new attempt and returns its ID. The partial unique index
// on (series, provider, commit) rejects a second active attempt for the same
// key; that constraint violation surfaces as a StoreIntegrityError.
func (r *AttemptRepo) Create(ctx context.Context, a model.BuildAttempt) (int64, error) {
	const query = `
		INSERT INTO build_attempts (series_id, provider, commit_sha, state, verdict, run_cursor, reported, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	state := a.State
	if state == "" {
		state = model.AttemptPending
	}

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	reported := 0
	if a.Reported {
		reported = 1
	}

	res, err := r.db.Writer.ExecContext(ctx, query,
		a.SeriesID, a.Provider, a.CommitSHA, string(state), string(a.Verdict),
		a.RunCursor, reported, createdAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, &driven.StoreIntegrityError{
				Detail: fmt.Sprintf("active attempt already exists for series %d provider %s commit %s",
					a.SeriesID, a.Provider, a.CommitSHA),
				Err: err,
			}
		}
		return 0, fmt.Errorf("insert attempt for series %d provider %s: %w", a.SeriesID, a.Provider, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("attempt insert id: %w", err)
	}

	return id, nil
}

// Get returns an attempt by ID. Returns nil, nil if the attempt does not exist.
func (r *AttemptRepo) Get(ctx context.Context, id int64) (*model.BuildAttempt, error) {
	query := `SELECT ` + attemptCols + ` FROM build_attempts WHERE id = ?`

	a, err := scanAttempt(r.db.Reader.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt %d: %w", id, err)
	}

	return a, nil
}

// ListActive returns all attempts that are non-terminal or unreported,
// ordered by series then provider. This is the monitor loop's hot query.
func (r *AttemptRepo) ListActive(ctx context.Context) ([]model.BuildAttempt, error) {
	query := `
		SELECT ` + attemptCols + `
		FROM build_attempts
		WHERE state != 'terminal' OR reported = 0
		ORDER BY series_id, provider
	`

	return r.queryAttempts(ctx, query)
}

// ListBySeries returns all attempts for a series, newest first.
func (r *AttemptRepo) ListBySeries(ctx context.Context, seriesID int64) ([]model.BuildAttempt, error) {
	query := `
		SELECT ` + attemptCols + `
		FROM build_attempts
		WHERE series_id = ?
		ORDER BY id DESC
	`

	return r.queryAttempts(ctx, query, seriesID)
}

// ListUnreportedTerminal returns terminal attempts awaiting notification.
func (r *AttemptRepo) ListUnreportedTerminal(ctx context.Context) ([]model.BuildAttempt, error) {
	query := `
		SELECT ` + attemptCols + `
		FROM build_attempts
		WHERE state = 'terminal' AND reported = 0
		ORDER BY id
	`

	return r.queryAttempts(ctx, query)
}

// GetRuns returns the accumulated run classifications for an attempt,
// ordered by label.
func (r *AttemptRepo) GetRuns(ctx context.Context, attemptID int64) ([]model.AttemptRun, error) {
	const query = `
		SELECT attempt_id, label, run_id, result, url, started_at
		FROM attempt_runs
		WHERE attempt_id = ?
		ORDER BY label
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query runs for attempt %d: %w", attemptID, err)
	}
	defer rows.Close()

	var runs []model.AttemptRun
	for rows.Next() {
		var run model.AttemptRun
		var startedAt sql.NullString

		if err := rows.Scan(&run.AttemptID, &run.Label, &run.RunID, &run.Result, &run.URL, &startedAt); err != nil {
			return nil, fmt.Errorf("scan attempt run: %w", err)
		}

		if startedAt.Valid {
			run.StartedAt, err = parseTime(startedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse started_at: %w", err)
			}
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt runs: %w", err)
	}

	return runs, nil
}

// ApplyPollResult persists one poll window's outcome in a single transaction:
// attempt state and cursor, full replacement of the run set, and the
// (series, provider) checkpoint advance. The checkpoint write is clamped so
// it never moves backwards.
func (r *AttemptRepo) ApplyPollResult(ctx context.Context, u driven.PollUpdate) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	a := u.Attempt

	const updateQuery = `
		UPDATE build_attempts
		SET state = ?, verdict = ?, run_cursor = ?, last_polled_at = ?
		WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, updateQuery,
		string(a.State), string(a.Verdict), a.RunCursor, time.Now().UTC(), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update attempt %d: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update attempt %d: %w", a.ID, sql.ErrNoRows)
	}

	const deleteRuns = `DELETE FROM attempt_runs WHERE attempt_id = ?`
	if _, err := tx.ExecContext(ctx, deleteRuns, a.ID); err != nil {
		return fmt.Errorf("delete runs for attempt %d: %w", a.ID, err)
	}

	const insertRun = `
		INSERT INTO attempt_runs (attempt_id, label, run_id, result, url, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, run := range u.Runs {
		var startedAt any
		if !run.StartedAt.IsZero() {
			startedAt = run.StartedAt.UTC()
		}

		if _, err := tx.ExecContext(ctx, insertRun,
			a.ID, run.Label, run.RunID, string(run.Result), run.URL, startedAt,
		); err != nil {
			return fmt.Errorf("insert run %q for attempt %d: %w", run.Label, a.ID, err)
		}
	}

	// max() keeps the checkpoint monotonic even if a stale poll result is
	// applied after a newer one.
	const upsertCheckpoint = `
		INSERT INTO provider_checkpoints (series_id, provider, cursor, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(series_id, provider) DO UPDATE SET
			cursor = max(cursor, excluded.cursor),
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, upsertCheckpoint,
		a.SeriesID, a.Provider, u.Cursor, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("advance checkpoint for series %d provider %s: %w", a.SeriesID, a.Provider, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit poll result for attempt %d: %w", a.ID, err)
	}

	return nil
}

// MarkReported flags an attempt as delivered. Refuses to mark a non-terminal
// attempt; reported=true implies a fixed verdict.
func (r *AttemptRepo) MarkReported(ctx context.Context, attemptID int64) error {
	const query = `UPDATE build_attempts SET reported = 1 WHERE id = ? AND state = 'terminal'`

	res, err := r.db.Writer.ExecContext(ctx, query, attemptID)
	if err != nil {
		return fmt.Errorf("mark attempt %d reported: %w", attemptID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return &driven.StoreIntegrityError{
			Detail: fmt.Sprintf("attempt %d is missing or not terminal; refusing to mark reported", attemptID),
		}
	}

	return nil
}

// PruneReported deletes terminal, reported attempts created before the cutoff.
// Run rows go with them via ON DELETE CASCADE.
func (r *AttemptRepo) PruneReported(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `
		DELETE FROM build_attempts
		WHERE state = 'terminal' AND reported = 1 AND created_at < ?
	`

	res, err := r.db.Writer.ExecContext(ctx, query, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune reported attempts: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}

	return n, nil
}

// GetCheckpoint returns the checkpoint for a (series, provider) pair, or a
// zero-cursor checkpoint if none has been recorded yet.
func (r *AttemptRepo) GetCheckpoint(ctx context.Context, seriesID int64, provider string) (model.ProviderCheckpoint, error) {
	const query = `
		SELECT series_id, provider, cursor, updated_at
		FROM provider_checkpoints
		WHERE series_id = ? AND provider = ?
	`

	var cp model.ProviderCheckpoint
	var updatedAt string

	err := r.db.Reader.QueryRowContext(ctx, query, seriesID, provider).
		Scan(&cp.SeriesID, &cp.Provider, &cp.Cursor, &updatedAt)
	if err == sql.ErrNoRows {
		return model.ProviderCheckpoint{SeriesID: seriesID, Provider: provider}, nil
	}
	if err != nil {
		return model.ProviderCheckpoint{}, fmt.Errorf("get checkpoint for series %d provider %s: %w", seriesID, provider, err)
	}

	cp.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return model.ProviderCheckpoint{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return cp, nil
}

func (r *AttemptRepo) queryAttempts(ctx context.Context, query string, args ...any) ([]model.BuildAttempt, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.BuildAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}

	return attempts, nil
}

func scanAttempt(s scanner) (*model.BuildAttempt, error) {
	var a model.BuildAttempt
	var state, verdict, createdAt string
	var lastPolledAt sql.NullString
	var reported int

	err := s.Scan(
		&a.ID, &a.SeriesID, &a.Provider, &a.CommitSHA, &state, &verdict,
		&a.RunCursor, &reported, &createdAt, &lastPolledAt,
	)
	if err != nil {
		return nil, err
	}

	a.State = model.AttemptState(state)
	a.Verdict = model.Verdict(verdict)
	a.Reported = reported != 0

	a.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	if lastPolledAt.Valid {
		a.LastPolledAt, err = parseTime(lastPolledAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_polled_at: %w", err)
		}
	}

	return &a, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
