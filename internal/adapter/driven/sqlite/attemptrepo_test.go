package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

func TestAttemptRepo_Create_Get(t *testing.T) {
	db := setupTestDB(t)
	addTestSeries(t, db, 1)
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, makeAttempt(1, "github", "abc123"))
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, int64(1), got.SeriesID)
	assert.Equal(t, "github", got.Provider)
	assert.Equal(t, "abc123", got.CommitSHA)
	assert.Equal(t, model.AttemptPending, got.State)
	assert.Equal(t, model.VerdictNone, got.Verdict)
	assert.Zero(t, got.RunCursor)
	assert.False(t, got.Reported)
}

func TestAttemptRepo_Get_Unknown(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttemptRepo(db)

	got, err := repo.Get(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAttemptRepo_Create_DuplicateActive(t *testing.T) {
	db := setupTestDB(t)
	addTestSeries(t, db, 1)
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, makeAttempt(1, "github", "abc123"))
	require.NoError(t, err)

	_, err = repo.Create(ctx, makeAttempt(1, "github", "abc123"))
	var integrity *driven.StoreIntegrityError
	require.ErrorAs(t, err, &integrity)

	// Different provider or commit is fine.
	_, err = repo.Create(ctx, makeAttempt(1, "travis", "abc123"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, makeAttempt(1, "github", "def456"))
	require.NoError(t, err)
}

func TestAttemptRepo_Create_AllowedAfterReported(t *testing.T) {
	db := setupTestDB(t)
	addTestSeries(t, db, 1)
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, makeAttempt(1, "github", "abc123"))
	require.NoError(t, err)

	// Drive the first attempt to terminal and reported; the key frees up.
	a, err := repo.Get(ctx, id)
	require.NoError(t, err)
	a.State = model.AttemptTerminal
	a.Verdict = model.VerdictSuccess
	require.NoError(t, repo.ApplyPollResult(ctx, driven.PollUpdate{Attempt: *a}))
	require.NoError(t, repo.MarkReported(ctx, id))

	_, err = repo.Create(ctx, makeAttempt(1, "github", "abc123"))
	require.NoError(t, err)
}

func TestAttemptRepo_ApplyPollResult(t *testing.T) {
	db := setupTestDB(t)
	addTestSeries(t, db, 1)
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, makeAttempt(1, "github", "abc123"))
	require.NoError(t, err)

	a, err := repo.Get(ctx, id)
	require.NoError(t, err)
	a.State = model.AttemptObserved
	a.RunCursor = 500

	started := time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC)
	err = repo.ApplyPollResult(ctx, driven.PollUpdate{
		Attempt: *a,
		Runs: []model.AttemptRun{
			{AttemptID: id, Label: "build", RunID: 500, Result: model.RunRunning, URL: "https://ci/500", StartedAt: started},
		},
		Cursor: 500,
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptObserved, got.State)
	assert.Equal(t, int64(500), got.RunCursor)
	assert.False(t, got.LastPolledAt.IsZero())

	runs, err := repo.GetRuns(ctx, id)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "build", runs[0].Label)
	assert.Equal(t, int64(500), runs[0].RunID)
	assert.Equal(t, model.RunRunning, runs[0].Result)

	cp, err := repo.GetCheckpoint(ctx, 1, "github")
	require.NoError(t, err)
	assert.Equal(t, int64(500), cp.Cursor)
}

func TestAttemptRepo_ApplyPollResult_ReplacesRuns(t *testing.T) {
	db := setupTestDB(t)
	addTestSeries(t, db, 1)
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, makeAttempt(1, "github", "abc123"))
	require.NoError(t, err)

	a, err := repo.Get(ctx, id)
	require.NoError(t, err)
	a.State = model.AttemptObserved

	first := driven.PollUpdate{
		Attempt: *a,
		Runs: []model.AttemptRun{
			{AttemptID: id, Label: "build", RunID: 100, Result: model.RunRunning},
			{AttemptID: id, Label: "test", RunID: 101, Result: model.RunRunning},
		},
		Cursor: 101,
	}
	require.NoError(t, repo.ApplyPollResult(ctx, first))

	// Second window supersedes the build run and finishes test.
	a.State = model.AttemptTerminal
	a.Verdict = model.VerdictSuccess
	a.RunCursor = 200
	second := driven.PollUpdate{
		Attempt: *a,
		Runs: []model.AttemptRun{
			{AttemptID: id, Label: "build", RunID: 200, Result: model.RunSuccess},
			{AttemptID: id, Label: "test", RunID: 101, Result: model.RunSuccess},
		},
		Cursor: 200,
	}
	require.NoError(t, repo.ApplyPollResult(ctx, second))

	runs, err := repo.GetRuns(ctx, id)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, int64(200), runs[0].RunID)
	assert.Equal(t, model.RunSuccess, runs[0].Result)
	assert.Equal(t, int64(101), runs[1].RunID)
}

func TestAttemptRepo_CheckpointMonotonic(t *testing.T) {
	db := setupTestDB(t)
	addTestSeries(t, db, 1)
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, makeAttempt(1, "github", "abc123"))
	require.NoError(t, err)

	a, err := repo.Get(ctx, id)
	require.NoError(t, err)
	a.State = model.AttemptObserved

	require.NoError(t, repo.ApplyPollResult(ctx, driven.PollUpdate{Attempt: *a, Cursor: 900}))
	// A stale result must not rewind the checkpoint.
	require.NoError(t, repo.ApplyPollResult(ctx, driven.PollUpdate{Attempt: *a, Cursor: 300}))

	cp, err := repo.GetCheckpoint(ctx, 1, "github")
	require.NoError(t, err)
	assert.Equal(t, int64(900), cp.Cursor)
}

func TestAttemptRepo_GetCheckpoint_Unset(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAttemptRepo(db)

	cp, err := repo.GetCheckpoint(context.Background(), 1, "github")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.SeriesID)
	assert.Equal(t, "github", cp.Provider)
	assert.Zero(t, cp.Cursor)
}

func TestAttemptRepo_MarkReported_NonTerminal(t *testing.T) {
	db := setupTestDB(t)
	addTestSeries(t, db, 1)
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	id, err := repo.Create(ctx, makeAttempt(1, "github", "abc123"))
	require.NoError(t, err)

	err = repo.MarkReported(ctx, id)
	var integrity *driven.StoreIntegrityError
	assert.ErrorAs(t, err, &integrity)
}

func TestAttemptRepo_ListActive(t *testing.T) {
	db := setupTestDB(t)
	addTestSeries(t, db, 1)
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	pending, err := repo.Create(ctx, makeAttempt(1, "github", "abc123"))
	require.NoError(t, err)
	terminal, err := repo.Create(ctx, makeAttempt(1, "travis", "abc123"))
	require.NoError(t, err)

	a, err := repo.Get(ctx, terminal)
	require.NoError(t, err)
	a.State = model.AttemptTerminal
	a.Verdict = model.VerdictFailure
	require.NoError(t, repo.ApplyPollResult(ctx, driven.PollUpdate{Attempt: *a}))

	// Terminal-but-unreported attempts still need the report phase.
	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	unreported, err := repo.ListUnreportedTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, unreported, 1)
	assert.Equal(t, terminal, unreported[0].ID)

	require.NoError(t, repo.MarkReported(ctx, terminal))

	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, pending, active[0].ID)
}

func TestAttemptRepo_ListBySeries(t *testing.T) {
	db := setupTestDB(t)
	addTestSeries(t, db, 1)
	addTestSeries(t, db, 2)
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	first, err := repo.Create(ctx, makeAttempt(1, "github", "abc123"))
	require.NoError(t, err)
	second, err := repo.Create(ctx, makeAttempt(1, "github", "def456"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, makeAttempt(2, "github", "abc123"))
	require.NoError(t, err)

	attempts, err := repo.ListBySeries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, second, attempts[0].ID)
	assert.Equal(t, first, attempts[1].ID)
}

func TestAttemptRepo_PruneReported(t *testing.T) {
	db := setupTestDB(t)
	addTestSeries(t, db, 1)
	repo := NewAttemptRepo(db)
	ctx := context.Background()

	old := makeAttempt(1, "github", "abc123")
	old.CreatedAt = time.Now().Add(-60 * 24 * time.Hour)
	oldID, err := repo.Create(ctx, old)
	require.NoError(t, err)

	a, err := repo.Get(ctx, oldID)
	require.NoError(t, err)
	a.State = model.AttemptTerminal
	a.Verdict = model.VerdictSuccess
	require.NoError(t, repo.ApplyPollResult(ctx, driven.PollUpdate{
		Attempt: *a,
		Runs:    []model.AttemptRun{{AttemptID: oldID, Label: "build", RunID: 1, Result: model.RunSuccess}},
	}))
	require.NoError(t, repo.MarkReported(ctx, oldID))

	// Recent and unreported attempts survive the prune.
	recentID, err := repo.Create(ctx, makeAttempt(1, "travis", "abc123"))
	require.NoError(t, err)

	n, err := repo.PruneReported(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := repo.Get(ctx, oldID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Run rows cascade with the attempt.
	runs, err := repo.GetRuns(ctx, oldID)
	require.NoError(t, err)
	assert.Empty(t, runs)

	kept, err := repo.Get(ctx, recentID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
