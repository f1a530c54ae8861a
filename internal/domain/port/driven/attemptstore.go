package driven

import (
	"context"
	"time"

	"github.com/apconole/pw-ci/internal/domain/model"
)

// PollUpdate is the atomic unit of state produced by correlating one
// attempt's poll window: the advanced attempt, its full replacement run set,
// and the (series, provider) checkpoint to advance. Either all three apply or
// none do, so a crash mid-poll cannot advance a checkpoint without recording
// the attempts it covers.
type PollUpdate struct {
	Attempt model.BuildAttempt
	Runs    []model.AttemptRun
	Cursor  int64 // New checkpoint cursor for (Attempt.SeriesID, Attempt.Provider).
}

// AttemptStore defines the driven port for build attempt persistence.
type AttemptStore interface {
	// Create inserts a new attempt and returns its ID. A second attempt in a
	// non-terminal-or-unreported state for the same (series, provider,
	// commit) key fails with StoreIntegrityError.
	Create(ctx context.Context, a model.BuildAttempt) (int64, error)
	// Get returns an attempt by ID. Returns nil, nil if unknown.
	Get(ctx context.Context, id int64) (*model.BuildAttempt, error)
	// ListActive returns all attempts still needing monitor attention:
	// non-terminal, or terminal but unreported. The monitor's hot path.
	ListActive(ctx context.Context) ([]model.BuildAttempt, error)
	// ListBySeries returns all attempts for a series, newest first.
	ListBySeries(ctx context.Context, seriesID int64) ([]model.BuildAttempt, error)
	// ListUnreportedTerminal returns terminal attempts awaiting notification.
	ListUnreportedTerminal(ctx context.Context) ([]model.BuildAttempt, error)
	// GetRuns returns the accumulated run classifications for an attempt,
	// ordered by label.
	GetRuns(ctx context.Context, attemptID int64) ([]model.AttemptRun, error)
	// ApplyPollResult persists one poll window's outcome atomically:
	// attempt state, replacement run set, and checkpoint advance. The
	// checkpoint never moves backwards.
	ApplyPollResult(ctx context.Context, u PollUpdate) error
	// MarkReported flags an attempt as delivered. Fails with
	// StoreIntegrityError if the attempt is not terminal.
	MarkReported(ctx context.Context, attemptID int64) error
	// PruneReported deletes terminal, reported attempts created before the
	// cutoff and returns the number removed.
	PruneReported(ctx context.Context, olderThan time.Time) (int64, error)
}

// CheckpointStore defines the read side of provider checkpoints. Writes
// happen only through AttemptStore.ApplyPollResult so they stay atomic with
// the attempt state they cover.
type CheckpointStore interface {
	// GetCheckpoint returns the checkpoint for a (series, provider) pair.
	// Returns a zero-cursor checkpoint if none has been recorded yet.
	GetCheckpoint(ctx context.Context, seriesID int64, provider string) (model.ProviderCheckpoint, error)
}
