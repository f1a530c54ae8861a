package model

import "time"

// AttemptState is the lifecycle state of a BuildAttempt. States advance
// strictly pending -> observed -> terminal; a recheck spawns a new attempt
// instead of rewinding an old one.
type AttemptState string

const (
	AttemptPending  AttemptState = "pending"  // Created, no provider data yet.
	AttemptObserved AttemptState = "observed" // At least one run known, not all terminal.
	AttemptTerminal AttemptState = "terminal" // Every known run finished; verdict fixed.
)

// Verdict is the aggregated terminal outcome of a BuildAttempt.
// Empty until the attempt reaches AttemptTerminal. Aggregation folds errored
// runs into VerdictFailure, so VerdictErrored names a per-run outcome that
// never surfaces as an attempt verdict.
type Verdict string

const (
	VerdictNone      Verdict = ""
	VerdictSuccess   Verdict = "success"
	VerdictFailure   Verdict = "failure"
	VerdictErrored   Verdict = "errored"
	VerdictCancelled Verdict = "cancelled"
)

// BuildAttempt is one trackable unit of CI work: a (series, provider, commit)
// correlation target. Attempts are immutable audit records once terminal and
// reported; a recheck creates a fresh attempt rather than mutating history.
type BuildAttempt struct {
	ID           int64
	SeriesID     int64
	Provider     string
	CommitSHA    string
	State        AttemptState
	Verdict      Verdict
	RunCursor    int64 // Highest provider run ID already folded into this attempt.
	Reported     bool  // Set only after confirmed notification delivery.
	CreatedAt    time.Time
	LastPolledAt time.Time
}

// Terminal reports whether the attempt's verdict is fixed.
func (a BuildAttempt) Terminal() bool {
	return a.State == AttemptTerminal
}

// Active reports whether the attempt still needs monitor attention:
// either the verdict is not fixed yet, or it has not been reported.
func (a BuildAttempt) Active() bool {
	return a.State != AttemptTerminal || !a.Reported
}

// AttemptRun is one classified run accumulated for an attempt, keyed by
// provider-reported label (e.g. a workflow name). The latest run per label
// wins; earlier runs of the same workflow are superseded.
type AttemptRun struct {
	AttemptID int64
	Label     string
	RunID     int64
	Result    RunResult
	URL       string
	StartedAt time.Time
}
