// Package application contains use-case orchestration services.
package application

import (
	"sort"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

// CorrelateRuns folds freshly polled provider runs into an attempt's
// accumulated classification set and computes the resulting lifecycle state.
// The returned PollUpdate is what the store applies atomically.
//
// The latest run per label wins: a re-triggered workflow supersedes its
// earlier run. Terminal attempts are frozen and come back unchanged.
func CorrelateRuns(attempt model.BuildAttempt, existing []model.AttemptRun, fresh []model.RawRun, provider driven.CIProvider) driven.PollUpdate {
	if attempt.Terminal() {
		return driven.PollUpdate{Attempt: attempt, Runs: existing, Cursor: attempt.RunCursor}
	}

	byLabel := make(map[string]model.AttemptRun, len(existing))
	for _, run := range existing {
		byLabel[run.Label] = run
	}

	cursor := attempt.RunCursor
	for _, raw := range fresh {
		if raw.ID > cursor {
			cursor = raw.ID
		}

		// Equal IDs are a re-observation of the same run, typically its
		// completion; the fresh classification replaces the stale one.
		info := provider.Describe(raw)
		if prev, ok := byLabel[info.Label]; ok && prev.RunID > raw.ID {
			continue
		}

		byLabel[info.Label] = model.AttemptRun{
			AttemptID: attempt.ID,
			Label:     info.Label,
			RunID:     raw.ID,
			Result:    provider.Classify(raw),
			URL:       info.URL,
			StartedAt: raw.StartedAt,
		}
	}

	runs := make([]model.AttemptRun, 0, len(byLabel))
	for _, run := range byLabel {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Label < runs[j].Label })

	// A run keeps its provider ID when it finishes, so the cursor must stop
	// short of anything still executing or its completion is never fetched.
	for _, run := range runs {
		if !run.Result.Finished() && run.RunID-1 < cursor {
			cursor = run.RunID - 1
		}
	}

	attempt.RunCursor = cursor

	switch {
	case len(runs) == 0:
		// A backend with no CI configured for this branch is not a failure;
		// the attempt waits indefinitely.
		attempt.State = model.AttemptPending
	case allFinished(runs):
		attempt.State = model.AttemptTerminal
		attempt.Verdict = aggregateVerdict(runs)
	default:
		attempt.State = model.AttemptObserved
	}

	return driven.PollUpdate{Attempt: attempt, Runs: runs, Cursor: cursor}
}

func allFinished(runs []model.AttemptRun) bool {
	for _, run := range runs {
		if !run.Result.Finished() {
			return false
		}
	}
	return true
}

// aggregateVerdict computes the worst-result-wins verdict over a completed
// run set: failure dominates cancellation dominates success. Errored runs
// count as failures so broken CI gates the series rather than passing it.
func aggregateVerdict(runs []model.AttemptRun) model.Verdict {
	var cancelled bool

	for _, run := range runs {
		switch run.Result {
		case model.RunFailure, model.RunErrored:
			return model.VerdictFailure
		case model.RunCancelled:
			cancelled = true
		}
	}

	if cancelled {
		return model.VerdictCancelled
	}

	return model.VerdictSuccess
}
