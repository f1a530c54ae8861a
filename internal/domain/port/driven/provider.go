package driven

import (
	"context"

	"github.com/apconole/pw-ci/internal/domain/model"
)

// CIProvider is the capability contract implemented once per CI backend.
// The variant set is closed: GitHub Actions, Travis, Cirrus, and the
// deterministic Dummy backend used in tests. New backends are new
// implementations of this interface, never open-ended dispatch.
type CIProvider interface {
	// Name returns the provider key used in attempts, checkpoints, and
	// recheck directives (e.g. "github").
	Name() string

	// ListRunsForBranch returns provider-native run records for the branch
	// that are newer than sinceCursor, newest first. A branch with no runs
	// yields an empty slice, not an error. Implementations map backend
	// failures onto the error taxonomy in this package.
	ListRunsForBranch(ctx context.Context, branch string, sinceCursor int64) ([]model.RawRun, error)

	// Classify maps the run's provider-specific status/conclusion vocabulary
	// onto the shared taxonomy. Unknown states classify as RunErrored.
	Classify(run model.RawRun) model.RunResult

	// Describe returns the human-readable identification of a run for the
	// aggregated report body.
	Describe(run model.RawRun) model.RunInfo
}
