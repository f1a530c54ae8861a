package driven

import (
	"context"
	"time"

	"github.com/apconole/pw-ci/internal/domain/model"
)

// PatchworkClient defines the driven port for the patch-tracking service.
// Read-only: this system observes patchwork, it never writes to it.
type PatchworkClient interface {
	// ListNewSeries returns series created since the given time, mapped to
	// domain series (head SHA unset; patchwork does not know CI commits).
	ListNewSeries(ctx context.Context, since time.Time) ([]model.Series, error)
	// GetSeries returns current series detail. Returns nil, nil if unknown.
	GetSeries(ctx context.Context, id int64) (*model.Series, error)
	// ListPatches returns the patches of a series in submission order.
	ListPatches(ctx context.Context, seriesID int64) ([]model.PatchRef, error)
	// ListComments returns the comments on a patch, oldest first.
	ListComments(ctx context.Context, patchID int64) ([]model.PatchComment, error)
}

// Notifier delivers a resolved verdict report. Retry policy lives entirely in
// the monitor loop via the reported flag; the notifier either delivers or
// returns an error.
type Notifier interface {
	Notify(ctx context.Context, report model.Report) error
}
