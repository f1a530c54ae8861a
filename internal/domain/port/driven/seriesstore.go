// Package driven defines the port interfaces the application core depends on.
package driven

import (
	"context"

	"github.com/apconole/pw-ci/internal/domain/model"
)

// SeriesStore defines the driven port for series persistence.
// Series are append-only apart from head bumps and retirement.
type SeriesStore interface {
	// Add inserts a new series. Adding an already-known series ID is an error.
	Add(ctx context.Context, s model.Series) error
	// Get returns a series by ID. Returns nil, nil if unknown.
	Get(ctx context.Context, id int64) (*model.Series, error)
	// ListActive returns all non-retired series, ordered by ID.
	ListActive(ctx context.Context) ([]model.Series, error)
	// UpdateHead records a resubmission: new head SHA and patch set.
	UpdateHead(ctx context.Context, id int64, headSHA string, patchIDs []int64) error
	// Retire marks a series as no longer needing CI tracking.
	Retire(ctx context.Context, id int64) error
}
