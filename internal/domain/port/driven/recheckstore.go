package driven

import (
	"context"

	"github.com/apconole/pw-ci/internal/domain/model"
)

// RecheckStore defines the driven port for recheck request persistence.
type RecheckStore interface {
	// Record stores a detected directive. Returns false when the
	// (comment, provider) pair was already recorded, which makes re-scanning
	// overlapping comment windows idempotent.
	Record(ctx context.Context, req model.RecheckRequest) (bool, error)
	// ListUnprocessed returns directives not yet acted upon, oldest first.
	ListUnprocessed(ctx context.Context) ([]model.RecheckRequest, error)
	// MarkProcessed flags a directive as handled (attempt spawned or
	// determined invalid).
	MarkProcessed(ctx context.Context, id int64) error
}

// ScanStateStore is a small key/value cursor store for external scan
// positions, such as the patchwork event feed timestamp.
type ScanStateStore interface {
	// Get returns the stored value for key, or "" if unset.
	Get(ctx context.Context, key string) (string, error)
	// Set stores the value for key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
}
