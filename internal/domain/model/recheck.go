package model

import "time"

// RecheckRequest is a user-issued "Recheck-request: <provider>" directive
// detected in a patch comment. The (comment, provider) pair is the idempotence
// key: re-scanning the same comment stream never records a duplicate.
type RecheckRequest struct {
	ID          int64
	CommentID   string // Patchwork comment message ID.
	SeriesID    int64
	PatchID     int64
	Provider    string
	RequestedBy string
	Processed   bool
	CreatedAt   time.Time
}
