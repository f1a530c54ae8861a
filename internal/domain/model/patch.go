package model

import "time"

// PatchRef is a lightweight reference to one patch in a series, as returned
// by the patchwork series detail endpoint.
type PatchRef struct {
	ID        int64
	URL       string
	MessageID string
	Name      string
	State     string
	Hash      string // Content hash from the patch detail endpoint.
}

// FinalPatchStates are the patchwork states after which a patch (and the
// series it heads) no longer needs CI tracking.
var FinalPatchStates = map[string]bool{
	"superseded":        true,
	"rejected":          true,
	"accepted":          true,
	"changes-requested": true,
	"not-applicable":    true,
}

// PatchComment is one comment on a patch, scanned for recheck directives.
type PatchComment struct {
	MessageID string
	PatchID   int64
	Submitter string
	Content   string
	CreatedAt time.Time
}
