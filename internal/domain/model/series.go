// Package model contains the domain entities for patch-series CI tracking.
package model

import (
	"fmt"
	"time"
)

// Series is one patchwork submission unit tracked for CI purposes.
// Created when first observed via the patchwork event feed; the head SHA is
// the only field that changes afterwards (bumped on resubmission). Series are
// retired, never deleted, so reporting history stays auditable.
type Series struct {
	ID             int64 // Patchwork series ID, stable external identifier.
	Project        string
	Name           string
	SubmitterName  string
	SubmitterEmail string
	PatchIDs       []int64
	HeadSHA        string // Current head commit; empty until the first patch lands.
	Retired        bool   // Head patch reached a final patchwork state; no longer polled.
	CreatedAt      time.Time
}

// Branch returns the deterministic CI branch name for this series.
// Every CI backend is expected to run against this branch.
func (s Series) Branch() string {
	return fmt.Sprintf("series_%d", s.ID)
}
