package model

import "time"

// ProviderCheckpoint is the per (series, provider) high-water mark of run IDs
// already considered. It bounds provider API query windows and never
// decreases; a recheck resets only the new attempt's own run cursor, not this
// checkpoint.
type ProviderCheckpoint struct {
	SeriesID  int64
	Provider  string
	Cursor    int64
	UpdatedAt time.Time
}
