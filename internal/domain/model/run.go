package model

import "time"

// RunResult is the shared classification taxonomy every CI backend's native
// status vocabulary maps onto. Anything a provider reports that we cannot
// place classifies as RunErrored so it stays visible instead of being dropped.
type RunResult string

const (
	RunRunning   RunResult = "running"
	RunSuccess   RunResult = "success"
	RunFailure   RunResult = "failure"
	RunErrored   RunResult = "errored"
	RunCancelled RunResult = "cancelled"
)

// Finished reports whether the result is terminal for a single run.
func (r RunResult) Finished() bool {
	return r != RunRunning
}

// RawRun is a provider-native run/job record prior to classification.
// Status and Conclusion carry the provider's own vocabulary; adapters are the
// only code that interprets them.
type RawRun struct {
	ID         int64 // Provider-native run identifier, monotonic with creation.
	Label      string
	URL        string
	Status     string
	Conclusion string
	StartedAt  time.Time
}

// RunInfo is the human-readable identification of a run for report bodies.
type RunInfo struct {
	Label string
	URL   string
}
