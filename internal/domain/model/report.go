package model

// ReportRun is one run line in a resolved report: label, outcome, and the
// provider's detail URL.
type ReportRun struct {
	Label  string
	Result RunResult
	URL    string
}

// Report is the resolved verdict record handed to the notifier once a
// BuildAttempt reaches its terminal state.
type Report struct {
	AttemptID  int64
	SeriesID   int64
	SeriesName string
	Provider   string
	CommitSHA  string
	Verdict    Verdict
	Runs       []ReportRun
	Recipient  string // Series submitter email; Cc'd on failure.
	PatchURL   string
	MessageID  string // Patch message ID for mail threading headers.
}
