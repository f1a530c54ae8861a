package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/apconole/pw-ci/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// SeriesResponse is the JSON representation of a tracked patch series.
type SeriesResponse struct {
	ID             int64   `json:"id"`
	Project        string  `json:"project"`
	Name           string  `json:"name"`
	SubmitterName  string  `json:"submitter_name"`
	SubmitterEmail string  `json:"submitter_email"`
	PatchIDs       []int64 `json:"patch_ids"`
	HeadSHA        string  `json:"head_sha"`
	Branch         string  `json:"branch"`
	CreatedAt      string  `json:"created_at"`
}

// AttemptResponse is the JSON representation of a build attempt and its runs.
type AttemptResponse struct {
	ID           int64         `json:"id"`
	SeriesID     int64         `json:"series_id"`
	Provider     string        `json:"provider"`
	CommitSHA    string        `json:"commit_sha"`
	State        string        `json:"state"`
	Verdict      string        `json:"verdict,omitempty"`
	Reported     bool          `json:"reported"`
	CreatedAt    string        `json:"created_at"`
	LastPolledAt string        `json:"last_polled_at,omitempty"`
	Runs         []RunResponse `json:"runs"`
}

// RunResponse is the JSON representation of a classified CI run.
type RunResponse struct {
	Label     string `json:"label"`
	RunID     int64  `json:"run_id"`
	Result    string `json:"result"`
	URL       string `json:"url"`
	StartedAt string `json:"started_at,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// PollResponse is the JSON representation of a manually triggered poll cycle.
type PollResponse struct {
	Status   string `json:"status"`
	Duration string `json:"duration"`
}

// toSeriesResponse converts a domain Series to its JSON response representation.
func toSeriesResponse(s model.Series) SeriesResponse {
	patchIDs := s.PatchIDs
	if patchIDs == nil {
		patchIDs = []int64{}
	}

	return SeriesResponse{
		ID:             s.ID,
		Project:        s.Project,
		Name:           s.Name,
		SubmitterName:  s.SubmitterName,
		SubmitterEmail: s.SubmitterEmail,
		PatchIDs:       patchIDs,
		HeadSHA:        s.HeadSHA,
		Branch:         s.Branch(),
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// toAttemptResponse converts a domain BuildAttempt to its JSON representation.
func toAttemptResponse(a model.BuildAttempt, runs []model.AttemptRun) AttemptResponse {
	resp := AttemptResponse{
		ID:        a.ID,
		SeriesID:  a.SeriesID,
		Provider:  a.Provider,
		CommitSHA: a.CommitSHA,
		State:     string(a.State),
		Reported:  a.Reported,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		Runs:      []RunResponse{},
	}
	if a.Verdict != model.VerdictNone {
		resp.Verdict = string(a.Verdict)
	}
	if !a.LastPolledAt.IsZero() {
		resp.LastPolledAt = a.LastPolledAt.UTC().Format(time.RFC3339)
	}

	for _, run := range runs {
		rr := RunResponse{
			Label:  run.Label,
			RunID:  run.RunID,
			Result: string(run.Result),
			URL:    run.URL,
		}
		if !run.StartedAt.IsZero() {
			rr.StartedAt = run.StartedAt.UTC().Format(time.RFC3339)
		}
		resp.Runs = append(resp.Runs, rr)
	}

	return resp
}
