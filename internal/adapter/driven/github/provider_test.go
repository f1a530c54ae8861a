package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewProviderWithHTTPClient(srv.Client(), srv.URL+"/", "apconole/pw-test")
	require.NoError(t, err)
	return p
}

func TestListRunsForBranch(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/apconole/pw-test/actions/runs", r.URL.Path)
		assert.Equal(t, "series_42", r.URL.Query().Get("branch"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"total_count": 2,
			"workflow_runs": [
				{"id": 200, "name": "build", "status": "completed", "conclusion": "success",
				 "html_url": "https://github.com/apconole/pw-test/actions/runs/200"},
				{"id": 100, "name": "test", "status": "in_progress",
				 "html_url": "https://github.com/apconole/pw-test/actions/runs/100"}
			]
		}`)
	})

	runs, err := p.ListRunsForBranch(context.Background(), "series_42", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, int64(200), runs[0].ID)
	assert.Equal(t, "build", runs[0].Label)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, "success", runs[0].Conclusion)
	assert.Equal(t, "https://github.com/apconole/pw-test/actions/runs/200", runs[0].URL)

	assert.Equal(t, int64(100), runs[1].ID)
	assert.Equal(t, "in_progress", runs[1].Status)
}

func TestListRunsForBranch_CursorFilter(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"total_count": 2,
			"workflow_runs": [
				{"id": 200, "name": "build", "status": "completed", "conclusion": "success"},
				{"id": 100, "name": "build", "status": "completed", "conclusion": "failure"}
			]
		}`)
	})

	runs, err := p.ListRunsForBranch(context.Background(), "series_42", 150)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(200), runs[0].ID)
}

func TestListRunsForBranch_Empty(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"total_count": 0, "workflow_runs": []}`)
	})

	runs, err := p.ListRunsForBranch(context.Background(), "series_42", 0)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestListRunsForBranch_AuthError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "Bad credentials"}`)
	})

	_, err := p.ListRunsForBranch(context.Background(), "series_42", 0)
	var authErr *driven.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "github", authErr.Provider)
}

func TestListRunsForBranch_ServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.ListRunsForBranch(context.Background(), "series_42", 0)
	var transientErr *driven.TransientError
	assert.ErrorAs(t, err, &transientErr)
}

func TestClassify(t *testing.T) {
	p := &Provider{}

	tests := []struct {
		status     string
		conclusion string
		want       model.RunResult
	}{
		{"queued", "", model.RunRunning},
		{"in_progress", "", model.RunRunning},
		{"completed", "success", model.RunSuccess},
		{"completed", "neutral", model.RunSuccess},
		{"completed", "skipped", model.RunSuccess},
		{"completed", "failure", model.RunFailure},
		{"completed", "timed_out", model.RunFailure},
		{"completed", "action_required", model.RunFailure},
		{"completed", "cancelled", model.RunCancelled},
		{"completed", "stale", model.RunErrored},
		{"completed", "", model.RunErrored},
	}

	for _, tt := range tests {
		got := p.Classify(model.RawRun{Status: tt.status, Conclusion: tt.conclusion})
		assert.Equal(t, tt.want, got, "status=%s conclusion=%s", tt.status, tt.conclusion)
	}
}

func TestSplitRepo(t *testing.T) {
	owner, repo, err := splitRepo("torvalds/linux")
	require.NoError(t, err)
	assert.Equal(t, "torvalds", owner)
	assert.Equal(t, "linux", repo)

	for _, bad := range []string{"", "linux", "/linux", "torvalds/"} {
		_, _, err := splitRepo(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
