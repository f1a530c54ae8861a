package travis

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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

	return NewProviderWithBaseURL("secret-token", "apconole/pw-test", srv.URL)
}

func TestListRunsForBranch(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repo/apconole%2Fpw-test/builds", r.URL.EscapedPath())
		assert.Equal(t, "series_42", r.URL.Query().Get("branch.name"))
		assert.Equal(t, "token secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "3", r.Header.Get("Travis-API-Version"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"builds": [
				{"id": 300, "state": "started", "started_at": "2026-02-10T13:00:00Z"},
				{"id": 200, "state": "passed", "started_at": "2026-02-09T10:00:00Z"}
			]
		}`)
	})

	runs, err := p.ListRunsForBranch(context.Background(), "series_42", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, int64(300), runs[0].ID)
	assert.Equal(t, "travis", runs[0].Label)
	assert.Equal(t, "started", runs[0].Status)
	assert.Contains(t, runs[0].URL, "/builds/300")
	assert.False(t, runs[0].StartedAt.IsZero())
}

func TestListRunsForBranch_CursorFilter(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"builds": [{"id": 300, "state": "passed"}, {"id": 200, "state": "failed"}]}`)
	})

	runs, err := p.ListRunsForBranch(context.Background(), "series_42", 250)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(300), runs[0].ID)
}

func TestListRunsForBranch_AuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := p.ListRunsForBranch(context.Background(), "series_42", 0)
	var authErr *driven.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(1), calls.Load())
}

func TestListRunsForBranch_RateLimitRetried(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"builds": [{"id": 100, "state": "passed"}]}`)
	})

	runs, err := p.ListRunsForBranch(context.Background(), "series_42", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestListRunsForBranch_MalformedBody(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"builds": [`)
	})

	_, err := p.ListRunsForBranch(context.Background(), "series_42", 0)
	var malformedErr *driven.MalformedResponseError
	assert.ErrorAs(t, err, &malformedErr)
}

func TestClassify(t *testing.T) {
	p := NewProvider("", "apconole/pw-test")

	tests := []struct {
		state string
		want  model.RunResult
	}{
		{"created", model.RunRunning},
		{"queued", model.RunRunning},
		{"received", model.RunRunning},
		{"started", model.RunRunning},
		{"passed", model.RunSuccess},
		{"failed", model.RunFailure},
		{"errored", model.RunErrored},
		{"canceled", model.RunCancelled},
		{"something-new", model.RunErrored},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Classify(model.RawRun{Status: tt.state}), "state=%s", tt.state)
	}
}
