// Package github implements the CIProvider port for GitHub Actions using the
// go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CIProvider = (*Provider)(nil)

// Provider polls GitHub Actions workflow runs for series branches.
type Provider struct {
	gh    *gh.Client
	owner string
	repo  string
}

// NewProvider creates a GitHub Actions provider with the following transport
// stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewProvider(token, repoFullName string) (*Provider, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Provider{gh: client, owner: owner, repo: repo}, nil
}

// NewProviderWithHTTPClient creates a Provider with a custom http.Client and
// base URL. Intended for testing against an httptest server.
func NewProviderWithHTTPClient(httpClient *http.Client, baseURL, repoFullName string) (*Provider, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Provider{gh: client, owner: owner, repo: repo}, nil
}

// Name returns the provider key.
func (p *Provider) Name() string { return "github" }

// ListRunsForBranch retrieves workflow runs for the branch newer than
// sinceCursor, newest first. Run IDs increase with creation, so pagination
// stops at the first page whose oldest run is already behind the cursor.
func (p *Provider) ListRunsForBranch(ctx context.Context, branch string, sinceCursor int64) ([]model.RawRun, error) {
	if branch == "" {
		return []model.RawRun{}, nil
	}
	opts := &gh.ListWorkflowRunsOptions{
		Branch:      branch,
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var runs []model.RawRun

	for {
		result, resp, err := p.gh.Actions.ListRepositoryWorkflowRuns(ctx, p.owner, p.repo, opts)
		if err != nil {
			return nil, p.mapError(err)
		}

		logRateLimit(resp, branch, opts.Page, len(result.WorkflowRuns))

		var pastCursor bool
		for _, run := range result.WorkflowRuns {
			if run.GetID() <= sinceCursor {
				pastCursor = true
				continue
			}
			runs = append(runs, mapRun(run))
		}

		if pastCursor || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if runs == nil {
		runs = []model.RawRun{}
	}

	return runs, nil
}

// Classify maps GitHub Actions status/conclusion onto the shared taxonomy.
// A run not yet completed is running; unknown conclusions classify as errored
// so they stay visible.
func (p *Provider) Classify(run model.RawRun) model.RunResult {
	if run.Status != "completed" {
		return model.RunRunning
	}

	switch run.Conclusion {
	case "success", "neutral", "skipped":
		return model.RunSuccess
	case "failure", "timed_out", "action_required":
		return model.RunFailure
	case "cancelled":
		return model.RunCancelled
	default:
		return model.RunErrored
	}
}

// Describe returns run identification for report bodies.
func (p *Provider) Describe(run model.RawRun) model.RunInfo {
	return model.RunInfo{Label: run.Label, URL: run.URL}
}

// mapError translates go-github error types onto the provider error taxonomy.
func (p *Provider) mapError(err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &driven.RateLimitError{
			Provider:   p.Name(),
			RetryAfter: time.Until(rateErr.Rate.Reset.Time),
			Err:        err,
		}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &driven.RateLimitError{
			Provider:   p.Name(),
			RetryAfter: abuseErr.GetRetryAfter(),
			Err:        err,
		}
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &driven.AuthError{Provider: p.Name(), Err: err}
		}
	}

	return &driven.TransientError{Provider: p.Name(), Err: err}
}

// mapRun converts a go-github WorkflowRun to a provider-native RawRun.
// GetXxx() helpers are used exclusively to avoid nil pointer panics.
func mapRun(run *gh.WorkflowRun) model.RawRun {
	return model.RawRun{
		ID:         run.GetID(),
		Label:      run.GetName(),
		URL:        run.GetHTMLURL(),
		Status:     run.GetStatus(),
		Conclusion: run.GetConclusion(),
		StartedAt:  run.GetRunStartedAt().Time,
	}
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, branch string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"branch", branch,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits an "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
