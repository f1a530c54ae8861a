// Package travis implements the CIProvider port for the Travis CI v3 API.
package travis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CIProvider = (*Provider)(nil)

const defaultAPIBase = "https://api.travis-ci.com"

// Provider polls Travis CI builds for series branches over the v3 REST API.
type Provider struct {
	apiBase  string
	webBase  string
	repoSlug string
	token    string
	client   *http.Client
}

// NewProvider creates a Travis provider for the given repository slug
// ("owner/repo") authenticated with the given API token.
func NewProvider(token, repoSlug string) *Provider {
	return &Provider{
		apiBase:  defaultAPIBase,
		webBase:  "https://app.travis-ci.com",
		repoSlug: repoSlug,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// NewProviderWithBaseURL creates a Provider pointed at a custom API base.
// Intended for testing against an httptest server.
func NewProviderWithBaseURL(token, repoSlug, apiBase string) *Provider {
	p := NewProvider(token, repoSlug)
	p.apiBase = apiBase
	p.webBase = apiBase
	return p
}

// Name returns the provider key.
func (p *Provider) Name() string { return "travis" }

// buildsResponse is the v3 builds collection envelope.
type buildsResponse struct {
	Builds []struct {
		ID        int64  `json:"id"`
		State     string `json:"state"`
		StartedAt string `json:"started_at"`
		Commit    struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	} `json:"builds"`
}

// ListRunsForBranch retrieves builds for the branch newer than sinceCursor,
// newest first. Travis reports one build per branch push, so every run
// carries the fixed "travis" label. Rate-limit responses are retried on an
// exponential backoff schedule before surfacing as a RateLimitError.
func (p *Provider) ListRunsForBranch(ctx context.Context, branch string, sinceCursor int64) ([]model.RawRun, error) {
	if branch == "" {
		return []model.RawRun{}, nil
	}
	reqURL := fmt.Sprintf("%s/repo/%s/builds?branch.name=%s&limit=25&sort_by=id:desc",
		p.apiBase, url.PathEscape(p.repoSlug), url.QueryEscape(branch))

	var decoded buildsResponse

	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "token "+p.token)
		req.Header.Set("Travis-API-Version", "3")
		req.Header.Set("User-Agent", "pw-ci travis-monitor")

		resp, err := p.client.Do(req)
		if err != nil {
			return &driven.TransientError{Provider: p.Name(), Err: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(&driven.AuthError{
				Provider: p.Name(),
				Err:      fmt.Errorf("travis returned %s", resp.Status),
			})
		case resp.StatusCode == http.StatusTooManyRequests:
			return &driven.RateLimitError{
				Provider:   p.Name(),
				RetryAfter: retryAfter(resp),
				Err:        fmt.Errorf("travis returned %s", resp.Status),
			}
		case resp.StatusCode >= 500:
			return &driven.TransientError{
				Provider: p.Name(),
				Err:      fmt.Errorf("travis returned %s", resp.Status),
			}
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(&driven.MalformedResponseError{
				Provider: p.Name(),
				Err:      fmt.Errorf("unexpected status %s", resp.Status),
			})
		}

		decoded = buildsResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return backoff.Permanent(&driven.MalformedResponseError{Provider: p.Name(), Err: err})
		}

		return nil
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(fetch, schedule); err != nil {
		return nil, err
	}

	runs := []model.RawRun{}
	for _, b := range decoded.Builds {
		if b.ID <= sinceCursor {
			continue
		}

		var startedAt time.Time
		if b.StartedAt != "" {
			startedAt, _ = time.Parse(time.RFC3339, b.StartedAt)
		}

		runs = append(runs, model.RawRun{
			ID:        b.ID,
			Label:     "travis",
			URL:       fmt.Sprintf("%s/github/%s/builds/%s", p.webBase, p.repoSlug, strconv.FormatInt(b.ID, 10)),
			Status:    b.State,
			StartedAt: startedAt,
		})
	}

	return runs, nil
}

// Classify maps the Travis build state vocabulary onto the shared taxonomy.
func (p *Provider) Classify(run model.RawRun) model.RunResult {
	switch run.Status {
	case "created", "queued", "received", "started":
		return model.RunRunning
	case "passed":
		return model.RunSuccess
	case "failed":
		return model.RunFailure
	case "errored":
		return model.RunErrored
	case "canceled":
		return model.RunCancelled
	default:
		return model.RunErrored
	}
}

// Describe returns run identification for report bodies.
func (p *Provider) Describe(run model.RawRun) model.RunInfo {
	return model.RunInfo{Label: run.Label, URL: run.URL}
}

// retryAfter parses the Retry-After header, defaulting to one minute.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}
