// Package cirrus implements the CIProvider port for the Cirrus CI GraphQL API.
package cirrus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CIProvider = (*Provider)(nil)

const defaultEndpoint = "https://api.cirrus-ci.com/graphql"

// buildsQuery fetches the most recent builds for a branch with their tasks.
const buildsQuery = `query BranchBuilds($owner: String!, $name: String!, $branch: String!) {
	ownerRepository(platform: "github", owner: $owner, name: $name) {
		builds(branch: $branch, last: 10) {
			edges {
				node {
					id
					status
					buildCreatedTimestamp
					tasks {
						id
						name
						status
					}
				}
			}
		}
	}
}`

// Provider polls Cirrus CI builds for series branches over GraphQL.
// Each Cirrus task maps to one run so distinct task names keep separate
// labels in the aggregated report.
type Provider struct {
	endpoint string
	owner    string
	repo     string
	token    string
	client   *http.Client
}

// NewProvider creates a Cirrus provider for the given "owner/repo" slug.
func NewProvider(token, repoFullName string) (*Provider, error) {
	parts := strings.SplitN(repoFullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid repo name %q: expected owner/repo", repoFullName)
	}

	return &Provider{
		endpoint: defaultEndpoint,
		owner:    parts[0],
		repo:     parts[1],
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// NewProviderWithEndpoint creates a Provider pointed at a custom GraphQL
// endpoint. Intended for testing against an httptest server.
func NewProviderWithEndpoint(token, repoFullName, endpoint string) (*Provider, error) {
	p, err := NewProvider(token, repoFullName)
	if err != nil {
		return nil, err
	}
	p.endpoint = endpoint
	return p, nil
}

// Name returns the provider key.
func (p *Provider) Name() string { return "cirrus" }

// graphqlRequest is the JSON body sent to the Cirrus GraphQL API.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// graphqlResponse is the expected response shape for the builds query.
type graphqlResponse struct {
	Data struct {
		OwnerRepository struct {
			Builds struct {
				Edges []struct {
					Node struct {
						ID                    string `json:"id"`
						Status                string `json:"status"`
						BuildCreatedTimestamp int64  `json:"buildCreatedTimestamp"`
						Tasks                 []struct {
							ID     string `json:"id"`
							Name   string `json:"name"`
							Status string `json:"status"`
						} `json:"tasks"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"builds"`
		} `json:"ownerRepository"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ListRunsForBranch retrieves tasks of recent builds for the branch, newest
// build first, filtered to task IDs newer than sinceCursor.
func (p *Provider) ListRunsForBranch(ctx context.Context, branch string, sinceCursor int64) ([]model.RawRun, error) {
	if branch == "" {
		return []model.RawRun{}, nil
	}
	reqBody, err := json.Marshal(graphqlRequest{
		Query: buildsQuery,
		Variables: map[string]any{
			"owner":  p.owner,
			"name":   p.repo,
			"branch": branch,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	var decoded graphqlResponse

	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+p.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "pw-ci cirrus-monitor")

		resp, err := p.client.Do(req)
		if err != nil {
			return &driven.TransientError{Provider: p.Name(), Err: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(&driven.AuthError{
				Provider: p.Name(),
				Err:      fmt.Errorf("cirrus returned %s", resp.Status),
			})
		case resp.StatusCode == http.StatusTooManyRequests:
			return &driven.RateLimitError{
				Provider:   p.Name(),
				RetryAfter: time.Minute,
				Err:        fmt.Errorf("cirrus returned %s", resp.Status),
			}
		case resp.StatusCode >= 500:
			return &driven.TransientError{
				Provider: p.Name(),
				Err:      fmt.Errorf("cirrus returned %s", resp.Status),
			}
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(&driven.MalformedResponseError{
				Provider: p.Name(),
				Err:      fmt.Errorf("unexpected status %s", resp.Status),
			})
		}

		decoded = graphqlResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return backoff.Permanent(&driven.MalformedResponseError{Provider: p.Name(), Err: err})
		}

		return nil
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(fetch, schedule); err != nil {
		return nil, err
	}

	if len(decoded.Errors) > 0 {
		return nil, &driven.MalformedResponseError{
			Provider: p.Name(),
			Err:      fmt.Errorf("graphql error: %s", decoded.Errors[0].Message),
		}
	}

	runs := []model.RawRun{}
	for _, edge := range decoded.Data.OwnerRepository.Builds.Edges {
		build := edge.Node
		buildURL := "https://cirrus-ci.com/build/" + build.ID

		for _, task := range build.Tasks {
			// Task IDs are snowflake-style and increase with creation;
			// fall back to the build timestamp if one does not parse.
			id, err := strconv.ParseInt(task.ID, 10, 64)
			if err != nil {
				id = build.BuildCreatedTimestamp
			}

			if id <= sinceCursor {
				continue
			}

			runs = append(runs, model.RawRun{
				ID:        id,
				Label:     task.Name,
				URL:       buildURL,
				Status:    task.Status,
				StartedAt: time.UnixMilli(build.BuildCreatedTimestamp),
			})
		}
	}

	return runs, nil
}

// Classify maps the Cirrus task status vocabulary onto the shared taxonomy.
func (p *Provider) Classify(run model.RawRun) model.RunResult {
	switch run.Status {
	case "CREATED", "TRIGGERED", "SCHEDULED", "EXECUTING", "PAUSED":
		return model.RunRunning
	case "COMPLETED", "SKIPPED":
		return model.RunSuccess
	case "FAILED":
		return model.RunFailure
	case "ABORTED":
		return model.RunCancelled
	case "ERRORED":
		return model.RunErrored
	default:
		return model.RunErrored
	}
}

// Describe returns run identification for report bodies.
func (p *Provider) Describe(run model.RawRun) model.RunInfo {
	return model.RunInfo{Label: run.Label, URL: run.URL}
}
