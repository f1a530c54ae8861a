// Package patchwork implements the PatchworkClient port over the Patchwork
// REST API. No Go SDK exists for Patchwork, so this adapter speaks plain
// net/http JSON.
package patchwork

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PatchworkClient = (*Client)(nil)

// Client talks to one Patchwork instance for one project.
type Client struct {
	baseURL  string
	project  string
	username string
	password string
	client   *http.Client
}

// NewClient creates a client for the given instance URL and project.
// credentials is an optional "user:pass" pair for basic auth.
func NewClient(instanceURL, project, credentials string) (*Client, error) {
	c := &Client{
		baseURL: strings.TrimRight(instanceURL, "/"),
		project: project,
		client:  &http.Client{Timeout: 30 * time.Second},
	}

	if credentials != "" {
		user, pass, ok := strings.Cut(credentials, ":")
		if !ok {
			return nil, fmt.Errorf("invalid patchwork credentials: expected user:pass")
		}
		c.username = user
		c.password = pass
	}

	return c, nil
}

// get performs a GET against the API and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "pw-ci patchwork-client")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	return nil
}

var errNotFound = fmt.Errorf("patchwork: not found")

// seriesEvent is the series-created event envelope.
type seriesEvent struct {
	Payload struct {
		Series struct {
			ID int64 `json:"id"`
		} `json:"series"`
	} `json:"payload"`
}

// seriesDetail is the series detail response.
type seriesDetail struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Submitter struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"submitter"`
	Patches []struct {
		ID        int64  `json:"id"`
		URL       string `json:"url"`
		MessageID string `json:"msgid"`
		Name      string `json:"name"`
	} `json:"patches"`
}

// patchDetail is the patch detail response. The hash identifies the patch
// content; the hash of a series' last patch serves as its head revision.
type patchDetail struct {
	ID    int64  `json:"id"`
	State string `json:"state"`
	Hash  string `json:"hash"`
}

// comment is one entry of the patch comment list.
type comment struct {
	ID        int64  `json:"id"`
	MessageID string `json:"msgid"`
	Submitter struct {
		Name string `json:"name"`
	} `json:"submitter"`
	Content string `json:"content"`
	Date    string `json:"date"`
}

// ListNewSeries returns series created since the given time, resolved to
// full series detail the way the event feed consumers expect.
func (c *Client) ListNewSeries(ctx context.Context, since time.Time) ([]model.Series, error) {
	params := url.Values{}
	params.Set("category", "series-created")
	params.Set("project", c.project)
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339))
	}

	var events []seriesEvent
	if err := c.get(ctx, "/api/events/", params, &events); err != nil {
		return nil, fmt.Errorf("list series events: %w", err)
	}

	var out []model.Series
	for _, ev := range events {
		s, err := c.GetSeries(ctx, ev.Payload.Series.ID)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, *s)
		}
	}

	return out, nil
}

// GetSeries returns current series detail. Returns nil, nil if unknown.
func (c *Client) GetSeries(ctx context.Context, id int64) (*model.Series, error) {
	var detail seriesDetail
	err := c.get(ctx, fmt.Sprintf("/api/series/%d/", id), nil, &detail)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get series %d: %w", id, err)
	}

	patchIDs := make([]int64, 0, len(detail.Patches))
	for _, p := range detail.Patches {
		patchIDs = append(patchIDs, p.ID)
	}

	// The last patch's content hash is the series head revision; it changes
	// when the submitter pushes a new version.
	var head string
	if n := len(detail.Patches); n > 0 {
		var pd patchDetail
		err := c.get(ctx, fmt.Sprintf("/api/patches/%d/", detail.Patches[n-1].ID), nil, &pd)
		if err != nil && err != errNotFound {
			return nil, fmt.Errorf("get head patch of series %d: %w", id, err)
		}
		head = pd.Hash
	}

	return &model.Series{
		ID:             detail.ID,
		Project:        c.project,
		Name:           detail.Name,
		SubmitterName:  detail.Submitter.Name,
		SubmitterEmail: detail.Submitter.Email,
		PatchIDs:       patchIDs,
		HeadSHA:        head,
	}, nil
}

// ListPatches returns the patches of a series in submission order, with each
// patch's current state resolved from the patch detail endpoint.
func (c *Client) ListPatches(ctx context.Context, seriesID int64) ([]model.PatchRef, error) {
	var detail seriesDetail
	if err := c.get(ctx, fmt.Sprintf("/api/series/%d/", seriesID), nil, &detail); err != nil {
		return nil, fmt.Errorf("get series %d patches: %w", seriesID, err)
	}

	refs := make([]model.PatchRef, 0, len(detail.Patches))
	for _, p := range detail.Patches {
		var pd patchDetail
		if err := c.get(ctx, fmt.Sprintf("/api/patches/%d/", p.ID), nil, &pd); err != nil {
			return nil, fmt.Errorf("get patch %d: %w", p.ID, err)
		}

		refs = append(refs, model.PatchRef{
			ID:        p.ID,
			URL:       p.URL,
			MessageID: p.MessageID,
			Name:      p.Name,
			State:     pd.State,
			Hash:      pd.Hash,
		})
	}

	return refs, nil
}

// ListComments returns the comments on a patch, oldest first.
func (c *Client) ListComments(ctx context.Context, patchID int64) ([]model.PatchComment, error) {
	var comments []comment
	if err := c.get(ctx, fmt.Sprintf("/api/patches/%d/comments/", patchID), nil, &comments); err != nil {
		return nil, fmt.Errorf("list comments for patch %d: %w", patchID, err)
	}

	out := make([]model.PatchComment, 0, len(comments))
	for _, cm := range comments {
		created, _ := time.Parse(time.RFC3339, cm.Date)

		out = append(out, model.PatchComment{
			MessageID: cm.MessageID,
			PatchID:   patchID,
			Submitter: cm.Submitter.Name,
			Content:   cm.Content,
			CreatedAt: created,
		})
	}

	return out, nil
}
