// Package dummy implements a deterministic CIProvider used in tests and
// dry-run deployments. Runs are scripted per branch; nothing leaves the
// process.
package dummy

import (
	"context"
	"sync"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CIProvider = (*Provider)(nil)

// Provider serves scripted runs. Seed runs for a branch before polling;
// ListRunsForBranch applies the same cursor filtering a real backend would.
type Provider struct {
	mu   sync.Mutex
	runs map[string][]model.RawRun
	err  error
}

// NewProvider creates an empty dummy provider.
func NewProvider() *Provider {
	return &Provider{runs: make(map[string][]model.RawRun)}
}

// Seed appends scripted runs for a branch.
func (p *Provider) Seed(branch string, runs ...model.RawRun) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs[branch] = append(p.runs[branch], runs...)
}

// Fail makes every subsequent ListRunsForBranch call return err until reset
// with Fail(nil). Used to script provider outages in tests.
func (p *Provider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Name returns the provider key.
func (p *Provider) Name() string { return "dummy" }

// ListRunsForBranch returns scripted runs newer than sinceCursor.
func (p *Provider) ListRunsForBranch(_ context.Context, branch string, sinceCursor int64) ([]model.RawRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}

	out := []model.RawRun{}
	for _, run := range p.runs[branch] {
		if run.ID > sinceCursor {
			out = append(out, run)
		}
	}

	return out, nil
}

// Classify interprets the scripted status directly as a RunResult.
func (p *Provider) Classify(run model.RawRun) model.RunResult {
	switch model.RunResult(run.Status) {
	case model.RunRunning, model.RunSuccess, model.RunFailure, model.RunErrored, model.RunCancelled:
		return model.RunResult(run.Status)
	default:
		return model.RunErrored
	}
}

// Describe returns run identification for report bodies.
func (p *Provider) Describe(run model.RawRun) model.RunInfo {
	return model.RunInfo{Label: run.Label, URL: run.URL}
}
