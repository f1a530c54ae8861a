package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

const recheckPrefix = "Recheck-request:"

// RecheckService scans patch comments for recheck directives and spawns new
// build attempts for the named providers. Comment identifiers are recorded so
// each directive is honored at most once.
type RecheckService struct {
	patchwork driven.PatchworkClient
	series    driven.SeriesStore
	attempts  driven.AttemptStore
	requests  driven.RecheckStore
	providers map[string]bool
	logger    *slog.Logger
}

func NewRecheckService(
	patchwork driven.PatchworkClient,
	series driven.SeriesStore,
	attempts driven.AttemptStore,
	requests driven.RecheckStore,
	providerNames []string,
	logger *slog.Logger,
) *RecheckService {
	known := make(map[string]bool, len(providerNames))
	for _, name := range providerNames {
		known[name] = true
	}

	return &RecheckService{
		patchwork: patchwork,
		series:    series,
		attempts:  attempts,
		requests:  requests,
		providers: known,
		logger:    logger.With("component", "recheck"),
	}
}

// Scan walks the comments of every active series, records new recheck
// directives, then processes everything still pending. Per-series fetch
// failures are logged and skipped; they do not abort the scan.
func (s *RecheckService) Scan(ctx context.Context) error {
	active, err := s.series.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active series: %w", err)
	}

	for _, series := range active {
		if err := s.scanSeries(ctx, series); err != nil {
			s.logger.Warn("comment scan failed", "series", series.ID, "error", err)
		}
	}

	return s.process(ctx)
}

func (s *RecheckService) scanSeries(ctx context.Context, series model.Series) error {
	for _, patchID := range series.PatchIDs {
		comments, err := s.patchwork.ListComments(ctx, patchID)
		if err != nil {
			return fmt.Errorf("listing comments for patch %d: %w", patchID, err)
		}

		for _, comment := range comments {
			for _, name := range ParseRecheckDirective(comment.Content) {
				recorded, err := s.requests.Record(ctx, model.RecheckRequest{
					CommentID:   comment.MessageID,
					SeriesID:    series.ID,
					PatchID:     patchID,
					Provider:    name,
					RequestedBy: comment.Submitter,
				})
				if err != nil {
					return fmt.Errorf("recording recheck request: %w", err)
				}
				if recorded {
					s.logger.Info("recheck requested",
						"series", series.ID, "provider", name, "by", comment.Submitter)
				}
			}
		}
	}

	return nil
}

func (s *RecheckService) process(ctx context.Context) error {
	pending, err := s.requests.ListUnprocessed(ctx)
	if err != nil {
		return fmt.Errorf("listing unprocessed rechecks: %w", err)
	}

	for _, req := range pending {
		if err := s.processRequest(ctx, req); err != nil {
			return err
		}
	}

	return nil
}

func (s *RecheckService) processRequest(ctx context.Context, req model.RecheckRequest) error {
	if !s.providers[req.Provider] {
		s.logger.Warn("recheck names unknown provider",
			"series", req.SeriesID, "provider", req.Provider, "comment", req.CommentID)
		return s.requests.MarkProcessed(ctx, req.ID)
	}

	series, err := s.series.Get(ctx, req.SeriesID)
	if err != nil {
		return fmt.Errorf("loading series %d: %w", req.SeriesID, err)
	}
	if series == nil || series.Retired {
		s.logger.Warn("recheck for retired or unknown series", "series", req.SeriesID)
		return s.requests.MarkProcessed(ctx, req.ID)
	}

	_, err = s.attempts.Create(ctx, model.BuildAttempt{
		SeriesID:  series.ID,
		Provider:  req.Provider,
		CommitSHA: series.HeadSHA,
		State:     model.AttemptPending,
	})
	var integrity *driven.StoreIntegrityError
	switch {
	case errors.As(err, &integrity):
		if s.slotDraining(ctx, series, req.Provider) {
			// The blocking attempt already has its verdict and only
			// awaits report delivery. Hold the request so it spawns a
			// genuine re-run once the slot frees, instead of being
			// swallowed as redundant.
			s.logger.Info("recheck deferred until verdict is reported",
				"series", series.ID, "provider", req.Provider)
			return nil
		}
		// A run is still in flight for this commit; the recheck is
		// redundant.
		s.logger.Info("recheck already in flight",
			"series", series.ID, "provider", req.Provider)
	case err != nil:
		return fmt.Errorf("spawning recheck attempt: %w", err)
	default:
		s.logger.Info("recheck attempt spawned",
			"series", series.ID, "provider", req.Provider, "sha", series.HeadSHA)
	}

	return s.requests.MarkProcessed(ctx, req.ID)
}

// slotDraining reports whether the attempt blocking the (series, provider,
// head) slot is terminal but not yet reported. Such a slot frees as soon as
// the report goes out.
func (s *RecheckService) slotDraining(ctx context.Context, series *model.Series, provider string) bool {
	attempts, err := s.attempts.ListBySeries(ctx, series.ID)
	if err != nil {
		return false
	}

	for _, a := range attempts {
		if a.Provider == provider && a.CommitSHA == series.HeadSHA && a.Active() {
			return a.Terminal()
		}
	}

	return false
}

// ParseRecheckDirective extracts provider names from a comment body. A
// directive is a line of the form "Recheck-request: github, travis"; names
// are lowercased and deduplicated in order of first appearance.
func ParseRecheckDirective(content string) []string {
	var names []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, recheckPrefix) {
			continue
		}

		for _, part := range strings.Split(line[len(recheckPrefix):], ",") {
			name := strings.ToLower(strings.TrimSpace(part))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}

	return names
}
