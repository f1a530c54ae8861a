package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apconole/pw-ci/internal/domain/model"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

const scanKeyEvents = "patchwork_events_since"

// MonitorOptions tune the monitor loop.
type MonitorOptions struct {
	Interval    time.Duration
	PollTimeout time.Duration
	Workers     int
	Retention   time.Duration
	DryRun      bool
}

// MonitorService drives the poll cycle: discover new series from patchwork,
// scan for recheck directives, poll every active attempt against its CI
// backend, report freshly terminal attempts, and prune old rows.
type MonitorService struct {
	patchwork   driven.PatchworkClient
	providers   map[string]driven.CIProvider
	series      driven.SeriesStore
	attempts    driven.AttemptStore
	checkpoints driven.CheckpointStore
	scanState   driven.ScanStateStore
	recheck     *RecheckService
	notifier    driven.Notifier
	opts        MonitorOptions
	logger      *slog.Logger

	pollCh chan pollRequest
}

type pollRequest struct {
	done chan error
}

func NewMonitorService(
	patchwork driven.PatchworkClient,
	providers []driven.CIProvider,
	series driven.SeriesStore,
	attempts driven.AttemptStore,
	checkpoints driven.CheckpointStore,
	scanState driven.ScanStateStore,
	recheck *RecheckService,
	notifier driven.Notifier,
	opts MonitorOptions,
	logger *slog.Logger,
) *MonitorService {
	byName := make(map[string]driven.CIProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}

	return &MonitorService{
		patchwork:   patchwork,
		providers:   byName,
		series:      series,
		attempts:    attempts,
		checkpoints: checkpoints,
		scanState:   scanState,
		recheck:     recheck,
		notifier:    notifier,
		opts:        opts,
		logger:      logger.With("component", "monitor"),
		pollCh:      make(chan pollRequest),
	}
}

// Start runs the monitor loop until ctx is cancelled. One cycle runs
// immediately, then on every tick or PollNow request.
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("monitor started",
		"interval", s.opts.Interval, "workers", s.opts.Workers, "dry_run", s.opts.DryRun)

	if err := s.Cycle(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Cycle(ctx); err != nil {
				return err
			}
		case req := <-s.pollCh:
			req.done <- s.Cycle(ctx)
		}
	}
}

// PollNow runs a cycle out of band and waits for it to finish.
func (s *MonitorService) PollNow(ctx context.Context) error {
	req := pollRequest{done: make(chan error, 1)}

	select {
	case s.pollCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cycle runs one full pass. Backend and patchwork failures are logged and
// isolated to the attempt or series they affect; only store integrity
// violations abort the cycle, since they indicate corrupted local state.
func (s *MonitorService) Cycle(ctx context.Context) error {
	start := time.Now()

	if err := s.discoverSeries(ctx); err != nil {
		s.logger.Warn("series discovery failed", "error", err)
	}

	if err := s.refreshSeries(ctx); err != nil {
		s.logger.Warn("series refresh failed", "error", err)
	}

	if err := s.recheck.Scan(ctx); err != nil {
		s.logger.Warn("recheck scan failed", "error", err)
	}

	if err := s.pollAttempts(ctx); err != nil {
		return err
	}

	if err := s.reportVerdicts(ctx); err != nil {
		return err
	}

	s.pruneAttempts(ctx)

	s.logger.Info("cycle complete", "took", time.Since(start))
	return nil
}

// discoverSeries pulls series-created events newer than the stored event
// cursor and seeds one pending attempt per configured provider for each new
// series. The cursor only advances after the batch is stored, so a crash
// mid-batch re-observes rather than drops.
func (s *MonitorService) discoverSeries(ctx context.Context) error {
	since := time.Now().Add(-24 * time.Hour)
	if raw, err := s.scanState.Get(ctx, scanKeyEvents); err != nil {
		return fmt.Errorf("loading event cursor: %w", err)
	} else if raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			since = parsed
		}
	}

	cursor := time.Now().UTC()

	discovered, err := s.patchwork.ListNewSeries(ctx, since)
	if err != nil {
		return fmt.Errorf("listing new series: %w", err)
	}

	for _, series := range discovered {
		existing, err := s.series.Get(ctx, series.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		if err := s.series.Add(ctx, series); err != nil {
			return fmt.Errorf("storing series %d: %w", series.ID, err)
		}
		s.logger.Info("series discovered",
			"series", series.ID, "name", series.Name, "submitter", series.SubmitterName)

		if err := s.seedAttempts(ctx, series); err != nil {
			return err
		}
	}

	return s.scanState.Set(ctx, scanKeyEvents, cursor.Format(time.RFC3339))
}

// seedAttempts creates one pending attempt per configured provider. The run
// cursor starts at the stored checkpoint so runs already attributed to an
// earlier revision are not folded into the new attempt.
func (s *MonitorService) seedAttempts(ctx context.Context, series model.Series) error {
	for name := range s.providers {
		cp, err := s.checkpoints.GetCheckpoint(ctx, series.ID, name)
		if err != nil {
			return fmt.Errorf("loading %s checkpoint for series %d: %w", name, series.ID, err)
		}

		_, err = s.attempts.Create(ctx, model.BuildAttempt{
			SeriesID:  series.ID,
			Provider:  name,
			CommitSHA: series.HeadSHA,
			State:     model.AttemptPending,
			RunCursor: cp.Cursor,
		})
		var integrity *driven.StoreIntegrityError
		if errors.As(err, &integrity) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seeding %s attempt for series %d: %w", name, series.ID, err)
		}
	}
	return nil
}

// refreshSeries reconciles every active series against patchwork. Series
// whose patches all reached a final state (superseded, accepted, rejected)
// are retired. A changed head patch hash means the submitter pushed a new
// revision: the stored head is bumped and fresh attempts are seeded for it.
func (s *MonitorService) refreshSeries(ctx context.Context) error {
	active, err := s.series.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, series := range active {
		patches, err := s.patchwork.ListPatches(ctx, series.ID)
		if err != nil {
			s.logger.Warn("patch state lookup failed", "series", series.ID, "error", err)
			continue
		}
		if len(patches) == 0 {
			continue
		}

		finished := true
		for _, patch := range patches {
			if !model.FinalPatchStates[patch.State] {
				finished = false
				break
			}
		}
		if finished {
			if err := s.series.Retire(ctx, series.ID); err != nil {
				return fmt.Errorf("retiring series %d: %w", series.ID, err)
			}
			s.logger.Info("series retired", "series", series.ID, "state", patches[0].State)
			continue
		}

		head := patches[len(patches)-1].Hash
		if head == "" || head == series.HeadSHA {
			continue
		}

		patchIDs := make([]int64, 0, len(patches))
		for _, patch := range patches {
			patchIDs = append(patchIDs, patch.ID)
		}

		if err := s.series.UpdateHead(ctx, series.ID, head, patchIDs); err != nil {
			return fmt.Errorf("updating head of series %d: %w", series.ID, err)
		}
		s.logger.Info("series resubmitted", "series", series.ID, "head", head)

		series.HeadSHA = head
		series.PatchIDs = patchIDs
		if err := s.seedAttempts(ctx, series); err != nil {
			return err
		}
	}

	return nil
}

// pollAttempts fans the active attempt set out over a bounded worker pool.
// A failing backend skips its attempts for the rest of the cycle (auth
// errors) or just this attempt (transient errors); other backends keep
// making progress.
func (s *MonitorService) pollAttempts(ctx context.Context) error {
	active, err := s.attempts.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active attempts: %w", err)
	}

	var (
		mu       sync.Mutex
		authSkip = make(map[string]bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, attempt := range active {
		if attempt.Terminal() {
			// Terminal-but-unreported attempts are handled by the report
			// phase; nothing left to poll.
			continue
		}
		g.Go(func() error {
			provider, ok := s.providers[attempt.Provider]
			if !ok {
				// Attempt rows can outlive a provider being deconfigured.
				return nil
			}

			mu.Lock()
			skip := authSkip[attempt.Provider]
			mu.Unlock()
			if skip {
				return nil
			}

			authFailed, err := s.pollAttempt(gctx, provider, attempt)
			if authFailed {
				mu.Lock()
				if !authSkip[attempt.Provider] {
					authSkip[attempt.Provider] = true
					s.logger.Warn("authentication failed, skipping backend this cycle",
						"provider", attempt.Provider)
				}
				mu.Unlock()
			}
			return err
		})
	}

	return g.Wait()
}

// pollAttempt fetches fresh runs for one attempt and applies the correlated
// update. The returned bool reports an auth failure; the returned error is
// reserved for store integrity violations.
func (s *MonitorService) pollAttempt(ctx context.Context, provider driven.CIProvider, attempt model.BuildAttempt) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PollTimeout)
	defer cancel()

	branch := model.Series{ID: attempt.SeriesID}.Branch()

	fresh, err := provider.ListRunsForBranch(ctx, branch, attempt.RunCursor)
	if err != nil {
		var (
			authErr      *driven.AuthError
			rateErr      *driven.RateLimitError
			transientErr *driven.TransientError
			malformedErr *driven.MalformedResponseError
		)
		switch {
		case errors.As(err, &authErr):
			return true, nil
		case errors.As(err, &rateErr):
			s.logger.Warn("rate limited", "provider", provider.Name(),
				"retry_after", rateErr.RetryAfter, "attempt", attempt.ID)
		case errors.As(err, &transientErr):
			s.logger.Warn("poll failed", "provider", provider.Name(),
				"attempt", attempt.ID, "error", err)
		case errors.As(err, &malformedErr):
			s.logger.Error("malformed backend response", "provider", provider.Name(),
				"attempt", attempt.ID, "error", err)
		default:
			s.logger.Warn("poll failed", "provider", provider.Name(),
				"attempt", attempt.ID, "error", err)
		}
		return false, nil
	}

	if len(fresh) == 0 {
		return false, nil
	}

	existing, err := s.attempts.GetRuns(ctx, attempt.ID)
	if err != nil {
		return false, s.fatalOnly(err, "loading runs")
	}

	update := CorrelateRuns(attempt, existing, fresh, provider)

	if err := s.attempts.ApplyPollResult(ctx, update); err != nil {
		return false, s.fatalOnly(err, "applying poll result")
	}

	if update.Attempt.Terminal() {
		s.logger.Info("attempt terminal",
			"attempt", attempt.ID, "series", attempt.SeriesID,
			"provider", attempt.Provider, "verdict", update.Attempt.Verdict)
	}

	return false, nil
}

// fatalOnly propagates store integrity violations and downgrades everything
// else to a logged warning, keeping one attempt's store hiccup from aborting
// the whole cycle.
func (s *MonitorService) fatalOnly(err error, op string) error {
	var integrity *driven.StoreIntegrityError
	if errors.As(err, &integrity) {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Warn("store operation failed", "op", op, "error", err)
	return nil
}

// reportVerdicts notifies once for every terminal attempt not yet reported.
// The reported flag is only set after the notifier succeeds, so a delivery
// failure retries next cycle.
func (s *MonitorService) reportVerdicts(ctx context.Context) error {
	unreported, err := s.attempts.ListUnreportedTerminal(ctx)
	if err != nil {
		return fmt.Errorf("listing unreported attempts: %w", err)
	}

	for _, attempt := range unreported {
		report, err := s.composeReport(ctx, attempt)
		if err != nil {
			s.logger.Warn("report composition failed", "attempt", attempt.ID, "error", err)
			continue
		}

		if s.opts.DryRun {
			s.logger.Info("dry run, suppressing report",
				"attempt", attempt.ID, "series", attempt.SeriesID,
				"provider", attempt.Provider, "verdict", attempt.Verdict)
			continue
		}

		if err := s.notifier.Notify(ctx, *report); err != nil {
			s.logger.Error("report delivery failed", "attempt", attempt.ID, "error", err)
			continue
		}

		if err := s.attempts.MarkReported(ctx, attempt.ID); err != nil {
			return s.fatalOnly(err, "marking reported")
		}

		s.logger.Info("report delivered",
			"attempt", attempt.ID, "series", attempt.SeriesID,
			"provider", attempt.Provider, "verdict", attempt.Verdict)
	}

	return nil
}

func (s *MonitorService) composeReport(ctx context.Context, attempt model.BuildAttempt) (*model.Report, error) {
	series, err := s.series.Get(ctx, attempt.SeriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, fmt.Errorf("series %d not found", attempt.SeriesID)
	}

	runs, err := s.attempts.GetRuns(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}

	report := model.Report{
		AttemptID:  attempt.ID,
		SeriesID:   series.ID,
		SeriesName: series.Name,
		Provider:   attempt.Provider,
		CommitSHA:  attempt.CommitSHA,
		Verdict:    attempt.Verdict,
		Recipient:  series.SubmitterEmail,
	}
	for _, run := range runs {
		report.Runs = append(report.Runs, model.ReportRun{
			Label:  run.Label,
			Result: run.Result,
			URL:    run.URL,
		})
	}

	// The patch URL and message id thread the report into the series'
	// mail discussion. Best effort: a patchwork outage should not block
	// the verdict going out.
	if patches, err := s.patchwork.ListPatches(ctx, series.ID); err == nil && len(patches) > 0 {
		last := patches[len(patches)-1]
		report.PatchURL = last.URL
		report.MessageID = last.MessageID
	} else if err != nil {
		s.logger.Warn("patch lookup for report failed", "series", series.ID, "error", err)
	}

	return &report, nil
}

func (s *MonitorService) pruneAttempts(ctx context.Context) {
	if s.opts.Retention <= 0 {
		return
	}

	pruned, err := s.attempts.PruneReported(ctx, time.Now().Add(-s.opts.Retention))
	if err != nil {
		s.logger.Warn("prune failed", "error", err)
		return
	}
	if pruned > 0 {
		s.logger.Info("pruned reported attempts", "count", pruned)
	}
}
