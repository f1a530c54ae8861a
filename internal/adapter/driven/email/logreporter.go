package email

import (
	"context"
	"log/slog"

	"github.com/apconole/pw-ci/internal/domain/model"
)

// LogReporter is a Notifier that writes verdicts to the log instead of
// sending mail. Used when no SMTP endpoint is configured.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With("component", "report")}
}

// Notify logs the verdict and each run classification.
func (r *LogReporter) Notify(_ context.Context, report model.Report) error {
	r.logger.Info("verdict",
		"series", report.SeriesID,
		"name", report.SeriesName,
		"provider", report.Provider,
		"sha", report.CommitSHA,
		"verdict", report.Verdict,
	)
	for _, run := range report.Runs {
		r.logger.Info("verdict run",
			"series", report.SeriesID,
			"label", run.Label,
			"result", run.Result,
			"url", run.URL,
		)
	}
	return nil
}
