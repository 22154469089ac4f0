package workflow

import (
	"context"
	"log/slog"
	"time"

	"squish/internal/config"
	"squish/internal/history"
	"squish/internal/logging"
	"squish/internal/preflight"
	"squish/internal/report"
)

func writeReport(dir string, out Outcome) (string, error) {
	return report.Write(dir, report.Run{
		Started:  out.Started,
		Finished: out.Finished,
		Summary:  out.Summary,
	})
}

func writeCrash(dir string, when time.Time, cause error) (string, error) {
	return report.WriteCrash(dir, when, cause)
}

func writeAlreadyRunning(dir string, when time.Time) (string, error) {
	return report.WriteAlreadyRunning(dir, when)
}

// reportRetention prunes dated reports but never the live status artifact,
// which may share the report directory.
func reportRetention(cfg *config.Config) logging.RetentionTarget {
	return logging.RetentionTarget{
		Dir:     cfg.Paths.ReportDir,
		Pattern: report.Pattern,
		Exclude: []string{cfg.Paths.StatusFile},
	}
}

func runPreflight(ctx context.Context, cfg *config.Config, resolver PresetResolver) []preflight.Result {
	return preflight.RunAll(ctx, cfg, resolver)
}

func (r *Runner) recordHistory(ctx context.Context, logger *slog.Logger, out Outcome, runErr error) {
	if !r.cfg.History.Enabled {
		return
	}
	store, err := history.Open(r.cfg.HistoryPath())
	if err != nil {
		logging.WarnWithContext(logger, "run history unavailable", "history_open_failed",
			logging.String(logging.FieldImpact, "this run is missing from 'squish history'"),
			logging.Error(err),
		)
		return
	}
	defer store.Close()

	entry := history.NewEntry(out.RunID, out.Started, out.Finished, out.Summary, runErr)
	if err := store.Record(ctx, entry); err != nil {
		logging.WarnWithContext(logger, "run history not recorded", "history_record_failed",
			logging.String(logging.FieldImpact, "this run is missing from 'squish history'"),
			logging.Error(err),
		)
	}
}

func logNotifyFailure(logger *slog.Logger, err error) {
	logging.WarnWithContext(logger, "notification not delivered", "notification_failed",
		logging.String(logging.FieldImpact, "run outcome was not pushed to ntfy"),
		logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and run 'squish test-notify'"),
		logging.Error(err),
	)
}
