package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"squish/internal/config"
	"squish/internal/discovery"
	"squish/internal/handbrake"
	"squish/internal/logging"
	"squish/internal/notifications"
	"squish/internal/presets"
	"squish/internal/progress"
	"squish/internal/queuestate"
	"squish/internal/runguard"
	"squish/internal/scheduler"
	"squish/internal/services"
)

// Status describes how a run ended.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusInterrupted    Status = "interrupted"
	StatusAlreadyRunning Status = "already_running"
	StatusCrashed        Status = "crashed"
)

// Outcome is what a run reports back to its caller.
type Outcome struct {
	RunID      string
	Status     Status
	Started    time.Time
	Finished   time.Time
	Summary    scheduler.Summary
	ReportPath string
}

// PresetResolver resolves profile group presets for both the scheduler and
// preflight.
type PresetResolver interface {
	Resolve(group config.ProfileGroup) (string, error)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithEngine overrides the transcoding engine.
func WithEngine(engine handbrake.Engine) Option {
	return func(r *Runner) {
		if engine != nil {
			r.engine = engine
		}
	}
}

// WithResolver overrides the preset resolver.
func WithResolver(resolver PresetResolver) Option {
	return func(r *Runner) {
		if resolver != nil {
			r.resolver = resolver
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRunIDs overrides run ID generation.
func WithRunIDs(next func() string) Option {
	return func(r *Runner) {
		if next != nil {
			r.newID = next
		}
	}
}

// WithNotifier overrides the notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(r *Runner) {
		if notifier != nil {
			r.notifier = notifier
		}
	}
}

// WithForce clears a status artifact left behind by a run that no longer
// holds the lock.
func WithForce(force bool) Option {
	return func(r *Runner) {
		r.force = force
	}
}

// WithPreflight toggles the pre-run readiness checks.
func WithPreflight(enabled bool) Option {
	return func(r *Runner) {
		r.preflight = enabled
	}
}

// Runner executes batch runs for one configuration.
type Runner struct {
	cfg       *config.Config
	logger    *slog.Logger
	engine    handbrake.Engine
	resolver  PresetResolver
	notifier  notifications.Service
	now       func() time.Time
	newID     func() string
	force     bool
	preflight bool
}

// NewRunner builds a Runner. By default it drives HandBrakeCLI as configured
// and reads preset names from the groups' preset documents.
func NewRunner(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "new", "config is required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "workflow"),
		engine: handbrake.NewCLI(
			handbrake.WithBinary(cfg.Engine.HandBrakeCLI),
			handbrake.WithCompletionMarker(cfg.Engine.CompletionMarker),
		),
		resolver:  presets.NewResolver(),
		notifier:  notifications.NewService(cfg),
		now:       time.Now,
		newID:     uuid.NewString,
		preflight: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run performs one batch. A refused run (another is active) returns a nil
// error with StatusAlreadyRunning. Cancelling ctx interrupts in-flight jobs;
// the run still writes its report and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	cfg := r.cfg
	out := Outcome{RunID: r.newID(), Started: r.now()}
	ctx = services.WithRunID(ctx, out.RunID)
	logger := logging.WithContext(ctx, r.logger)

	if err := cfg.EnsureDirectories(); err != nil {
		return r.crash(ctx, logger, out, services.Wrap(services.ErrStateIO, "workflow", "prepare", "Failed to create working directories", err))
	}

	guard, err := runguard.Acquire(cfg.Paths.StatusFile, cfg.LockPath(), r.force)
	if errors.Is(err, runguard.ErrAlreadyRunning) {
		return r.refuse(logger, out, err)
	}
	if err != nil {
		return r.crash(ctx, logger, out, services.Wrap(services.ErrStateIO, "workflow", "guard", "Failed to acquire run guard", err))
	}
	defer func() {
		if err := guard.Release(); err != nil {
			logging.WarnWithContext(logger, "run guard release failed", "run_guard_release_failed",
				logging.String(logging.FieldImpact, "the next run may report an active run until the lock is freed"),
				logging.Error(err),
			)
		}
	}()

	reporter := progress.NewReporter(cfg.Paths.StatusFile, logger, progress.WithClock(r.now))
	defer reporter.Cleanup()
	reporter.Report("Starting", progress.Stats{})

	logger.Info("batch run starting",
		logging.String("input_dir", cfg.Paths.InputDir),
		logging.Int("profile_groups", len(cfg.ProfileGroups)),
		logging.Bool("delete_source", cfg.Output.DeleteSource),
	)

	if r.preflight {
		r.runPreflight(ctx, logger)
	}

	reporter.Report("Searching for media", progress.Stats{})
	files, err := discovery.Search(ctx, cfg.Paths.InputDir, discovery.FilterFromConfig(cfg), logger)
	if err != nil {
		if ctx.Err() != nil {
			out.Status = StatusInterrupted
			r.finish(ctx, logger, &out, ctx.Err())
			return out, ctx.Err()
		}
		return r.crash(ctx, logger, out, err)
	}
	logger.Info("media discovered", logging.Int("files", len(files)))

	store := queuestate.NewStore(cfg.Paths.QueueStateFile, logger)
	state := store.Load()

	sched, err := scheduler.New(cfg.ProfileGroups, scheduler.Dependencies{
		Engine:   r.engine,
		Resolver: r.resolver,
		State:    store,
		Progress: reporter,
		Logger:   logger,
	},
		scheduler.WithOutput(cfg.Output.Suffix, cfg.Output.Extension),
		scheduler.WithDeleteSource(cfg.Output.DeleteSource),
		scheduler.WithJobTimeout(cfg.JobTimeout()),
	)
	if err != nil {
		return r.crash(ctx, logger, out, err)
	}

	summary, runErr := sched.Run(ctx, files, state)
	out.Summary = summary
	out.Status = StatusCompleted
	if runErr != nil {
		if ctx.Err() == nil {
			return r.crash(ctx, logger, out, runErr)
		}
		out.Status = StatusInterrupted
	}

	r.finish(ctx, logger, &out, runErr)
	return out, runErr
}

func (r *Runner) refuse(logger *slog.Logger, out Outcome, cause error) (Outcome, error) {
	out.Status = StatusAlreadyRunning
	out.Finished = r.now()
	logging.WarnWithContext(logger, "batch run skipped; another run is active", "run_already_active",
		logging.String("status_file", r.cfg.Paths.StatusFile),
		logging.String(logging.FieldImpact, "no files processed by this invocation"),
		logging.String(logging.FieldErrorHint, "if no run is active, remove the status file or rerun with --force"),
		logging.Error(cause),
	)
	path, err := writeAlreadyRunning(r.cfg.Paths.ReportDir, out.Started)
	if err != nil {
		logging.WarnWithContext(logger, "already-running report not written", "report_write_failed",
			logging.Error(err),
		)
	}
	out.ReportPath = path
	return out, nil
}

func (r *Runner) crash(ctx context.Context, logger *slog.Logger, out Outcome, cause error) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	out.Status = StatusCrashed
	out.Finished = r.now()
	logging.ErrorWithContext(logger, "batch run failed", "run_failed",
		logging.String(logging.FieldErrorHint, "see the crash report in the report directory"),
		logging.Error(cause),
	)
	path, err := writeCrash(r.cfg.Paths.ReportDir, out.Started, cause)
	if err != nil {
		logging.WarnWithContext(logger, "crash report not written", "report_write_failed",
			logging.Error(err),
		)
	}
	out.ReportPath = path
	r.recordHistory(ctx, logger, out, cause)
	if err := r.notifier.NotifyRunFailed(ctx, cause); err != nil {
		logNotifyFailure(logger, err)
	}
	return out, cause
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, out *Outcome, runErr error) {
	ctx = context.WithoutCancel(ctx)
	out.Finished = r.now()
	summary := out.Summary

	path, err := writeReport(r.cfg.Paths.ReportDir, *out)
	if err != nil {
		logging.ErrorWithContext(logger, "run report not written", "report_write_failed",
			logging.String(logging.FieldErrorHint, "check permissions on the report directory"),
			logging.Error(err),
		)
	}
	out.ReportPath = path

	r.recordHistory(ctx, logger, *out, runErr)
	logging.CleanupOldLogs(logger, r.cfg.Logging.RetentionDays, reportRetention(r.cfg))

	if len(summary.Queued) > 0 || r.cfg.Notifications.NotifyEmptyRuns {
		err := r.notifier.NotifyRunCompleted(ctx, notifications.RunSummary{
			Succeeded:   summary.SucceededCount(),
			Failed:      summary.FailedCount(),
			Skipped:     len(summary.Skipped),
			Interrupted: len(summary.Interrupted) + len(summary.Unstarted),
			Duration:    out.Finished.Sub(out.Started),
		})
		if err != nil {
			logNotifyFailure(logger, err)
		}
	}

	logger.Info("batch run finished",
		logging.String("status", string(out.Status)),
		logging.Int("detected", summary.Detected()),
		logging.Int("queued", len(summary.Queued)),
		logging.Int("skipped", len(summary.Skipped)),
		logging.Int("succeeded", summary.SucceededCount()),
		logging.Int("failed", summary.FailedCount()),
		logging.Int("interrupted", len(summary.Interrupted)),
		logging.Duration("elapsed", out.Finished.Sub(out.Started)),
		logging.String("report", path),
	)
}

func (r *Runner) runPreflight(ctx context.Context, logger *slog.Logger) {
	for _, result := range runPreflight(ctx, r.cfg, r.resolver) {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "affected jobs will be recorded as failed"),
			logging.String(logging.FieldErrorHint, fmt.Sprintf("run 'squish check' and fix %s", result.Name)),
		)
	}
}
