package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"squish/internal/config"
	"squish/internal/handbrake"
	"squish/internal/logging"
	"squish/internal/progress"
	"squish/internal/queuestate"
	"squish/internal/services"
)

// Resolver yields the preset name a group encodes with.
type Resolver interface {
	Resolve(group config.ProfileGroup) (string, error)
}

// StateSaver persists queue state.
type StateSaver interface {
	Save(state *queuestate.State) error
}

// ProgressReporter receives scheduler snapshots.
type ProgressReporter interface {
	Report(message string, stats progress.Stats)
	Announce(message string, stats progress.Stats)
}

// Dependencies wires the collaborators a Scheduler drives. Engine and
// Resolver are required; a nil State or Progress disables that side effect.
type Dependencies struct {
	Engine   handbrake.Engine
	Resolver Resolver
	State    StateSaver
	Progress ProgressReporter
	Logger   *slog.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithOutput sets the suffix and extension used to derive output paths.
func WithOutput(suffix, extension string) Option {
	return func(s *Scheduler) {
		s.suffix = suffix
		s.extension = extension
	}
}

// WithDeleteSource enables removing the source after a successful encode.
func WithDeleteSource(enabled bool) Option {
	return func(s *Scheduler) {
		s.deleteSource = enabled
	}
}

// WithJobTimeout bounds each engine run; zero disables the limit.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithRemoveFunc overrides how sources are deleted.
func WithRemoveFunc(remove func(string) error) Option {
	return func(s *Scheduler) {
		if remove != nil {
			s.remove = remove
		}
	}
}

// Scheduler runs batches of files through the engine. Run may be called
// repeatedly; each call keeps its own queue and counters.
type Scheduler struct {
	groups   []config.ProfileGroup
	engine   handbrake.Engine
	resolver Resolver
	saver    StateSaver
	reporter ProgressReporter
	logger   *slog.Logger

	suffix       string
	extension    string
	deleteSource bool
	jobTimeout   time.Duration
	remove       func(string) error
}

// New validates groups and returns a Scheduler. Groups are scanned in the
// order given on every fill pass.
func New(groups []config.ProfileGroup, deps Dependencies, opts ...Option) (*Scheduler, error) {
	probe := config.Config{ProfileGroups: groups}
	if err := probe.ValidateProfileGroups(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "scheduler", "new", "invalid profile groups", err)
	}
	if deps.Engine == nil {
		return nil, services.Wrap(services.ErrConfiguration, "scheduler", "new", "engine is required", nil)
	}
	if deps.Resolver == nil {
		return nil, services.Wrap(services.ErrConfiguration, "scheduler", "new", "resolver is required", nil)
	}
	s := &Scheduler{
		groups:    slices.Clone(groups),
		engine:    deps.Engine,
		resolver:  deps.Resolver,
		saver:     deps.State,
		reporter:  deps.Progress,
		logger:    logging.NewComponentLogger(deps.Logger, "scheduler"),
		suffix:    " [SQUISH]",
		extension: "mkv",
		remove:    os.Remove,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Capacity is the sum of every group's ceiling.
func (s *Scheduler) Capacity() int {
	total := 0
	for _, g := range s.groups {
		total += g.MaxInstances
	}
	return total
}

type job struct {
	source  string
	output  string
	group   config.ProfileGroup
	started time.Time
}

type completion struct {
	job    *job
	result handbrake.Result
	err    error
}

// Run transcodes every file not already completed in state. State is mutated
// in place and persisted after each completion. The returned error is non-nil
// only when ctx was cancelled; the summary is still valid in that case.
func (s *Scheduler) Run(ctx context.Context, files []string, state *queuestate.State) (Summary, error) {
	start := time.Now()
	if state == nil {
		state = queuestate.New()
	}
	summary := Summary{Queued: []string{}, Skipped: []string{}}

	var pending []*job
	seen := make(map[string]struct{}, len(files))
	for _, file := range files {
		k := queuestate.Key(file)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if state.IsCompleted(file) {
			summary.Skipped = append(summary.Skipped, file)
			continue
		}
		summary.Queued = append(summary.Queued, file)
		pending = append(pending, &job{source: file, output: OutputPath(file, s.suffix, s.extension)})
	}

	logger := logging.WithContext(ctx, s.logger)
	logger.Info("scheduler run starting",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("queued", len(summary.Queued)),
		logging.Int("skipped", len(summary.Skipped)),
		logging.Int("capacity", s.Capacity()),
	)
	if len(pending) == 0 {
		summary.Elapsed = time.Since(start)
		return summary, nil
	}
	if err := ctx.Err(); err != nil {
		summary.Unstarted = slices.Clone(summary.Queued)
		summary.Elapsed = time.Since(start)
		return summary, err
	}

	r := &run{
		s:       s,
		ctx:     ctx,
		logger:  logger,
		state:   state,
		pending: pending,
		running: make(map[string]int, len(s.groups)),
		done:    make(chan completion, s.Capacity()),
		summary: &summary,
	}
	r.fill()
	for len(r.inflight) > 0 {
		r.apply(<-r.done)
		if ctx.Err() == nil {
			r.fill()
		}
	}

	for _, j := range r.pending {
		summary.Unstarted = append(summary.Unstarted, j.source)
	}
	summary.Elapsed = time.Since(start)
	logger.Info("scheduler run finished",
		logging.String(logging.FieldEventType, "run_finish"),
		logging.Int("succeeded", len(summary.Succeeded)),
		logging.Int("source_not_deleted", len(summary.SourceNotDeleted)),
		logging.Int("engine_failed", len(summary.EngineFailed)),
		logging.Int("invoke_failed", len(summary.InvokeFailed)),
		logging.Int("interrupted", len(summary.Interrupted)),
		logging.Duration("elapsed", summary.Elapsed),
	)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// run is the mutable state of one Run call. Only the loop goroutine touches
// it; workers communicate exclusively through done.
type run struct {
	s        *Scheduler
	ctx      context.Context
	logger   *slog.Logger
	state    *queuestate.State
	pending  []*job
	running  map[string]int
	inflight []*job
	done     chan completion
	summary  *Summary
}

// fill admits pending jobs into every group with a free slot, scanning groups
// in configured order.
func (r *run) fill() {
	for _, group := range r.s.groups {
		for r.running[group.ID] < group.MaxInstances && len(r.pending) > 0 {
			next := r.pending[0]
			r.pending = r.pending[1:]
			next.group = group
			r.dispatch(next)
		}
	}
}

func (r *run) dispatch(j *job) {
	j.started = time.Now()
	r.running[j.group.ID]++
	r.inflight = append(r.inflight, j)
	r.announce(fmt.Sprintf("Transcoding (%s)", j.group.ID))
	go r.execute(j)
}

// execute runs on a worker goroutine.
func (r *run) execute(j *job) {
	ctx := services.WithSourceFile(services.WithProfileGroup(r.ctx, j.group.ID), j.source)
	if r.s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.s.jobTimeout)
		defer cancel()
	}
	c := completion{job: j}
	name, err := r.s.resolver.Resolve(j.group)
	if err != nil {
		c.err = err
		r.done <- c
		return
	}
	logging.WithContext(ctx, r.s.logger).Debug("engine starting",
		logging.String("output", j.output),
		logging.String("preset", name),
	)
	c.result, c.err = r.s.engine.Encode(ctx, handbrake.Invocation{
		Input:      j.source,
		Output:     j.output,
		PresetFile: j.group.PresetFile,
		PresetName: name,
	})
	r.done <- c
}

func (r *run) apply(c completion) {
	j := c.job
	r.running[j.group.ID]--
	r.inflight = slices.DeleteFunc(r.inflight, func(x *job) bool { return x == j })

	res := FileResult{Path: j.source, GroupID: j.group.ID, Duration: time.Since(j.started)}
	ctx := services.WithSourceFile(services.WithProfileGroup(r.ctx, j.group.ID), j.source)
	logger := logging.WithContext(ctx, r.s.logger)

	cancelled := r.ctx.Err() != nil
	verdictOK := c.err == nil && c.result.Succeeded
	if cancelled && !verdictOK {
		res.Outcome = OutcomeInterrupted
		res.Err = r.ctx.Err()
		r.summary.Interrupted = append(r.summary.Interrupted, res)
		logger.Info("job interrupted; left for next run", logging.String(logging.FieldEventType, "job_interrupted"))
		r.report("Run cancelled")
		return
	}

	switch {
	case c.err != nil:
		res.Outcome = OutcomeInvokeFailed
		res.Err = c.err
		r.state.MarkFailed(j.source)
		details := services.Details(c.err)
		logging.ErrorWithContext(logger, "engine could not run", "job_invoke_failed",
			logging.String("error_kind", string(details.Kind)),
			logging.Error(c.err),
			logging.String(logging.FieldErrorHint, invokeHint(details.Kind)),
		)
	case !c.result.Succeeded:
		res.Outcome = OutcomeEngineFailed
		res.Err = services.Wrap(services.ErrEngineReportedFailure, "scheduler", "encode",
			fmt.Sprintf("exit status %d", c.result.ExitCode), nil)
		r.state.MarkFailed(j.source)
		logging.WarnWithContext(logger, "engine reported failure", "job_engine_failed",
			logging.Int("exit_code", c.result.ExitCode),
			logging.String("output_tail", c.result.OutputTail),
			logging.String(logging.FieldErrorHint, "inspect the engine output for the failing file"),
			logging.String(logging.FieldImpact, "file marked failed; it is retried on the next run"),
		)
	default:
		res.Outcome = OutcomeSucceeded
		if r.s.deleteSource {
			if err := r.s.remove(j.source); err != nil {
				res.Outcome = OutcomeSourceNotDeleted
				res.Err = services.Wrap(services.ErrSourceDeletion, "scheduler", "delete source", j.source, err)
				logging.WarnWithContext(logger, "source not deleted after encode", "source_delete_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "remove the source manually"),
					logging.String(logging.FieldImpact, "source and encode both remain on disk"),
				)
			}
		}
		r.state.MarkCompleted(j.source)
		logger.Info("job succeeded",
			logging.String(logging.FieldEventType, "job_succeeded"),
			logging.String("output", j.output),
			logging.Duration("duration", res.Duration),
		)
	}
	r.summary.add(res)

	if r.s.saver != nil {
		if err := r.s.saver.Save(r.state); err != nil {
			logging.WarnWithContext(logger, "queue state save failed; continuing", "queue_state_save_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the queue state path is writable"),
				logging.String(logging.FieldImpact, "this file may be transcoded again next run"),
			)
		}
	}
	r.report("Updated queue state")
}

func invokeHint(kind services.ErrorKind) string {
	switch kind {
	case services.KindProfileRead:
		return "check the group's preset_file exists and is a HandBrake preset export"
	case services.KindTimeout:
		return "raise engine.job_timeout_minutes or inspect the source file"
	default:
		return "check engine.handbrake_cli is installed and executable"
	}
}

func (r *run) stats() progress.Stats {
	stats := progress.Stats{
		Running:   len(r.inflight),
		Queued:    len(r.pending),
		Succeeded: r.summary.SucceededCount(),
		Failed:    r.summary.FailedCount(),
		Jobs:      make([]progress.RunningJob, 0, len(r.inflight)),
	}
	for _, j := range r.inflight {
		stats.Jobs = append(stats.Jobs, progress.RunningJob{Group: j.group.ID, File: j.source})
	}
	return stats
}

func (r *run) report(message string) {
	if r.s.reporter != nil {
		r.s.reporter.Report(message, r.stats())
	}
}

func (r *run) announce(message string) {
	if r.s.reporter != nil {
		r.s.reporter.Announce(message, r.stats())
	}
}
