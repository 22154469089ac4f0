package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"squish/internal/config"
	"squish/internal/logging"
	"squish/internal/services"
)

// RunFunc performs one batch run.
type RunFunc func(ctx context.Context) error

// Option customizes a Daemon.
type Option func(*Daemon)

// WithSchedule overrides the schedule parsed from configuration.
func WithSchedule(schedule cron.Schedule) Option {
	return func(d *Daemon) {
		if schedule != nil {
			d.schedule = schedule
		}
	}
}

// Daemon runs batches on a schedule until stopped.
type Daemon struct {
	run        RunFunc
	logger     *slog.Logger
	schedule   cron.Schedule
	expression string
	runOnStart bool
	reportDir  string

	running atomic.Bool

	mu      sync.Mutex
	cron    *cron.Cron
	job     cron.Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	last    time.Time
	lastErr error
	runs    int
}

// Status represents daemon runtime information.
type Status struct {
	Running  bool
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
	LastErr  error
	Runs     int
}

// New constructs a daemon that calls run on the configured schedule.
func New(cfg *config.Config, run RunFunc, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || run == nil {
		return nil, errors.New("daemon requires config and run function")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		run:        run,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		expression: cfg.Schedule.Cron,
		runOnStart: cfg.Schedule.RunOnStart,
		reportDir:  cfg.Paths.ReportDir,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.schedule == nil {
		schedule, err := config.ParseSchedule(cfg.Schedule.Cron)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "daemon", "parse schedule", fmt.Sprintf("Invalid cron expression %q", cfg.Schedule.Cron), err)
		}
		d.schedule = schedule
	}
	return d, nil
}

// Start begins scheduling runs. Cancelling ctx interrupts the active run and
// suppresses later ticks; Stop releases the scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}

	cronLogger := cronLogAdapter{logger: d.logger}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.cron = cron.New(cron.WithLogger(cronLogger))
	d.job = cron.NewChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(d.tick))
	d.cron.Schedule(d.schedule, d.job)
	d.cron.Start()
	d.running.Store(true)

	if d.runOnStart {
		d.wg.Add(1)
		go func(job cron.Job) {
			defer d.wg.Done()
			job.Run()
		}(d.job)
	}

	d.logger.Info("squish daemon started",
		logging.String("schedule", d.expression),
		logging.Bool("run_on_start", d.runOnStart),
		logging.String("next_run", d.nextRunLocked().Format(time.RFC3339)),
	)
	return nil
}

// Stop cancels any in-flight run and waits for it to finish.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	c := d.cron
	d.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	d.wg.Wait()

	d.mu.Lock()
	d.ctx = nil
	d.cancel = nil
	d.running.Store(false)
	d.mu.Unlock()
	d.logger.Info("squish daemon stopped")
}

// Wait blocks until ctx is done, then stops the daemon.
func (d *Daemon) Wait(ctx context.Context) {
	<-ctx.Done()
	d.Stop()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := Status{
		Running:  d.running.Load(),
		Schedule: d.expression,
		LastRun:  d.last,
		LastErr:  d.lastErr,
		Runs:     d.runs,
	}
	if status.Running {
		status.NextRun = d.nextRunLocked()
	}
	return status
}

func (d *Daemon) nextRunLocked() time.Time {
	if d.cron == nil {
		return time.Time{}
	}
	entries := d.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if next := entries[0].Next; !next.IsZero() {
		return next
	}
	return d.schedule.Next(time.Now())
}

func (d *Daemon) tick() {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	started := time.Now()
	d.logger.Info("scheduled run starting")
	err := d.run(ctx)
	elapsed := time.Since(started)

	d.mu.Lock()
	d.last = started
	d.lastErr = err
	d.runs++
	d.mu.Unlock()

	switch {
	case err == nil:
		d.logger.Info("scheduled run finished", logging.Duration("elapsed", elapsed))
	case errors.Is(err, context.Canceled):
		d.logger.Info("scheduled run interrupted", logging.Duration("elapsed", elapsed))
	default:
		logging.ErrorWithContext(d.logger, "scheduled run failed", "daemon_run_failed",
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldErrorHint, fmt.Sprintf("see the crash report in %s", d.reportDir)),
			logging.Error(err),
		)
	}
}

// cronLogAdapter routes cron's internal logging into slog. Routine scheduler
// chatter goes to debug.
type cronLogAdapter struct {
	logger *slog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		a.logger.Warn("scheduled run skipped; previous run still active",
			logging.String(logging.FieldEventType, "daemon_tick_skipped"),
			logging.String(logging.FieldImpact, "this tick is dropped; the next tick runs normally"),
		)
		return
	}
	a.logger.Debug("cron "+msg, keysAndValues...)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err)}, keysAndValues...)
	a.logger.Error("cron "+msg, args...)
}
