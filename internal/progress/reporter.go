// Package progress maintains the plain-text status artifact for an active run.
//
// The artifact is rewritten in full on every job state transition and removed
// when the run ends, so its presence alone tells an external caller that a run
// is in progress.
package progress

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"squish/internal/fileutil"
	"squish/internal/logging"
)

// RunningJob names a job currently held by the engine.
type RunningJob struct {
	Group string
	File  string
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Running   int
	Queued    int
	Succeeded int
	Failed    int
	Jobs      []RunningJob
}

// Reporter writes the status artifact. Its methods are safe for concurrent use.
type Reporter struct {
	path    string
	logger  *slog.Logger
	started time.Time
	now     func() time.Time

	mu sync.Mutex
}

// Option customizes a Reporter.
type Option func(*Reporter)

// WithClock overrides the time source used for elapsed time.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReporter returns a reporter writing to path. An empty path disables the
// artifact; Announce still logs.
func NewReporter(path string, logger *slog.Logger, opts ...Option) *Reporter {
	r := &Reporter{
		path:   strings.TrimSpace(path),
		logger: logging.NewComponentLogger(logger, "progress"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.started = r.now()
	return r
}

// Path returns the artifact location.
func (r *Reporter) Path() string {
	return r.path
}

// Report rewrites the artifact with message and stats.
func (r *Reporter) Report(message string, stats Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write(message, stats)
}

// Announce reports like Report and also logs message at info level.
func (r *Reporter) Announce(message string, stats Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Info(message,
		logging.Int("running", stats.Running),
		logging.Int("queued", stats.Queued),
		logging.Int("succeeded", stats.Succeeded),
		logging.Int("failed", stats.Failed),
	)
	r.write(message, stats)
}

// Cleanup removes the artifact.
func (r *Reporter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.path == "" {
		return
	}
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		logging.WarnWithContext(r.logger, "status file removal failed", "status_cleanup_failed",
			logging.String("path", r.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the status file manually before the next run"),
			logging.String(logging.FieldImpact, "next run will believe a run is still active"),
		)
	}
}

func (r *Reporter) write(message string, stats Stats) {
	if r.path == "" {
		return
	}
	body := Render(message, r.now().Sub(r.started), stats)
	if err := fileutil.WriteFileAtomic(r.path, []byte(body), 0o644); err != nil {
		logging.WarnWithContext(r.logger, "status file write failed", "status_write_failed",
			logging.String("path", r.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the status file directory"),
			logging.String(logging.FieldImpact, "status file is stale; the run continues"),
		)
	}
}

// Render formats the artifact body.
func Render(message string, elapsed time.Duration, stats Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", message)
	fmt.Fprintf(&b, "Elapsed: %s\n", FormatElapsed(elapsed))
	fmt.Fprintf(&b, "Running: %d\n", stats.Running)
	fmt.Fprintf(&b, "Queued: %d\n", stats.Queued)
	fmt.Fprintf(&b, "Succeeded: %d\n", stats.Succeeded)
	fmt.Fprintf(&b, "Failed: %d\n", stats.Failed)
	b.WriteString("\nCurrently transcoding:\n")
	if len(stats.Jobs) == 0 {
		b.WriteString(" (none)")
		return b.String()
	}
	for i, job := range stats.Jobs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, " - %s | %s", job.Group, job.File)
	}
	return b.String()
}

// FormatElapsed renders d as H:MM:SS, truncating to whole seconds. Negative
// durations render as zero.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
