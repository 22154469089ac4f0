// Package report writes the dated plain-text artifacts an operator reads after
// a run: the run report, the crash report, and the already-running notice.
package report

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"squish/internal/fileutil"
	"squish/internal/progress"
	"squish/internal/scheduler"
)

const (
	namePrefix = "Squish CRON"
	// AlreadyRunningMessage is the whole body of the report written when a
	// run starts while another is active.
	AlreadyRunningMessage = "Process already running at time of CRON job"
	// Pattern matches every dated report and crash report.
	Pattern = namePrefix + " *.log"
)

// Run is the input to a run report.
type Run struct {
	Started  time.Time
	Finished time.Time
	Summary  scheduler.Summary
}

// DatedName returns the run report file name for the day of t.
func DatedName(t time.Time) string {
	return fmt.Sprintf("%s %s.log", namePrefix, t.Format(time.DateOnly))
}

// CrashName returns the crash report file name for the day of t.
func CrashName(t time.Time) string {
	return fmt.Sprintf("%s %s CRASH.log", namePrefix, t.Format(time.DateOnly))
}

// Write renders run and replaces the dated report in dir. A second run on the
// same day overwrites the first report.
func Write(dir string, run Run) (string, error) {
	path := filepath.Join(dir, DatedName(run.Started))
	if err := fileutil.WriteFileAtomic(path, []byte(Render(run)), 0o644); err != nil {
		return "", fmt.Errorf("write run report: %w", err)
	}
	return path, nil
}

// WriteAlreadyRunning records that a run was refused because another was active.
func WriteAlreadyRunning(dir string, when time.Time) (string, error) {
	path := filepath.Join(dir, DatedName(when))
	if err := fileutil.WriteFileAtomic(path, []byte(AlreadyRunningMessage), 0o644); err != nil {
		return "", fmt.Errorf("write already-running report: %w", err)
	}
	return path, nil
}

// WriteCrash records a run-fatal error.
func WriteCrash(dir string, when time.Time, cause error) (string, error) {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	path := filepath.Join(dir, CrashName(when))
	if err := fileutil.WriteFileAtomic(path, []byte(message), 0o644); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// Render formats the run report body.
func Render(run Run) string {
	s := run.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "%s log for %s\n\n", namePrefix, run.Started.Format(time.DateOnly))
	fmt.Fprintf(&b, "Execution Time: %s\n", progress.FormatElapsed(run.Finished.Sub(run.Started)))
	fmt.Fprintf(&b, "Videos Detected: %d\n", s.Detected())
	fmt.Fprintf(&b, "Videos Queued: %d\n", len(s.Queued))
	fmt.Fprintf(&b, "Videos Skipped: %d\n", len(s.Skipped))
	fmt.Fprintf(&b, "Videos Succeeded: %d\n", len(s.Succeeded))
	fmt.Fprintf(&b, "Source Not Deleted: %d\n", len(s.SourceNotDeleted))
	fmt.Fprintf(&b, "Failed In Handbrake: %d\n", len(s.EngineFailed))
	fmt.Fprintf(&b, "Error Opening Handbrake: %d\n", len(s.InvokeFailed))

	section(&b, "Videos Succeeded:", s.Succeeded)
	section(&b, "Source not deleted:", s.SourceNotDeleted)
	section(&b, "Videos Failed in Handbrake:", s.EngineFailed)
	section(&b, "Videos not opened in Handbrake:", s.InvokeFailed)

	if len(s.Interrupted) > 0 {
		section(&b, "Videos interrupted (retried next run):", s.Interrupted)
	}
	if len(s.Unstarted) > 0 {
		b.WriteString("\n \nVideos not started (run cancelled):")
		for _, file := range s.Unstarted {
			fmt.Fprintf(&b, "\n %s", file)
		}
	}
	if len(s.Skipped) > 0 {
		b.WriteString("\n \nVideos skipped (already completed):")
		for _, file := range s.Skipped {
			fmt.Fprintf(&b, "\n %s", file)
		}
	}
	return b.String()
}

func section(b *strings.Builder, title string, results []scheduler.FileResult) {
	b.WriteString("\n \n")
	b.WriteString(title)
	for _, res := range results {
		fmt.Fprintf(b, "\n %s (%s)", res.Path, res.GroupID)
	}
}
