package scheduler

import (
	"path/filepath"
	"strings"
	"time"
)

// Outcome classifies how a job ended.
type Outcome string

const (
	OutcomeSucceeded        Outcome = "succeeded"
	OutcomeSourceNotDeleted Outcome = "source_not_deleted"
	OutcomeEngineFailed     Outcome = "engine_failed"
	OutcomeInvokeFailed     Outcome = "invoke_failed"
	OutcomeInterrupted      Outcome = "interrupted"
)

// FileResult records one job's outcome.
type FileResult struct {
	Path     string
	GroupID  string
	Outcome  Outcome
	Duration time.Duration
	Err      error
}

// Results holds the four mutually exclusive outcome buckets of a run.
type Results struct {
	Succeeded        []FileResult
	SourceNotDeleted []FileResult
	EngineFailed     []FileResult
	InvokeFailed     []FileResult
}

// SucceededCount counts encodes that finished, whether or not the source was removed.
func (r Results) SucceededCount() int {
	return len(r.Succeeded) + len(r.SourceNotDeleted)
}

// FailedCount counts engine failures and invocation failures.
func (r Results) FailedCount() int {
	return len(r.EngineFailed) + len(r.InvokeFailed)
}

// All returns every result in bucket order.
func (r Results) All() []FileResult {
	out := make([]FileResult, 0, len(r.Succeeded)+len(r.SourceNotDeleted)+len(r.EngineFailed)+len(r.InvokeFailed))
	out = append(out, r.Succeeded...)
	out = append(out, r.SourceNotDeleted...)
	out = append(out, r.EngineFailed...)
	out = append(out, r.InvokeFailed...)
	return out
}

func (r *Results) add(res FileResult) {
	switch res.Outcome {
	case OutcomeSucceeded:
		r.Succeeded = append(r.Succeeded, res)
	case OutcomeSourceNotDeleted:
		r.SourceNotDeleted = append(r.SourceNotDeleted, res)
	case OutcomeEngineFailed:
		r.EngineFailed = append(r.EngineFailed, res)
	case OutcomeInvokeFailed:
		r.InvokeFailed = append(r.InvokeFailed, res)
	}
}

// Summary is everything a run reports back to its caller.
type Summary struct {
	Results
	// Queued lists files that were not yet completed when the run began, in
	// input order.
	Queued []string
	// Skipped lists files already in the completed set.
	Skipped []string
	// Interrupted lists in-flight jobs killed by cancellation.
	Interrupted []FileResult
	// Unstarted lists queued files never dispatched because the run was cancelled.
	Unstarted []string
	Elapsed   time.Duration
}

// Detected is the number of distinct candidate files the run considered.
func (s Summary) Detected() int {
	return len(s.Queued) + len(s.Skipped)
}

// OutputPath derives the encode target for source: the same directory, the
// source stem with suffix appended, and extension.
func OutputPath(source, suffix, extension string) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	ext := strings.TrimPrefix(extension, ".")
	return filepath.Join(filepath.Dir(source), stem+suffix+"."+ext)
}
