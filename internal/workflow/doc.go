// Package workflow performs one complete batch run.
//
// A Runner takes the run guard, discovers candidate files under the input
// directory, loads queue state, drives the scheduler, and then writes the dated
// run report and the history record before releasing the guard. A run that
// cannot start because another is active leaves an already-running report; a
// run that fails outright leaves a crash report.
//
// Both "squish run" and the daemon call Runner.Run. Keep per-job policy in the
// scheduler package; this package only sequences the surrounding steps.
package workflow
