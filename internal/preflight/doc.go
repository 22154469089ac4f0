// Package preflight provides readiness checks for the external program,
// filesystem paths, and preset documents that squish depends on.
//
// These checks run in two contexts:
//   - The workflow logs a warning for each failing check before a batch starts.
//     Failures do not abort the run; jobs that cannot start are classified per
//     file instead.
//   - The CLI "squish check" command prints every result and exits non-zero
//     when any check fails.
package preflight
