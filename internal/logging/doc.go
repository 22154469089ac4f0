// Package logging assembles structured slog loggers and formatting helpers used
// across squish.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so scheduler code can tag log
// lines with run IDs, profile groups, and source files without threading them
// through every call. The package also provides a no-op logger for tests and
// wiring code that cannot fail.
package logging
