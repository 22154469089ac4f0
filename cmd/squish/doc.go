// Package main hosts the squish CLI entrypoint and command graph.
//
// The Cobra-based command tree runs batches ("squish run", usually from cron),
// keeps a scheduled daemon alive, reports whether a run is active, inspects and
// edits queue state, lists run history, tails the log file, checks readiness
// and notifications, and scaffolds configuration. It centralizes configuration resolution and logging setup so
// subcommands can focus on presentation.
//
// Keep this package lean: add new functionality to the internal packages first,
// then surface it through dedicated commands or flags here.
package main
