// Package services defines shared utilities consumed by the scheduler, the
// engine runner, and the stores that surround them.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, profile groups, and source files for
//     logging.
//   - Structured error markers plus the Wrap helper that keep failures
//     classifiable with errors.Is after they cross package boundaries.
//
// Use these helpers when wiring new components so error handling and
// observability stay uniform across a run.
package services
