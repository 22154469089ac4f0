// Package queuestate persists which source files have already been processed.
//
// The state document records completed and failed source paths plus the time
// it was last written. A path lives in at most one of the two sets. Loading
// fails open: an unset path, a missing file, or a corrupt document all yield
// an empty state so a bad state file never blocks a run. Saving replaces the
// document atomically and stamps updatedAt on every call.
package queuestate
