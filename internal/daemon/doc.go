// Package daemon keeps squish running and triggers batch runs on a cron
// schedule.
//
// The daemon owns only the timing: each tick calls the supplied run function,
// which performs discovery, scheduling, and reporting. Ticks that arrive while a
// run is still in progress are skipped rather than queued, so at most one batch
// is active per process. Cross-process exclusion stays with the run guard.
package daemon
