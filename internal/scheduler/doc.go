// Package scheduler dispatches transcode jobs across profile groups.
//
// A Scheduler owns the pending FIFO of jobs, the per-group running counts,
// and the in-flight set. One loop goroutine fills free group slots in the
// configured group order, hands each job to a worker goroutine that resolves
// the preset name and runs the engine, and then applies completions one at a
// time: classify the outcome, update and persist queue state, report
// progress, and fill again. The run ends when the queue is empty and nothing
// is in flight.
//
// Per-job failures never abort a run; they land in one of four result
// buckets. Cancelling the run context stops new dispatch and kills in-flight
// engines; jobs cut short that way are reported as interrupted and left out of
// queue state so the next run picks them up again.
package scheduler
