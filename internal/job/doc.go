// Package job implements the exact-time job queue: scheduling with
// dedup-by-constraint, tick-driven processing with retry/backoff, stuck-job
// recovery, and retention cleanup.
//
// # State machine
//
// Jobs move pending -> processing -> {completed | pending (retry) | failed};
// a stuck processing job is returned to pending; only the Scheduler cancels.
// The claim (pending -> processing) is a single conditional update checked by
// affected-row count, so overlapping invokers cannot both win a row.
//
// # Delivery semantics
//
// Attempts are counted at dispatch, before the handler runs, which makes the
// queue at-least-once: a crash mid-handler burns the attempt. Retry delay is
// 3^attempts minutes (3m, 9m, 27m).
package job
