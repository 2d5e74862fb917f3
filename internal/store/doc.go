// Package store is the sqlite persistence layer.
//
// It owns the scheduled_jobs, user_triggers, trigger_execution_log,
// proactive_messages and user_settings tables and implements the storage
// interfaces declared by the job, trigger, message and settings packages.
//
// Multi-row invariants (dedup, claim, stuck-reset, cleanup) are enforced by
// WHERE clauses on single conditional statements, not by read-then-write
// sequences; callers check affected-row counts.
package store
