// Package trigger implements recurring user triggers: parsing natural
// language into cron expressions, computing next fire times, and executing
// due triggers with failure accounting.
//
// Parsing is two-stage. A rule-based pass handles common phrasings with a
// confidence score; below a threshold an optional AI completion refines the
// result, and its output is accepted only if it validates as a cron
// expression. The cron dialect is the standard five fields (minute, hour,
// day-of-month, month, day-of-week) with names rejected; evaluation is a
// bounded forward search from the current time in the trigger's timezone.
//
// Execution is batch-driven from the runner tick. Every outcome is recorded
// to the execution log before trigger state is mutated, and repeated
// failures disable a trigger until it is manually re-enabled.
package trigger
