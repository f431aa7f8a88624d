// Package queue persists background jobs in the shared SQLite database and
// implements their lifecycle.
//
// Jobs are ordered by priority tier, then scheduled_at, then id. A job is
// claimed by a single-row conditional update on claimed_by, so concurrent
// dispatchers never both win. Successful jobs are deleted; failed ones are
// rescheduled through a RetryPolicy until their retry budget runs out, after
// which they are dead-lettered and kept for an operator. The crash-recovery
// sweep releases claims held by processes that no longer exist.
//
// Every claim transition touches exactly one row. Do not batch them into
// multi-row statements or transactions; workers contend on these rows.
package queue
