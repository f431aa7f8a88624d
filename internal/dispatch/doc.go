// Package dispatch turns eligible queue jobs into work.
//
// The Dispatcher runs on every scheduler tick. It heals orphaned claims,
// enqueues due scheduled jobs on cron sweeps, sizes its worker pool from the
// load average, then claims jobs and hands each to a freshly spawned worker
// process. Workers run the other half: they adopt the handed-off claim,
// execute the handler, and record success, retry or dead-letter.
package dispatch
