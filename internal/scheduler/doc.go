// Package scheduler runs the supervisor's adaptive polling loop.
//
// Each pass triggers one dispatch, then sleeps in short, logarithmically
// growing steps until the wake signal reports new work or the full cron
// interval elapses. A pass that waited out the whole interval makes the next
// dispatch a cron sweep.
package scheduler
