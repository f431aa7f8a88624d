// Package schedule enqueues time-based jobs declared in the [[schedules]]
// configuration section. It runs as part of the dispatcher's cron sweep and
// remembers each entry's last activation in the settings table, so every
// process sharing the database agrees on what already ran.
package schedule
