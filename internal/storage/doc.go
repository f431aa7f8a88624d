// Package storage owns the SQLite database every drover process shares.
//
// It applies connection pragmas, creates the schema on first open, retries
// statements that hit SQLITE_BUSY, and exposes the settings key/value table.
// Higher-level packages (registry, queue, wake) issue their own SQL through
// the retrying helpers here.
package storage
