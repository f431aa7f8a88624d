// Package logs reads the shared drover log file for `drover logs`.
//
// It returns the last N lines with bounded memory and follows the file as
// supervisor and worker processes append to it. A file that shrinks or is
// replaced by log rotation is reopened from the start.
package logs
