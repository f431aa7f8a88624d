// Package logging assembles structured slog loggers shared by the drover
// supervisor, its workers and the CLI.
//
// It owns the console and JSON handlers, level and output plumbing, the
// session id decorator that separates interleaved process output in the shared
// log file, and the retention sweep run on daemon start. Job-scoped contexts
// carry the job id and command so handler output is tagged automatically.
package logging
