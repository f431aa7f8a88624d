// Package jobs maps queued command names to the code that executes them.
//
// A Registry holds one Handler per command. The dispatcher resolves each
// claimed job through it; commands without a handler fail permanently and
// are dead-lettered. Built-in handlers cover no-op, sleep and (when enabled)
// external program execution.
package jobs
