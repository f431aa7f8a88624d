// Package registry records the drover processes currently working a shared
// database: the supervisor and every worker, keyed by pid, with a session id
// and a heartbeat refreshed while the process runs. The crash-recovery sweep
// and the daemon status probe read it.
package registry
