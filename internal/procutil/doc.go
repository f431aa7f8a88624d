// Package procutil wraps the operating-system collaborators drover depends
// on: a signal-0 liveness probe, termination, the 1-minute load average,
// pidfile handling, and the process spawner used for daemon detachment and
// worker launches.
package procutil
