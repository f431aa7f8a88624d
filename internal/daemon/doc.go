// Package daemon owns the supervisor process lifecycle.
//
// It enforces a single instance through a flock next to the pidfile,
// detaches into the background on request, registers the supervisor in the
// process registry, and runs the scheduler loop until SIGINT or SIGTERM.
// Stop and Status work from the pidfile alone so they can run from any
// shell.
//
// Keep orchestration logic here: dispatch and queue semantics live in their
// own packages while the daemon focuses on startup, shutdown, and service
// manager integration.
package daemon
