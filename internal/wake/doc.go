// Package wake implements the "claimable work exists" hint shared between
// producers that enqueue jobs and the supervisor's sleeping loop.
//
// The hint has relaxed consistency: a missed raise only delays discovery
// until the next full sweep, and a spurious one costs a single poll.
package wake
