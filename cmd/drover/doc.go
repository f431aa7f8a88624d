// Package main hosts the drover CLI entrypoint and command graph.
//
// The Cobra command tree covers the supervisor lifecycle (start, stop,
// status), the worker entry points the supervisor re-executes, producer
// access through enqueue, queue maintenance and configuration scaffolding.
// Commands share one lazily loaded configuration and open the SQLite store
// only when they need it.
//
// Keep this package lean: behaviour lives in the internal packages and is
// surfaced here through flags and rendering.
package main
