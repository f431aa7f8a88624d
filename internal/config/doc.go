// Package config loads, normalizes, and validates drover configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the DROVER_PIDFILE environment
// override. The Config type centralizes every knob the supervisor, workers and
// CLI need so all processes sharing a database agree on paths and limits.
package config
