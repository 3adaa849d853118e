// Package config loads, normalizes, and validates qcflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// QCFLOW_POSTGRES_DSN. The Config type centralizes every knob the daemon and
// CLI need: readiness policy, lane sizing, finalize locking, and the
// extraction endpoint.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical enum values, and clear validation errors.
package config
