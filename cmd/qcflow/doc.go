// Package main hosts the qcflow CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon (serve) and translates
// terminal invocations into HTTP calls against it: document upload, status
// polling, finalize and result rendering. Maintenance commands (sweep,
// doctor, config) operate on the local configuration and job store directly.
//
// Keep this package lean: behaviour lives in the internal packages and is
// surfaced here through dedicated commands or flags.
package main
