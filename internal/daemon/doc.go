// Package daemon coordinates the long-running qcflow process.
//
// It wires configuration, the job store, the processing pipeline, the
// finalize coordinator and the notification hub into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon serves the
// HTTP API, runs the reaper that expires abandoned jobs and reclaims stale
// finalizes, and optionally finalizes jobs as soon as they become ready.
//
// Keep orchestration logic here: job semantics live in the jobs, pipeline and
// finalize packages while the daemon focuses on startup, shutdown and high
// level coordination.
package daemon
