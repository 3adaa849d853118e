// Package finalize runs the reconciler once per job and publishes the
// result.
//
// Two guards make finalize safe to call repeatedly and concurrently. A
// per-job Locker token (memory, flock file or Postgres advisory lock) turns
// overlapping callers away with an in-progress answer instead of blocking
// them, and the job store's READY to FINALIZING compare-and-set admits one
// runner even when lockers in different processes do not share state.
// Failures after the transition return the job to READY so a later call
// can retry; saved verdicts are reused and extraction never reruns.
package finalize
