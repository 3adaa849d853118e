// Package jobs persists upload jobs and their documents in SQLite and owns
// the job state machine.
//
// A job moves CREATED → PROCESSING → READY → FINALIZING → FINALIZED, or to
// FAILED. Each document moves PENDING → EXTRACTING → EXTRACTED or
// EXTRACTION_FAILED. Every transition is a single-row compare-and-set inside
// an immediate transaction, so completions may arrive in any order, from any
// number of workers, and the completed count never exceeds the expected
// count. Readiness follows the configured policy: all-required needs every
// document extracted, best-effort needs every document terminal and the
// policy document extracted.
//
// The store is the only shared mutable state in qcflow. Callers receive
// errors tagged with the services taxonomy markers (ErrNotFound,
// ErrConflict, ErrNotReady, ErrInProgress, ErrInvalidRequest).
package jobs
