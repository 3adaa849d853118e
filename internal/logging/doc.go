// Package logging assembles structured slog loggers for qcflow.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// context helpers that tag lines with job, file, lane and correlation IDs.
// Use NewNop in tests and wiring code that cannot fail.
package logging
