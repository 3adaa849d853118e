// Package preflight provides readiness checks for the filesystem paths and
// external services qcflow depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failure so a broken
//     environment is visible before the first upload arrives.
//   - The CLI "qcflow doctor" command renders the same results as a table.
//
// Each check is gated by its config toggle. Disabled features are skipped.
package preflight
