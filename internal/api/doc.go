// Package api defines wire-format types, converters and an HTTP client for
// the qcflow HTTP surface. It translates job store models into transport
// DTOs so the CLI and other callers never depend on internal types.
//
// # Key Types
//
// SubmitResponse: the job id returned by an upload.
//
// JobItem: transport representation of a job for listings.
//
// FinalizeResponse: the outcome of one finalize request, including the
// in-progress signal callers poll against.
//
// ResultsResponse: the merged verdict set of a finalized job.
//
// ErrorResponse: the error body every non-2xx response carries. The client
// turns it back into an error classified by the services markers.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Job states are exposed in upper case exactly
// as stored. Timestamps use RFC3339 with milliseconds. Status and summary
// payloads reuse the job store views, which are already JSON tagged.
package api
