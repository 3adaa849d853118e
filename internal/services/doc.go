// Package services defines the error taxonomy and context helpers shared by
// the job store, lanes, finalize coordinator and HTTP surface.
//
// Failures are tagged with one of the sentinel markers through Wrap so callers
// can tell "poll again" (NotReady, InProgress) from "retry later"
// (SinkUnavailable, Transient) and "stop retrying" (Reconciliation,
// InvalidRequest). Details and HTTPStatus turn a wrapped error into the shape
// logged and returned by the API.
package services
