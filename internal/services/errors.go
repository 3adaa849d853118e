package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrNotReady         = errors.New("not ready")
	ErrInProgress       = errors.New("in progress")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrSinkUnavailable  = errors.New("sink unavailable")
	ErrReconciliation   = errors.New("reconciliation error")
	ErrConfiguration    = errors.New("configuration error")
	ErrTransient        = errors.New("transient failure")
)

// Kind names the taxonomy bucket an error belongs to.
type Kind string

const (
	KindInvalidRequest   Kind = "invalid_request"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindNotReady         Kind = "not_ready"
	KindInProgress       Kind = "in_progress"
	KindExtractionFailed Kind = "extraction_failed"
	KindSinkUnavailable  Kind = "sink_unavailable"
	KindReconciliation   Kind = "reconciliation_error"
	KindConfiguration    Kind = "configuration_error"
	KindTransient        Kind = "transient"
	KindInternal         Kind = "internal"
)

// ErrorDetails is the classified view of an error used for logging and API
// responses.
type ErrorDetails struct {
	Kind      Kind
	Message   string
	Hint      string
	Retryable bool
	Cause     error
}

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

type classification struct {
	marker    error
	kind      Kind
	hint      string
	retryable bool
}

// Order matters: more specific markers come first.
var classifications = []classification{
	{ErrInvalidRequest, KindInvalidRequest, "fix the request and resubmit", false},
	{ErrNotFound, KindNotFound, "check the job id", false},
	{ErrNotReady, KindNotReady, "poll status until the job is ready", true},
	{ErrInProgress, KindInProgress, "finalize is running; poll again", true},
	{ErrConflict, KindConflict, "operation is not valid for the current job state", false},
	{ErrExtractionFailed, KindExtractionFailed, "check the extraction service and the uploaded document", false},
	{ErrSinkUnavailable, KindSinkUnavailable, "sink is unavailable; retry finalize later", true},
	{ErrReconciliation, KindReconciliation, "extracted data is malformed; correct upstream extraction", false},
	{ErrConfiguration, KindConfiguration, "check qcflow configuration", false},
	{ErrTransient, KindTransient, "retry later", true},
}

// Details classifies err against the taxonomy markers.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{
		Kind:    KindInternal,
		Message: err.Error(),
		Hint:    "check qcflow logs",
		Cause:   errors.Unwrap(err),
	}
	for _, c := range classifications {
		if errors.Is(err, c.marker) {
			details.Kind = c.kind
			details.Hint = c.hint
			details.Retryable = c.retryable
			break
		}
	}
	return details
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch Details(err).Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindNotReady:
		return http.StatusConflict
	case KindInProgress:
		return http.StatusAccepted
	case KindSinkUnavailable:
		return http.StatusServiceUnavailable
	case KindReconciliation, KindExtractionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// MarkerFor returns the sentinel for a taxonomy kind, or nil for internal
// and unknown kinds. Clients use it to rebuild classified errors from API
// responses.
func MarkerFor(kind Kind) error {
	for _, c := range classifications {
		if c.kind == kind {
			return c.marker
		}
	}
	return nil
}
