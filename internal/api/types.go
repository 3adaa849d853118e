package api

import (
	"qcflow/internal/jobs"
	"qcflow/internal/lanes"
	"qcflow/internal/reconcile"
	"qcflow/internal/stage"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SubmitResponse is returned by a successful upload.
type SubmitResponse struct {
	JobID         string `json:"jobId"`
	ExpectedFiles int    `json:"expectedFiles"`
}

// JobItem describes a job in a transport-friendly format.
type JobItem struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	ExpectedFiles  int    `json:"expectedFiles"`
	CompletedFiles int    `json:"completedFiles"`
	FailedFiles    int    `json:"failedFiles"`
	Error          string `json:"error,omitempty"`
	SheetURL       string `json:"sheetUrl,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
	FinalizedAt    string `json:"finalizedAt,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []JobItem `json:"jobs"`
}

// StatusResponse is the poll payload for one job.
type StatusResponse = jobs.Status

// SummaryResponse is the summary lane inventory for one job.
type SummaryResponse = jobs.JobSummary

// FinalizeResponse reports the outcome of a finalize request. InProgress is
// a poll-again signal, not a failure.
type FinalizeResponse struct {
	JobID          string                   `json:"jobId"`
	Success        bool                     `json:"success"`
	InProgress     bool                     `json:"inProgress"`
	Cached         bool                     `json:"cached,omitempty"`
	VerdictSummary *reconcile.SummaryCounts `json:"verdictSummary,omitempty"`
	SheetURL       string                   `json:"sheetUrl,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

// ResultsResponse carries the merged verdict set of a finalized job.
type ResultsResponse struct {
	Success       bool                    `json:"success"`
	JobID         string                  `json:"jobId"`
	Merged        *reconcile.VerdictSet   `json:"merged"`
	SummaryCounts reconcile.SummaryCounts `json:"summaryCounts"`
	SheetURL      string                  `json:"sheetUrl,omitempty"`
	FinalizedAt   string                  `json:"finalizedAt,omitempty"`
}

// HealthResponse summarizes daemon readiness.
type HealthResponse struct {
	Ready     bool                `json:"ready"`
	PID       int                 `json:"pid"`
	Database  jobs.DatabaseHealth `json:"database"`
	Stages    []stage.Health      `json:"stages"`
	Lanes     []lanes.LaneStats   `json:"lanes"`
	JobCounts map[string]int      `json:"jobCounts"`
	Clients   int                 `json:"websocketClients"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Hint      string `json:"hint,omitempty"`
}
