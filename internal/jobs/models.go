package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"qcflow/internal/reconcile"
)

// State represents the lifecycle of a job.
type State string

const (
	StateCreated    State = "CREATED"
	StateProcessing State = "PROCESSING"
	StateReady      State = "READY"
	StateFinalizing State = "FINALIZING"
	StateFinalized  State = "FINALIZED"
	StateFailed     State = "FAILED"
)

var allStates = []State{
	StateCreated,
	StateProcessing,
	StateReady,
	StateFinalizing,
	StateFinalized,
	StateFailed,
}

// AllStates returns every job state in lifecycle order.
func AllStates() []State {
	return append([]State(nil), allStates...)
}

// ParseState normalizes a user-supplied state name.
func ParseState(value string) (State, bool) {
	value = strings.ToUpper(strings.TrimSpace(value))
	for _, s := range allStates {
		if string(s) == value {
			return s, true
		}
	}
	return "", false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// FileStatus represents the lifecycle of one uploaded document.
type FileStatus string

const (
	FilePending          FileStatus = "PENDING"
	FileExtracting       FileStatus = "EXTRACTING"
	FileExtracted        FileStatus = "EXTRACTED"
	FileExtractionFailed FileStatus = "EXTRACTION_FAILED"
)

// Terminal reports whether extraction for the file has finished.
func (s FileStatus) Terminal() bool {
	return s == FileExtracted || s == FileExtractionFailed
}

// ExpiredReason is the failure reason recorded by the reaper.
const ExpiredReason = "expired"

// Job is one upload session.
type Job struct {
	ID                 string
	State              State
	ExpectedFileCount  int
	CompletedFileCount int
	FailedFileCount    int
	ErrorMessage       string
	SheetURL           string
	FinalizeAttempts   int
	HasVerdicts        bool
	LastHeartbeat      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	FinalizedAt        *time.Time
}

// FileAsset is one submitted document within a job.
type FileAsset struct {
	ID               string
	JobID            string
	Role             reconcile.Role
	FileName         string
	StorageLocation  string
	Status           FileStatus
	ExtractionResult json.RawMessage
	ErrorMessage     string
	Attempts         int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FileSpec describes a document to attach to a job.
type FileSpec struct {
	Role            reconcile.Role
	FileName        string
	StorageLocation string
}

// CreateJobRequest creates a job together with its documents.
type CreateJobRequest struct {
	Files []FileSpec
}

// FileState is the per-file view included in job status.
type FileState struct {
	ID       string         `json:"id"`
	Role     reconcile.Role `json:"role"`
	FileName string         `json:"fileName,omitempty"`
	Status   FileStatus     `json:"status"`
	Error    string         `json:"error,omitempty"`
}

// Status is the side-effect free view of a job returned to pollers.
type Status struct {
	JobID              string      `json:"jobId"`
	State              State       `json:"state"`
	Ready              bool        `json:"ready"`
	CompletedFileCount int         `json:"completedFiles"`
	ExpectedFileCount  int         `json:"expectedFiles"`
	FailedFileCount    int         `json:"failedFiles"`
	Message            string      `json:"message"`
	Error              string      `json:"error,omitempty"`
	SheetURL           string      `json:"sheetUrl,omitempty"`
	Files              []FileState `json:"files"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// Result is the persisted outcome of a successful finalize.
type Result struct {
	JobID       string                  `json:"jobId"`
	Verdicts    *reconcile.VerdictSet   `json:"merged"`
	Summary     reconcile.SummaryCounts `json:"summaryCounts"`
	SheetURL    string                  `json:"sheetUrl,omitempty"`
	FinalizedAt time.Time               `json:"finalizedAt"`
}

// FileSummary is one entry of the summary lane inventory.
type FileSummary struct {
	FileID     string         `json:"fileId"`
	Role       reconcile.Role `json:"role"`
	FileName   string         `json:"fileName,omitempty"`
	Pages      int            `json:"pages"`
	TextLength int            `json:"textLength"`
	Error      string         `json:"error,omitempty"`
}

// JobSummary is the document inventory produced by the summary lane.
type JobSummary struct {
	JobID       string        `json:"jobId"`
	GeneratedAt time.Time     `json:"generatedAt"`
	TotalPages  int           `json:"totalPages"`
	Files       []FileSummary `json:"files"`
	Error       string        `json:"error,omitempty"`
}

// Filter narrows ListJobs.
type Filter struct {
	States       []State
	CreatedAfter time.Time
	Limit        int
}

// statusMessage renders the human readable progress line.
func statusMessage(job *Job) string {
	switch job.State {
	case StateCreated:
		return fmt.Sprintf("Waiting for processing (0/%d files completed)", job.ExpectedFileCount)
	case StateProcessing:
		msg := fmt.Sprintf("%d/%d files completed", job.CompletedFileCount, job.ExpectedFileCount)
		if job.FailedFileCount > 0 {
			msg += fmt.Sprintf(", %d failed", job.FailedFileCount)
		}
		return msg
	case StateReady:
		if job.ErrorMessage != "" {
			return "Ready to finalize (last attempt: " + job.ErrorMessage + ")"
		}
		return "Ready to finalize"
	case StateFinalizing:
		return "Finalizing"
	case StateFinalized:
		return "Finalized"
	case StateFailed:
		if job.ErrorMessage != "" {
			return "Failed: " + job.ErrorMessage
		}
		return "Failed"
	default:
		return string(job.State)
	}
}
