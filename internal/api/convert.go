package api

import (
	"time"

	"qcflow/internal/finalize"
	"qcflow/internal/jobs"
	"qcflow/internal/services"
)

// FromJob converts a job record to its API representation.
func FromJob(job *jobs.Job) JobItem {
	if job == nil {
		return JobItem{}
	}
	dto := JobItem{
		ID:             job.ID,
		State:          string(job.State),
		ExpectedFiles:  job.ExpectedFileCount,
		CompletedFiles: job.CompletedFileCount,
		FailedFiles:    job.FailedFileCount,
		Error:          job.ErrorMessage,
		SheetURL:       job.SheetURL,
		CreatedAt:      formatTime(job.CreatedAt),
		UpdatedAt:      formatTime(job.UpdatedAt),
	}
	if job.FinalizedAt != nil {
		dto.FinalizedAt = formatTime(*job.FinalizedAt)
	}
	return dto
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(list []*jobs.Job) []JobItem {
	out := make([]JobItem, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job))
	}
	return out
}

// FromFinalizeResult converts a coordinator result.
func FromFinalizeResult(res finalize.Result) FinalizeResponse {
	return FinalizeResponse{
		JobID:          res.JobID,
		Success:        res.Success,
		InProgress:     res.InProgress,
		Cached:         res.Cached,
		VerdictSummary: res.VerdictSummary,
		SheetURL:       res.SheetURL,
		Error:          res.Error,
	}
}

// FromResult converts a stored finalize result.
func FromResult(res *jobs.Result) ResultsResponse {
	if res == nil {
		return ResultsResponse{}
	}
	return ResultsResponse{
		Success:       true,
		JobID:         res.JobID,
		Merged:        res.Verdicts,
		SummaryCounts: res.Summary,
		SheetURL:      res.SheetURL,
		FinalizedAt:   formatTime(res.FinalizedAt),
	}
}

// FromError classifies err into an error body.
func FromError(err error) ErrorResponse {
	details := services.Details(err)
	return ErrorResponse{
		Error:     details.Message,
		Code:      string(details.Kind),
		Retryable: details.Retryable,
		Hint:      details.Hint,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
