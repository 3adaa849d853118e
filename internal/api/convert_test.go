package api

import (
	"testing"
	"time"

	"qcflow/internal/jobs"
	"qcflow/internal/services"
)

func TestFromJobFormatsTimestamps(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	finalized := created.Add(time.Hour)
	dto := FromJob(&jobs.Job{
		ID:                 "job-1",
		State:              jobs.StateFinalized,
		ExpectedFileCount:  3,
		CompletedFileCount: 3,
		CreatedAt:          created,
		FinalizedAt:        &finalized,
	})
	if dto.State != "FINALIZED" || dto.ExpectedFiles != 3 {
		t.Fatalf("unexpected dto %#v", dto)
	}
	if dto.CreatedAt != "2026-03-01T12:30:00.000Z" {
		t.Fatalf("created = %q", dto.CreatedAt)
	}
	if dto.FinalizedAt != "2026-03-01T13:30:00.000Z" {
		t.Fatalf("finalized = %q", dto.FinalizedAt)
	}
	if dto.UpdatedAt != "" {
		t.Fatalf("zero time should be omitted, got %q", dto.UpdatedAt)
	}
}

func TestFromErrorClassifies(t *testing.T) {
	body := FromError(services.Wrap(services.ErrSinkUnavailable, "finalize", "push", "sheet down", nil))
	if body.Code != "sink_unavailable" || !body.Retryable || body.Error == "" {
		t.Fatalf("unexpected body %#v", body)
	}
	if FromJob(nil).ID != "" {
		t.Fatal("nil job should convert to zero value")
	}
}
