package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"qcflow/internal/reconcile"
)

const jobColumns = "id, state, expected_file_count, completed_file_count, failed_file_count, error_message, sheet_url, finalize_attempts, verdict_json IS NOT NULL, last_heartbeat, created_at, updated_at, finalized_at"

const fileColumns = "id, job_id, role, file_name, storage_location, status, extraction_json, error_message, attempts, created_at, updated_at"

// timeLayout is fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type rowScanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		id           string
		state        string
		expected     int
		completed    int
		failed       int
		errorMessage sql.NullString
		sheetURL     sql.NullString
		attempts     int
		hasVerdicts  bool
		heartbeatRaw sql.NullString
		createdRaw   string
		updatedRaw   string
		finalizedRaw sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&state,
		&expected,
		&completed,
		&failed,
		&errorMessage,
		&sheetURL,
		&attempts,
		&hasVerdicts,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
		&finalizedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:                 id,
		State:              State(state),
		ExpectedFileCount:  expected,
		CompletedFileCount: completed,
		FailedFileCount:    failed,
		ErrorMessage:       errorMessage.String,
		SheetURL:           sheetURL.String,
		FinalizeAttempts:   attempts,
		HasVerdicts:        hasVerdicts,
		LastHeartbeat:      parseNullableTime(heartbeatRaw),
		FinalizedAt:        parseNullableTime(finalizedRaw),
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func scanFile(scanner rowScanner) (*FileAsset, error) {
	var (
		id           string
		jobID        string
		role         string
		fileName     sql.NullString
		location     string
		status       string
		extraction   sql.NullString
		errorMessage sql.NullString
		attempts     int
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&id,
		&jobID,
		&role,
		&fileName,
		&location,
		&status,
		&extraction,
		&errorMessage,
		&attempts,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	file := &FileAsset{
		ID:              id,
		JobID:           jobID,
		Role:            reconcile.Role(role),
		FileName:        fileName.String,
		StorageLocation: location,
		Status:          FileStatus(status),
		ErrorMessage:    errorMessage.String,
		Attempts:        attempts,
	}
	if extraction.Valid && extraction.String != "" {
		file.ExtractionResult = json.RawMessage(extraction.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		file.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		file.UpdatedAt = updated
	}
	return file, nil
}

func loadJob(ctx context.Context, q querier, jobID string) (*Job, error) {
	return scanJob(q.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", jobID))
}

func loadFile(ctx context.Context, q querier, jobID, fileID string) (*FileAsset, error) {
	return scanFile(q.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM job_files WHERE id = ? AND job_id = ?", fileID, jobID))
}

func loadFiles(ctx context.Context, q querier, jobID string) ([]*FileAsset, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM job_files WHERE job_id = ? ORDER BY created_at, rowid", jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

func collectFiles(rows *sql.Rows) ([]*FileAsset, error) {
	var files []*FileAsset
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func stateStrings(states []State) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, string(s))
	}
	return out
}
