package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"qcflow/internal/reconcile"
	"qcflow/internal/services"
)

// CreateJob creates a job together with one file asset per document. Exactly
// one policy document is required.
func (s *Store) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if len(req.Files) == 0 {
		return nil, services.Wrap(services.ErrInvalidRequest, "jobs", "create", "at least one document is required", nil)
	}
	specs := make([]FileSpec, 0, len(req.Files))
	policies := 0
	for i, spec := range req.Files {
		normalized, err := normalizeFileSpec(spec)
		if err != nil {
			return nil, services.Wrap(services.ErrInvalidRequest, "jobs", "create", fmt.Sprintf("document %d", i), err)
		}
		if normalized.Role == reconcile.RolePolicy {
			policies++
		}
		specs = append(specs, normalized)
	}
	switch {
	case policies == 0:
		return nil, services.Wrap(services.ErrInvalidRequest, "jobs", "create", "a policy document is required", nil)
	case policies > 1:
		return nil, services.Wrap(services.ErrInvalidRequest, "jobs", "create", "only one policy document is allowed", nil)
	}

	jobID := uuid.NewString()
	now := formatTime(s.now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, state, expected_file_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			jobID, StateCreated, len(specs), now, now,
		); err != nil {
			return err
		}
		for _, spec := range specs {
			if err := insertFile(ctx, tx, jobID, spec, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return s.GetJob(ctx, jobID)
}

// CreateJobWithCount creates an empty job expecting the given number of
// documents. Documents are attached with AddFile.
func (s *Store) CreateJobWithCount(ctx context.Context, expected int) (*Job, error) {
	if expected < 1 {
		return nil, services.Wrap(services.ErrInvalidRequest, "jobs", "create",
			fmt.Sprintf("expected file count must be at least 1, got %d", expected), nil)
	}
	jobID := uuid.NewString()
	now := formatTime(s.now())
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (id, state, expected_file_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		jobID, StateCreated, expected, now, now,
	); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return s.GetJob(ctx, jobID)
}

// AddFile attaches a document to a job created with CreateJobWithCount.
func (s *Store) AddFile(ctx context.Context, jobID string, spec FileSpec) (*FileAsset, error) {
	normalized, err := normalizeFileSpec(spec)
	if err != nil {
		return nil, services.Wrap(services.ErrInvalidRequest, "jobs", "add file", "", err)
	}
	var fileID string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := loadJob(ctx, tx, jobID)
		if err != nil {
			return notFoundOr(err, "job "+jobID)
		}
		if job.State != StateCreated && job.State != StateProcessing {
			return services.Wrap(services.ErrConflict, "jobs", "add file", "job is "+string(job.State), nil)
		}
		var count, policies int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1), COALESCE(SUM(role = ?), 0) FROM job_files WHERE job_id = ?`,
			reconcile.RolePolicy, jobID,
		).Scan(&count, &policies); err != nil {
			return err
		}
		if count >= job.ExpectedFileCount {
			return services.Wrap(services.ErrConflict, "jobs", "add file",
				fmt.Sprintf("job already has all %d expected documents", job.ExpectedFileCount), nil)
		}
		if normalized.Role == reconcile.RolePolicy && policies > 0 {
			return services.Wrap(services.ErrInvalidRequest, "jobs", "add file", "only one policy document is allowed", nil)
		}
		fileID, err = insertFileReturningID(ctx, tx, jobID, normalized, formatTime(s.now()))
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetFile(ctx, jobID, fileID)
}

func normalizeFileSpec(spec FileSpec) (FileSpec, error) {
	role, err := reconcile.ParseRole(string(spec.Role))
	if err != nil {
		return spec, err
	}
	spec.Role = role
	spec.StorageLocation = strings.TrimSpace(spec.StorageLocation)
	if spec.StorageLocation == "" {
		return spec, errors.New("storage location is required")
	}
	spec.FileName = strings.TrimSpace(spec.FileName)
	return spec, nil
}

func insertFile(ctx context.Context, tx *sql.Tx, jobID string, spec FileSpec, now string) error {
	_, err := insertFileReturningID(ctx, tx, jobID, spec, now)
	return err
}

func insertFileReturningID(ctx context.Context, tx *sql.Tx, jobID string, spec FileSpec, now string) (string, error) {
	id := uuid.NewString()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO job_files (id, job_id, role, file_name, storage_location, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, jobID, spec.Role, nullableString(spec.FileName), spec.StorageLocation, FilePending, now, now,
	)
	return id, err
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	job, err := loadJob(ensureContext(ctx), s.db, jobID)
	if err != nil {
		return nil, notFoundOr(err, "job "+jobID)
	}
	return job, nil
}

// GetFile fetches one file asset of a job.
func (s *Store) GetFile(ctx context.Context, jobID, fileID string) (*FileAsset, error) {
	file, err := loadFile(ensureContext(ctx), s.db, jobID, fileID)
	if err != nil {
		return nil, notFoundOr(err, "file "+fileID)
	}
	return file, nil
}

// ListFiles returns the documents of a job in submission order.
func (s *Store) ListFiles(ctx context.Context, jobID string) ([]*FileAsset, error) {
	ctx = ensureContext(ctx)
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	files, err := loadFiles(ctx, s.db, jobID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// GetStatus returns the poller view of a job. It never mutates state.
func (s *Store) GetStatus(ctx context.Context, jobID string) (*Status, error) {
	ctx = ensureContext(ctx)
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	files, err := loadFiles(ctx, s.db, jobID)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	return buildStatus(job, files), nil
}

func buildStatus(job *Job, files []*FileAsset) *Status {
	status := &Status{
		JobID:              job.ID,
		State:              job.State,
		Ready:              job.State == StateReady || job.State == StateFinalizing || job.State == StateFinalized,
		CompletedFileCount: job.CompletedFileCount,
		ExpectedFileCount:  job.ExpectedFileCount,
		FailedFileCount:    job.FailedFileCount,
		Message:            statusMessage(job),
		SheetURL:           job.SheetURL,
		Files:              make([]FileState, 0, len(files)),
		UpdatedAt:          job.UpdatedAt,
	}
	if job.State == StateFailed {
		status.Error = job.ErrorMessage
	}
	for _, f := range files {
		status.Files = append(status.Files, FileState{
			ID:       f.ID,
			Role:     f.Role,
			FileName: f.FileName,
			Status:   f.Status,
			Error:    f.ErrorMessage,
		})
	}
	return status
}

// ListJobs returns jobs newest first, optionally filtered by state and age.
func (s *Store) ListJobs(ctx context.Context, filter Filter) ([]*Job, error) {
	query := sq.Select(jobColumns).From("jobs").OrderBy("created_at DESC", "id")
	if len(filter.States) > 0 {
		query = query.Where(sq.Eq{"state": stateStrings(filter.States)})
	}
	if !filter.CreatedAfter.IsZero() {
		query = query.Where(sq.Gt{"created_at": formatTime(filter.CreatedAfter)})
	}
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build job listing: %w", err)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// notFoundOr maps sql.ErrNoRows to ErrNotFound.
func notFoundOr(err error, subject string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return services.Wrap(services.ErrNotFound, "jobs", "lookup", subject+" does not exist", nil)
	}
	return err
}
