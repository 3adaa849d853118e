package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"qcflow/internal/config"
	"qcflow/internal/reconcile"
	"qcflow/internal/services"
)

// ClaimFile hands a pending document to exactly one worker. A file that is
// not PENDING is a conflict: another worker owns it or it already finished.
func (s *Store) ClaimFile(ctx context.Context, jobID, fileID string) (*FileAsset, error) {
	ctx = ensureContext(ctx)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := loadJob(ctx, tx, jobID)
		if err != nil {
			return notFoundOr(err, "job "+jobID)
		}
		if job.State != StateCreated && job.State != StateProcessing {
			return services.Wrap(services.ErrConflict, "jobs", "claim file", "job is "+string(job.State), nil)
		}
		now := formatTime(s.now())
		res, err := tx.ExecContext(ctx,
			`UPDATE job_files SET status = ?, attempts = attempts + 1, updated_at = ?
             WHERE id = ? AND job_id = ? AND status = ?`,
			FileExtracting, now, fileID, jobID, FilePending,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			file, err := loadFile(ctx, tx, jobID, fileID)
			if err != nil {
				return notFoundOr(err, "file "+fileID)
			}
			return services.Wrap(services.ErrConflict, "jobs", "claim file", "file is "+string(file.Status), nil)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
			StateProcessing, now, jobID, StateCreated,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetFile(ctx, jobID, fileID)
}

// RegisterFileCompletion records a document's extraction result. Repeating
// the call for the same file is accepted without counting it twice. The job
// moves to READY once the readiness policy holds.
func (s *Store) RegisterFileCompletion(ctx context.Context, jobID, fileID string, result json.RawMessage) (*Status, error) {
	ctx = ensureContext(ctx)
	if len(result) > 0 && !json.Valid(result) {
		return nil, services.Wrap(services.ErrInvalidRequest, "jobs", "register completion", "extraction result is not valid JSON", nil)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, file, err := loadJobAndFile(ctx, tx, jobID, fileID)
		if err != nil {
			return err
		}
		switch job.State {
		case StateFinalized, StateFailed:
			return services.Wrap(services.ErrConflict, "jobs", "register completion", "job is "+string(job.State), nil)
		case StateFinalizing:
			return services.Wrap(services.ErrConflict, "jobs", "register completion", "job is being finalized", nil)
		}
		if file.Status == FileExtracted {
			return nil
		}

		now := formatTime(s.now())
		res, err := tx.ExecContext(ctx,
			`UPDATE job_files SET status = ?, extraction_json = ?, error_message = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			FileExtracted, nullableString(string(result)), now, fileID, file.Status,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return services.Wrap(services.ErrTransient, "jobs", "register completion", "file changed concurrently", nil)
		}

		recovered := 0
		if file.Status == FileExtractionFailed {
			recovered = 1
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE jobs
             SET completed_file_count = completed_file_count + 1,
                 failed_file_count = failed_file_count - ?,
                 state = CASE WHEN state = ? THEN ? ELSE state END,
                 updated_at = ?
             WHERE id = ? AND completed_file_count < expected_file_count`,
			recovered, StateCreated, StateProcessing, now, jobID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return services.Wrap(services.ErrConflict, "jobs", "register completion",
				fmt.Sprintf("job already has %d of %d completions", job.CompletedFileCount, job.ExpectedFileCount), nil)
		}
		return s.evaluateReadiness(ctx, tx, jobID)
	})
	if err != nil {
		return nil, err
	}
	return s.GetStatus(ctx, jobID)
}

// MarkFileFailed records an unrecoverable extraction failure. Under the
// all-required policy the job fails; under best-effort the job still becomes
// READY once every document is terminal, as long as the policy extracted.
func (s *Store) MarkFileFailed(ctx context.Context, jobID, fileID, reason string) (*Status, error) {
	ctx = ensureContext(ctx)
	if reason == "" {
		reason = "extraction failed"
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job, file, err := loadJobAndFile(ctx, tx, jobID, fileID)
		if err != nil {
			return err
		}
		if job.State.Terminal() || job.State == StateFinalizing {
			return services.Wrap(services.ErrConflict, "jobs", "mark failed", "job is "+string(job.State), nil)
		}
		switch file.Status {
		case FileExtractionFailed:
			return nil
		case FileExtracted:
			return services.Wrap(services.ErrConflict, "jobs", "mark failed", "file already extracted", nil)
		}

		now := formatTime(s.now())
		res, err := tx.ExecContext(ctx,
			`UPDATE job_files SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
			FileExtractionFailed, reason, now, fileID, file.Status,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return services.Wrap(services.ErrTransient, "jobs", "mark failed", "file changed concurrently", nil)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs
             SET failed_file_count = failed_file_count + 1,
                 state = CASE WHEN state = ? THEN ? ELSE state END,
                 updated_at = ?
             WHERE id = ?`,
			StateCreated, StateProcessing, now, jobID,
		); err != nil {
			return err
		}

		if s.policy != config.ReadinessBestEffort {
			return failJobTx(ctx, tx, jobID, fmt.Sprintf("%s document %s: %s", file.Role.Label(), displayName(file), reason), now)
		}
		return s.evaluateReadiness(ctx, tx, jobID)
	})
	if err != nil {
		return nil, err
	}
	return s.GetStatus(ctx, jobID)
}

// evaluateReadiness applies the readiness policy to the job's current
// counts. It only ever moves CREATED or PROCESSING jobs forward.
func (s *Store) evaluateReadiness(ctx context.Context, tx *sql.Tx, jobID string) error {
	job, err := loadJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if job.State != StateCreated && job.State != StateProcessing {
		return nil
	}
	now := formatTime(s.now())

	if s.policy != config.ReadinessBestEffort {
		if job.CompletedFileCount == job.ExpectedFileCount && job.FailedFileCount == 0 {
			return markReadyTx(ctx, tx, jobID, now)
		}
		return nil
	}

	files, err := loadFiles(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if len(files) < job.ExpectedFileCount {
		return nil
	}
	var policy *FileAsset
	for _, f := range files {
		if !f.Status.Terminal() {
			return nil
		}
		if f.Role == reconcile.RolePolicy {
			policy = f
		}
	}
	if policy == nil || policy.Status != FileExtracted {
		return failJobTx(ctx, tx, jobID, "policy document did not extract", now)
	}
	return markReadyTx(ctx, tx, jobID, now)
}

func markReadyTx(ctx context.Context, tx *sql.Tx, jobID, now string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state IN (?, ?)`,
		StateReady, now, jobID, StateCreated, StateProcessing,
	)
	return err
}

func failJobTx(ctx context.Context, tx *sql.Tx, jobID, reason, now string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error_message = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND state NOT IN (?, ?)`,
		StateFailed, reason, now, jobID, StateFinalized, StateFailed,
	)
	return err
}

func loadJobAndFile(ctx context.Context, tx *sql.Tx, jobID, fileID string) (*Job, *FileAsset, error) {
	job, err := loadJob(ctx, tx, jobID)
	if err != nil {
		return nil, nil, notFoundOr(err, "job "+jobID)
	}
	file, err := loadFile(ctx, tx, jobID, fileID)
	if err != nil {
		return nil, nil, notFoundOr(err, "file "+fileID)
	}
	return job, file, nil
}

func displayName(file *FileAsset) string {
	if file.FileName != "" {
		return file.FileName
	}
	return file.ID
}
