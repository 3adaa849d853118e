package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"qcflow/internal/reconcile"
	"qcflow/internal/services"
)

// BeginFinalize moves a READY job to FINALIZING. The compare-and-set makes
// it the cross-process guard: exactly one caller wins per READY period.
func (s *Store) BeginFinalize(ctx context.Context, jobID string) (*Job, error) {
	ctx = ensureContext(ctx)
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET state = ?, last_heartbeat = ?, finalize_attempts = finalize_attempts + 1, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateFinalizing, now, now, jobID, StateReady,
	)
	if err != nil {
		return nil, fmt.Errorf("begin finalize: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return nil, finalizeStateError(job)
	}
	return s.GetJob(ctx, jobID)
}

// finalizeStateError explains why a job cannot enter FINALIZING.
func finalizeStateError(job *Job) error {
	switch job.State {
	case StateFinalizing:
		return services.Wrap(services.ErrInProgress, "jobs", "finalize", "finalize already running", nil)
	case StateFinalized:
		return services.Wrap(services.ErrConflict, "jobs", "finalize", "job already finalized", nil)
	case StateFailed:
		return services.Wrap(services.ErrConflict, "jobs", "finalize", "job failed: "+job.ErrorMessage, nil)
	default:
		return services.Wrap(services.ErrNotReady, "jobs", "finalize",
			fmt.Sprintf("job is %s (%d/%d files completed)", job.State, job.CompletedFileCount, job.ExpectedFileCount), nil)
	}
}

// TouchFinalize refreshes the finalize heartbeat.
func (s *Store) TouchFinalize(ctx context.Context, jobID string) error {
	return s.updateFinalizing(ctx, "heartbeat",
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND state = ?`,
		jobID)
}

// SaveVerdicts persists the reconciled verdict set of a finalizing job.
func (s *Store) SaveVerdicts(ctx context.Context, jobID string, verdicts *reconcile.VerdictSet) error {
	if verdicts == nil {
		return services.Wrap(services.ErrInvalidRequest, "jobs", "save verdicts", "verdict set is nil", nil)
	}
	payload, err := json.Marshal(verdicts)
	if err != nil {
		return fmt.Errorf("encode verdicts: %w", err)
	}
	ctx = ensureContext(ctx)
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET verdict_json = ?, last_heartbeat = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(payload), now, now, jobID, StateFinalizing,
	)
	if err != nil {
		return fmt.Errorf("save verdicts: %w", err)
	}
	return requireFinalizing(res, "save verdicts")
}

// LoadVerdicts returns the verdict set saved by an earlier finalize attempt,
// or nil when none exists.
func (s *Store) LoadVerdicts(ctx context.Context, jobID string) (*reconcile.VerdictSet, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT verdict_json FROM jobs WHERE id = ?`, jobID).Scan(&raw)
	if err != nil {
		return nil, notFoundOr(err, "job "+jobID)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var verdicts reconcile.VerdictSet
	if err := json.Unmarshal([]byte(raw.String), &verdicts); err != nil {
		return nil, fmt.Errorf("decode verdicts: %w", err)
	}
	return &verdicts, nil
}

// CompleteFinalize marks a finalizing job FINALIZED. Verdicts must already be
// saved.
func (s *Store) CompleteFinalize(ctx context.Context, jobID, sheetURL string) (*Result, error) {
	ctx = ensureContext(ctx)
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET state = ?, sheet_url = ?, finalized_at = ?, last_heartbeat = NULL, error_message = NULL, updated_at = ?
         WHERE id = ? AND state = ? AND verdict_json IS NOT NULL`,
		StateFinalized, nullableString(sheetURL), now, now, jobID, StateFinalizing,
	)
	if err != nil {
		return nil, fmt.Errorf("complete finalize: %w", err)
	}
	if err := requireFinalizing(res, "complete finalize"); err != nil {
		return nil, err
	}
	return s.GetResult(ctx, jobID)
}

// RevertFinalize returns a finalizing job to READY so a later call can retry.
// Saved verdicts are kept.
func (s *Store) RevertFinalize(ctx context.Context, jobID, reason string) error {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET state = ?, error_message = ?, last_heartbeat = NULL, updated_at = ? WHERE id = ? AND state = ?`,
		StateReady, nullableString(reason), formatTime(s.now()), jobID, StateFinalizing,
	)
	if err != nil {
		return fmt.Errorf("revert finalize: %w", err)
	}
	return requireFinalizing(res, "revert finalize")
}

// FailJob moves any non-terminal job to FAILED.
func (s *Store) FailJob(ctx context.Context, jobID, reason string) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := loadJob(ctx, tx, jobID)
		if err != nil {
			return notFoundOr(err, "job "+jobID)
		}
		if job.State.Terminal() {
			return services.Wrap(services.ErrConflict, "jobs", "fail job", "job is "+string(job.State), nil)
		}
		return failJobTx(ctx, tx, jobID, reason, formatTime(s.now()))
	})
}

// GetResult returns the persisted outcome of a finalized job.
func (s *Store) GetResult(ctx context.Context, jobID string) (*Result, error) {
	ctx = ensureContext(ctx)
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.State {
	case StateFinalized:
	case StateFailed:
		return nil, services.Wrap(services.ErrConflict, "jobs", "results", "job failed: "+job.ErrorMessage, nil)
	default:
		return nil, services.Wrap(services.ErrNotReady, "jobs", "results", "job is "+string(job.State), nil)
	}
	verdicts, err := s.LoadVerdicts(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if verdicts == nil {
		return nil, fmt.Errorf("finalized job %s has no verdicts", jobID)
	}
	result := &Result{
		JobID:    job.ID,
		Verdicts: verdicts,
		Summary:  verdicts.Summary,
		SheetURL: job.SheetURL,
	}
	if job.FinalizedAt != nil {
		result.FinalizedAt = *job.FinalizedAt
	}
	return result, nil
}

func (s *Store) updateFinalizing(ctx context.Context, op, query, jobID string) error {
	ctx = ensureContext(ctx)
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx, query, now, now, jobID, StateFinalizing)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return requireFinalizing(res, op)
}

func requireFinalizing(res sql.Result, op string) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrConflict, "jobs", op, "job is not finalizing", nil)
	}
	return nil
}
