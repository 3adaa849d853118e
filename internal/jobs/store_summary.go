package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"qcflow/internal/services"
)

// SaveSummary stores the document inventory built by the summary lane. It
// never touches the job's state or counts.
func (s *Store) SaveSummary(ctx context.Context, summary *JobSummary) error {
	if summary == nil || summary.JobID == "" {
		return services.Wrap(services.ErrInvalidRequest, "jobs", "save summary", "summary requires a job id", nil)
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET summary_json = ? WHERE id = ?`,
		string(payload), summary.JobID,
	)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "jobs", "save summary", "job "+summary.JobID+" does not exist", nil)
	}
	return nil
}

// GetSummary returns the stored document inventory of a job.
func (s *Store) GetSummary(ctx context.Context, jobID string) (*JobSummary, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT summary_json FROM jobs WHERE id = ?`, jobID).Scan(&raw)
	if err != nil {
		return nil, notFoundOr(err, "job "+jobID)
	}
	if !raw.Valid || raw.String == "" {
		return nil, services.Wrap(services.ErrNotReady, "jobs", "summary", "summary not generated yet", nil)
	}
	var summary JobSummary
	if err := json.Unmarshal([]byte(raw.String), &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}
