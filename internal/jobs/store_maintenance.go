package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// reapableStates are the states an abandoned job can sit in forever.
var reapableStates = []State{StateCreated, StateProcessing, StateReady}

// SweepExpired fails jobs created before cutoff that never finalized. It
// returns the ids of the jobs it failed.
func (s *Store) SweepExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx = ensureContext(ctx)
	stale := sq.And{
		sq.Eq{"state": stateStrings(reapableStates)},
		sq.Lt{"created_at": formatTime(cutoff)},
	}
	selectSQL, selectArgs, err := sq.Select("id").From("jobs").Where(stale).OrderBy("created_at").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sweep query: %w", err)
	}

	var ids []string
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ids = ids[:0]
		rows, err := tx.QueryContext(ctx, selectSQL, selectArgs...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		updateSQL, updateArgs, err := sq.Update("jobs").
			Set("state", StateFailed).
			Set("error_message", ExpiredReason).
			Set("updated_at", formatTime(s.now())).
			Where(stale).
			Where(sq.Eq{"id": ids}).
			ToSql()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, updateSQL, updateArgs...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sweep expired jobs: %w", err)
	}
	return ids, nil
}

// ReclaimStaleFinalizing returns FINALIZING jobs whose heartbeat is older
// than cutoff to READY. A finalize whose process died would otherwise hold
// the job forever.
func (s *Store) ReclaimStaleFinalizing(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs
         SET state = ?, error_message = ?, last_heartbeat = NULL, updated_at = ?
         WHERE state = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		StateReady, "finalize heartbeat expired", formatTime(s.now()), StateFinalizing, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale finalizing: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckExtracting returns files left EXTRACTING by a dead process to
// PENDING so they can be claimed again.
func (s *Store) ResetStuckExtracting(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE job_files SET status = ?, updated_at = ?
         WHERE status = ? AND job_id IN (SELECT id FROM jobs WHERE state IN (?, ?))`,
		FilePending, formatTime(s.now()), FileExtracting, StateCreated, StateProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck extracting: %w", err)
	}
	return res.RowsAffected()
}

// PendingFiles lists every claimable document, oldest first.
func (s *Store) PendingFiles(ctx context.Context) ([]*FileAsset, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+fileColumns+` FROM job_files
         WHERE status = ? AND job_id IN (SELECT id FROM jobs WHERE state IN (?, ?))
         ORDER BY created_at, rowid`,
		FilePending, StateCreated, StateProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("pending files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

// Stats returns a count of jobs grouped by state.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT state, COUNT(1) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int)
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// HealthSummary aggregates job counts for diagnostic output.
type HealthSummary struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Ready      int `json:"ready"`
	Finalized  int `json:"finalized"`
	Failed     int `json:"failed"`
	Finalizing int `json:"finalizing"`
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for state, count := range stats {
		health.Total += count
		switch state {
		case StateCreated, StateProcessing:
			health.Active += count
		case StateReady:
			health.Ready += count
		case StateFinalizing:
			health.Finalizing += count
		case StateFinalized:
			health.Finalized += count
		case StateFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// DatabaseHealth describes the job database for the doctor command.
type DatabaseHealth struct {
	DBPath           string `json:"dbPath"`
	DatabaseExists   bool   `json:"databaseExists"`
	DatabaseReadable bool   `json:"databaseReadable"`
	SchemaVersion    int    `json:"schemaVersion"`
	Error            string `json:"error,omitempty"`
}

// CheckHealth returns diagnostic information about the job database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("job database path is unknown")
	}
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat job database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("job database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping job database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}
	if health.SchemaVersion != schemaVersion {
		health.Error = fmt.Sprintf("schema version %d, expected %d", health.SchemaVersion, schemaVersion)
	}
	return health, nil
}
