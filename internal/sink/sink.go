// Package sink publishes finalized verdict sets downstream. The workbook
// sink renders one XLSX file per job into the export directory.
package sink

import (
	"context"
	"log/slog"

	"qcflow/internal/config"
	"qcflow/internal/reconcile"
)

// Sink receives a job's verdict set and returns where it was published.
// Push may be retried and must tolerate being called again for a job it
// already published.
type Sink interface {
	Push(ctx context.Context, jobID string, verdicts *reconcile.VerdictSet) (string, error)
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, jobID string, verdicts *reconcile.VerdictSet) (string, error)

// Push implements Sink.
func (f Func) Push(ctx context.Context, jobID string, verdicts *reconcile.VerdictSet) (string, error) {
	return f(ctx, jobID, verdicts)
}

// New returns the configured sink.
func New(cfg *config.Config, logger *slog.Logger) Sink {
	return NewWorkbook(cfg.Paths.ExportDir, logger)
}
