package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"qcflow/internal/intake"
	"qcflow/internal/jobs"
	"qcflow/internal/lanes"
	"qcflow/internal/logging"
	"qcflow/internal/services"
	"qcflow/internal/stage"
)

// SummaryHandler inventories the documents of a job. Its outcome is stored
// on the summary record only and never affects readiness.
type SummaryHandler struct {
	store     *jobs.Store
	uploadDir string
	logger    *slog.Logger
}

// NewSummaryHandler constructs the summary lane handler.
func NewSummaryHandler(store *jobs.Store, uploadDir string, logger *slog.Logger) *SummaryHandler {
	return &SummaryHandler{store: store, uploadDir: uploadDir, logger: logging.NewComponentLogger(logger, "summary")}
}

// Handle builds and saves the job summary.
func (h *SummaryHandler) Handle(ctx context.Context, unit lanes.Unit) error {
	u, ok := unit.(lanes.SummaryUnit)
	if !ok {
		return services.Wrap(services.ErrInvalidRequest, "summary", "handle", fmt.Sprintf("unexpected unit %T", unit), nil)
	}
	ctx = services.WithJobID(ctx, u.JobID)
	files, err := h.store.ListFiles(ctx, u.JobID)
	if err != nil {
		return err
	}

	summary := &jobs.JobSummary{JobID: u.JobID, GeneratedAt: time.Now().UTC()}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := jobs.FileSummary{FileID: f.ID, Role: f.Role, FileName: f.FileName}
		info, err := inventory(f.StorageLocation)
		if err != nil {
			entry.Error = err.Error()
		}
		entry.Pages = info.Pages
		entry.TextLength = info.TextLength
		summary.TotalPages += info.Pages
		summary.Files = append(summary.Files, entry)
	}
	if err := h.store.SaveSummary(ctx, summary); err != nil {
		return err
	}
	logging.WithContext(ctx, h.logger).Info("summary stored",
		logging.String(logging.FieldEventType, "summary_complete"),
		logging.Int("files", len(summary.Files)),
		logging.Int("pages", summary.TotalPages),
	)
	return nil
}

// inventory reads a stored document. Non-PDF documents (JSON fixtures)
// count as zero pages without error.
func inventory(path string) (intake.Info, error) {
	if _, err := os.Stat(path); err != nil {
		return intake.Info{}, fmt.Errorf("stat document: %w", err)
	}
	isPDF, err := intake.IsPDF(path)
	if err != nil || !isPDF {
		return intake.Info{}, err
	}
	return intake.Inspect(path, true)
}

// Fail stores a summary that records the failure.
func (h *SummaryHandler) Fail(ctx context.Context, u lanes.SummaryUnit, cause error) {
	ctx = services.WithJobID(ctx, u.JobID)
	summary := &jobs.JobSummary{JobID: u.JobID, GeneratedAt: time.Now().UTC(), Error: services.Details(cause).Message}
	if summary.Error == "" && cause != nil {
		summary.Error = cause.Error()
	}
	if err := h.store.SaveSummary(ctx, summary); err != nil {
		logging.WithContext(ctx, h.logger).Debug("summary failure not recorded", logging.Error(err))
	}
}

// HealthCheck reports whether the upload directory is readable.
func (h *SummaryHandler) HealthCheck(context.Context) stage.Health {
	info, err := os.Stat(h.uploadDir)
	if err != nil {
		return stage.Unhealthy(string(lanes.LaneSummary), err.Error())
	}
	if !info.IsDir() {
		return stage.Unhealthy(string(lanes.LaneSummary), h.uploadDir+" is not a directory")
	}
	return stage.Healthy(string(lanes.LaneSummary))
}
