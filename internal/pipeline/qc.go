package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"qcflow/internal/extraction"
	"qcflow/internal/jobs"
	"qcflow/internal/lanes"
	"qcflow/internal/logging"
	"qcflow/internal/notify"
	"qcflow/internal/services"
	"qcflow/internal/stage"
)

// QCHandler runs extraction for one document.
type QCHandler struct {
	store     *jobs.Store
	extractor extraction.Extractor
	publisher notify.Publisher
	logger    *slog.Logger
	onReady   ReadyFunc
}

// ReadyFunc is told when a job reaches READY.
type ReadyFunc func(ctx context.Context, jobID string)

// NewQCHandler constructs the qc lane handler.
func NewQCHandler(store *jobs.Store, extractor extraction.Extractor, publisher notify.Publisher, logger *slog.Logger) *QCHandler {
	if publisher == nil {
		publisher = notify.Nop()
	}
	return &QCHandler{
		store:     store,
		extractor: extractor,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "qc"),
	}
}

// Handle claims the file, extracts it and records the result. A file that
// is no longer PENDING was claimed elsewhere or already finished and is
// skipped.
func (h *QCHandler) Handle(ctx context.Context, unit lanes.Unit) error {
	u, ok := unit.(lanes.QualityControlUnit)
	if !ok {
		return services.Wrap(services.ErrInvalidRequest, "qc", "handle", fmt.Sprintf("unexpected unit %T", unit), nil)
	}
	ctx = services.WithFileID(services.WithJobID(ctx, u.JobID), u.FileID)
	logger := logging.WithContext(ctx, h.logger)

	file, err := h.store.ClaimFile(ctx, u.JobID, u.FileID)
	if err != nil {
		if errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrNotFound) {
			logger.Debug("qc unit skipped", logging.Error(err))
			return nil
		}
		return err
	}
	logger = logger.With(logging.String(logging.FieldRole, string(file.Role)))
	logger.Info("extraction started",
		logging.String(logging.FieldEventType, "extraction_start"),
		logging.String("file_name", file.FileName),
		logging.Int("attempt", file.Attempts),
	)

	payload, err := h.extractor.Extract(ctx, file)
	if err != nil {
		return err
	}

	status, err := h.store.RegisterFileCompletion(ctx, u.JobID, u.FileID, payload)
	if err != nil {
		return err
	}
	logger.Info("extraction completed",
		logging.String(logging.FieldEventType, "extraction_complete"),
		logging.Int("completed_files", status.CompletedFileCount),
		logging.Int("expected_files", status.ExpectedFileCount),
		logging.String("job_state", string(status.State)),
	)
	h.announce(ctx, status)
	return nil
}

// Fail records a unit failure on the job store. It is installed as the
// scheduler failure callback so panics and timeouts are recorded too.
func (h *QCHandler) Fail(ctx context.Context, u lanes.QualityControlUnit, cause error) {
	ctx = services.WithFileID(services.WithJobID(ctx, u.JobID), u.FileID)
	logger := logging.WithContext(ctx, h.logger)

	reason := services.Details(cause).Message
	if reason == "" && cause != nil {
		reason = cause.Error()
	}
	status, err := h.store.MarkFileFailed(ctx, u.JobID, u.FileID, reason)
	if err != nil {
		if errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrNotFound) {
			logger.Debug("failure not recorded", logging.Error(err))
			return
		}
		logging.ErrorWithContext(logger, "record file failure", "file_failure_persist_failed",
			logging.String(logging.FieldErrorHint, "check job database access"),
			logging.Error(err),
		)
		return
	}
	_ = h.publisher.Publish(ctx, notify.Message{
		Type:    notify.EventFileFailed,
		JobID:   u.JobID,
		State:   string(status.State),
		Message: reason,
	})
	h.announce(ctx, status)
}

func (h *QCHandler) announce(ctx context.Context, status *jobs.Status) {
	switch status.State {
	case jobs.StateReady:
		_ = h.publisher.Publish(ctx, notify.Message{Type: notify.EventJobReady, JobID: status.JobID, State: string(status.State), Message: status.Message})
		if h.onReady != nil {
			h.onReady(ctx, status.JobID)
		}
	case jobs.StateFailed:
		_ = h.publisher.Publish(ctx, notify.Message{Type: notify.EventJobFailed, JobID: status.JobID, State: string(status.State), Message: status.Error})
	}
}

// HealthCheck reports whether the extraction collaborator is reachable.
func (h *QCHandler) HealthCheck(ctx context.Context) stage.Health {
	if h.extractor == nil {
		return stage.Unhealthy(string(lanes.LaneQC), "extractor not configured")
	}
	if checker, ok := h.extractor.(extraction.HealthChecker); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			return stage.Unhealthy(string(lanes.LaneQC), err.Error())
		}
	}
	return stage.Healthy(string(lanes.LaneQC))
}
