package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"qcflow/internal/config"
	"qcflow/internal/jobs"
	"qcflow/internal/logging"
	"qcflow/internal/notify"
	"qcflow/internal/reconcile"
	"qcflow/internal/services"
	"qcflow/internal/sink"
)

// Result is the caller-facing outcome of a finalize request.
type Result struct {
	JobID          string                   `json:"jobId"`
	Success        bool                     `json:"success"`
	InProgress     bool                     `json:"inProgress"`
	Cached         bool                     `json:"cached,omitempty"`
	VerdictSummary *reconcile.SummaryCounts `json:"verdictSummary,omitempty"`
	SheetURL       string                   `json:"sheetUrl,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

// ReconcileFunc computes a verdict set.
type ReconcileFunc func(in reconcile.Input, cat *reconcile.Catalog) (*reconcile.VerdictSet, error)

// Coordinator serializes finalize per job.
type Coordinator struct {
	store     *jobs.Store
	locker    Locker
	sink      sink.Sink
	publisher notify.Publisher
	catalog   *reconcile.Catalog
	reconcile ReconcileFunc
	logger    *slog.Logger

	sinkAttempts      int
	sinkBackoff       time.Duration
	heartbeatInterval time.Duration
	sleep             func(context.Context, time.Duration) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReconciler replaces the reconciler.
func WithReconciler(fn ReconcileFunc) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.reconcile = fn
		}
	}
}

// WithPublisher installs the notification publisher.
func WithPublisher(p notify.Publisher) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithCatalog overrides the field catalog loaded from configuration.
func WithCatalog(cat *reconcile.Catalog) Option {
	return func(c *Coordinator) {
		if cat != nil {
			c.catalog = cat
		}
	}
}

// New constructs a coordinator.
func New(cfg *config.Config, store *jobs.Store, locker Locker, out sink.Sink, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	if store == nil || locker == nil || out == nil {
		return nil, services.Wrap(services.ErrConfiguration, "finalize", "new", "store, locker and sink are required", nil)
	}
	cat, err := reconcile.LoadCatalog(cfg.Reconcile.CatalogPath)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "finalize", "new", "load reconcile catalog", err)
	}
	c := &Coordinator{
		store:             store,
		locker:            locker,
		sink:              out,
		publisher:         notify.Nop(),
		catalog:           cat.WithThreshold(cfg.Reconcile.NameSimilarityThreshold),
		reconcile:         reconcile.Reconcile,
		logger:            logging.NewComponentLogger(logger, "finalize"),
		sinkAttempts:      cfg.Finalize.SinkRetryAttempts,
		sinkBackoff:       cfg.SinkRetryBase(),
		heartbeatInterval: cfg.HeartbeatInterval(),
		sleep:             sleepContext,
	}
	if c.sinkAttempts < 1 {
		c.sinkAttempts = 1
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Finalize reconciles and publishes a READY job. Overlapping calls for the
// same job get InProgress; calls after success get the stored result.
func (c *Coordinator) Finalize(ctx context.Context, jobID string) (Result, error) {
	ctx = services.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, c.logger)

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return Result{JobID: jobID, Error: err.Error()}, err
	}
	switch job.State {
	case jobs.StateFinalized:
		return c.cached(ctx, jobID)
	case jobs.StateFinalizing:
		return Result{JobID: jobID, InProgress: true}, nil
	case jobs.StateReady:
	default:
		return c.stateError(jobID, job)
	}

	unlock, ok, err := c.locker.TryLock(ctx, jobID)
	if err != nil {
		return Result{JobID: jobID, Error: err.Error()}, err
	}
	if !ok {
		logger.Debug("finalize already held", logging.String(logging.FieldEventType, "finalize_busy"))
		return Result{JobID: jobID, InProgress: true}, nil
	}
	defer unlock()

	job, err = c.store.BeginFinalize(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInProgress):
			return Result{JobID: jobID, InProgress: true}, nil
		case errors.Is(err, services.ErrConflict):
			// Another process finished between the state read and the lock.
			if current, getErr := c.store.GetJob(ctx, jobID); getErr == nil && current.State == jobs.StateFinalized {
				return c.cached(ctx, jobID)
			}
		}
		return Result{JobID: jobID, Error: err.Error()}, err
	}
	logger.Info("finalize started",
		logging.String(logging.FieldEventType, "finalize_start"),
		logging.Int("attempt", job.FinalizeAttempts),
		logging.Bool("reuse_verdicts", job.HasVerdicts),
	)

	stopHeartbeat := c.startHeartbeat(ctx, jobID)
	res, runErr := c.run(ctx, jobID)
	stopHeartbeat()
	if runErr != nil {
		return c.handleFailure(ctx, jobID, runErr)
	}
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, jobID string) (Result, error) {
	logger := logging.WithContext(ctx, c.logger)

	verdicts, err := c.store.LoadVerdicts(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	if verdicts == nil {
		verdicts, err = c.buildVerdicts(ctx, jobID)
		if err != nil {
			return Result{}, err
		}
		if err := c.store.SaveVerdicts(ctx, jobID, verdicts); err != nil {
			return Result{}, err
		}
		logger.Info("verdicts stored",
			logging.String(logging.FieldEventType, "reconcile_complete"),
			logging.Int("fields", len(verdicts.Fields)),
			logging.Int("coverages", len(verdicts.Coverages)),
			logging.Int("additional_interests", len(verdicts.AdditionalInterests)),
		)
	}

	sheetURL, err := c.push(ctx, jobID, verdicts)
	if err != nil {
		return Result{}, err
	}

	stored, err := c.store.CompleteFinalize(ctx, jobID, sheetURL)
	if err != nil {
		return Result{}, err
	}
	summary := stored.Summary
	logger.Info("finalize completed",
		logging.String(logging.FieldEventType, "finalize_complete"),
		logging.String("sheet_url", sheetURL),
		logging.Int("mismatches", summary.Mismatches()),
	)
	_ = c.publisher.Publish(ctx, notify.Message{
		Type:     notify.EventJobFinalized,
		JobID:    jobID,
		State:    string(jobs.StateFinalized),
		Message:  describeCounts(summary),
		SheetURL: sheetURL,
	})
	return Result{JobID: jobID, Success: true, VerdictSummary: &summary, SheetURL: sheetURL}, nil
}

// buildVerdicts decodes every extracted document and runs the reconciler.
func (c *Coordinator) buildVerdicts(ctx context.Context, jobID string) (*reconcile.VerdictSet, error) {
	files, err := c.store.ListFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}
	docs, err := assignSources(files)
	if err != nil {
		return nil, err
	}
	return c.reconcile(reconcile.Input{Documents: docs}, c.catalog)
}

// assignSources maps extracted files onto reconciler roles. Repeated
// certificates take the next free certificate letter in upload order.
func assignSources(files []*jobs.FileAsset) (map[reconcile.Role]reconcile.Document, error) {
	docs := make(map[reconcile.Role]reconcile.Document, len(files))
	next := 'b'
	for _, f := range files {
		if f.Status != jobs.FileExtracted {
			continue
		}
		doc, err := reconcile.DecodeDocument(f.ExtractionResult)
		if err != nil {
			return nil, services.Wrap(services.ErrReconciliation, "finalize", "decode",
				fmt.Sprintf("%s document %s", f.Role.Label(), f.FileName), err)
		}
		role := f.Role
		if _, taken := docs[role]; taken {
			if !role.IsCertificate() {
				return nil, services.Wrap(services.ErrReconciliation, "finalize", "sources",
					"more than one "+strings.ToLower(role.Label())+" document", nil)
			}
			for {
				if next > 'z' {
					return nil, services.Wrap(services.ErrReconciliation, "finalize", "sources", "too many certificate documents", nil)
				}
				candidate := reconcile.Role(fmt.Sprintf("%s_%c", reconcile.RoleCertificate, next))
				next++
				if _, used := docs[candidate]; !used {
					role = candidate
					break
				}
			}
		}
		docs[role] = doc
	}
	return docs, nil
}

// push retries the sink with exponential backoff.
func (c *Coordinator) push(ctx context.Context, jobID string, verdicts *reconcile.VerdictSet) (string, error) {
	logger := logging.WithContext(ctx, c.logger)
	delay := c.sinkBackoff
	var lastErr error
	for attempt := 1; attempt <= c.sinkAttempts; attempt++ {
		sheetURL, err := c.sink.Push(ctx, jobID, verdicts)
		if err == nil {
			return sheetURL, nil
		}
		lastErr = err
		if attempt == c.sinkAttempts || ctx.Err() != nil {
			break
		}
		logging.WarnWithContext(logger, "sink push failed; retrying", "sink_retry",
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.String(logging.FieldErrorHint, "check the export destination"),
			logging.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay *= 2
	}
	if errors.Is(lastErr, services.ErrSinkUnavailable) {
		return "", lastErr
	}
	return "", services.Wrap(services.ErrSinkUnavailable, "finalize", "push",
		fmt.Sprintf("sink failed after %d attempts", c.sinkAttempts), lastErr)
}

// handleFailure settles the job after a failed run: reconciliation errors
// are permanent and fail the job, anything else returns it to READY.
func (c *Coordinator) handleFailure(ctx context.Context, jobID string, runErr error) (Result, error) {
	logger := logging.WithContext(ctx, c.logger)
	details := services.Details(runErr)
	// Settle state even when the caller has gone away.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if errors.Is(runErr, services.ErrReconciliation) {
		if err := c.store.FailJob(settleCtx, jobID, details.Message); err != nil {
			logger.Error("record reconciliation failure", logging.Error(err))
		}
		logging.ErrorWithContext(logger, "finalize failed permanently", "finalize_failed",
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String(logging.FieldErrorHint, details.Hint),
			logging.Alert("reconciliation_error"),
			logging.Error(runErr),
		)
		_ = c.publisher.Publish(settleCtx, notify.Message{Type: notify.EventJobFailed, JobID: jobID, State: string(jobs.StateFailed), Message: details.Message})
		return Result{JobID: jobID, Error: details.Message}, runErr
	}

	if err := c.store.RevertFinalize(settleCtx, jobID, details.Message); err != nil {
		logger.Error("revert finalize", logging.Error(err))
	}
	logging.WarnWithContext(logger, "finalize reverted to ready", "finalize_reverted",
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.String(logging.FieldImpact, "job stays READY; finalize can be retried"),
		logging.Error(runErr),
	)
	_ = c.publisher.Publish(settleCtx, notify.Message{Type: notify.EventFinalizeFailed, JobID: jobID, State: string(jobs.StateReady), Message: details.Message})
	return Result{JobID: jobID, Error: details.Message}, runErr
}

func (c *Coordinator) cached(ctx context.Context, jobID string) (Result, error) {
	stored, err := c.store.GetResult(ctx, jobID)
	if err != nil {
		return Result{JobID: jobID, Error: err.Error()}, err
	}
	summary := stored.Summary
	return Result{JobID: jobID, Success: true, Cached: true, VerdictSummary: &summary, SheetURL: stored.SheetURL}, nil
}

func (c *Coordinator) stateError(jobID string, job *jobs.Job) (Result, error) {
	var err error
	if job.State == jobs.StateFailed {
		err = services.Wrap(services.ErrConflict, "finalize", "state", "job failed: "+job.ErrorMessage, nil)
	} else {
		err = services.Wrap(services.ErrNotReady, "finalize", "state",
			fmt.Sprintf("job is %s (%d/%d files completed)", job.State, job.CompletedFileCount, job.ExpectedFileCount), nil)
	}
	return Result{JobID: jobID, Error: err.Error()}, err
}

// startHeartbeat refreshes the finalize heartbeat until the returned stop
// function is called.
func (c *Coordinator) startHeartbeat(ctx context.Context, jobID string) func() {
	if c.heartbeatInterval <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := c.store.TouchFinalize(hbCtx, jobID); err != nil && hbCtx.Err() == nil {
					c.logger.Debug("finalize heartbeat failed", logging.String(logging.FieldJobID, jobID), logging.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func describeCounts(s reconcile.SummaryCounts) string {
	match := s.Fields.Match + s.Coverages.Match + s.AdditionalInterests.Match
	notFound := s.Fields.NotFound + s.Coverages.NotFound + s.AdditionalInterests.NotFound
	return fmt.Sprintf("%d match, %d mismatch, %d not found", match, s.Mismatches(), notFound)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
