package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"qcflow/internal/config"
	"qcflow/internal/extraction"
	"qcflow/internal/jobs"
	"qcflow/internal/lanes"
	"qcflow/internal/logging"
	"qcflow/internal/notify"
	"qcflow/internal/stage"
)

// Pipeline owns the lane scheduler and its handlers.
type Pipeline struct {
	cfg       *config.Config
	store     *jobs.Store
	logger    *slog.Logger
	scheduler *lanes.Scheduler
	qc        *QCHandler
	summary   *SummaryHandler
	tracked   *inflight

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// OnReady installs a callback run on the qc worker when a job becomes READY.
// The daemon uses it for auto-finalize.
func OnReady(fn ReadyFunc) Option {
	return func(p *Pipeline) { p.qc.onReady = fn }
}

// New builds the pipeline and registers both lanes.
func New(cfg *config.Config, store *jobs.Store, extractor extraction.Extractor, publisher notify.Publisher, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pipeline{
		cfg:     cfg,
		store:   store,
		logger:  logging.NewComponentLogger(logger, "pipeline"),
		qc:      NewQCHandler(store, extractor, publisher, logger),
		summary: NewSummaryHandler(store, cfg.Paths.UploadDir, logger),
		tracked: newInflight(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.scheduler = lanes.New(logger,
		lanes.WithUnitTimeout(cfg.ProcessTimeout()),
		lanes.WithQueueSize(cfg.Lanes.QueueSize),
		lanes.OnFailure(p.handleFailure),
	)
	if err := p.scheduler.Register(lanes.LaneQC, cfg.Lanes.QCWorkers, lanes.HandlerFunc(p.handleQC)); err != nil {
		return nil, err
	}
	if err := p.scheduler.Register(lanes.LaneSummary, cfg.Lanes.SummaryWorkers, p.summary); err != nil {
		return nil, err
	}
	return p, nil
}

// handleQC runs the qc handler and releases the file for later scans once
// the unit is done.
func (p *Pipeline) handleQC(ctx context.Context, unit lanes.Unit) error {
	if u, ok := unit.(lanes.QualityControlUnit); ok {
		defer p.tracked.remove(u.FileID)
	}
	return p.qc.Handle(ctx, unit)
}

// submitFile enqueues a qc unit unless the file is already queued or running.
func (p *Pipeline) submitFile(ctx context.Context, jobID, fileID string) (bool, error) {
	if !p.tracked.add(fileID) {
		return false, nil
	}
	if err := p.scheduler.Submit(ctx, lanes.QualityControlUnit{JobID: jobID, FileID: fileID}); err != nil {
		p.tracked.remove(fileID)
		return false, err
	}
	return true, nil
}

func (p *Pipeline) handleFailure(ctx context.Context, unit lanes.Unit, err error) {
	switch u := unit.(type) {
	case lanes.QualityControlUnit:
		p.qc.Fail(ctx, u, err)
	case lanes.SummaryUnit:
		p.summary.Fail(ctx, u, err)
	}
}

// Start launches the lanes, re-enqueues leftover work and starts the
// periodic recovery scan.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("pipeline already running")
	}
	if err := p.scheduler.Start(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.recoveryLoop(runCtx)
	return nil
}

// Stop halts recovery and the lanes.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return p.scheduler.Stop(ctx)
}

// Enqueue submits every pending document of a job to the qc lane and the
// job itself to the summary lane.
func (p *Pipeline) Enqueue(ctx context.Context, jobID string) error {
	files, err := p.store.ListFiles(ctx, jobID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.Status != jobs.FilePending {
			continue
		}
		if _, err := p.submitFile(ctx, jobID, f.ID); err != nil {
			return fmt.Errorf("submit %s: %w", f.ID, err)
		}
	}
	return p.scheduler.Submit(ctx, lanes.SummaryUnit{JobID: jobID})
}

// Recover returns files stranded in EXTRACTING to PENDING and submits every
// pending file that is not already queued.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	reset, err := p.store.ResetStuckExtracting(ctx)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		p.logger.Info("reset stuck extractions",
			logging.String(logging.FieldEventType, "recovery_reset"),
			logging.Int64("files", reset),
		)
	}
	pending, err := p.store.PendingFiles(ctx)
	if err != nil {
		return 0, err
	}
	submitted := 0
	for _, f := range pending {
		ok, err := p.submitFile(ctx, f.JobID, f.ID)
		if err != nil {
			return submitted, err
		}
		if ok {
			submitted++
		}
	}
	return submitted, nil
}

func (p *Pipeline) recoveryLoop(ctx context.Context) {
	defer p.wg.Done()
	// Only the startup pass resets EXTRACTING files; later scans would
	// steal work from live workers.
	if n, err := p.Recover(ctx); err != nil {
		p.warnRecovery(err)
	} else if n > 0 {
		p.logger.Info("recovered pending files", logging.String(logging.FieldEventType, "recovery"), logging.Int("files", n))
	}

	interval := time.Duration(p.cfg.Lanes.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.resubmitPending(ctx); err != nil {
				p.warnRecovery(err)
			}
		}
	}
}

func (p *Pipeline) resubmitPending(ctx context.Context) error {
	pending, err := p.store.PendingFiles(ctx)
	if err != nil {
		return err
	}
	for _, f := range pending {
		if _, err := p.submitFile(ctx, f.JobID, f.ID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) warnRecovery(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, lanes.ErrStopped) {
		return
	}
	logging.WarnWithContext(p.logger, "recovery scan failed", "recovery_failed",
		logging.String(logging.FieldErrorHint, "check job database access"),
		logging.Error(err),
	)
}

// Stats exposes lane statistics.
func (p *Pipeline) Stats() []lanes.LaneStats {
	return p.scheduler.Stats()
}

// Health reports the health of each lane handler.
func (p *Pipeline) Health(ctx context.Context) []stage.Health {
	handlers := []stage.Handler{p.qc, p.summary}
	out := make([]stage.Health, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h.HealthCheck(ctx))
	}
	return out
}
