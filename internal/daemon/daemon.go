package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"qcflow/internal/api"
	"qcflow/internal/config"
	"qcflow/internal/extraction"
	"qcflow/internal/finalize"
	"qcflow/internal/intake"
	"qcflow/internal/jobs"
	"qcflow/internal/logging"
	"qcflow/internal/notify"
	"qcflow/internal/pipeline"
	"qcflow/internal/preflight"
	"qcflow/internal/services"
	"qcflow/internal/sink"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *jobs.Store
	pipeline    *pipeline.Pipeline
	coordinator *finalize.Coordinator
	intake      *intake.Service
	hub         *notify.Hub
	publisher   notify.Publisher
	closeLocker func()
	// finalizeSlots caps concurrent auto-finalize runs.
	finalizeSlots chan struct{}

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes daemon collaborators, mostly for tests.
type Option func(*options)

type options struct {
	extractor extraction.Extractor
	sink      sink.Sink
	locker    finalize.Locker
}

// WithExtractor replaces the configured extractor.
func WithExtractor(e extraction.Extractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithSink replaces the configured downstream sink.
func WithSink(s sink.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithLocker replaces the configured finalize locker.
func WithLocker(l finalize.Locker) Option {
	return func(o *options) { o.locker = l }
}

// SweepReport summarizes one reaper pass.
type SweepReport struct {
	Expired   []string `json:"expired"`
	Reclaimed int64    `json:"reclaimed"`
}

// New constructs a daemon with initialized dependencies.
func New(ctx context.Context, cfg *config.Config, store *jobs.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and job store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       store,
		lockPath:    cfg.LockPath(),
		lock:        flock.New(cfg.LockPath()),
		closeLocker: func() {},
	}
	d.finalizeSlots = make(chan struct{}, max(1, cfg.Lanes.QCWorkers))
	d.hub = notify.NewHub(logger)
	d.publisher = notify.New(cfg, d.hub, logger)

	if o.extractor == nil {
		extractor, err := extraction.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("create extractor: %w", err)
		}
		o.extractor = extractor
	}
	if o.sink == nil {
		o.sink = sink.New(cfg, logger)
	}
	if o.locker == nil {
		locker, closeLocker, err := finalize.NewLocker(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create finalize locker: %w", err)
		}
		o.locker = locker
		d.closeLocker = closeLocker
	}

	coordinator, err := finalize.New(cfg, store, o.locker, o.sink, logger, finalize.WithPublisher(d.publisher))
	if err != nil {
		d.closeLocker()
		return nil, fmt.Errorf("create finalize coordinator: %w", err)
	}
	d.coordinator = coordinator

	p, err := pipeline.New(cfg, store, o.extractor, d.publisher, logger, pipeline.OnReady(d.autoFinalize))
	if err != nil {
		d.closeLocker()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	d.pipeline = p
	d.intake = intake.New(cfg, store, p, logger)

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		d.closeLocker()
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock and launches the pipeline, the reaper, the
// notification hub and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another qcflow daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.logPreflight(d.ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.hub.Run(d.ctx)
	}()

	if err := d.pipeline.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		_ = d.pipeline.Stop(context.Background())
		d.abortStart()
		return err
	}

	if d.cfg.MaxJobAge() > 0 || d.cfg.HeartbeatTimeout() > 0 {
		d.wg.Add(1)
		go d.reaperLoop(d.ctx)
	}

	d.running.Store(true)
	d.logger.Info("qcflow daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.APIAddress()),
		logging.Int("pid", os.Getpid()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	d.cancel()
	d.wg.Wait()
	_ = d.lock.Unlock()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.pipeline.Stop(shutdownCtx); err != nil {
		d.logger.Warn("pipeline stop incomplete",
			logging.Error(err),
			logging.String(logging.FieldEventType, "pipeline_stop_incomplete"),
			logging.String(logging.FieldErrorHint, "claimed files are reset on next start"),
		)
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("qcflow daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.closeLocker()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the bound API address, or the configured bind before
// Start.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Submit hands uploads to intake.
func (d *Daemon) Submit(ctx context.Context, uploads []intake.Upload) (*jobs.Job, error) {
	return d.intake.Submit(ctx, uploads)
}

// Finalize runs the finalize coordinator for a job.
func (d *Daemon) Finalize(ctx context.Context, jobID string) (finalize.Result, error) {
	return d.coordinator.Finalize(ctx, jobID)
}

// Sweep runs one reaper pass: jobs older than the maximum age are failed and
// finalizes whose heartbeat went stale return to READY.
func (d *Daemon) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := time.Now()

	if age := d.cfg.MaxJobAge(); age > 0 {
		expired, err := d.store.SweepExpired(ctx, now.Add(-age))
		if err != nil {
			return report, err
		}
		report.Expired = expired
		for _, jobID := range expired {
			jobCtx := services.WithJobID(ctx, jobID)
			logging.WithContext(jobCtx, d.logger).Info("job expired",
				logging.String(logging.FieldEventType, "job_expired"),
				logging.Duration("max_age", age),
			)
			_ = d.publisher.Publish(jobCtx, notify.Message{
				Type:    notify.EventJobFailed,
				JobID:   jobID,
				State:   string(jobs.StateFailed),
				Message: jobs.ExpiredReason,
			})
		}
	}

	if timeout := d.cfg.HeartbeatTimeout(); timeout > 0 {
		reclaimed, err := d.store.ReclaimStaleFinalizing(ctx, now.Add(-timeout))
		if err != nil {
			return report, err
		}
		report.Reclaimed = reclaimed
		if reclaimed > 0 {
			d.logger.Warn("reclaimed stale finalize",
				logging.Int64("count", reclaimed),
				logging.String(logging.FieldEventType, "finalize_reclaimed"),
				logging.String(logging.FieldErrorHint, "a finalize stopped heartbeating; jobs returned to READY"),
			)
		}
	}
	return report, nil
}

func (d *Daemon) reaperLoop(ctx context.Context) {
	defer d.wg.Done()
	interval := d.cfg.SweepInterval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(d.logger, "reaper sweep failed", "reaper_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check job database access"),
				)
			}
		}
	}
}

// autoFinalize is the pipeline ready callback. It returns immediately so the
// qc worker is released; at most one finalize per qc worker runs at a time
// and the rest wait for a slot.
func (d *Daemon) autoFinalize(ctx context.Context, jobID string) {
	if !d.cfg.Finalize.AutoFinalize || d.ctx == nil {
		return
	}
	runCtx := d.ctx
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case d.finalizeSlots <- struct{}{}:
		case <-runCtx.Done():
			return
		}
		defer func() { <-d.finalizeSlots }()
		jobCtx := services.WithJobID(runCtx, jobID)
		res, err := d.coordinator.Finalize(jobCtx, jobID)
		logger := logging.WithContext(jobCtx, d.logger)
		switch {
		case err != nil:
			logging.WarnWithContext(logger, "auto finalize failed", "auto_finalize_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "retry with qcflow finalize"),
			)
		case res.InProgress:
			logger.Debug("auto finalize skipped; finalize already running")
		default:
			logger.Info("auto finalize completed",
				logging.String(logging.FieldEventType, "auto_finalize_completed"),
				logging.Bool("cached", res.Cached),
			)
		}
	}()
}

// Health reports readiness of the store, the lanes and the notification hub.
func (d *Daemon) Health(ctx context.Context) api.HealthResponse {
	db, dbErr := d.store.CheckHealth(ctx)
	stages := d.pipeline.Health(ctx)
	ready := dbErr == nil && d.running.Load()
	for _, s := range stages {
		if !s.Ready {
			ready = false
		}
	}
	counts := make(map[string]int)
	if stats, err := d.store.Stats(ctx); err == nil {
		for state, n := range stats {
			counts[string(state)] = n
		}
	}
	return api.HealthResponse{
		Ready:     ready,
		PID:       os.Getpid(),
		Database:  db,
		Stages:    stages,
		Lanes:     d.pipeline.Stats(),
		JobCounts: counts,
		Clients:   d.hub.Clients(),
	}
}

func (d *Daemon) logPreflight(ctx context.Context) {
	for _, r := range preflight.Failed(preflight.RunAll(ctx, d.cfg)) {
		d.logger.Warn("preflight check failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "run qcflow doctor"),
			logging.String(logging.FieldImpact, "uploads or finalize may fail"),
		)
	}
}
