package lanes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"qcflow/internal/logging"
	"qcflow/internal/services"
)

// Handler processes one unit.
type Handler interface {
	Handle(ctx context.Context, unit Unit) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, unit Unit) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, unit Unit) error { return f(ctx, unit) }

// FailureFunc is told about every unit that returned an error or panicked.
type FailureFunc func(ctx context.Context, unit Unit, err error)

// ErrStopped is returned by Submit once the scheduler is shutting down.
var ErrStopped = errors.New("lane scheduler stopped")

const defaultQueueSize = 64

// Scheduler routes units onto their lanes.
type Scheduler struct {
	logger    *slog.Logger
	timeout   time.Duration
	queueSize int
	onFailure FailureFunc

	mu      sync.Mutex
	lanes   map[Lane]*lane
	order   []Lane
	running bool
	stopped bool
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type lane struct {
	name    Lane
	workers int
	queue   chan Unit
	handler Handler

	active    atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// LaneStats is a point-in-time view of one lane.
type LaneStats struct {
	Lane      Lane  `json:"lane"`
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Active    int64 `json:"active"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithUnitTimeout bounds how long one unit may run. Zero disables the bound.
func WithUnitTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// WithQueueSize sets the per-lane queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// OnFailure registers the failure callback.
func OnFailure(fn FailureFunc) Option {
	return func(s *Scheduler) {
		s.onFailure = fn
	}
}

// New constructs a scheduler with no lanes.
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		logger:    logging.NewComponentLogger(logger, "lanes"),
		queueSize: defaultQueueSize,
		lanes:     make(map[Lane]*lane),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a lane. Lanes must be registered before Start.
func (s *Scheduler) Register(name Lane, workers int, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("lane %s: handler required", name)
	}
	if workers < 1 {
		workers = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return fmt.Errorf("lane %s: scheduler already started", name)
	}
	if _, exists := s.lanes[name]; exists {
		return fmt.Errorf("lane %s already registered", name)
	}
	s.lanes[name] = &lane{
		name:    name,
		workers: workers,
		queue:   make(chan Unit, s.queueSize),
		handler: handler,
	}
	s.order = append(s.order, name)
	return nil
}

// Start launches every lane's workers and returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("lane scheduler already running")
	}
	if s.stopped {
		return ErrStopped
	}
	if len(s.lanes) == 0 {
		return errors.New("no lanes registered")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	for _, name := range s.order {
		l := s.lanes[name]
		for i := 0; i < l.workers; i++ {
			s.wg.Add(1)
			go s.runWorker(runCtx, l, i)
		}
		s.logger.Info("lane started", logging.String(logging.FieldLane, string(name)), logging.Int("workers", l.workers))
	}
	return nil
}

// Submit enqueues a unit on its lane, blocking while the lane queue is full.
func (s *Scheduler) Submit(ctx context.Context, unit Unit) error {
	if unit == nil {
		return services.Wrap(services.ErrInvalidRequest, "lanes", "submit", "nil unit", nil)
	}
	s.mu.Lock()
	l, ok := s.lanes[unit.Lane()]
	stopped := s.stopped
	s.mu.Unlock()
	if !ok {
		return services.Wrap(services.ErrInvalidRequest, "lanes", "submit", fmt.Sprintf("unknown lane %q", unit.Lane()), nil)
	}
	if stopped {
		return ErrStopped
	}
	select {
	case l.queue <- unit:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting work, cancels in-flight units and waits for workers
// to exit or ctx to expire. Queued units are dropped; they remain PENDING in
// the job store and are picked up by recovery on the next start.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.done)
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports every lane in registration order.
func (s *Scheduler) Stats() []LaneStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make([]LaneStats, 0, len(s.order))
	for _, name := range s.order {
		l := s.lanes[name]
		stats = append(stats, LaneStats{
			Lane:      name,
			Workers:   l.workers,
			Queued:    len(l.queue),
			Active:    l.active.Load(),
			Processed: l.processed.Load(),
			Failed:    l.failed.Load(),
		})
	}
	return stats
}

func (s *Scheduler) runWorker(ctx context.Context, l *lane, index int) {
	defer s.wg.Done()
	logger := s.logger.With(logging.String(logging.FieldLane, string(l.name)), logging.Int("worker", index))
	for {
		select {
		case <-ctx.Done():
			return
		case unit := <-l.queue:
			s.process(ctx, l, logger, unit)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, l *lane, logger *slog.Logger, unit Unit) {
	l.active.Add(1)
	defer l.active.Add(-1)

	unitCtx := services.WithLane(ctx, string(l.name))
	cancel := func() {}
	if s.timeout > 0 {
		unitCtx, cancel = context.WithTimeout(unitCtx, s.timeout)
	}
	defer cancel()

	start := time.Now()
	err := s.invoke(unitCtx, l.handler, unit)
	l.processed.Add(1)
	if err == nil {
		logger.Debug("unit processed", logging.String("unit", unit.Describe()), logging.Duration("elapsed", time.Since(start)))
		return
	}
	if ctx.Err() != nil {
		logger.Info("unit interrupted by shutdown", logging.String("unit", unit.Describe()))
		return
	}

	l.failed.Add(1)
	if errors.Is(err, context.DeadlineExceeded) {
		err = services.Wrap(services.ErrTransient, "lanes", string(l.name), fmt.Sprintf("unit exceeded %s", s.timeout), err)
	}
	details := services.Details(err)
	logging.WarnWithContext(logger, "unit failed; lane continues", "unit_failed",
		logging.String("unit", unit.Describe()),
		logging.Error(err),
		logging.ErrorKind(string(details.Kind)),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.String(logging.FieldImpact, "unit reported to failure handler"),
	)
	if s.onFailure != nil {
		s.onFailure(services.WithLane(ctx, string(l.name)), unit, err)
	}
}

// invoke runs the handler, converting a panic into an error.
func (s *Scheduler) invoke(ctx context.Context, handler Handler, unit Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return handler.Handle(ctx, unit)
}
