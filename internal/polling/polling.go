// Package polling implements the caller side of the status polling
// protocol: a bounded number of attempts with a fixed delay between them,
// treating NotReady and InProgress as poll-again signals and everything else
// that is not retryable as terminal.
package polling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qcflow/internal/api"
	"qcflow/internal/config"
	"qcflow/internal/jobs"
	"qcflow/internal/services"
)

// ErrAttemptsExhausted is returned once the retry budget is spent. It is
// terminal: the caller should stop polling.
var ErrAttemptsExhausted = errors.New("polling attempts exhausted")

// ErrJobFailed reports that the job reached FAILED while waiting.
var ErrJobFailed = errors.New("job failed")

// Source is the server side of the protocol. *api.Client implements it.
type Source interface {
	Status(ctx context.Context, jobID string) (*api.StatusResponse, error)
	Finalize(ctx context.Context, jobID string) (api.FinalizeResponse, error)
}

// Progress observes each attempt. It may be nil.
type Progress func(attempt int, message string)

// Poller drives a job to readiness and through finalize.
type Poller struct {
	Source      Source
	MaxAttempts int
	Interval    time.Duration
	Progress    Progress
}

// New builds a poller from the polling section of cfg.
func New(source Source, cfg *config.Config) *Poller {
	return &Poller{
		Source:      source,
		MaxAttempts: cfg.Polling.MaxAttempts,
		Interval:    cfg.PollInterval(),
	}
}

// WaitReady polls status until the job is ready. A job that fails returns
// ErrJobFailed together with the final status.
func (p *Poller) WaitReady(ctx context.Context, jobID string) (*api.StatusResponse, error) {
	var last *api.StatusResponse
	err := p.loop(ctx, func(attempt int) (bool, error) {
		status, err := p.Source.Status(ctx, jobID)
		if err != nil {
			return false, err
		}
		last = status
		p.report(attempt, status.Message)
		switch {
		case status.State == jobs.StateFailed:
			return true, fmt.Errorf("%w: %s", ErrJobFailed, status.Message)
		case status.Ready:
			return true, nil
		}
		return false, services.Wrap(services.ErrNotReady, "polling", "status", status.Message, nil)
	})
	return last, err
}

// Finalize calls finalize until it succeeds. In-progress responses, not
// ready errors and retryable sink failures are polled through.
func (p *Poller) Finalize(ctx context.Context, jobID string) (api.FinalizeResponse, error) {
	var last api.FinalizeResponse
	err := p.loop(ctx, func(attempt int) (bool, error) {
		resp, err := p.Source.Finalize(ctx, jobID)
		if err != nil {
			p.report(attempt, err.Error())
			return false, err
		}
		last = resp
		if resp.Success {
			p.report(attempt, "finalized")
			return true, nil
		}
		p.report(attempt, "finalize in progress")
		return false, services.Wrap(services.ErrInProgress, "polling", "finalize", "finalize running", nil)
	})
	return last, err
}

// loop runs step until it reports done, a terminal error occurs, ctx ends or
// the attempt budget is spent.
func (p *Poller) loop(ctx context.Context, step func(attempt int) (bool, error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		done, err := step(attempt)
		if done {
			return err
		}
		if err != nil && !retryable(err) {
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, attempts)
}

func retryable(err error) bool {
	if api.IsUnavailable(err) {
		return true
	}
	return services.Details(err).Retryable
}

func (p *Poller) report(attempt int, message string) {
	if p.Progress != nil {
		p.Progress(attempt, message)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
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
