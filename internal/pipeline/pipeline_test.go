package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"qcflow/internal/config"
	"qcflow/internal/extraction"
	"qcflow/internal/jobs"
	"qcflow/internal/lanes"
	"qcflow/internal/logging"
	"qcflow/internal/notify"
	"qcflow/internal/pipeline"
	"qcflow/internal/reconcile"
	"qcflow/internal/services"
	"qcflow/internal/testsupport"
)

const policyDoc = `{"fields":{"insured_name":"Acme Holdings LLC","policy_number":"PL-1001"}}`
const certificateDoc = `{"fields":{"insured_name":"Acme Holdings LLC","policy_number":"PL-1001"}}`

type capturePublisher struct {
	events chan notify.Message
}

func (c *capturePublisher) Publish(_ context.Context, msg notify.Message) error {
	select {
	case c.events <- msg:
	default:
	}
	return nil
}

func startPipeline(t *testing.T, cfg *config.Config, store *jobs.Store, pub notify.Publisher, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	extractor, err := extraction.New(cfg)
	if err != nil {
		t.Fatalf("extraction.New: %v", err)
	}
	p, err := pipeline.New(cfg, store, extractor, pub, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func TestPipelineExtractsJobToReady(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	pub := &capturePublisher{events: make(chan notify.Message, 16)}

	var readyCalls atomic.Int32
	p := startPipeline(t, cfg, store, pub, pipeline.OnReady(func(context.Context, string) { readyCalls.Add(1) }))

	job, _ := testsupport.StageJob(t, cfg, store,
		testsupport.Document{Role: reconcile.RolePolicy, Payload: policyDoc},
		testsupport.Document{Role: reconcile.RoleCertificate, Payload: certificateDoc},
	)
	if err := p.Enqueue(context.Background(), job.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	status := testsupport.WaitForState(t, store, job.ID, 5*time.Second, jobs.StateReady, jobs.StateFailed)
	if status.State != jobs.StateReady || status.CompletedFileCount != 2 {
		t.Fatalf("expected READY with 2 completions, got %#v", status)
	}
	deadline := time.Now().Add(time.Second)
	for readyCalls.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected one ready callback, got %d", readyCalls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	files, err := store.ListFiles(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(files[0].ExtractionResult, &doc); err != nil {
		t.Fatalf("stored extraction result is not JSON: %v", err)
	}

	select {
	case msg := <-pub.events:
		if msg.Type != notify.EventJobReady || msg.JobID != job.ID {
			t.Fatalf("unexpected event %#v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected job_ready event")
	}
}

func TestPipelineStoresSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	p := startPipeline(t, cfg, store, nil)

	job, _ := testsupport.StageJob(t, cfg, store,
		testsupport.Document{Role: reconcile.RolePolicy, Payload: policyDoc},
		testsupport.Document{Role: reconcile.RoleCertificate, Payload: certificateDoc},
	)
	if err := p.Enqueue(context.Background(), job.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		summary, err := store.GetSummary(context.Background(), job.ID)
		if err == nil {
			if len(summary.Files) != 2 || summary.TotalPages != 2 {
				t.Fatalf("unexpected summary %#v", summary)
			}
			for _, f := range summary.Files {
				if f.Error != "" {
					t.Fatalf("unexpected inventory error for %s: %s", f.FileName, f.Error)
				}
			}
			return
		}
		if !errors.Is(err, services.ErrNotReady) {
			t.Fatalf("GetSummary: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("summary never stored")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPipelineFailsJobWhenRequiredDocumentFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	pub := &capturePublisher{events: make(chan notify.Message, 16)}
	p := startPipeline(t, cfg, store, pub)

	job, files := testsupport.StageJob(t, cfg, store,
		testsupport.Document{Role: reconcile.RolePolicy, Payload: policyDoc},
		testsupport.Document{Role: reconcile.RoleCertificate},
	)
	if err := p.Enqueue(context.Background(), job.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	status := testsupport.WaitForState(t, store, job.ID, 5*time.Second, jobs.StateFailed, jobs.StateReady)
	if status.State != jobs.StateFailed {
		t.Fatalf("expected FAILED, got %s", status.State)
	}
	file, err := store.GetFile(context.Background(), job.ID, files[1].ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if file.Status != jobs.FileExtractionFailed || file.ErrorMessage == "" {
		t.Fatalf("expected failed certificate with reason, got %s %q", file.Status, file.ErrorMessage)
	}
}

func TestPipelineBestEffortToleratesCertificateFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithReadinessPolicy(config.ReadinessBestEffort))
	store := testsupport.MustOpenStore(t, cfg)
	p := startPipeline(t, cfg, store, nil)

	job, _ := testsupport.StageJob(t, cfg, store,
		testsupport.Document{Role: reconcile.RolePolicy, Payload: policyDoc},
		testsupport.Document{Role: reconcile.RoleCertificate},
	)
	if err := p.Enqueue(context.Background(), job.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	status := testsupport.WaitForState(t, store, job.ID, 5*time.Second, jobs.StateReady, jobs.StateFailed)
	if status.State != jobs.StateReady || status.FailedFileCount != 1 {
		t.Fatalf("expected READY with one failed file, got %#v", status)
	}
}

func TestPipelineRecoversStrandedFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job, files := testsupport.StageJob(t, cfg, store,
		testsupport.Document{Role: reconcile.RolePolicy, Payload: policyDoc},
		testsupport.Document{Role: reconcile.RoleCertificate, Payload: certificateDoc},
	)
	// A previous process claimed the policy and died.
	if _, err := store.ClaimFile(context.Background(), job.ID, files[0].ID); err != nil {
		t.Fatalf("ClaimFile: %v", err)
	}

	startPipeline(t, cfg, store, nil)
	status := testsupport.WaitForState(t, store, job.ID, 5*time.Second, jobs.StateReady, jobs.StateFailed)
	if status.State != jobs.StateReady {
		t.Fatalf("expected recovered job to become READY, got %s", status.State)
	}
	file, err := store.GetFile(context.Background(), job.ID, files[0].ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if file.Attempts != 2 {
		t.Fatalf("expected second attempt after recovery, got %d", file.Attempts)
	}
}

func TestPipelineHealthAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	p := startPipeline(t, cfg, store, nil)

	health := p.Health(context.Background())
	if len(health) != 2 {
		t.Fatalf("expected two lane health records, got %d", len(health))
	}
	for _, h := range health {
		if !h.Ready {
			t.Fatalf("expected %s ready, got %q", h.Name, h.Detail)
		}
	}
	stats := p.Stats()
	if len(stats) != 2 || stats[0].Lane != lanes.LaneQC || stats[1].Lane != lanes.LaneSummary {
		t.Fatalf("unexpected lane stats %#v", stats)
	}
}

type heldExtractor struct {
	release chan struct{}
	calls   atomic.Int32
}

func (h *heldExtractor) Extract(ctx context.Context, _ *jobs.FileAsset) (json.RawMessage, error) {
	h.calls.Add(1)
	select {
	case <-h.release:
		return json.RawMessage(policyDoc), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPipelineScanDoesNotDuplicateQueuedFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Lanes.QCWorkers = 1
	cfg.Lanes.QueueSize = 8
	cfg.Lanes.PollIntervalSeconds = 1
	cfg.Lanes.ProcessTimeoutSeconds = 60
	store := testsupport.MustOpenStore(t, cfg)

	for i := 0; i < 3; i++ {
		testsupport.CreateJob(t, store, reconcile.RolePolicy, reconcile.RoleCertificate)
	}

	extractor := &heldExtractor{release: make(chan struct{})}
	p, err := pipeline.New(cfg, store, extractor, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	var released atomic.Bool
	t.Cleanup(func() {
		if released.CompareAndSwap(false, true) {
			close(extractor.release)
		}
	})

	// Let a few recovery scans run while the only worker is held.
	time.Sleep(2500 * time.Millisecond)
	qc := p.Stats()[0]
	if qc.Queued+int(qc.Active) > 6 {
		t.Fatalf("expected at most 6 qc units queued or active, got queued=%d active=%d", qc.Queued, qc.Active)
	}
	if calls := extractor.calls.Load(); calls != 1 {
		t.Fatalf("expected one extraction in progress, got %d", calls)
	}

	job, _ := testsupport.CreateJob(t, store, reconcile.RolePolicy)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Enqueue(ctx, job.ID); err != nil {
		t.Fatalf("Enqueue blocked behind duplicate units: %v", err)
	}

	released.Store(true)
	close(extractor.release)
	status := testsupport.WaitForState(t, store, job.ID, 10*time.Second, jobs.StateReady, jobs.StateFailed)
	if status.State != jobs.StateReady {
		t.Fatalf("expected READY once the worker is free, got %s", status.State)
	}
}
