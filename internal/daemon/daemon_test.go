package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"qcflow/internal/api"
	"qcflow/internal/config"
	"qcflow/internal/daemon"
	"qcflow/internal/jobs"
	"qcflow/internal/logging"
	"qcflow/internal/polling"
	"qcflow/internal/reconcile"
	"qcflow/internal/services"
	"qcflow/internal/sink"
	"qcflow/internal/testsupport"
)

const (
	policyDoc      = `{"fields":{"named_insured":"Acme Holdings LLC","policy_number":"PL-1001"}}`
	certificateDoc = `{"fields":{"named_insured":"Acme Holdings, LLC","policy_number":"PL-1002"}}`
)

func startDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(context.Background(), cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d
}

func clientFor(t *testing.T, d *daemon.Daemon, token string) *api.Client {
	t.Helper()
	client, err := api.NewClient(d.APIAddress(), token, 10*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func writeDocs(t *testing.T) []api.UploadFile {
	t.Helper()
	dir := t.TempDir()
	policy := filepath.Join(dir, "policy.json")
	cert := filepath.Join(dir, "certificate.json")
	testsupport.WriteFile(t, policy, []byte(policyDoc))
	testsupport.WriteFile(t, cert, []byte(certificateDoc))
	return []api.UploadFile{
		{Role: reconcile.RoleCertificate, Path: cert},
		{Role: reconcile.RolePolicy, Path: policy},
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startDaemon(t, cfg)

	if !d.Running() {
		t.Fatal("expected daemon to report running")
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}

	other, err := daemon.New(context.Background(), cfg, testsupport.MustOpenStore(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(context.Background()); err == nil {
		other.Stop()
		t.Fatal("expected a second instance to be rejected by the lock")
	}

	d.Stop()
	if d.Running() {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonUploadPollFinalizeResults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startDaemon(t, cfg)
	client := clientFor(t, d, "")
	ctx := context.Background()

	submitted, err := client.Submit(ctx, writeDocs(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if submitted.ExpectedFiles != 2 {
		t.Fatalf("expected 2 files, got %d", submitted.ExpectedFiles)
	}

	poller := &polling.Poller{Source: client, MaxAttempts: 200, Interval: 20 * time.Millisecond}
	status, err := poller.WaitReady(ctx, submitted.JobID)
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if status.CompletedFileCount != 2 || status.Files[0].Role != reconcile.RolePolicy {
		t.Fatalf("unexpected status %#v", status)
	}

	resp, err := poller.Finalize(ctx, submitted.JobID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if resp.VerdictSummary == nil || resp.VerdictSummary.Fields.Mismatch != 1 {
		t.Fatalf("expected one field mismatch, got %#v", resp.VerdictSummary)
	}
	sheet, err := url.Parse(resp.SheetURL)
	if err != nil {
		t.Fatalf("parse sheet url: %v", err)
	}
	if _, err := os.Stat(sheet.Path); err != nil {
		t.Fatalf("expected workbook at %s: %v", sheet.Path, err)
	}

	results, err := client.Results(ctx, submitted.JobID)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if !results.Success || results.Merged == nil || len(results.Merged.Fields) == 0 {
		t.Fatalf("unexpected results %#v", results)
	}

	again, err := client.Finalize(ctx, submitted.JobID)
	if err != nil || !again.Cached {
		t.Fatalf("expected cached finalize, got %#v, %v", again, err)
	}

	list, err := client.Jobs(ctx, []string{"finalized"}, 0)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(list) != 1 || list[0].ID != submitted.JobID {
		t.Fatalf("unexpected job list %#v", list)
	}
}

func TestDaemonAutoFinalize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Finalize.AutoFinalize = true
	d := startDaemon(t, cfg)
	client := clientFor(t, d, "")

	submitted, err := client.Submit(context.Background(), writeDocs(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := client.Status(context.Background(), submitted.JobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if status.State == jobs.StateFinalized {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never auto finalized, last state %s", status.State)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonAutoFinalizeRunsOnePerWorker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Finalize.AutoFinalize = true
	cfg.Lanes.QCWorkers = 1
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	var running, peak, pushed atomic.Int32
	slow := sink.Func(func(ctx context.Context, jobID string, _ *reconcile.VerdictSet) (string, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		pushed.Add(1)
		return "file:///" + jobID + ".xlsx", nil
	})

	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(context.Background(), cfg, store, logging.NewNop(), daemon.WithSink(slow))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	client := clientFor(t, d, "")

	for i := 0; i < 3; i++ {
		if _, err := client.Submit(context.Background(), writeDocs(t)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	deadline := time.Now().Add(10 * time.Second)
	for pushed.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected three auto finalizes, got %d", pushed.Load())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := peak.Load(); got != 1 {
		t.Fatalf("expected one finalize at a time with one qc worker, peak was %d", got)
	}
}

func TestDaemonErrorResponses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startDaemon(t, cfg)
	client := clientFor(t, d, "")
	ctx := context.Background()

	if _, err := client.Status(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	dir := t.TempDir()
	stray := filepath.Join(dir, "stray.json")
	testsupport.WriteFile(t, stray, []byte(policyDoc))
	_, err := client.Submit(ctx, []api.UploadFile{{Role: "endorsement", Path: stray}})
	if !errors.Is(err, services.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for unknown role, got %v", err)
	}

	submitted, err := client.Submit(ctx, writeDocs(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err = client.Results(ctx, submitted.JobID)
	var remote *api.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if remote.Code != services.KindNotReady || !remote.Retryable || remote.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected results error %#v", remote)
	}

	if _, err := client.Jobs(ctx, []string{"bogus"}, 0); !errors.Is(err, services.ErrInvalidRequest) {
		t.Fatalf("expected invalid state filter error, got %v", err)
	}
}

func TestDaemonRequiresToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = "s3cret"
	d := startDaemon(t, cfg)

	if _, err := clientFor(t, d, "").Jobs(context.Background(), nil, 0); err == nil {
		t.Fatal("expected unauthorized without token")
	}
	if _, err := clientFor(t, d, "s3cret").Jobs(context.Background(), nil, 0); err != nil {
		t.Fatalf("Jobs with token: %v", err)
	}

	resp, err := http.Get("http://" + d.APIAddress() + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health should not require a token, got %d", resp.StatusCode)
	}
}

func TestDaemonHealthAndSweep(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startDaemon(t, cfg)

	health, err := clientFor(t, d, "").Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !health.Ready || len(health.Lanes) != 2 || !health.Database.DatabaseReadable {
		t.Fatalf("unexpected health %#v", health)
	}

	report, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(report.Expired) != 0 || report.Reclaimed != 0 {
		t.Fatalf("fresh daemon should have nothing to sweep, got %#v", report)
	}
}
