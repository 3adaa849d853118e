package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qcflow/internal/config"
	"qcflow/internal/jobs"
	"qcflow/internal/reconcile"
	"qcflow/internal/services"
	"qcflow/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable {
		t.Fatalf("expected readable database, got %#v", health)
	}
	if health.Error != "" {
		t.Fatalf("unexpected health error: %s", health.Error)
	}

	// Reopening an existing database keeps the schema.
	store.Close()
	reopened, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	reopened.Close()
}

func TestCreateJobValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	file := func(role reconcile.Role) jobs.FileSpec {
		return jobs.FileSpec{Role: role, FileName: string(role) + ".pdf", StorageLocation: "/tmp/" + string(role) + ".pdf"}
	}
	cases := []struct {
		name string
		req  jobs.CreateJobRequest
	}{
		{"no files", jobs.CreateJobRequest{}},
		{"no policy", jobs.CreateJobRequest{Files: []jobs.FileSpec{file(reconcile.RoleCertificate)}}},
		{"two policies", jobs.CreateJobRequest{Files: []jobs.FileSpec{file(reconcile.RolePolicy), file(reconcile.RolePolicy)}}},
		{"unknown role", jobs.CreateJobRequest{Files: []jobs.FileSpec{file(reconcile.RolePolicy), file("invoice")}}},
		{"missing location", jobs.CreateJobRequest{Files: []jobs.FileSpec{{Role: reconcile.RolePolicy}}}},
	}
	for _, tc := range cases {
		if _, err := store.CreateJob(ctx, tc.req); !errors.Is(err, services.ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", tc.name, err)
		}
	}

	if _, err := store.CreateJobWithCount(ctx, 0); !errors.Is(err, services.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for zero expected files, got %v", err)
	}
}

func TestCreateJobStartsCreated(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job, files := testsupport.CreateJob(t, store, reconcile.RolePolicy, reconcile.RoleCertificate, reconcile.RoleAuthorityForm)
	if job.State != jobs.StateCreated {
		t.Fatalf("expected CREATED, got %s", job.State)
	}
	if job.ExpectedFileCount != 3 || job.CompletedFileCount != 0 {
		t.Fatalf("unexpected counts: %d/%d", job.CompletedFileCount, job.ExpectedFileCount)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	for _, f := range files {
		if f.Status != jobs.FilePending {
			t.Fatalf("expected PENDING file, got %s", f.Status)
		}
	}
	if files[0].Role != reconcile.RolePolicy {
		t.Fatalf("expected submission order, got %s first", files[0].Role)
	}
}

func TestRegisterFileCompletionIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, files := testsupport.CreateJob(t, store)
	first, err := store.RegisterFileCompletion(ctx, job.ID, files[0].ID, []byte(`{"fields":{}}`))
	if err != nil {
		t.Fatalf("RegisterFileCompletion failed: %v", err)
	}
	second, err := store.RegisterFileCompletion(ctx, job.ID, files[0].ID, []byte(`{"fields":{"insurer":"other"}}`))
	if err != nil {
		t.Fatalf("repeat RegisterFileCompletion failed: %v", err)
	}
	if first.CompletedFileCount != 1 || second.CompletedFileCount != 1 {
		t.Fatalf("expected count 1 after repeat, got %d then %d", first.CompletedFileCount, second.CompletedFileCount)
	}
	if second.Ready || second.State != jobs.StateProcessing {
		t.Fatalf("expected PROCESSING and not ready, got %s ready=%v", second.State, second.Ready)
	}

	stored, err := store.GetFile(ctx, job.ID, files[0].ID)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if string(stored.ExtractionResult) != `{"fields":{}}` {
		t.Fatalf("expected first result kept, got %s", stored.ExtractionResult)
	}
}

func TestReadyWhenAllFilesComplete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, _ := testsupport.CreateJob(t, store)
	status := testsupport.CompleteAll(t, store, job.ID, nil)
	if !status.Ready || status.State != jobs.StateReady {
		t.Fatalf("expected READY, got %s ready=%v", status.State, status.Ready)
	}
	if status.CompletedFileCount != 2 || status.ExpectedFileCount != 2 {
		t.Fatalf("unexpected counts %d/%d", status.CompletedFileCount, status.ExpectedFileCount)
	}
	if status.Message != "Ready to finalize" {
		t.Fatalf("unexpected message %q", status.Message)
	}

	polled, err := store.GetStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if polled.State != status.State || polled.CompletedFileCount != status.CompletedFileCount {
		t.Fatalf("GetStatus disagrees with completion result: %#v", polled)
	}
}

func TestConcurrentCompletionsNeverExceedExpected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, files := testsupport.CreateJob(t, store,
		reconcile.RolePolicy, reconcile.RoleCertificate, reconcile.RoleCertificateB,
		reconcile.Role("certificate_c"), reconcile.Role("certificate_d"), reconcile.RoleAuthorityForm)

	var wg sync.WaitGroup
	errs := make(chan error, len(files)*3)
	for round := 0; round < 3; round++ {
		for _, f := range files {
			wg.Add(1)
			go func(fileID string) {
				defer wg.Done()
				if _, err := store.RegisterFileCompletion(ctx, job.ID, fileID, []byte(`{}`)); err != nil {
					errs <- err
				}
			}(f.ID)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent completion failed: %v", err)
	}

	status, err := store.GetStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.CompletedFileCount != len(files) {
		t.Fatalf("expected %d completions, got %d", len(files), status.CompletedFileCount)
	}
	if status.State != jobs.StateReady {
		t.Fatalf("expected READY, got %s", status.State)
	}
}

func TestAddFileBeyondExpectedConflicts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, err := store.CreateJobWithCount(ctx, 1)
	if err != nil {
		t.Fatalf("CreateJobWithCount failed: %v", err)
	}
	file, err := store.AddFile(ctx, job.ID, jobs.FileSpec{Role: reconcile.RolePolicy, StorageLocation: "/tmp/policy.pdf"})
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}
	if _, err := store.AddFile(ctx, job.ID, jobs.FileSpec{Role: reconcile.RoleCertificate, StorageLocation: "/tmp/cert.pdf"}); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict beyond expected count, got %v", err)
	}

	status, err := store.RegisterFileCompletion(ctx, job.ID, file.ID, []byte(`{}`))
	if err != nil {
		t.Fatalf("RegisterFileCompletion failed: %v", err)
	}
	if status.State != jobs.StateReady {
		t.Fatalf("expected READY, got %s", status.State)
	}
}

func TestUnknownJobOrFileIsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, _ := testsupport.CreateJob(t, store)
	if _, err := store.RegisterFileCompletion(ctx, "missing", "missing", nil); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown job, got %v", err)
	}
	if _, err := store.RegisterFileCompletion(ctx, job.ID, "missing", nil); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown file, got %v", err)
	}
	if _, err := store.GetStatus(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from GetStatus, got %v", err)
	}
	if _, err := store.MarkFileFailed(ctx, "missing", "missing", "boom"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from MarkFileFailed, got %v", err)
	}
}

func TestClaimFileAllowsSingleWriter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, files := testsupport.CreateJob(t, store)
	claimed, err := store.ClaimFile(ctx, job.ID, files[0].ID)
	if err != nil {
		t.Fatalf("ClaimFile failed: %v", err)
	}
	if claimed.Status != jobs.FileExtracting || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed file %#v", claimed)
	}
	if _, err := store.ClaimFile(ctx, job.ID, files[0].ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict on second claim, got %v", err)
	}
	updated, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if updated.State != jobs.StateProcessing {
		t.Fatalf("expected PROCESSING after claim, got %s", updated.State)
	}
}

func TestMarkFileFailedAllRequiredFailsJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, files := testsupport.CreateJob(t, store)
	status, err := store.MarkFileFailed(ctx, job.ID, files[1].ID, "unreadable scan")
	if err != nil {
		t.Fatalf("MarkFileFailed failed: %v", err)
	}
	if status.State != jobs.StateFailed {
		t.Fatalf("expected FAILED, got %s", status.State)
	}
	if status.FailedFileCount != 1 || status.Files[1].Error != "unreadable scan" {
		t.Fatalf("expected failure visible in status, got %#v", status)
	}
	if _, err := store.RegisterFileCompletion(ctx, job.ID, files[0].ID, []byte(`{}`)); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict after job failed, got %v", err)
	}
}

func TestBestEffortReadiness(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithReadinessPolicy(config.ReadinessBestEffort))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, files := testsupport.CreateJob(t, store)
	status, err := store.MarkFileFailed(ctx, job.ID, files[1].ID, "timeout")
	if err != nil {
		t.Fatalf("MarkFileFailed failed: %v", err)
	}
	if status.State != jobs.StateProcessing {
		t.Fatalf("expected PROCESSING while policy pending, got %s", status.State)
	}
	status, err = store.RegisterFileCompletion(ctx, job.ID, files[0].ID, []byte(`{}`))
	if err != nil {
		t.Fatalf("RegisterFileCompletion failed: %v", err)
	}
	if !status.Ready || status.FailedFileCount != 1 {
		t.Fatalf("expected READY with one failed file, got %s failed=%d", status.State, status.FailedFileCount)
	}

	// A late successful retry of the failed file is still counted.
	status, err = store.RegisterFileCompletion(ctx, job.ID, files[1].ID, []byte(`{}`))
	if err != nil {
		t.Fatalf("late RegisterFileCompletion failed: %v", err)
	}
	if status.CompletedFileCount != 2 || status.FailedFileCount != 0 || status.State != jobs.StateReady {
		t.Fatalf("unexpected status after recovery: %#v", status)
	}

	other, otherFiles := testsupport.CreateJob(t, store)
	if _, err := store.RegisterFileCompletion(ctx, other.ID, otherFiles[1].ID, []byte(`{}`)); err != nil {
		t.Fatalf("RegisterFileCompletion failed: %v", err)
	}
	status, err = store.MarkFileFailed(ctx, other.ID, otherFiles[0].ID, "blank pages")
	if err != nil {
		t.Fatalf("MarkFileFailed failed: %v", err)
	}
	if status.State != jobs.StateFailed {
		t.Fatalf("expected FAILED when the policy cannot extract, got %s", status.State)
	}
}

func TestFinalizeTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, _ := testsupport.CreateJob(t, store)
	if _, err := store.BeginFinalize(ctx, job.ID); !errors.Is(err, services.ErrNotReady) {
		t.Fatalf("expected ErrNotReady before completion, got %v", err)
	}
	testsupport.CompleteAll(t, store, job.ID, nil)

	begun, err := store.BeginFinalize(ctx, job.ID)
	if err != nil {
		t.Fatalf("BeginFinalize failed: %v", err)
	}
	if begun.State != jobs.StateFinalizing || begun.FinalizeAttempts != 1 || begun.LastHeartbeat == nil {
		t.Fatalf("unexpected finalizing job %#v", begun)
	}
	if _, err := store.BeginFinalize(ctx, job.ID); !errors.Is(err, services.ErrInProgress) {
		t.Fatalf("expected ErrInProgress while finalizing, got %v", err)
	}
	if _, err := store.RegisterFileCompletion(ctx, job.ID, "any", nil); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown file, got %v", err)
	}

	verdicts := &reconcile.VerdictSet{
		Sources: []reconcile.Role{reconcile.RolePolicy, reconcile.RoleCertificate},
		Summary: reconcile.SummaryCounts{Fields: reconcile.SectionCounts{Total: 1, Match: 1}},
	}
	if err := store.SaveVerdicts(ctx, job.ID, verdicts); err != nil {
		t.Fatalf("SaveVerdicts failed: %v", err)
	}
	if err := store.RevertFinalize(ctx, job.ID, "sink unavailable"); err != nil {
		t.Fatalf("RevertFinalize failed: %v", err)
	}
	reverted, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if reverted.State != jobs.StateReady || !reverted.HasVerdicts || reverted.ErrorMessage != "sink unavailable" {
		t.Fatalf("expected READY with saved verdicts, got %#v", reverted)
	}
	if _, err := store.GetResult(ctx, job.ID); !errors.Is(err, services.ErrNotReady) {
		t.Fatalf("expected ErrNotReady for results before finalize, got %v", err)
	}

	if _, err := store.BeginFinalize(ctx, job.ID); err != nil {
		t.Fatalf("second BeginFinalize failed: %v", err)
	}
	result, err := store.CompleteFinalize(ctx, job.ID, "file:///exports/job.xlsx")
	if err != nil {
		t.Fatalf("CompleteFinalize failed: %v", err)
	}
	if result.SheetURL != "file:///exports/job.xlsx" || result.Summary.Fields.Match != 1 {
		t.Fatalf("unexpected result %#v", result)
	}
	if result.FinalizedAt.IsZero() {
		t.Fatal("expected finalized timestamp")
	}

	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if final.State != jobs.StateFinalized || final.FinalizeAttempts != 2 {
		t.Fatalf("unexpected final job %#v", final)
	}
	if _, err := store.BeginFinalize(ctx, job.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict after finalize, got %v", err)
	}
	if err := store.RevertFinalize(ctx, job.ID, "late"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict reverting a finalized job, got %v", err)
	}
}

func TestCompleteFinalizeRequiresVerdicts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, _ := testsupport.CreateJob(t, store)
	testsupport.CompleteAll(t, store, job.ID, nil)
	if _, err := store.BeginFinalize(ctx, job.ID); err != nil {
		t.Fatalf("BeginFinalize failed: %v", err)
	}
	if _, err := store.CompleteFinalize(ctx, job.ID, ""); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict without verdicts, got %v", err)
	}
}

func TestSweepExpiredFailsAbandonedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	abandoned, _ := testsupport.CreateJob(t, store)
	done, _ := testsupport.CreateJob(t, store)
	testsupport.CompleteAll(t, store, done.ID, nil)
	if _, err := store.BeginFinalize(ctx, done.ID); err != nil {
		t.Fatalf("BeginFinalize failed: %v", err)
	}
	if err := store.SaveVerdicts(ctx, done.ID, &reconcile.VerdictSet{}); err != nil {
		t.Fatalf("SaveVerdicts failed: %v", err)
	}
	if _, err := store.CompleteFinalize(ctx, done.ID, ""); err != nil {
		t.Fatalf("CompleteFinalize failed: %v", err)
	}

	none, err := store.SweepExpired(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected nothing swept with old cutoff, got %v", none)
	}

	swept, err := store.SweepExpired(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if len(swept) != 1 || swept[0] != abandoned.ID {
		t.Fatalf("expected only the abandoned job swept, got %v", swept)
	}
	status, err := store.GetStatus(ctx, abandoned.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.State != jobs.StateFailed || status.Error != jobs.ExpiredReason {
		t.Fatalf("expected FAILED/expired, got %s %q", status.State, status.Error)
	}
}

func TestReclaimStaleFinalizing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, _ := testsupport.CreateJob(t, store)
	testsupport.CompleteAll(t, store, job.ID, nil)
	if _, err := store.BeginFinalize(ctx, job.ID); err != nil {
		t.Fatalf("BeginFinalize failed: %v", err)
	}

	count, err := store.ReclaimStaleFinalizing(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleFinalizing failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected fresh heartbeat to survive, reclaimed %d", count)
	}
	count, err = store.ReclaimStaleFinalizing(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleFinalizing failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one reclaimed job, got %d", count)
	}
	reclaimed, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if reclaimed.State != jobs.StateReady || reclaimed.LastHeartbeat != nil {
		t.Fatalf("expected READY without heartbeat, got %#v", reclaimed)
	}
}

func TestResetStuckExtractingRequeuesFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, files := testsupport.CreateJob(t, store)
	if _, err := store.ClaimFile(ctx, job.ID, files[0].ID); err != nil {
		t.Fatalf("ClaimFile failed: %v", err)
	}
	pending, err := store.PendingFiles(ctx)
	if err != nil {
		t.Fatalf("PendingFiles failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != files[1].ID {
		t.Fatalf("expected only the unclaimed file pending, got %d", len(pending))
	}

	count, err := store.ResetStuckExtracting(ctx)
	if err != nil {
		t.Fatalf("ResetStuckExtracting failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one file reset, got %d", count)
	}
	pending, err = store.PendingFiles(ctx)
	if err != nil {
		t.Fatalf("PendingFiles failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != files[0].ID {
		t.Fatalf("expected both files pending in submission order, got %d", len(pending))
	}
}

func TestListJobsFiltersByState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a, _ := testsupport.CreateJob(t, store)
	b, _ := testsupport.CreateJob(t, store)
	testsupport.CompleteAll(t, store, b.ID, nil)
	c, _ := testsupport.CreateJob(t, store)

	all, err := store.ListJobs(ctx, jobs.Filter{})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(all))
	}
	if all[0].ID != c.ID || all[2].ID != a.ID {
		t.Fatalf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	ready, err := store.ListJobs(ctx, jobs.Filter{States: []jobs.State{jobs.StateReady}})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != b.ID {
		t.Fatalf("expected only job b ready, got %d", len(ready))
	}

	limited, err := store.ListJobs(ctx, jobs.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d", len(limited))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[jobs.StateCreated] != 2 || stats[jobs.StateReady] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestSummaryDoesNotAffectReadiness(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job, files := testsupport.CreateJob(t, store)
	if _, err := store.GetSummary(ctx, job.ID); !errors.Is(err, services.ErrNotReady) {
		t.Fatalf("expected ErrNotReady before summary exists, got %v", err)
	}
	summary := &jobs.JobSummary{
		JobID:       job.ID,
		GeneratedAt: time.Now().UTC(),
		TotalPages:  3,
		Files: []jobs.FileSummary{
			{FileID: files[0].ID, Role: reconcile.RolePolicy, Pages: 2},
			{FileID: files[1].ID, Role: reconcile.RoleCertificate, Pages: 1},
		},
	}
	if err := store.SaveSummary(ctx, summary); err != nil {
		t.Fatalf("SaveSummary failed: %v", err)
	}
	loaded, err := store.GetSummary(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if loaded.TotalPages != 3 || len(loaded.Files) != 2 {
		t.Fatalf("unexpected summary %#v", loaded)
	}
	status, err := store.GetStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.State != jobs.StateCreated {
		t.Fatalf("summary must not change job state, got %s", status.State)
	}
}
