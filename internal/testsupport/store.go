package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qcflow/internal/config"
	"qcflow/internal/jobs"
	"qcflow/internal/reconcile"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// CreateJob creates a job with one document per role. With no roles it
// creates a policy plus one certificate.
func CreateJob(t testing.TB, store *jobs.Store, roles ...reconcile.Role) (*jobs.Job, []*jobs.FileAsset) {
	t.Helper()

	if len(roles) == 0 {
		roles = []reconcile.Role{reconcile.RolePolicy, reconcile.RoleCertificate}
	}
	req := jobs.CreateJobRequest{}
	for i, role := range roles {
		name := fmt.Sprintf("%s-%d.pdf", role, i)
		req.Files = append(req.Files, jobs.FileSpec{
			Role:            role,
			FileName:        name,
			StorageLocation: filepath.Join("uploads", name),
		})
	}
	ctx := context.Background()
	job, err := store.CreateJob(ctx, req)
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	files, err := store.ListFiles(ctx, job.ID)
	if err != nil {
		t.Fatalf("store.ListFiles: %v", err)
	}
	return job, files
}

// CompleteAll claims and completes every document of a job with payloads
// keyed by role. Roles without a payload complete with an empty document.
func CompleteAll(t testing.TB, store *jobs.Store, jobID string, payloads map[reconcile.Role]string) *jobs.Status {
	t.Helper()

	ctx := context.Background()
	files, err := store.ListFiles(ctx, jobID)
	if err != nil {
		t.Fatalf("store.ListFiles: %v", err)
	}
	var status *jobs.Status
	for _, f := range files {
		if _, err := store.ClaimFile(ctx, jobID, f.ID); err != nil {
			t.Fatalf("store.ClaimFile: %v", err)
		}
		payload, ok := payloads[f.Role]
		if !ok {
			payload = `{"fields":{}}`
		}
		status, err = store.RegisterFileCompletion(ctx, jobID, f.ID, []byte(payload))
		if err != nil {
			t.Fatalf("store.RegisterFileCompletion: %v", err)
		}
	}
	return status
}

// Document describes a staged upload. An empty Payload leaves the document
// without a fixture so extraction fails.
type Document struct {
	Role    reconcile.Role
	Payload string
}

// StageJob writes a PDF plus fixture sidecar per document under the upload
// directory and creates a job over them.
func StageJob(t testing.TB, cfg *config.Config, store *jobs.Store, docs ...Document) (*jobs.Job, []*jobs.FileAsset) {
	t.Helper()

	dir, err := os.MkdirTemp(cfg.Paths.UploadDir, "batch-")
	if err != nil {
		t.Fatalf("mkdir upload batch: %v", err)
	}
	req := jobs.CreateJobRequest{}
	for i, doc := range docs {
		name := fmt.Sprintf("%02d-%s.pdf", i, doc.Role)
		path := filepath.Join(dir, name)
		WriteFile(t, path, MinimalPDF(string(doc.Role)+" document"))
		if doc.Payload != "" {
			WriteFile(t, strings.TrimSuffix(path, ".pdf")+".json", []byte(doc.Payload))
		}
		req.Files = append(req.Files, jobs.FileSpec{Role: doc.Role, FileName: name, StorageLocation: path})
	}
	ctx := context.Background()
	job, err := store.CreateJob(ctx, req)
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	files, err := store.ListFiles(ctx, job.ID)
	if err != nil {
		t.Fatalf("store.ListFiles: %v", err)
	}
	return job, files
}

// WaitForState polls the job until it reaches one of states or the timeout
// elapses.
func WaitForState(t testing.TB, store *jobs.Store, jobID string, timeout time.Duration, states ...jobs.State) *jobs.Status {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		status, err := store.GetStatus(context.Background(), jobID)
		if err != nil {
			t.Fatalf("store.GetStatus: %v", err)
		}
		for _, s := range states {
			if status.State == s {
				return status
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s waiting for %v", jobID, status.State, states)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
