package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"qcflow/internal/config"
	"qcflow/internal/jobs"
	"qcflow/internal/logging"
	"qcflow/internal/reconcile"
	"qcflow/internal/services"
)

// Upload is one document received from a caller.
type Upload struct {
	Role     reconcile.Role
	FileName string
	Body     io.Reader
}

// Enqueuer routes a freshly created job onto the lanes.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Service persists uploads and creates jobs.
type Service struct {
	dir       string
	store     *jobs.Store
	enqueuer  Enqueuer
	logger    *slog.Logger
	allowJSON bool
}

// Option configures a Service.
type Option func(*Service)

// WithJSONDocuments accepts pre-extracted JSON documents next to PDFs. The
// fixture extractor reads them directly.
func WithJSONDocuments(allow bool) Option {
	return func(s *Service) { s.allowJSON = allow }
}

// New constructs an intake service.
func New(cfg *config.Config, store *jobs.Store, enqueuer Enqueuer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		dir:       cfg.Paths.UploadDir,
		store:     store,
		enqueuer:  enqueuer,
		logger:    logging.NewComponentLogger(logger, "intake"),
		allowJSON: cfg.Extraction.Mode == config.ExtractionModeFixture,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit stores every upload, creates the job and enqueues it. Stored files
// are removed again when job creation fails.
func (s *Service) Submit(ctx context.Context, uploads []Upload) (*jobs.Job, error) {
	if len(uploads) == 0 {
		return nil, services.Wrap(services.ErrInvalidRequest, "intake", "submit", "no documents uploaded", nil)
	}
	batch := uuid.NewString()
	batchDir := filepath.Join(s.dir, batch)
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "intake", "submit", "create upload directory", err)
	}
	cleanup := func() { _ = os.RemoveAll(batchDir) }

	req := jobs.CreateJobRequest{}
	for i, up := range uploads {
		spec, err := s.save(batchDir, i, up)
		if err != nil {
			cleanup()
			return nil, err
		}
		req.Files = append(req.Files, spec)
	}

	job, err := s.store.CreateJob(ctx, req)
	if err != nil {
		cleanup()
		return nil, err
	}
	logger := logging.WithContext(services.WithJobID(ctx, job.ID), s.logger)
	logger.Info("job created",
		logging.String(logging.FieldEventType, "job_created"),
		logging.Int("files", job.ExpectedFileCount),
		logging.String("upload_dir", batchDir),
	)

	if s.enqueuer != nil {
		if err := s.enqueuer.Enqueue(ctx, job.ID); err != nil {
			// The job is durable; recovery picks its files up later.
			logging.WarnWithContext(logger, "enqueue after upload failed", "enqueue_failed",
				logging.String(logging.FieldErrorHint, "pending files are re-enqueued by the recovery scan"),
				logging.Error(err),
			)
		}
	}
	return job, nil
}

func (s *Service) save(dir string, index int, up Upload) (jobs.FileSpec, error) {
	role, err := reconcile.ParseRole(string(up.Role))
	if err != nil {
		return jobs.FileSpec{}, services.Wrap(services.ErrInvalidRequest, "intake", "submit", "unknown document role", err)
	}
	if up.Body == nil {
		return jobs.FileSpec{}, services.Wrap(services.ErrInvalidRequest, "intake", "submit", "empty upload for "+string(role), nil)
	}
	name := sanitizeName(up.FileName)
	if name == "" {
		name = fmt.Sprintf("%s.pdf", role)
	}
	path := filepath.Join(dir, fmt.Sprintf("%02d-%s-%s", index, role, name))

	out, err := os.Create(path)
	if err != nil {
		return jobs.FileSpec{}, services.Wrap(services.ErrTransient, "intake", "submit", "create upload file", err)
	}
	n, copyErr := io.Copy(out, up.Body)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return jobs.FileSpec{}, services.Wrap(services.ErrTransient, "intake", "submit", "write upload file", err)
	}
	if n == 0 {
		return jobs.FileSpec{}, services.Wrap(services.ErrInvalidRequest, "intake", "submit", name+" is empty", nil)
	}
	if err := s.check(path, name); err != nil {
		return jobs.FileSpec{}, err
	}
	return jobs.FileSpec{Role: role, FileName: name, StorageLocation: path}, nil
}

func (s *Service) check(path, name string) error {
	if s.allowJSON && strings.EqualFold(filepath.Ext(name), ".json") {
		return nil
	}
	ok, err := IsPDF(path)
	if err != nil {
		return services.Wrap(services.ErrTransient, "intake", "submit", "read upload file", err)
	}
	if !ok {
		return services.Wrap(services.ErrInvalidRequest, "intake", "submit", name+" is not a PDF", nil)
	}
	info, err := Inspect(path, false)
	if err != nil {
		return services.Wrap(services.ErrInvalidRequest, "intake", "submit", name+" is not a readable PDF", err)
	}
	if info.Pages == 0 {
		return services.Wrap(services.ErrInvalidRequest, "intake", "submit", name+" has no pages", nil)
	}
	return nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, `\`, "/")))
	if name == "." || name == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
