package testsupport

import (
	"path/filepath"
	"testing"

	"qcflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Extraction runs in fixture mode and finalize uses in-memory locks with no
// sink backoff unless an option says otherwise.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.UploadDir = filepath.Join(base, "uploads")
	cfgVal.Paths.ExportDir = filepath.Join(base, "exports")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Finalize.LockBackend = config.LockBackendMemory
	cfgVal.Finalize.LockDir = filepath.Join(base, "locks")
	cfgVal.Finalize.SinkRetryBaseMillis = 1
	cfgVal.Extraction.Mode = config.ExtractionModeFixture
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithReadinessPolicy overrides the readiness policy on the test config.
func WithReadinessPolicy(policy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Jobs.ReadinessPolicy = policy
	}
}

// WithLockBackend overrides the finalize lock backend on the test config.
func WithLockBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Finalize.LockBackend = backend
	}
}

// WithExtractionURL switches extraction to HTTP mode against url.
func WithExtractionURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Extraction.Mode = config.ExtractionModeHTTP
		b.cfg.Extraction.BaseURL = url
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
