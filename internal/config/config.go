package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	UploadDir string `toml:"upload_dir"`
	ExportDir string `toml:"export_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Jobs controls readiness and retention of upload jobs.
type Jobs struct {
	ReadinessPolicy      string `toml:"readiness_policy"`
	MaxJobAgeHours       int    `toml:"max_job_age_hours"`
	SweepIntervalSeconds int    `toml:"sweep_interval_seconds"`
}

// Lanes configures the per-document-type worker pools.
type Lanes struct {
	QCWorkers             int `toml:"qc_workers"`
	SummaryWorkers        int `toml:"summary_workers"`
	QueueSize             int `toml:"queue_size"`
	ProcessTimeoutSeconds int `toml:"process_timeout_seconds"`
	PollIntervalSeconds   int `toml:"poll_interval_seconds"`
}

// Finalize configures the finalize coordinator and its lock backend.
type Finalize struct {
	LockBackend              string `toml:"lock_backend"`
	LockDir                  string `toml:"lock_dir"`
	PostgresDSN              string `toml:"postgres_dsn"`
	SinkRetryAttempts        int    `toml:"sink_retry_attempts"`
	SinkRetryBaseMillis      int    `toml:"sink_retry_base_ms"`
	HeartbeatIntervalSeconds int    `toml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int    `toml:"heartbeat_timeout_seconds"`
	AutoFinalize             bool   `toml:"auto_finalize"`
}

// Extraction configures the external field-extraction collaborator.
type Extraction struct {
	Mode           string `toml:"mode"`
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryAttempts  int    `toml:"retry_attempts"`
	ValidateSchema bool   `toml:"validate_schema"`
}

// Reconcile tunes the field reconciler.
type Reconcile struct {
	CatalogPath             string  `toml:"catalog_path"`
	NameSimilarityThreshold float64 `toml:"name_similarity_threshold"`
}

// Polling configures the client side of the status polling protocol.
type Polling struct {
	MaxAttempts     int `toml:"max_attempts"`
	IntervalSeconds int `toml:"interval_seconds"`
}

// Notifications contains configuration for push completion signals.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	WebSocket      bool   `toml:"websocket"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for qcflow.
//
// Configuration sections by subsystem:
//   - Paths: data, log, upload and export directories plus the API bind address
//   - Jobs: readiness policy and the expired-job reaper
//   - Lanes: per-lane worker counts and unit timeouts
//   - Finalize: lock backend, sink retry policy, heartbeats
//   - Extraction: extraction collaborator endpoint
//   - Reconcile: field catalog and name similarity threshold
//   - Polling: client-side retry budget
//   - Notifications: websocket and ntfy completion signals
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Jobs          Jobs          `toml:"jobs"`
	Lanes         Lanes         `toml:"lanes"`
	Finalize      Finalize      `toml:"finalize"`
	Extraction    Extraction    `toml:"extraction"`
	Reconcile     Reconcile     `toml:"reconcile"`
	Polling       Polling       `toml:"polling"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/qcflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("qcflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.UploadDir, c.Paths.ExportDir}
	if c.Finalize.LockBackend == LockBackendFile {
		dirs = append(dirs, c.Finalize.LockDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the job store database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "qcflowd.lock")
}

// MaxJobAge returns the reaper cutoff age. Zero disables the reaper.
func (c *Config) MaxJobAge() time.Duration {
	return time.Duration(c.Jobs.MaxJobAgeHours) * time.Hour
}

// SweepInterval returns how often the reaper runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Jobs.SweepIntervalSeconds) * time.Second
}

// ProcessTimeout returns the per-unit lane timeout.
func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.Lanes.ProcessTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns how often a running finalize refreshes its heartbeat.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Finalize.HeartbeatIntervalSeconds) * time.Second
}

// HeartbeatTimeout returns the age after which a FINALIZING job is reclaimed.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Finalize.HeartbeatTimeoutSeconds) * time.Second
}

// SinkRetryBase returns the first sink retry delay.
func (c *Config) SinkRetryBase() time.Duration {
	return time.Duration(c.Finalize.SinkRetryBaseMillis) * time.Millisecond
}

// PollInterval returns the client polling delay.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
