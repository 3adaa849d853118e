package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateLanes(); err != nil {
		return err
	}
	if err := c.validateFinalize(); err != nil {
		return err
	}
	if err := c.validateExtraction(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if err := c.validatePolling(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateJobs() error {
	switch c.Jobs.ReadinessPolicy {
	case ReadinessAllRequired, ReadinessBestEffort:
	default:
		return fmt.Errorf("jobs.readiness_policy must be %q or %q, got %q", ReadinessAllRequired, ReadinessBestEffort, c.Jobs.ReadinessPolicy)
	}
	if c.Jobs.MaxJobAgeHours < 0 {
		return errors.New("jobs.max_job_age_hours must be zero or positive")
	}
	return nil
}

func (c *Config) validateLanes() error {
	if c.Lanes.QCWorkers < 1 {
		return errors.New("lanes.qc_workers must be at least 1")
	}
	if c.Lanes.SummaryWorkers < 1 {
		return errors.New("lanes.summary_workers must be at least 1")
	}
	if c.Lanes.ProcessTimeoutSeconds < 0 {
		return errors.New("lanes.process_timeout_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateFinalize() error {
	switch c.Finalize.LockBackend {
	case LockBackendMemory, LockBackendFile:
	case LockBackendPostgres:
		if c.Finalize.PostgresDSN == "" {
			return errors.New("finalize.postgres_dsn must be set when finalize.lock_backend is \"postgres\" (or set QCFLOW_POSTGRES_DSN)")
		}
	default:
		return fmt.Errorf("finalize.lock_backend: unsupported value %q", c.Finalize.LockBackend)
	}
	if c.Finalize.SinkRetryAttempts < 1 {
		return errors.New("finalize.sink_retry_attempts must be at least 1")
	}
	if c.Finalize.SinkRetryBaseMillis < 0 {
		return errors.New("finalize.sink_retry_base_ms must be zero or positive")
	}
	if c.Finalize.HeartbeatIntervalSeconds <= 0 {
		return errors.New("finalize.heartbeat_interval_seconds must be positive")
	}
	if c.Finalize.HeartbeatTimeoutSeconds <= c.Finalize.HeartbeatIntervalSeconds {
		return errors.New("finalize.heartbeat_timeout_seconds must exceed finalize.heartbeat_interval_seconds")
	}
	return nil
}

func (c *Config) validateExtraction() error {
	switch c.Extraction.Mode {
	case ExtractionModeFixture:
		return nil
	case ExtractionModeHTTP:
	default:
		return fmt.Errorf("extraction.mode: unsupported value %q", c.Extraction.Mode)
	}
	if c.Extraction.BaseURL == "" {
		return errors.New("extraction.base_url must be set when extraction.mode is \"http\"")
	}
	parsed, err := url.Parse(c.Extraction.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("extraction.base_url must be an absolute URL, got %q", c.Extraction.BaseURL)
	}
	if c.Extraction.RetryAttempts < 1 {
		return errors.New("extraction.retry_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateReconcile() error {
	if c.Reconcile.NameSimilarityThreshold <= 0 || c.Reconcile.NameSimilarityThreshold > 1 {
		return errors.New("reconcile.name_similarity_threshold must be in (0, 1]")
	}
	return nil
}

func (c *Config) validatePolling() error {
	if c.Polling.MaxAttempts < 1 {
		return errors.New("polling.max_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
