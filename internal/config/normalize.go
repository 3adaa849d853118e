package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeJobs()
	c.normalizeLanes()
	if err := c.normalizeFinalize(); err != nil {
		return err
	}
	c.normalizeExtraction()
	if err := c.normalizeReconcile(); err != nil {
		return err
	}
	c.normalizePolling()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		c.Paths.UploadDir = defaultUploadDir
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ExportDir) == "" {
		c.Paths.ExportDir = defaultExportDir
	}
	if c.Paths.ExportDir, err = expandPath(c.Paths.ExportDir); err != nil {
		return fmt.Errorf("paths.export_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("QCFLOW_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeJobs() {
	c.Jobs.ReadinessPolicy = strings.ToLower(strings.TrimSpace(c.Jobs.ReadinessPolicy))
	if c.Jobs.ReadinessPolicy == "" {
		c.Jobs.ReadinessPolicy = defaultReadinessPolicy
	}
	if c.Jobs.SweepIntervalSeconds <= 0 {
		c.Jobs.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
}

func (c *Config) normalizeLanes() {
	if c.Lanes.QueueSize <= 0 {
		c.Lanes.QueueSize = defaultQueueSize
	}
	if c.Lanes.PollIntervalSeconds <= 0 {
		c.Lanes.PollIntervalSeconds = defaultLanePollIntervalSeconds
	}
}

func (c *Config) normalizeFinalize() error {
	c.Finalize.LockBackend = strings.ToLower(strings.TrimSpace(c.Finalize.LockBackend))
	if c.Finalize.LockBackend == "" {
		c.Finalize.LockBackend = defaultLockBackend
	}
	if strings.TrimSpace(c.Finalize.LockDir) == "" {
		c.Finalize.LockDir = defaultLockDir
	}
	var err error
	if c.Finalize.LockDir, err = expandPath(c.Finalize.LockDir); err != nil {
		return fmt.Errorf("finalize.lock_dir: %w", err)
	}
	c.Finalize.PostgresDSN = strings.TrimSpace(c.Finalize.PostgresDSN)
	if c.Finalize.PostgresDSN == "" {
		if value, ok := os.LookupEnv("QCFLOW_POSTGRES_DSN"); ok {
			c.Finalize.PostgresDSN = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeExtraction() {
	c.Extraction.Mode = strings.ToLower(strings.TrimSpace(c.Extraction.Mode))
	if c.Extraction.Mode == "" {
		c.Extraction.Mode = defaultExtractionMode
	}
	c.Extraction.BaseURL = strings.TrimRight(strings.TrimSpace(c.Extraction.BaseURL), "/")
	c.Extraction.APIKey = strings.TrimSpace(c.Extraction.APIKey)
	if c.Extraction.APIKey == "" {
		if value, ok := os.LookupEnv("QCFLOW_EXTRACTION_API_KEY"); ok {
			c.Extraction.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Extraction.TimeoutSeconds <= 0 {
		c.Extraction.TimeoutSeconds = defaultExtractionTimeoutSeconds
	}
}

func (c *Config) normalizeReconcile() error {
	c.Reconcile.CatalogPath = strings.TrimSpace(c.Reconcile.CatalogPath)
	if c.Reconcile.CatalogPath == "" {
		return nil
	}
	var err error
	if c.Reconcile.CatalogPath, err = expandPath(c.Reconcile.CatalogPath); err != nil {
		return fmt.Errorf("reconcile.catalog_path: %w", err)
	}
	return nil
}

func (c *Config) normalizePolling() {
	if c.Polling.IntervalSeconds < 0 {
		c.Polling.IntervalSeconds = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
