package config

// Readiness policies.
const (
	ReadinessAllRequired = "all-required"
	ReadinessBestEffort  = "best-effort"
)

// Finalize lock backends.
const (
	LockBackendMemory   = "memory"
	LockBackendFile     = "file"
	LockBackendPostgres = "postgres"
)

// Extraction modes.
const (
	ExtractionModeHTTP    = "http"
	ExtractionModeFixture = "fixture"
)

const (
	defaultDataDir                   = "~/.local/share/qcflow"
	defaultLogDir                    = "~/.local/share/qcflow/logs"
	defaultUploadDir                 = "~/.local/share/qcflow/uploads"
	defaultExportDir                 = "~/.local/share/qcflow/exports"
	defaultLockDir                   = "~/.local/share/qcflow/locks"
	defaultAPIBind                   = "127.0.0.1:7488"
	defaultReadinessPolicy           = ReadinessAllRequired
	defaultMaxJobAgeHours            = 72
	defaultSweepIntervalSeconds      = 300
	defaultQCWorkers                 = 1
	defaultSummaryWorkers            = 1
	defaultQueueSize                 = 64
	defaultProcessTimeoutSeconds     = 600
	defaultLanePollIntervalSeconds   = 30
	defaultLockBackend               = LockBackendFile
	defaultSinkRetryAttempts         = 3
	defaultSinkRetryBaseMillis       = 1000
	defaultHeartbeatIntervalSeconds  = 15
	defaultHeartbeatTimeoutSeconds   = 120
	defaultExtractionMode            = ExtractionModeHTTP
	defaultExtractionBaseURL         = "http://127.0.0.1:8090"
	defaultExtractionTimeoutSeconds  = 120
	defaultExtractionRetryAttempts   = 3
	defaultNameSimilarityThreshold   = 0.90
	defaultPollingMaxAttempts        = 60
	defaultPollingIntervalSeconds    = 2
	defaultNotifyRequestTimeout      = 10
	defaultLogFormat                 = "auto"
	defaultLogLevel                  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			UploadDir: defaultUploadDir,
			ExportDir: defaultExportDir,
			APIBind:   defaultAPIBind,
		},
		Jobs: Jobs{
			ReadinessPolicy:      defaultReadinessPolicy,
			MaxJobAgeHours:       defaultMaxJobAgeHours,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
		},
		Lanes: Lanes{
			QCWorkers:             defaultQCWorkers,
			SummaryWorkers:        defaultSummaryWorkers,
			QueueSize:             defaultQueueSize,
			ProcessTimeoutSeconds: defaultProcessTimeoutSeconds,
			PollIntervalSeconds:   defaultLanePollIntervalSeconds,
		},
		Finalize: Finalize{
			LockBackend:              defaultLockBackend,
			LockDir:                  defaultLockDir,
			SinkRetryAttempts:        defaultSinkRetryAttempts,
			SinkRetryBaseMillis:      defaultSinkRetryBaseMillis,
			HeartbeatIntervalSeconds: defaultHeartbeatIntervalSeconds,
			HeartbeatTimeoutSeconds:  defaultHeartbeatTimeoutSeconds,
		},
		Extraction: Extraction{
			Mode:           defaultExtractionMode,
			BaseURL:        defaultExtractionBaseURL,
			TimeoutSeconds: defaultExtractionTimeoutSeconds,
			RetryAttempts:  defaultExtractionRetryAttempts,
			ValidateSchema: true,
		},
		Reconcile: Reconcile{
			NameSimilarityThreshold: defaultNameSimilarityThreshold,
		},
		Polling: Polling{
			MaxAttempts:     defaultPollingMaxAttempts,
			IntervalSeconds: defaultPollingIntervalSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			WebSocket:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
