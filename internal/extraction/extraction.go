// Package extraction talks to the document extraction collaborator. The HTTP
// client uploads a stored document and receives its structured fields; the
// fixture extractor reads a prepared JSON sidecar instead, for offline runs
// and tests.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"qcflow/internal/config"
	"qcflow/internal/jobs"
	"qcflow/internal/schema"
)

// Extractor turns one stored document into its structured payload.
type Extractor interface {
	Extract(ctx context.Context, file *jobs.FileAsset) (json.RawMessage, error)
}

// HealthChecker is implemented by extractors backed by a remote service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// New builds the extractor selected by configuration.
func New(cfg *config.Config, opts ...Option) (Extractor, error) {
	var validator *schema.Validator
	if cfg.Extraction.ValidateSchema {
		v, err := schema.Default()
		if err != nil {
			return nil, fmt.Errorf("load document schema: %w", err)
		}
		validator = v
	}
	switch cfg.Extraction.Mode {
	case config.ExtractionModeFixture:
		return NewFixture(validator), nil
	case config.ExtractionModeHTTP, "":
		all := append([]Option{WithValidator(validator)}, opts...)
		return NewClient(Config{
			BaseURL:        cfg.Extraction.BaseURL,
			APIKey:         cfg.Extraction.APIKey,
			TimeoutSeconds: cfg.Extraction.TimeoutSeconds,
			RetryAttempts:  cfg.Extraction.RetryAttempts,
		}, all...), nil
	default:
		return nil, fmt.Errorf("unknown extraction mode %q", cfg.Extraction.Mode)
	}
}
