package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"qcflow/internal/jobs"
	"qcflow/internal/schema"
	"qcflow/internal/services"
)

// Fixture reads extraction results from a JSON file stored beside the
// document: report.pdf is answered by report.pdf.json or report.json. A
// document that is itself JSON is returned as is.
type Fixture struct {
	validator *schema.Validator
}

// NewFixture returns a fixture extractor. A nil validator skips validation.
func NewFixture(validator *schema.Validator) *Fixture {
	return &Fixture{validator: validator}
}

// Extract implements Extractor.
func (f *Fixture) Extract(ctx context.Context, file *jobs.FileAsset) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, candidate := range fixtureCandidates(file.StorageLocation) {
		data, err := os.ReadFile(candidate)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, services.Wrap(services.ErrExtractionFailed, "extraction", "fixture", "read "+candidate, err)
		}
		if f.validator != nil {
			if err := f.validator.Validate(data); err != nil {
				return nil, err
			}
		} else if !json.Valid(data) {
			return nil, services.Wrap(services.ErrExtractionFailed, "extraction", "fixture", candidate+" is not JSON", nil)
		}
		return json.RawMessage(data), nil
	}
	return nil, services.Wrap(services.ErrExtractionFailed, "extraction", "fixture",
		"no fixture found for "+file.StorageLocation, nil)
}

func fixtureCandidates(location string) []string {
	if strings.EqualFold(filepath.Ext(location), ".json") {
		return []string{location}
	}
	stem := strings.TrimSuffix(location, filepath.Ext(location))
	return []string{location + ".json", stem + ".json"}
}
