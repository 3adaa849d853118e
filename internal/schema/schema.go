// Package schema validates extraction payloads against the document schema
// before they are stored on a job.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"qcflow/internal/services"
)

//go:embed document.schema.json
var documentSchema []byte

const documentURL = "qcflow://schema/document.json"

// Validator checks extraction payloads. The zero value is not usable; call
// NewValidator or Default.
type Validator struct {
	schema *jsonschema.Schema
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// Default returns the validator for the embedded document schema.
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewValidator(documentSchema)
	})
	return defaultValidator, defaultErr
}

// NewValidator compiles a JSON schema document.
func NewValidator(schemaJSON []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(documentURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile(documentURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate reports whether payload is a well formed extracted document. The
// error is tagged ErrExtractionFailed and names the offending locations.
func (v *Validator) Validate(payload []byte) error {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return services.Wrap(services.ErrExtractionFailed, "schema", "validate", "payload is not JSON", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return services.Wrap(services.ErrExtractionFailed, "schema", "validate", describe(err), nil)
	}
	return nil
}

// describe flattens a validation error into its leaf causes.
func describe(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	var leaves []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "/"
			}
			leaves = append(leaves, location+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	const maxLeaves = 5
	if len(leaves) > maxLeaves {
		leaves = append(leaves[:maxLeaves], fmt.Sprintf("and %d more", len(leaves)-maxLeaves))
	}
	return "document does not match schema: " + strings.Join(leaves, "; ")
}
