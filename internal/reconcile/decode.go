package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"

	"qcflow/internal/services"
)

// DecodeDocument parses a stored extraction payload. Unknown top-level keys
// are rejected so schema drift surfaces as a reconciliation error instead of
// silently empty sections.
func DecodeDocument(raw json.RawMessage) (Document, error) {
	var doc Document
	if len(bytes.TrimSpace(raw)) == 0 {
		return doc, services.Wrap(services.ErrReconciliation, "reconcile", "decode", "empty extraction payload", nil)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return doc, services.Wrap(services.ErrReconciliation, "reconcile", "decode", "malformed extraction payload", err)
	}
	for i, cov := range doc.Coverages {
		if cov.Key == "" {
			return doc, services.Wrap(services.ErrReconciliation, "reconcile", "decode", fmt.Sprintf("coverage %d has no key", i), nil)
		}
	}
	return doc, nil
}
