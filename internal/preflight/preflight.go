package preflight

import (
	"context"

	"qcflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// minFreeBytes is the free space below which upload and export directories
// fail the disk check.
const minFreeBytes = 256 << 20

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckDirectoryAccess("Export directory", cfg.Paths.ExportDir),
		CheckFreeSpace("Upload disk space", cfg.Paths.UploadDir, minFreeBytes),
		CheckCatalog(cfg.Reconcile.CatalogPath),
	}

	switch cfg.Finalize.LockBackend {
	case config.LockBackendFile:
		results = append(results, CheckDirectoryAccess("Finalize lock directory", cfg.Finalize.LockDir))
	case config.LockBackendPostgres:
		results = append(results, CheckPostgres(ctx, cfg.Finalize.PostgresDSN))
	}

	if cfg.Extraction.Mode == config.ExtractionModeHTTP {
		results = append(results, CheckExtraction(ctx, cfg))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
