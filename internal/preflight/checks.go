package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sys/unix"

	"qcflow/internal/config"
	"qcflow/internal/extraction"
	"qcflow/internal/reconcile"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least minBytes
// available to unprivileged users.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := st.Bavail * uint64(st.Bsize)
	detail := fmt.Sprintf("%s (%s free)", path, formatBytes(free))
	if free < minBytes {
		return Result{Name: name, Detail: detail + fmt.Sprintf(", need %s", formatBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckCatalog verifies the reconcile field catalog loads.
func CheckCatalog(path string) Result {
	const name = "Field catalog"
	cat, err := reconcile.LoadCatalog(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	source := "embedded"
	if strings.TrimSpace(path) != "" {
		source = path
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d fields)", source, len(cat.Fields))}
}

// CheckExtraction verifies the extraction service answers its health probe.
func CheckExtraction(ctx context.Context, cfg *config.Config) Result {
	const name = "Extraction service"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	extractor, err := extraction.New(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	checker, ok := extractor.(extraction.HealthChecker)
	if !ok {
		return Result{Name: name, Passed: true, Detail: "no health probe"}
	}
	if err := checker.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	return Result{Name: name, Passed: true, Detail: cfg.Extraction.BaseURL + " (reachable)"}
}

// CheckPostgres verifies the finalize lock database accepts connections.
func CheckPostgres(ctx context.Context, dsn string) Result {
	const name = "Finalize lock database"
	if strings.TrimSpace(dsn) == "" {
		return Result{Name: name, Detail: "postgres_dsn not configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := pgx.Connect(checkCtx, dsn)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer conn.Close(context.Background())
	if err := conn.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (unreachable)"
	}
	return err.Error()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
