package finalize

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5/pgxpool"

	"qcflow/internal/config"
	"qcflow/internal/services"
)

// Unlock releases a lock obtained from a Locker.
type Unlock func()

// Locker grants a per-key mutual-exclusion token without waiting. TryLock
// returns ok=false when another holder owns the key.
type Locker interface {
	TryLock(ctx context.Context, key string) (Unlock, bool, error)
}

// MemoryLocker serializes holders within one process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker constructs an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (m *MemoryLocker) TryLock(_ context.Context, key string) (Unlock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[key]; busy {
		return nil, false, nil
	}
	m.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, true, nil
}

// FileLocker uses one advisory lock file per key, so separate processes
// sharing the lock directory exclude each other.
type FileLocker struct {
	dir string
}

// NewFileLocker constructs a locker rooted at dir, creating it if needed.
func NewFileLocker(dir string) (*FileLocker, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "finalize", "file locker", "lock directory is required", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "finalize", "file locker", "create lock directory", err)
	}
	return &FileLocker{dir: dir}, nil
}

// TryLock implements Locker.
func (f *FileLocker) TryLock(_ context.Context, key string) (Unlock, bool, error) {
	lock := flock.New(filepath.Join(f.dir, lockFileName(key)))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, false, services.Wrap(services.ErrTransient, "finalize", "file lock", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	return func() { once.Do(func() { _ = lock.Unlock() }) }, true, nil
}

func lockFileName(key string) string {
	var b strings.Builder
	for _, r := range key {
		if r == '/' || r == '\\' || r == ':' || r == os.PathSeparator {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	return "finalize-" + b.String() + ".lock"
}

// PostgresLocker holds a session-level advisory lock on a dedicated pool
// connection for as long as the token is held.
type PostgresLocker struct {
	pool *pgxpool.Pool
}

// NewPostgresLocker wraps an existing pool.
func NewPostgresLocker(pool *pgxpool.Pool) *PostgresLocker {
	return &PostgresLocker{pool: pool}
}

// TryLock implements Locker.
func (p *PostgresLocker) TryLock(ctx context.Context, key string) (Unlock, bool, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, false, services.Wrap(services.ErrTransient, "finalize", "postgres lock", "acquire connection", err)
	}
	id := advisoryKey(key)
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, services.Wrap(services.ErrTransient, "finalize", "postgres lock", key, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, id); err != nil {
				// A connection that cannot unlock must not return to the pool
				// still holding the lock.
				_ = conn.Conn().Close(unlockCtx)
			}
			conn.Release()
		})
	}, true, nil
}

// advisoryKey maps a job id onto the bigint keyspace of advisory locks.
func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("qcflow-finalize:" + key))
	return int64(h.Sum64())
}

// NewLocker builds the locker selected by configuration. The returned close
// function releases backend resources.
func NewLocker(ctx context.Context, cfg *config.Config) (Locker, func(), error) {
	switch cfg.Finalize.LockBackend {
	case config.LockBackendMemory:
		return NewMemoryLocker(), func() {}, nil
	case config.LockBackendFile, "":
		locker, err := NewFileLocker(cfg.Finalize.LockDir)
		if err != nil {
			return nil, nil, err
		}
		return locker, func() {}, nil
	case config.LockBackendPostgres:
		pc, err := pgxpool.ParseConfig(cfg.Finalize.PostgresDSN)
		if err != nil {
			return nil, nil, services.Wrap(services.ErrConfiguration, "finalize", "postgres lock", "parse postgres_dsn", err)
		}
		pc.ConnConfig.RuntimeParams["application_name"] = "qcflow"
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(dialCtx, pc)
		if err != nil {
			return nil, nil, services.Wrap(services.ErrConfiguration, "finalize", "postgres lock", "connect", err)
		}
		if err := pool.Ping(dialCtx); err != nil {
			pool.Close()
			return nil, nil, services.Wrap(services.ErrConfiguration, "finalize", "postgres lock", "ping", err)
		}
		return NewPostgresLocker(pool), pool.Close, nil
	default:
		return nil, nil, services.Wrap(services.ErrConfiguration, "finalize", "locker", fmt.Sprintf("unknown lock backend %q", cfg.Finalize.LockBackend), nil)
	}
}
