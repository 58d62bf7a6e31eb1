package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/spec-kit/moderation-service/internal/config"
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// SQLite is the connection pool behind the local cache.
type SQLite struct {
	pool   *sqlitex.Pool
	path   string
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the cache database. onConnect runs
// once per connection after the pragmas, typically to create the schema.
func OpenSQLite(cfg config.CacheConfig, logger *zap.Logger, onConnect func(*sqlite.Conn) error) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: size,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range sqlitePragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			if onConnect != nil {
				return onConnect(conn)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	logger.Info("local cache opened", zap.String("path", cfg.Path), zap.Int("pool_size", size))
	return &SQLite{pool: pool, path: cfg.Path, logger: logger}, nil
}

// Take borrows a connection; the caller must Put it back.
func (s *SQLite) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("take sqlite conn: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool.
func (s *SQLite) Put(conn *sqlite.Conn) {
	s.pool.Put(conn)
}

// Close closes every connection.
func (s *SQLite) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	if err := s.pool.Close(); err != nil {
		s.logger.Error("close local cache", zap.String("path", s.path), zap.Error(err))
		return err
	}
	return nil
}
