package cache

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/spec-kit/moderation-service/internal/persistence"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    kind       TEXT NOT NULL,
    key        TEXT NOT NULL,
    payload    TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (kind, key)
);
CREATE INDEX IF NOT EXISTS cache_entries_key_idx ON cache_entries (key);
`

// PrepareSchema creates the cache table. Pass it to persistence.OpenSQLite.
func PrepareSchema(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// NewSQLite returns a cache persisted in db.
func NewSQLite(db *persistence.SQLite) *Cache {
	return &Cache{b: &sqliteBackend{db: db}}
}

type sqliteBackend struct {
	db *persistence.SQLite
}

func (b *sqliteBackend) get(ctx context.Context, kind, key string) ([]byte, bool, error) {
	conn, err := b.db.Take(ctx)
	if err != nil {
		return nil, false, err
	}
	defer b.db.Put(conn)

	var (
		payload []byte
		found   bool
	)
	err = sqlitex.Execute(conn, `SELECT payload FROM cache_entries WHERE kind = ? AND key = ?`, &sqlitex.ExecOptions{
		Args: []any{kind, key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			payload = []byte(stmt.ColumnText(0))
			found = true
			return nil
		},
	})
	return payload, found, err
}

func (b *sqliteBackend) put(ctx context.Context, kind, key string, payload []byte) error {
	conn, err := b.db.Take(ctx)
	if err != nil {
		return err
	}
	defer b.db.Put(conn)

	return sqlitex.Execute(conn, `INSERT INTO cache_entries (kind, key, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{kind, key, string(payload), time.Now().UnixMilli()},
		})
}

func (b *sqliteBackend) delete(ctx context.Context, kind, key string) error {
	conn, err := b.db.Take(ctx)
	if err != nil {
		return err
	}
	defer b.db.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM cache_entries WHERE kind = ? AND key = ?`, &sqlitex.ExecOptions{
		Args: []any{kind, key},
	})
}
