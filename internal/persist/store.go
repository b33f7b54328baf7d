// Package persist snapshots successful query cache entries to SQLite so a
// restarted process can serve them as stale data while it revalidates.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/starford/blogview/internal/query"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS query_cache (
	key        TEXT PRIMARY KEY,
	resource   TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_query_cache_resource ON query_cache(resource);
`

// Decoder turns a stored blob back into a cache value.
type Decoder func(data []byte) (any, error)

// Decoders maps a key's resource name to its decoder. Rows of resources
// without a decoder are skipped on load.
type Decoders map[string]Decoder

// DecoderFor returns a Decoder producing values of type T.
func DecoderFor[T any]() Decoder {
	return func(data []byte) (any, error) {
		var v T
		if err := msgpack.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Store wraps the snapshot database.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("persist: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persist: apply schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Save replaces the stored snapshot with items and returns how many rows
// were written.
func (s *Store) Save(ctx context.Context, items []query.Dehydrated) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("persist: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM query_cache`); err != nil {
		return 0, fmt.Errorf("persist: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO query_cache (key, resource, data, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("persist: prepare: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, it := range items {
		blob, err := msgpack.Marshal(it.Data)
		if err != nil {
			return 0, fmt.Errorf("persist: encode %s: %w", it.Key, err)
		}
		if _, err := stmt.ExecContext(ctx, it.Key.String(), it.Key.Resource(), blob, it.UpdatedAt.UnixNano()); err != nil {
			return 0, fmt.Errorf("persist: insert %s: %w", it.Key, err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("persist: commit: %w", err)
	}
	return n, nil
}

// Load reads the stored snapshot. Rows last updated more than maxAge before
// now are skipped when maxAge is positive.
func (s *Store) Load(ctx context.Context, decoders Decoders, maxAge time.Duration, now time.Time) ([]query.Dehydrated, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key, resource, data, updated_at FROM query_cache ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("persist: query: %w", err)
	}
	defer rows.Close()

	var out []query.Dehydrated
	for rows.Next() {
		var (
			rawKey, resource string
			blob             []byte
			updatedNano      int64
		)
		if err := rows.Scan(&rawKey, &resource, &blob, &updatedNano); err != nil {
			return nil, fmt.Errorf("persist: scan: %w", err)
		}
		updatedAt := time.Unix(0, updatedNano)
		if maxAge > 0 && now.Sub(updatedAt) > maxAge {
			continue
		}
		decode, ok := decoders[resource]
		if !ok {
			continue
		}
		key, err := query.ParseKey(rawKey)
		if err != nil {
			return nil, err
		}
		data, err := decode(blob)
		if err != nil {
			return nil, fmt.Errorf("persist: decode %s: %w", rawKey, err)
		}
		out = append(out, query.Dehydrated{Key: key, Data: data, UpdatedAt: updatedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persist: rows: %w", err)
	}
	return out, nil
}
