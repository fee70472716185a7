// Package sqlite provides a single-file document store for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/govwatch/internal/monitor"
)

const (
	pragmas          = "_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)"
	defaultBatchSize = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection  TEXT NOT NULL,
	id          TEXT NOT NULL,
	doc         TEXT NOT NULL,
	inserted_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (collection, id)
)`

// DocStore keeps every collection in one SQLite table keyed by (collection, id).
type DocStore struct {
	db        *sql.DB
	batchSize int
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*DocStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if !strings.Contains(path, "?") && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn = path + "?" + pragmas
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection serializes writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &DocStore{db: db, batchSize: defaultBatchSize}, nil
}

// InsertIfAbsent inserts rec unless (collection, rec.ID) already exists.
func (s *DocStore) InsertIfAbsent(ctx context.Context, collection string, rec monitor.Record) (bool, error) {
	if rec.ID == "" {
		return false, fmt.Errorf("insert into %s: record id is required", collection)
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, doc) VALUES (?, ?, ?) ON CONFLICT (collection, id) DO NOTHING`,
		collection, rec.ID, string(doc),
	)
	if err != nil {
		return false, fmt.Errorf("insert into %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert into %s: rows affected: %w", collection, err)
	}
	return n == 1, nil
}

// Count returns the number of documents in a collection.
func (s *DocStore) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM documents WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// DistinctIDs lists the IDs stored in a collection.
func (s *DocStore) DistinctIDs(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("distinct ids %s: %w", collection, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ids %s: %w", collection, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distinct ids %s: %w", collection, err)
	}
	return ids, nil
}

// Stream walks the collection in id order, one keyset page at a time.
func (s *DocStore) Stream(ctx context.Context, collection string, fn func(monitor.Record) error) error {
	after := ""
	for {
		batch, err := s.page(ctx, collection, after)
		if err != nil {
			return err
		}
		for _, rec := range batch {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(batch) < s.batchSize {
			return nil
		}
		after = batch[len(batch)-1].ID
	}
}

func (s *DocStore) page(ctx context.Context, collection, after string) ([]monitor.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc FROM documents WHERE collection = ? AND id > ? ORDER BY id LIMIT ?`,
		collection, after, s.batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", collection, err)
	}
	defer rows.Close()

	var out []monitor.Record
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		var rec monitor.Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
		rec.ID = id
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stream %s: %w", collection, err)
	}
	return out, nil
}

// Close closes the database handle.
func (s *DocStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	return nil
}
