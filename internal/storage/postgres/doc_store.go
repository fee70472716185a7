// Package postgres provides the Postgres-backed document store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/govwatch/internal/monitor"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultBatchSize = 500

// Config controls the Postgres connection pool used for documents.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// BatchSize bounds the rows fetched per Stream round trip.
	BatchSize int
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// DocStore keeps every collection in one table keyed by (collection, id).
type DocStore struct {
	pool      pool
	table     string
	batchSize int
}

// NewDocStore connects a pgx pool using the provided config.
func NewDocStore(ctx context.Context, cfg Config) (*DocStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewDocStoreWithPool(p, cfg.Table, cfg.BatchSize)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewDocStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDocStoreWithPool(p pool, table string, batchSize int) (*DocStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "documents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &DocStore{pool: p, table: table, batchSize: batchSize}, nil
}

// Migrate creates the documents table if it does not exist.
func (s *DocStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	collection  TEXT        NOT NULL,
	id          TEXT        NOT NULL,
	doc         JSONB       NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// InsertIfAbsent relies on the primary key so concurrent writers cannot both win.
func (s *DocStore) InsertIfAbsent(ctx context.Context, collection string, rec monitor.Record) (bool, error) {
	if rec.ID == "" {
		return false, fmt.Errorf("insert into %s: record id is required", collection)
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (collection, id, doc) VALUES ($1, $2, $3) ON CONFLICT (collection, id) DO NOTHING`,
		s.table,
	)
	tag, err := s.pool.Exec(ctx, query, collection, rec.ID, doc)
	if err != nil {
		return false, fmt.Errorf("insert into %s: %w", collection, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Count returns the number of documents in a collection.
func (s *DocStore) Count(ctx context.Context, collection string) (int64, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE collection = $1`, s.table)
	var n int64
	if err := s.pool.QueryRow(ctx, query, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// DistinctIDs lists the IDs stored in a collection.
func (s *DocStore) DistinctIDs(ctx context.Context, collection string) ([]string, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE collection = $1 ORDER BY id`, s.table)
	rows, err := s.pool.Query(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("distinct ids %s: %w", collection, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan ids %s: %w", collection, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Stream walks the collection in id order using keyset pages. Each page is
// fully read before fn runs so callbacks may write to the store.
func (s *DocStore) Stream(ctx context.Context, collection string, fn func(monitor.Record) error) error {
	query := fmt.Sprintf(
		`SELECT id, doc FROM %s WHERE collection = $1 AND id > $2 ORDER BY id LIMIT $3`,
		s.table,
	)
	after := ""
	for {
		batch, err := s.page(ctx, query, collection, after)
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

func (s *DocStore) page(ctx context.Context, query, collection, after string) ([]monitor.Record, error) {
	rows, err := s.pool.Query(ctx, query, collection, after, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", collection, err)
	}
	defer rows.Close()

	var out []monitor.Record
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		var rec monitor.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
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

// Close releases the underlying pool resources.
func (s *DocStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
