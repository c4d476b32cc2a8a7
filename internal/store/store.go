// Package store is the single-file relational store behind the gateway.
// The schema is embedded and applied on every open; columns added after
// the first release are migrated idempotently. Every statement is timed
// into the metrics sink.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nyxlabs/testnet-gateway/internal/metrics"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = "1"

// Store owns the sqlite handle. A single writer connection serialises
// concurrent request transactions the way the executor expects.
type Store struct {
	db *sql.DB
	m  *metrics.Metrics
}

// Open opens (creating if needed) the database file, applies the schema
// and the column migrations, and returns the store.
func Open(path string, m *metrics.Metrics) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	dsn := "file:" + path +
		"?_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps writers serialised without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, m: m}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	// Column adds for databases created before the column existed.
	adds := []struct{ table, column, ddl string }{
		{"orders", "owner_address", "ALTER TABLE orders ADD COLUMN owner_address TEXT NOT NULL DEFAULT '0x0'"},
		{"orders", "status", "ALTER TABLE orders ADD COLUMN status TEXT NOT NULL DEFAULT 'open'"},
		{"messages", "sender_account_id", "ALTER TABLE messages ADD COLUMN sender_account_id TEXT NOT NULL DEFAULT ''"},
		{"portal_accounts", "bio", "ALTER TABLE portal_accounts ADD COLUMN bio TEXT"},
		{"portal_accounts", "wallet_address", "ALTER TABLE portal_accounts ADD COLUMN wallet_address TEXT"},
		{"listings", "publisher_id", "ALTER TABLE listings ADD COLUMN publisher_id TEXT NOT NULL DEFAULT 'unknown'"},
		{"listings", "status", "ALTER TABLE listings ADD COLUMN status TEXT NOT NULL DEFAULT 'active'"},
		{"purchases", "buyer_id", "ALTER TABLE purchases ADD COLUMN buyer_id TEXT NOT NULL DEFAULT 'unknown'"},
		{"wallet_transfers", "asset_id", "ALTER TABLE wallet_transfers ADD COLUMN asset_id TEXT NOT NULL DEFAULT 'NYXT'"},
	}
	for _, add := range adds {
		has, err := s.hasColumn(ctx, add.table, add.column)
		if err != nil {
			return err
		}
		if !has {
			if _, err := s.db.ExecContext(ctx, add.ddl); err != nil {
				return fmt.Errorf("migrate %s.%s: %w", add.table, add.column, err)
			}
			log.Printf("store: added column %s.%s", add.table, add.column)
		}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES ('schema_version', ?) ON CONFLICT(key) DO NOTHING",
		schemaVersion)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// querier abstracts *sql.DB and *sql.Tx for the row helpers.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn is an instrumented handle over either the autocommit connection or
// an open transaction. All typed row operations hang off it.
type Conn struct {
	q querier
	m *metrics.Metrics
}

// Conn returns the autocommit handle. Writes issued here commit
// immediately; the executor must use Begin instead.
func (s *Store) Conn() *Conn { return &Conn{q: s.db, m: s.m} }

// Tx is one request transaction. Commit exactly once on success; Rollback
// is a no-op after Commit, so defer it unconditionally.
type Tx struct {
	Conn
	tx *sql.Tx
}

// Begin opens the request transaction the executor runs inside.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{Conn: Conn{q: tx, m: s.m}, tx: tx}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func (c *Conn) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := c.q.ExecContext(ctx, query, args...)
	c.m.ObserveStatement(op, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func (c *Conn) query(ctx context.Context, op, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := c.q.QueryContext(ctx, query, args...)
	c.m.ObserveStatement(op, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

func (c *Conn) queryRow(ctx context.Context, op, query string, args ...any) *sql.Row {
	start := time.Now()
	row := c.q.QueryRowContext(ctx, query, args...)
	c.m.ObserveStatement(op, time.Since(start))
	return row
}
