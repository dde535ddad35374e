// Package store is the relational store (component A): durable state
// for chunks, edges, clusters and ingestion checkpoints, plus the BM25
// keyword index (component C) that shares the same database file and
// the embedded flat vector store (component B) that lives alongside it
// on disk.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"ecm/internal/logging"
)

// Store wraps the single shared *sql.DB connection. Writers use
// BEGIN IMMEDIATE transactions (see BeginWrite); readers query the
// shared *sql.DB directly in the default deferred mode.
type Store struct {
	db  *sql.DB
	log logging.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema.
func Open(ctx context.Context, path string, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer model (spec §5): one shared connection

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pinging %s: %w", path, err)
	}

	s := &Store{db: db, log: log.WithComponent("store")}
	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Vacuum reclaims disk space freed by deleted rows. SQLite's VACUUM
// rebuilds the whole file, so it runs outside any write transaction.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("store: vacuum: %w", err)
	}
	return nil
}

// AllChunkIDs returns every stored chunk id, for maintenance's orphan scan.
func (s *Store) AllChunkIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("store: listing chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteAllData clears every chunk, edge, cluster and checkpoint — the
// destructive half of archive import's replace (non-merge) mode. Edge
// and cluster-assignment rows disappear via the schema's ON DELETE
// CASCADE / SET NULL foreign keys once their owning chunks are gone.
func (s *Store) DeleteAllData(ctx context.Context) error {
	w, err := s.BeginWrite(ctx)
	if err != nil {
		return err
	}
	defer w.Rollback(ctx)
	for _, stmt := range []string{
		`DELETE FROM chunks`,
		`DELETE FROM clusters`,
		`DELETE FROM ingestion_checkpoints`,
	} {
		if _, err := w.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: clearing data: %w", err)
		}
	}
	return w.Commit(ctx)
}

// WriteTx is a writer-held connection inside an explicit BEGIN IMMEDIATE
// transaction: the write lock is acquired up front rather than on first
// write, per spec §5.
type WriteTx struct {
	conn *sql.Conn
	done bool
}

// BeginWrite acquires a dedicated connection and starts BEGIN IMMEDIATE
// on it. Cancelling ctx mid-transaction rolls it back.
func (s *Store) BeginWrite(ctx context.Context) (*WriteTx, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: acquiring connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: BEGIN IMMEDIATE: %w", err)
	}
	return &WriteTx{conn: conn}, nil
}

// ExecContext runs a statement within the write transaction.
func (w *WriteTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return w.conn.ExecContext(ctx, query, args...)
}

// QueryRowContext runs a query within the write transaction.
func (w *WriteTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return w.conn.QueryRowContext(ctx, query, args...)
}

// QueryContext runs a query within the write transaction.
func (w *WriteTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return w.conn.QueryContext(ctx, query, args...)
}

// Commit commits the transaction and releases the connection.
func (w *WriteTx) Commit(ctx context.Context) error {
	if w.done {
		return nil
	}
	w.done = true
	_, err := w.conn.ExecContext(ctx, "COMMIT")
	w.conn.Close()
	return err
}

// Rollback aborts the transaction and releases the connection. Safe to
// call after Commit (no-op).
func (w *WriteTx) Rollback(ctx context.Context) {
	if w.done {
		return
	}
	w.done = true
	w.conn.ExecContext(ctx, "ROLLBACK")
	w.conn.Close()
}
