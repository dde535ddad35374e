package store

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// SchemaChecksum returns the sha256 checksum of the embedded schema,
// recorded so a future forward-only migration can detect drift.
func SchemaChecksum() string {
	sum := sha256.Sum256([]byte(schemaSQL))
	return hex.EncodeToString(sum[:])
}

// applySchema runs the embedded schema script once, idempotently: every
// statement is `CREATE ... IF NOT EXISTS`, so re-running it against an
// already-initialised database is a no-op. The whole script, including
// trigger bodies with BEGIN...END, is executed as a single Exec call —
// SQLite's multi-statement exec handles that natively, so there is no
// need to split it into individual statements first.
func (s *Store) applySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}
	return nil
}
