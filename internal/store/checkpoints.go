package store

import (
	"context"
	"database/sql"
	"errors"

	"ecm/internal/errs"
	"ecm/pkg/types"
)

// GetCheckpoint returns the ingestion checkpoint for sessionID, or a
// NotFoundError if the session has never been ingested.
func GetCheckpoint(ctx context.Context, q queryer, sessionID string) (*types.IngestionCheckpoint, error) {
	row := q.QueryRowContext(ctx, `
		SELECT session_id, project_slug, last_turn_index, last_chunk_id, vector_clock, file_mtime, updated_at
		FROM ingestion_checkpoints WHERE session_id = ?`, sessionID)

	var (
		c         types.IngestionCheckpoint
		lastChunk sql.NullString
		mtime     sql.NullTime
	)
	if err := row.Scan(&c.SessionID, &c.ProjectSlug, &c.LastTurnIndex, &lastChunk, &c.VectorClock, &mtime, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFoundError("checkpoint for session %s", sessionID)
		}
		return nil, errs.StorageError(err, "fetching checkpoint for session %s", sessionID)
	}
	c.LastChunkID = lastChunk.String
	c.FileMTime = mtime.Time
	return &c, nil
}

// GetCheckpoint is the *Store-bound convenience form of the package
// function.
func (s *Store) GetCheckpoint(ctx context.Context, sessionID string) (*types.IngestionCheckpoint, error) {
	return GetCheckpoint(ctx, s.db, sessionID)
}

// UpsertCheckpoint writes or overwrites the checkpoint row for the
// session it names.
func UpsertCheckpoint(ctx context.Context, w *WriteTx, c *types.IngestionCheckpoint) error {
	if err := c.Validate(); err != nil {
		return errs.InputError("invalid checkpoint: %v", err)
	}
	_, err := w.ExecContext(ctx, `
		INSERT INTO ingestion_checkpoints
			(session_id, project_slug, last_turn_index, last_chunk_id, vector_clock, file_mtime, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			project_slug = excluded.project_slug,
			last_turn_index = excluded.last_turn_index,
			last_chunk_id = excluded.last_chunk_id,
			vector_clock = excluded.vector_clock,
			file_mtime = excluded.file_mtime,
			updated_at = excluded.updated_at`,
		c.SessionID, c.ProjectSlug, c.LastTurnIndex, c.LastChunkID, c.VectorClock, c.FileMTime, c.UpdatedAt,
	)
	if err != nil {
		return errs.StorageError(err, "upserting checkpoint for session %s", c.SessionID)
	}
	return nil
}
