package types

import (
	"errors"
	"time"
)

// IngestionCheckpoint records how far ingestion has progressed through a
// session's transcript, keyed by session_id, so a re-run of the same file
// resumes after the last ingested turn instead of reprocessing it.
type IngestionCheckpoint struct {
	SessionID     string    `json:"session_id"`
	ProjectSlug   string    `json:"project_slug"`
	LastTurnIndex int       `json:"last_turn_index"`
	LastChunkID   string    `json:"last_chunk_id"`
	VectorClock   int       `json:"vector_clock"`
	FileMTime     time.Time `json:"file_mtime"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the checkpoint's invariants.
func (c *IngestionCheckpoint) Validate() error {
	if c.SessionID == "" {
		return errors.New("checkpoint: session_id cannot be empty")
	}
	if c.ProjectSlug == "" {
		return errors.New("checkpoint: project_slug cannot be empty")
	}
	if c.LastTurnIndex < 0 {
		return errors.New("checkpoint: last_turn_index cannot be negative")
	}
	if c.UpdatedAt.IsZero() {
		return errors.New("checkpoint: updated_at cannot be zero")
	}
	return nil
}

// Advance returns a copy of the checkpoint moved forward to turnIndex,
// chunkID and fileMTime, bumping vector_clock and updated_at.
func (c *IngestionCheckpoint) Advance(turnIndex int, chunkID string, fileMTime time.Time) IngestionCheckpoint {
	next := *c
	next.LastTurnIndex = turnIndex
	next.LastChunkID = chunkID
	next.FileMTime = fileMTime
	next.VectorClock++
	next.UpdatedAt = time.Now().UTC()
	return next
}
