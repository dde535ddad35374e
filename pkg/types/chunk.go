// Package types defines the core data model shared across the memory
// engine: chunks, edges, clusters and ingestion checkpoints, along with
// their validation rules.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a chunk's underlying turns.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the recognised roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ChunkMetadata carries the ambient, non-identity attributes of a chunk.
type ChunkMetadata struct {
	Tags      []string               `json:"tags,omitempty"`
	ToolsUsed []string                `json:"tools_used,omitempty"`
	FilePaths []string                `json:"file_paths,omitempty"`
	TimeSpent *int                   `json:"time_spent,omitempty"` // minutes, proxy for importance
	Extended  map[string]interface{} `json:"extended,omitempty"`
}

// Chunk is the atomic, content-addressed unit of memory. CreatedAt is the
// real-time ingestion timestamp decay ages against; LastTurnAt (when set)
// is the underlying transcript's own timestamp for the chunk's last turn,
// used for transition-detection time gaps rather than wall-clock age.
type Chunk struct {
	ID              string        `json:"id"`
	SessionSlug     string        `json:"session_slug"`
	SessionID       string        `json:"session_id"`
	TurnIndexStart  int           `json:"turn_index_start"`
	TurnIndexEnd    int           `json:"turn_index_end"`
	Role            Role          `json:"role"`
	Text            string        `json:"text"`
	CreatedAt       time.Time     `json:"created_at"`
	LastTurnAt      time.Time     `json:"last_turn_at,omitempty"`
	VectorClock     int           `json:"vector_clock"`
	ClusterID       *string       `json:"cluster_id,omitempty"`
	Metadata        ChunkMetadata `json:"metadata"`
}

// NormalizeText canonicalises text for both hashing and embedding:
// trimmed, internal whitespace collapsed to single spaces.
func NormalizeText(text string) string {
	fields := strings.Fields(text)
	return strings.Join(fields, " ")
}

// ChunkID computes the deterministic content-addressed id for a chunk.
// Identical (session, turn range, text) always yields the same id, which
// is what makes ingestion idempotent (spec property: chunk id stability).
func ChunkID(sessionSlug, sessionID string, turnStart, turnEnd int, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s", sessionSlug, sessionID, turnStart, turnEnd, NormalizeText(text))
	return hex.EncodeToString(h.Sum(nil))
}

// NewChunk constructs a Chunk with a deterministic id, validating inputs.
func NewChunk(sessionSlug, sessionID string, turnStart, turnEnd int, role Role, text string, vectorClock int, meta ChunkMetadata) (*Chunk, error) {
	c := &Chunk{
		ID:             ChunkID(sessionSlug, sessionID, turnStart, turnEnd, text),
		SessionSlug:    sessionSlug,
		SessionID:      sessionID,
		TurnIndexStart: turnStart,
		TurnIndexEnd:   turnEnd,
		Role:           role,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
		VectorClock:    vectorClock,
		Metadata:       meta,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the chunk's invariants.
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk: id cannot be empty")
	}
	if c.SessionSlug == "" {
		return errors.New("chunk: session_slug cannot be empty")
	}
	if c.SessionID == "" {
		return errors.New("chunk: session_id cannot be empty")
	}
	if !c.Role.Valid() {
		return fmt.Errorf("chunk: invalid role %q", c.Role)
	}
	if c.Text == "" {
		return errors.New("chunk: text cannot be empty")
	}
	if c.TurnIndexEnd < c.TurnIndexStart {
		return errors.New("chunk: turn_index_end cannot precede turn_index_start")
	}
	if c.CreatedAt.IsZero() {
		return errors.New("chunk: created_at cannot be zero")
	}
	return nil
}
