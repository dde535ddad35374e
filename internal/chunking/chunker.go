package chunking

import (
	"fmt"
	"strings"

	"ecm/internal/config"
	"ecm/pkg/types"
)

// Chunker groups a session's turns into chunks according to a configured
// render mode.
type Chunker struct {
	cfg config.ChunkingConfig
}

// NewChunker builds a Chunker from a chunking configuration.
func NewChunker(cfg config.ChunkingConfig) *Chunker {
	return &Chunker{cfg: cfg}
}

// group is the mutable accumulator for one in-progress chunk.
type group struct {
	turns []Turn
}

func (g *group) text() string {
	parts := make([]string, len(g.turns))
	for i, t := range g.turns {
		parts[i] = t.Content
	}
	return strings.Join(parts, "\n")
}

func (g *group) role() types.Role {
	return g.turns[0].Role
}

func (g *group) turnRange() (start, end int) {
	return g.turns[0].TurnIndex, g.turns[len(g.turns)-1].TurnIndex
}

// GroupTurns groups turns into chunks. In code-focused render mode, tool
// turns that carry no code are dropped entirely before grouping. A new
// group starts whenever the role changes or the group reaches
// MaxTurnsPerChunk turns.
func (c *Chunker) GroupTurns(sessionSlug, sessionID string, turns []Turn, vectorClockStart int) ([]*types.Chunk, error) {
	filtered := c.filterByRenderMode(turns)
	if len(filtered) == 0 {
		return nil, nil
	}

	var groups []*group
	var current *group
	for _, t := range filtered {
		if current == nil || current.role() != t.Role || len(current.turns) >= c.cfg.MaxTurnsPerChunk {
			current = &group{}
			groups = append(groups, current)
		}
		current.turns = append(current.turns, t)
	}

	chunks := make([]*types.Chunk, 0, len(groups))
	clock := vectorClockStart
	for _, g := range groups {
		start, end := g.turnRange()
		chunk, err := types.NewChunk(sessionSlug, sessionID, start, end, g.role(), g.text(), clock, types.ChunkMetadata{
			FilePaths: extractFilePaths(g.text()),
		})
		if err != nil {
			return nil, fmt.Errorf("chunking: building chunk for turns %d-%d: %w", start, end, err)
		}
		chunk.LastTurnAt = g.turns[len(g.turns)-1].Timestamp
		chunks = append(chunks, chunk)
		clock++
	}
	return chunks, nil
}

func (c *Chunker) filterByRenderMode(turns []Turn) []Turn {
	if c.cfg.RenderMode != "code-focused" {
		return turns
	}
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == types.RoleTool && !t.HasCode() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// extractFilePaths returns the distinct file-path-looking tokens found
// in text, used both as chunk metadata and as a transition-detection
// feature.
func extractFilePaths(text string) []string {
	matches := filePathPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
