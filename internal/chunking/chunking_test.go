package chunking

import (
	"strings"
	"testing"
	"time"

	"ecm/internal/config"
	"ecm/pkg/types"
)

func TestReadTranscriptSkipsCorruptLines(t *testing.T) {
	input := `{"role":"user","content":"hi","turn_index":0,"timestamp":"2026-01-01T00:00:00Z"}
not json
{"role":"assistant","content":"hello","turn_index":1,"timestamp":"2026-01-01T00:00:01Z"}
`
	turns, skipped, err := ReadTranscript(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadTranscript returned error: %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
}

func TestGroupTurnsSplitsOnRoleChange(t *testing.T) {
	c := NewChunker(config.ChunkingConfig{RenderMode: "full", MaxTurnsPerChunk: 10})
	turns := []Turn{
		{Role: types.RoleUser, Content: "question one", TurnIndex: 0},
		{Role: types.RoleAssistant, Content: "answer one", TurnIndex: 1},
		{Role: types.RoleAssistant, Content: "answer continued", TurnIndex: 2},
	}
	chunks, err := c.GroupTurns("proj", "sess-1", turns, 0)
	if err != nil {
		t.Fatalf("GroupTurns returned error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if chunks[1].TurnIndexStart != 1 || chunks[1].TurnIndexEnd != 2 {
		t.Errorf("second chunk range = [%d,%d], want [1,2]", chunks[1].TurnIndexStart, chunks[1].TurnIndexEnd)
	}
}

func TestGroupTurnsSplitsOnMaxTurnsPerChunk(t *testing.T) {
	c := NewChunker(config.ChunkingConfig{RenderMode: "full", MaxTurnsPerChunk: 2})
	turns := []Turn{
		{Role: types.RoleAssistant, Content: "a", TurnIndex: 0},
		{Role: types.RoleAssistant, Content: "b", TurnIndex: 1},
		{Role: types.RoleAssistant, Content: "c", TurnIndex: 2},
	}
	chunks, err := c.GroupTurns("proj", "sess-1", turns, 0)
	if err != nil {
		t.Fatalf("GroupTurns returned error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
}

func TestGroupTurnsCodeFocusedDropsEmptyToolTurns(t *testing.T) {
	c := NewChunker(config.ChunkingConfig{RenderMode: "code-focused", MaxTurnsPerChunk: 10})
	turns := []Turn{
		{Role: types.RoleUser, Content: "do something", TurnIndex: 0},
		{Role: types.RoleTool, Content: "no code here", ToolName: "bash", TurnIndex: 1},
		{Role: types.RoleAssistant, Content: "```go\nfunc main(){}\n```", TurnIndex: 2},
	}
	chunks, err := c.GroupTurns("proj", "sess-1", turns, 0)
	if err != nil {
		t.Fatalf("GroupTurns returned error: %v", err)
	}
	for _, ch := range chunks {
		if ch.Role == types.RoleTool {
			t.Errorf("expected tool turn without code to be dropped, found chunk: %+v", ch)
		}
	}
}

func TestDetectTransitionIdentifiesTopicShift(t *testing.T) {
	prev, _ := types.NewChunk("proj", "sess", 0, 0, types.RoleUser, "let's talk about database migrations", 0, types.ChunkMetadata{})
	cur, _ := types.NewChunk("proj", "sess", 1, 1, types.RoleUser, "anyway, switching to a completely different question about pricing", 1, types.ChunkMetadata{})

	tr := DetectTransition(prev, cur, time.Minute)
	if tr.Type != types.EdgeTopicShift {
		t.Errorf("Type = %v, want topic_shift (score=%v)", tr.Type, tr.Score)
	}
}

func TestDetectTransitionScoreWithinBounds(t *testing.T) {
	prev, _ := types.NewChunk("proj", "sess", 0, 0, types.RoleUser, "fixing the parser bug in main.go", 0, types.ChunkMetadata{})
	cur, _ := types.NewChunk("proj", "sess", 1, 1, types.RoleAssistant, "also updated main.go to handle the same parser issue", 1, types.ChunkMetadata{FilePaths: []string{"main.go"}})

	tr := DetectTransition(prev, cur, 5*time.Minute)
	if tr.Score < 0 || tr.Score > 1 {
		t.Errorf("score out of bounds: %v", tr.Score)
	}
}
