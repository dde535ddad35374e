package edge

import (
	"context"
	"testing"
	"time"

	"ecm/internal/config"
	"ecm/internal/store"
	"ecm/pkg/types"
)

func mustChunk(t *testing.T, session string, tags []string) *types.Chunk {
	t.Helper()
	c, err := types.NewChunk("proj", session, 0, 0, types.RoleUser, "text "+session, 0, types.ChunkMetadata{Tags: tags})
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	return c
}

func TestDetectCrossSessionLinksRequiresTagOverlapOrSharedFile(t *testing.T) {
	a := mustChunk(t, "sess-a", []string{"auth", "bug"})
	b := mustChunk(t, "sess-b", []string{"auth", "bug", "retry"})
	c := mustChunk(t, "sess-c", []string{"unrelated"})

	fwd, back := DetectCrossSessionLinks(a, []CrossSessionCandidate{{Chunk: b}, {Chunk: c}})
	if len(fwd) != 1 || len(back) != 1 {
		t.Fatalf("expected exactly one cross-session link (to b), got %d/%d", len(fwd), len(back))
	}
	if fwd[0].TargetChunkID != b.ID {
		t.Errorf("expected link to point at b, got %s", fwd[0].TargetChunkID)
	}
}

func TestDetectCrossSessionLinksSkipsSameSession(t *testing.T) {
	a := mustChunk(t, "sess-a", []string{"auth", "bug"})
	b := mustChunk(t, "sess-a", []string{"auth", "bug"})

	fwd, _ := DetectCrossSessionLinks(a, []CrossSessionCandidate{{Chunk: b}})
	if len(fwd) != 0 {
		t.Errorf("expected no cross-session link within the same session, got %d", len(fwd))
	}
}

// fakeStore implements the narrow Store interface with an in-memory
// adjacency list, used to test Expand without a real database.
type fakeStore struct {
	adjacency map[string][]store.WeightedEdge
}

func (f *fakeStore) GetWeightedEdges(_ context.Context, chunkID string, _ types.EdgeDirection, _ time.Time, _ config.DecayConfig) ([]store.WeightedEdge, error) {
	return f.adjacency[chunkID], nil
}

func TestExpandStopsBelowMinWeight(t *testing.T) {
	f := &fakeStore{adjacency: map[string][]store.WeightedEdge{
		"seed": {
			{Edge: &types.Edge{TargetChunkID: "near"}, Weight: 0.9},
			{Edge: &types.Edge{TargetChunkID: "far"}, Weight: 0.05},
		},
		"near": {
			{Edge: &types.Edge{TargetChunkID: "near2"}, Weight: 0.9},
		},
	}}

	results, err := Expand(context.Background(), f, []SeedWeight{{ChunkID: "seed", Weight: 1.0}}, time.Now(), config.Default().Decay, types.DirectionForward, 5, 0.1)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	ids := map[string]bool{}
	for _, r := range results {
		ids[r.ChunkID] = true
	}
	if !ids["near"] {
		t.Error("expected 'near' to be reached")
	}
	if ids["far"] {
		t.Error("expected 'far' to be pruned below minWeight")
	}
	if !ids["near2"] {
		t.Error("expected two-hop neighbor 'near2' to be reached via 'near'")
	}
}

func TestExpandRespectsMaxHops(t *testing.T) {
	f := &fakeStore{adjacency: map[string][]store.WeightedEdge{
		"seed": {{Edge: &types.Edge{TargetChunkID: "hop1"}, Weight: 0.9}},
		"hop1": {{Edge: &types.Edge{TargetChunkID: "hop2"}, Weight: 0.9}},
	}}

	results, err := Expand(context.Background(), f, []SeedWeight{{ChunkID: "seed", Weight: 1.0}}, time.Now(), config.Default().Decay, types.DirectionForward, 1, 0.01)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	for _, r := range results {
		if r.ChunkID == "hop2" {
			t.Error("expected maxHops=1 to prevent reaching a two-hop node")
		}
	}
}
