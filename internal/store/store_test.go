package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ecm/internal/config"
	"ecm/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustChunk(t *testing.T, session string, turn int, role types.Role, text string) *types.Chunk {
	t.Helper()
	c, err := types.NewChunk("proj", session, turn, turn, role, text, 0, types.ChunkMetadata{})
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	return c
}

func TestInsertAndGetChunk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := mustChunk(t, "sess-1", 0, types.RoleUser, "hello there")

	w, err := s.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := InsertChunk(ctx, w, c); err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := GetChunk(ctx, s.db, c.ID)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if got.Text != c.Text || got.SessionID != c.SessionID {
		t.Errorf("round-tripped chunk mismatch: %+v vs %+v", got, c)
	}
}

func TestInsertChunkIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := mustChunk(t, "sess-1", 0, types.RoleUser, "same content twice")

	for i := 0; i < 2; i++ {
		w, err := s.BeginWrite(ctx)
		if err != nil {
			t.Fatalf("BeginWrite: %v", err)
		}
		if err := InsertChunk(ctx, w, c); err != nil {
			t.Fatalf("InsertChunk: %v", err)
		}
		if err := w.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	n, err := GetChunkCount(ctx, s.db)
	if err != nil {
		t.Fatalf("GetChunkCount: %v", err)
	}
	if n != 1 {
		t.Errorf("expected exactly one chunk after duplicate insert, got %d", n)
	}
}

func TestEdgePairSymmetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustChunk(t, "sess-1", 0, types.RoleUser, "first turn")
	b := mustChunk(t, "sess-1", 1, types.RoleAssistant, "second turn")

	w, err := s.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := InsertChunk(ctx, w, a); err != nil {
		t.Fatalf("InsertChunk a: %v", err)
	}
	if err := InsertChunk(ctx, w, b); err != nil {
		t.Fatalf("InsertChunk b: %v", err)
	}
	hop := 1
	fwd, back, err := types.NewEdgePair(a.ID, b.ID, types.EdgeAdjacency, 0.9, &hop)
	if err != nil {
		t.Fatalf("NewEdgePair: %v", err)
	}
	if err := InsertEdgePair(ctx, w, fwd, back); err != nil {
		t.Fatalf("InsertEdgePair: %v", err)
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	out, err := GetOutgoingEdges(ctx, s.db, a.ID, types.DirectionForward)
	if err != nil {
		t.Fatalf("GetOutgoingEdges forward: %v", err)
	}
	if len(out) != 1 || out[0].TargetChunkID != b.ID {
		t.Fatalf("expected one forward edge a->b, got %+v", out)
	}

	back2, err := GetOutgoingEdges(ctx, s.db, b.ID, types.DirectionBackward)
	if err != nil {
		t.Fatalf("GetOutgoingEdges backward: %v", err)
	}
	if len(back2) != 1 || back2[0].TargetChunkID != a.ID || back2[0].BaseWeight != out[0].BaseWeight {
		t.Fatalf("expected mirrored backward edge b->a with same weight, got %+v", back2)
	}
}

func TestWeightedEdgesFilterDeadEdgesAndSortDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustChunk(t, "sess-1", 0, types.RoleUser, "origin")
	b := mustChunk(t, "sess-1", 1, types.RoleAssistant, "near")
	c := mustChunk(t, "sess-1", 2, types.RoleAssistant, "far")

	w, err := s.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	for _, ch := range []*types.Chunk{a, b, c} {
		if err := InsertChunk(ctx, w, ch); err != nil {
			t.Fatalf("InsertChunk: %v", err)
		}
	}
	fwd1, back1, _ := types.NewEdgePair(a.ID, b.ID, types.EdgeAdjacency, 0.9, nil)
	fwd2, back2, _ := types.NewEdgePair(a.ID, c.ID, types.EdgeTopicShift, 0.5, nil)
	if err := InsertEdgePair(ctx, w, fwd1, back1); err != nil {
		t.Fatalf("InsertEdgePair 1: %v", err)
	}
	if err := InsertEdgePair(ctx, w, fwd2, back2); err != nil {
		t.Fatalf("InsertEdgePair 2: %v", err)
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	cfg := config.Default().Decay
	weighted, err := GetWeightedEdges(ctx, s.db, a.ID, types.DirectionForward, time.Now().UTC(), cfg)
	if err != nil {
		t.Fatalf("GetWeightedEdges: %v", err)
	}
	if len(weighted) != 2 {
		t.Fatalf("expected 2 fresh edges to survive, got %d", len(weighted))
	}
	if weighted[0].Weight < weighted[1].Weight {
		t.Errorf("expected descending weight order, got %v then %v", weighted[0].Weight, weighted[1].Weight)
	}
}

func TestCheckpointUpsertAndAdvance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cp := &types.IngestionCheckpoint{
		SessionID: "sess-1", ProjectSlug: "proj", LastTurnIndex: 0,
		UpdatedAt: time.Now().UTC(),
	}

	w, err := s.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := UpsertCheckpoint(ctx, w, cp); err != nil {
		t.Fatalf("UpsertCheckpoint: %v", err)
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	advanced := cp.Advance(5, "chunk-x", time.Now().UTC())
	w2, err := s.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("BeginWrite 2: %v", err)
	}
	if err := UpsertCheckpoint(ctx, w2, &advanced); err != nil {
		t.Fatalf("UpsertCheckpoint 2: %v", err)
	}
	if err := w2.Commit(ctx); err != nil {
		t.Fatalf("Commit 2: %v", err)
	}

	got, err := GetCheckpoint(ctx, s.db, "sess-1")
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if got.LastTurnIndex != 5 || got.LastChunkID != "chunk-x" {
		t.Errorf("checkpoint did not advance as expected: %+v", got)
	}
}

func TestSanitizeFTS5QueryDropsOperatorsAndMetacharacters(t *testing.T) {
	got := sanitizeFTS5Query(`AND OR "quote* (parens) colon:val`)
	for _, bad := range []string{"AND", "OR", "*", "(", ")", ":"} {
		if containsToken(got, bad) {
			t.Errorf("sanitized query %q still contains %q", got, bad)
		}
	}
}

func containsToken(s, tok string) bool {
	for i := 0; i+len(tok) <= len(s); i++ {
		if s[i:i+len(tok)] == tok {
			return true
		}
	}
	return false
}

func TestKeywordSearchFindsInsertedChunk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := mustChunk(t, "sess-1", 0, types.RoleUser, "the quick brown fox jumps")

	w, err := s.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := InsertChunk(ctx, w, c); err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	hits, err := SearchKeyword(ctx, s.db, "quick fox", 10)
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != c.ID {
		t.Fatalf("expected keyword search to find the chunk, got %+v", hits)
	}
}

func TestVectorStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	vs, err := OpenVectorStore(dir)
	if err != nil {
		t.Fatalf("OpenVectorStore: %v", err)
	}
	if err := vs.Insert("c1", "sess-1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	reopened, err := OpenVectorStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Count() != 1 {
		t.Fatalf("expected persisted embedding to survive reopen, got count %d", reopened.Count())
	}

	hits := reopened.Search([]float32{1, 0, 0}, 1)
	if len(hits) != 1 || hits[0].ChunkID != "c1" || hits[0].Distance > 1e-6 {
		t.Fatalf("expected near-zero distance self-match, got %+v", hits)
	}
}

func TestVectorStoreEvictOldest(t *testing.T) {
	dir := t.TempDir()
	vs, err := OpenVectorStore(dir)
	if err != nil {
		t.Fatalf("OpenVectorStore: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := vs.Insert(string(rune('a'+i)), "sess-1", []float32{1, 0, 0}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	removed, err := vs.EvictOldest(3)
	if err != nil {
		t.Fatalf("EvictOldest: %v", err)
	}
	if removed != 2 || vs.Count() != 3 {
		t.Errorf("expected 2 removed and 3 remaining, got removed=%d count=%d", removed, vs.Count())
	}
}
