package retrieval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ecm/internal/config"
	"ecm/internal/store"
	"ecm/pkg/types"
)

// fakeEmbedder returns a fixed vector regardless of input, just enough to
// drive the dense-candidate stage without a real embedding service.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return f.vec, f.err }
func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, f.err
}
func (f *fakeEmbedder) Dimensions() int               { return len(f.vec) }
func (f *fakeEmbedder) HealthCheck(_ context.Context) error { return nil }

func setupEngine(t *testing.T) (*Engine, *store.Store, *store.VectorStore) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	vs, err := store.OpenVectorStore(dir)
	if err != nil {
		t.Fatalf("OpenVectorStore: %v", err)
	}

	cfg := config.Default()
	embedder := &fakeEmbedder{vec: []float32{1, 0, 0}}
	e := NewEngine(s, vs, embedder, cfg.Retrieval, cfg.Decay, nil)
	return e, s, vs
}

func insertChunk(t *testing.T, s *store.Store, session, text string, vec []float32, vs *store.VectorStore) *types.Chunk {
	t.Helper()
	c, err := types.NewChunk("proj", session, 0, 0, types.RoleUser, text, 0, types.ChunkMetadata{})
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	ctx := context.Background()
	w, err := s.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := store.InsertChunk(ctx, w, c); err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if vec != nil {
		if err := vs.Insert(c.ID, c.SessionID, vec); err != nil {
			t.Fatalf("vector Insert: %v", err)
		}
	}
	return c
}

func TestSearchFindsDenseAndSparseHits(t *testing.T) {
	e, s, vs := setupEngine(t)
	a := insertChunk(t, s, "sess-a", "the quick brown fox jumps", []float32{1, 0, 0}, vs)
	insertChunk(t, s, "sess-b", "totally unrelated text about weather", []float32{0, 1, 0}, vs)

	resp := e.Search(context.Background(), "fox jumps", 5, nil, time.Now())
	if resp.Degraded {
		t.Fatalf("did not expect a degraded response")
	}
	found := false
	for _, h := range resp.Hits {
		if h.ChunkID == a.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected chunk %s among the results", a.ID)
	}
}

func TestSearchDegradesGracefullyOnEmbedFailure(t *testing.T) {
	e, s, vs := setupEngine(t)
	e.embedder = &fakeEmbedder{err: context.DeadlineExceeded}
	insertChunk(t, s, "sess-a", "keyword only match here", nil, vs)

	resp := e.Search(context.Background(), "keyword match", 5, nil, time.Now())
	if !resp.Degraded {
		t.Error("expected a degraded response when embedding fails")
	}
	if len(resp.Hits) == 0 {
		t.Error("expected sparse-only results to still surface")
	}
}

func TestSearchProjectFilterExcludesOtherProjects(t *testing.T) {
	e, s, vs := setupEngine(t)
	c, err := types.NewChunk("proj-a", "sess-a", 0, 0, types.RoleUser, "shared keyword alpha", 0, types.ChunkMetadata{})
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	ctx := context.Background()
	w, _ := s.BeginWrite(ctx)
	_ = store.InsertChunk(ctx, w, c)
	_ = w.Commit(ctx)
	vs.Insert(c.ID, c.SessionID, []float32{1, 0, 0})

	other, err := types.NewChunk("proj-b", "sess-b", 0, 0, types.RoleUser, "shared keyword alpha", 0, types.ChunkMetadata{})
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	w2, _ := s.BeginWrite(ctx)
	_ = store.InsertChunk(ctx, w2, other)
	_ = w2.Commit(ctx)
	vs.Insert(other.ID, other.SessionID, []float32{1, 0, 0})

	resp := e.Search(ctx, "shared keyword alpha", 5, []string{"proj-a"}, time.Now())
	for _, h := range resp.Hits {
		if h.ChunkID == other.ID {
			t.Errorf("expected project filter to exclude chunk from proj-b, got it in results")
		}
	}
}
