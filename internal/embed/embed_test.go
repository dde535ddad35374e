package embed

import (
	"context"
	"math"
	"testing"
	"time"

	"ecm/internal/config"
)

func TestHashEmbedderIsDeterministic(t *testing.T) {
	h := NewHashEmbedder(32)
	a, _ := h.Embed(context.Background(), "hello world")
	b, _ := h.Embed(context.Background(), "hello   world")
	if len(a) != 32 || len(b) != 32 {
		t.Fatalf("unexpected dimensions: %d, %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings of equivalent text diverged at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestHashEmbedderProducesUnitVectors(t *testing.T) {
	h := NewHashEmbedder(16)
	v, _ := h.Embed(context.Background(), "some chunk text")
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if math.Abs(sumSq-1) > 1e-4 {
		t.Errorf("expected unit vector, norm^2 = %v", sumSq)
	}
}

func TestCachePutGet(t *testing.T) {
	c := NewCache(10, time.Hour)
	c.Put("k", []float32{1, 2, 3})
	v, ok := c.Get("k")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(v) != 3 {
		t.Fatalf("unexpected value: %v", v)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected cache miss")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2, time.Hour)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Put("c", []float32{3}) // evicts "a"
	if _, ok := c.Get("a"); ok {
		t.Error("expected 'a' to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected 'b' to still be cached")
	}
}

func TestCircuitBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, 50*time.Millisecond, nil)
	failing := func(context.Context) error { return context.DeadlineExceeded }

	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), failing)

	if cb.Status() != StateOpen {
		t.Fatalf("expected circuit open after threshold failures, got %v", cb.Status())
	}

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected circuit-open error while within timeout")
	}
}

func TestResilientEmbedCachesResults(t *testing.T) {
	h := NewHashEmbedder(8)
	cfg := config.EmbeddingConfig{
		Dimensions: 8, TimeoutSeconds: 1, MaxRetries: 1,
		CacheSize: 10, RateLimitRPS: 100, CircuitFailures: 5,
	}
	r := NewResilient(h, cfg, nil)

	v1, err := r.Embed(context.Background(), "repeat me")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if r.cache.Stats().Misses != 1 {
		t.Errorf("expected one cache miss, got %d", r.cache.Stats().Misses)
	}

	v2, err := r.Embed(context.Background(), "repeat me")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if r.cache.Stats().Hits != 1 {
		t.Errorf("expected one cache hit, got %d", r.cache.Stats().Hits)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("cached embedding differs from original at index %d", i)
		}
	}
}
