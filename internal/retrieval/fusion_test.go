package retrieval

import "testing"

func TestFuseRRFBoundedness(t *testing.T) {
	// An item at rank 1 in both lists: score = 1/(60+1) + 1/(60+1) < 2/60.
	dense := []Candidate{{ChunkID: "a", Score: 0.9}}
	sparse := []Candidate{{ChunkID: "a", Score: 0.8}}

	seeds := Fuse(dense, sparse, 60)
	if len(seeds) != 1 {
		t.Fatalf("expected 1 seed, got %d", len(seeds))
	}
	if seeds[0].Score > 2.0/60.0 {
		t.Errorf("RRF score %v exceeds the 2/60 bound", seeds[0].Score)
	}
	if !seeds[0].InBoth {
		t.Error("expected item appearing in both lists to be flagged InBoth")
	}
}

func TestFuseMissingListUsesMissingRank(t *testing.T) {
	dense := []Candidate{{ChunkID: "a", Score: 0.9}, {ChunkID: "b", Score: 0.5}}
	sparse := []Candidate{{ChunkID: "c", Score: 0.7}}

	seeds := Fuse(dense, sparse, 60)
	if len(seeds) != 3 {
		t.Fatalf("expected 3 distinct seeds, got %d", len(seeds))
	}
	for _, s := range seeds {
		if s.InBoth {
			t.Errorf("chunk %s unexpectedly marked InBoth", s.ChunkID)
		}
	}
}

func TestFuseIsDeterministicAndSortedDescending(t *testing.T) {
	dense := []Candidate{{ChunkID: "x", Score: 0.9}, {ChunkID: "y", Score: 0.5}}
	sparse := []Candidate{{ChunkID: "y", Score: 0.95}, {ChunkID: "x", Score: 0.1}}

	first := Fuse(dense, sparse, 60)
	second := Fuse(dense, sparse, 60)
	if len(first) != len(second) {
		t.Fatalf("non-deterministic seed count")
	}
	for i := range first {
		if first[i].ChunkID != second[i].ChunkID || first[i].Score != second[i].Score {
			t.Fatalf("non-deterministic fusion ordering at index %d", i)
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i].Score > first[i-1].Score {
			t.Errorf("fused seeds not sorted descending at index %d", i)
		}
	}
}

func TestNoCandidatesProducesNoSeeds(t *testing.T) {
	if seeds := Fuse(nil, nil, 60); len(seeds) != 0 {
		t.Errorf("expected no seeds from empty candidate lists, got %d", len(seeds))
	}
}
