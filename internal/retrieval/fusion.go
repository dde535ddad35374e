// Package retrieval implements the hybrid search pipeline (component G):
// dense vector candidates and sparse keyword candidates are fused with
// reciprocal-rank fusion, then the fused seed set is expanded one hop
// through the decay-weighted edge graph before final ranking.
package retrieval

import "sort"

// Candidate is one ranked hit from a single-signal search (dense or
// sparse), already sorted by that signal's own score descending.
type Candidate struct {
	ChunkID string
	Score   float64
}

// Seed is one item surviving reciprocal-rank fusion, carrying its fused
// score and whether it was corroborated by both signals.
type Seed struct {
	ChunkID  string
	Score    float64
	InBoth   bool
	VecScore float64
	BM25Score float64
}

// defaultRRFConstant is the standard RRF smoothing constant (k=60), the same
// value cited by Azure AI Search and OpenSearch's hybrid rankers and the
// one the spec's worked example assumes.
const defaultRRFConstant = 60

// Fuse combines dense and sparse candidate lists with reciprocal-rank
// fusion: s_f(id) = Σ 1/(rank_in_list + k). Both input lists are assumed
// already sorted by their own score, descending. Missing-list
// contributions use missing_rank = max(len(dense), len(sparse)) + 1.
func Fuse(dense, sparse []Candidate, rrfConstant int) []Seed {
	if rrfConstant <= 0 {
		rrfConstant = defaultRRFConstant
	}
	if len(dense) == 0 && len(sparse) == 0 {
		return nil
	}

	seeds := make(map[string]*Seed, len(dense)+len(sparse))
	get := func(id string) *Seed {
		if s, ok := seeds[id]; ok {
			return s
		}
		s := &Seed{ChunkID: id}
		seeds[id] = s
		return s
	}

	for rank, c := range dense {
		s := get(c.ChunkID)
		s.VecScore = c.Score
		s.Score += 1 / float64(rrfConstant+rank+1)
	}
	for rank, c := range sparse {
		s := get(c.ChunkID)
		s.BM25Score = c.Score
		s.Score += 1 / float64(rrfConstant+rank+1)
	}

	missingRank := len(dense)
	if len(sparse) > missingRank {
		missingRank = len(sparse)
	}
	missingRank++

	denseIDs := make(map[string]bool, len(dense))
	for _, c := range dense {
		denseIDs[c.ChunkID] = true
	}
	sparseIDs := make(map[string]bool, len(sparse))
	for _, c := range sparse {
		sparseIDs[c.ChunkID] = true
	}
	for id, s := range seeds {
		s.InBoth = denseIDs[id] && sparseIDs[id]
		if !denseIDs[id] && sparseIDs[id] {
			s.Score += 1 / float64(rrfConstant+missingRank)
		}
		if !sparseIDs[id] && denseIDs[id] {
			s.Score += 1 / float64(rrfConstant+missingRank)
		}
	}

	out := make([]Seed, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].InBoth != out[j].InBoth {
			return out[i].InBoth
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// normalizeMinMax rescales scores to [0,1] by min-max over the set. An
// empty or single-valued set returns all-ones (nothing to distinguish).
func normalizeMinMax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := scores[0], scores[0]
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if max == min {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}
