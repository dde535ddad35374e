// Package edge builds and traverses the fixed five-type edge model that
// links chunks: detecting adjacency/continuation/topic-shift edges within
// a session (the chunker already classifies these, see internal/chunking),
// cross-session edges between chunks that share tags or file paths across
// different sessions, and code-reference edges from a chunk to the chunks
// whose file paths it mentions.
package edge

import (
	"ecm/pkg/types"
)

// CrossSessionCandidate is one chunk considered for a cross-session link,
// drawn from a different session than the chunk being linked.
type CrossSessionCandidate struct {
	Chunk *types.Chunk
}

// MinTagOverlap is the number of shared tags required before a
// cross-session edge is proposed.
const MinTagOverlap = 2

// DetectCrossSessionLinks finds candidates in a different session that
// share at least MinTagOverlap tags or a file path with chunk, returning
// the symmetric edge pairs to persist.
func DetectCrossSessionLinks(chunk *types.Chunk, candidates []CrossSessionCandidate) ([]*types.Edge, []*types.Edge) {
	var forwards, backwards []*types.Edge

	for _, cand := range candidates {
		if cand.Chunk.SessionID == chunk.SessionID {
			continue
		}
		common := commonTags(chunk.Metadata.Tags, cand.Chunk.Metadata.Tags)
		sharesFile := commonFilePath(chunk.Metadata.FilePaths, cand.Chunk.Metadata.FilePaths)

		if len(common) < MinTagOverlap && !sharesFile {
			continue
		}

		weight := types.TypeWeights[types.EdgeCrossSession]
		fwd, back, err := types.NewEdgePair(chunk.ID, cand.Chunk.ID, types.EdgeCrossSession, weight, nil)
		if err != nil {
			continue
		}
		forwards = append(forwards, fwd)
		backwards = append(backwards, back)
	}

	return forwards, backwards
}

// DetectCodeReferenceLinks links chunk to every candidate whose own
// file-path metadata overlaps chunk's mentioned file paths, regardless of
// session — a chunk that touches path.go references every other chunk
// that also touched path.go.
func DetectCodeReferenceLinks(chunk *types.Chunk, candidates []CrossSessionCandidate) ([]*types.Edge, []*types.Edge) {
	var forwards, backwards []*types.Edge
	if len(chunk.Metadata.FilePaths) == 0 {
		return nil, nil
	}

	for _, cand := range candidates {
		if cand.Chunk.ID == chunk.ID {
			continue
		}
		if !commonFilePath(chunk.Metadata.FilePaths, cand.Chunk.Metadata.FilePaths) {
			continue
		}
		weight := types.TypeWeights[types.EdgeCodeReference]
		fwd, back, err := types.NewEdgePair(chunk.ID, cand.Chunk.ID, types.EdgeCodeReference, weight, nil)
		if err != nil {
			continue
		}
		forwards = append(forwards, fwd)
		backwards = append(backwards, back)
	}
	return forwards, backwards
}

func commonTags(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	var common []string
	for _, t := range b {
		if set[t] {
			common = append(common, t)
		}
	}
	return common
}

func commonFilePath(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, p := range a {
		set[p] = true
	}
	for _, p := range b {
		if set[p] {
			return true
		}
	}
	return false
}
