package edge

import (
	"container/heap"
	"context"
	"time"

	"ecm/internal/config"
	"ecm/internal/store"
	"ecm/pkg/types"
)

// Store is the subset of store's chunk/edge API the expansion traversal
// needs, kept narrow so manager can be tested against a fake.
type Store interface {
	GetWeightedEdges(ctx context.Context, chunkID string, direction types.EdgeDirection, now time.Time, cfg config.DecayConfig) ([]store.WeightedEdge, error)
}

// Expanded is one chunk reached by graph expansion from a seed, with the
// cumulative (multiplied) decay weight along the best path found to it.
type Expanded struct {
	ChunkID string
	Weight  float64
	Hops    int
}

// SeedWeight is a traversal starting point: a chunk id and the relevance
// score it entered the expansion with, so a strong seed's descendants
// aren't pruned as aggressively as a weak seed's.
type SeedWeight struct {
	ChunkID string
	Weight  float64
}

// expansionItem is an entry in the traversal frontier's priority queue.
type expansionItem struct {
	chunkID string
	weight  float64
	hops    int
}

type frontier []expansionItem

func (f frontier) Len() int            { return len(f) }
func (f frontier) Less(i, j int) bool  { return f[i].weight > f[j].weight } // max-heap on weight
func (f frontier) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x interface{}) { *f = append(*f, x.(expansionItem)) }
func (f *frontier) Pop() interface{} {
	old := *f
	n := len(old)
	item := old[n-1]
	*f = old[:n-1]
	return item
}

// Expand performs a best-first traversal outward from seeds along
// decay-weighted edges in the given direction, stopping each path once
// its cumulative weight drops below minWeight or maxHops is reached. It
// returns every reached chunk (seeds excluded) with the highest
// cumulative weight found across all paths to it — the graph-expansion
// stage of hybrid retrieval (spec §4.G step 5), where alpha blends this
// weight back into the fused relevance score. Call it once per
// direction (forward, backward) and merge by max to expand both ways.
func Expand(ctx context.Context, s Store, seeds []SeedWeight, now time.Time, cfg config.DecayConfig, direction types.EdgeDirection, maxHops int, minWeight float64) ([]Expanded, error) {
	best := make(map[string]expansionItem)
	seedSet := make(map[string]bool, len(seeds))
	for _, sd := range seeds {
		seedSet[sd.ChunkID] = true
	}

	var pq frontier
	for _, sd := range seeds {
		heap.Push(&pq, expansionItem{chunkID: sd.ChunkID, weight: sd.Weight, hops: 0})
	}

	for pq.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := heap.Pop(&pq).(expansionItem)
		if cur.hops >= maxHops {
			continue
		}

		edges, err := s.GetWeightedEdges(ctx, cur.chunkID, direction, now, cfg)
		if err != nil {
			return nil, err
		}

		for _, we := range edges {
			next := cur.weight * we.Weight
			if next < minWeight {
				continue
			}
			target := we.Edge.TargetChunkID
			if seedSet[target] {
				continue
			}
			if existing, ok := best[target]; !ok || next > existing.weight {
				item := expansionItem{chunkID: target, weight: next, hops: cur.hops + 1}
				best[target] = item
				heap.Push(&pq, item)
			}
		}
	}

	results := make([]Expanded, 0, len(best))
	for id, item := range best {
		results = append(results, Expanded{ChunkID: id, Weight: item.weight, Hops: item.hops})
	}
	return results, nil
}
