package retrieval

import (
	"context"
	"sort"
	"time"

	"ecm/internal/config"
	"ecm/internal/edge"
	"ecm/internal/embed"
	"ecm/internal/logging"
	"ecm/internal/store"
	"ecm/pkg/types"
)

// Hit is one ranked retrieval result with its provenance.
type Hit struct {
	ChunkID string
	Score   float64
	Seed    bool // true if this hit was a fusion seed rather than graph-discovered
}

// Response is the outcome of a single Search call. Degraded is set when
// one or more pipeline stages failed and the result set is partial
// rather than a total failure — retrieval never propagates an error to
// the caller once the query itself has been accepted.
type Response struct {
	Hits     []Hit
	Degraded bool
}

// Engine runs the hybrid retrieval pipeline: dense + sparse candidates,
// reciprocal-rank fusion, multi-hop decay-weighted graph expansion, and
// final ranking.
type Engine struct {
	store    *store.Store
	vectors  *store.VectorStore
	embedder embed.Embedder
	cfg      config.RetrievalConfig
	decayCfg config.DecayConfig
	log      logging.Logger
}

// NewEngine builds a retrieval Engine.
func NewEngine(s *store.Store, vs *store.VectorStore, embedder embed.Embedder, cfg config.RetrievalConfig, decayCfg config.DecayConfig, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Engine{store: s, vectors: vs, embedder: embedder, cfg: cfg, decayCfg: decayCfg, log: log.WithComponent("retrieval")}
}

// Search runs the full pipeline for query, optionally restricted to the
// given project slugs, and returns the top k hits.
func (e *Engine) Search(ctx context.Context, query string, k int, projects []string, now time.Time) *Response {
	if k <= 0 {
		k = e.cfg.K
	}
	degraded := false

	var sessionIDs []string
	if len(projects) > 0 {
		ids, err := e.store.GetSessionIDsForProjects(ctx, projects)
		if err != nil {
			e.log.Warn("project filter lookup failed, searching all projects", "error", err.Error())
			degraded = true
		} else {
			sessionIDs = ids
			if len(sessionIDs) == 0 {
				return &Response{Hits: nil, Degraded: degraded}
			}
		}
	}

	dense := e.denseCandidates(ctx, query, sessionIDs, &degraded)
	sparse := e.sparseCandidates(ctx, query, sessionIDs, &degraded)

	seeds := Fuse(dense, sparse, e.cfg.RRFConstant)
	if len(seeds) == 0 {
		return &Response{Hits: nil, Degraded: degraded}
	}

	expanded, err := e.expand(ctx, seeds, now)
	if err != nil {
		e.log.Warn("graph expansion failed, returning seeds only", "error", err.Error())
		degraded = true
		expanded = nil
	}

	hits := rank(seeds, expanded, k)
	return &Response{Hits: hits, Degraded: degraded}
}

func (e *Engine) denseCandidates(ctx context.Context, query string, sessionIDs []string, degraded *bool) []Candidate {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.log.Warn("query embedding failed, skipping dense candidates", "error", err.Error())
		*degraded = true
		return nil
	}

	var hits []store.VectorHit
	if len(sessionIDs) > 0 {
		hits = e.vectors.SearchSessions(vec, sessionIDs, e.cfg.VectorCandidates)
	} else {
		hits = e.vectors.Search(vec, e.cfg.VectorCandidates)
	}

	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{ChunkID: h.ChunkID, Score: 1 - h.Distance}
	}
	return out
}

func (e *Engine) sparseCandidates(ctx context.Context, query string, sessionIDs []string, degraded *bool) []Candidate {
	var hits []store.KeywordHit
	var err error
	if len(sessionIDs) > 0 {
		hits, err = e.store.SearchKeywordInSessions(ctx, query, sessionIDs, e.cfg.KeywordCandidates)
	} else {
		hits, err = e.store.SearchKeyword(ctx, query, e.cfg.KeywordCandidates)
	}
	if err != nil {
		e.log.Warn("keyword search failed, skipping sparse candidates", "error", err.Error())
		*degraded = true
		return nil
	}

	scores := make([]float64, len(hits))
	for i, h := range hits {
		scores[i] = h.Score
	}
	normalized := normalizeMinMax(scores)

	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{ChunkID: h.ChunkID, Score: normalized[i]}
	}
	return out
}

// expand performs the spec's graph-expansion stage: a best-first,
// decay-weighted traversal outward from the fusion seeds in both edge
// directions (up to retrieval.maxHops, pruned below
// retrieval.minExpansionWeight), propagating
// s_expand(target) = s_f(seed) * (product of edge weights along the
// best path) * alpha, merged by max across directions and paths.
func (e *Engine) expand(ctx context.Context, seeds []Seed, now time.Time) (map[string]float64, error) {
	out := make(map[string]float64)
	alpha := e.cfg.ExpansionAlpha

	seedWeights := make([]edge.SeedWeight, len(seeds))
	for i, s := range seeds {
		seedWeights[i] = edge.SeedWeight{ChunkID: s.ChunkID, Weight: s.Score}
	}

	for _, dir := range []types.EdgeDirection{types.DirectionForward, types.DirectionBackward} {
		expanded, err := edge.Expand(ctx, e.store, seedWeights, now, e.decayCfg, dir, e.cfg.MaxHops, e.cfg.MinExpansionWeight)
		if err != nil {
			return out, err
		}
		for _, ex := range expanded {
			score := ex.Weight * alpha
			if cur, ok := out[ex.ChunkID]; !ok || score > cur {
				out[ex.ChunkID] = score
			}
		}
	}
	return out, nil
}

// rank merges fusion seeds and graph-discovered chunks into the final
// ordered hit list: no duplicates, seeds are never demoted below a
// same-scored discovered chunk, deterministic for equal inputs.
func rank(seeds []Seed, expanded map[string]float64, k int) []Hit {
	seedScore := make(map[string]float64, len(seeds))
	for _, s := range seeds {
		seedScore[s.ChunkID] = s.Score
	}

	hits := make([]Hit, 0, len(seeds)+len(expanded))
	for _, s := range seeds {
		hits = append(hits, Hit{ChunkID: s.ChunkID, Score: s.Score, Seed: true})
	}
	for id, score := range expanded {
		if _, isSeed := seedScore[id]; isSeed {
			continue
		}
		hits = append(hits, Hit{ChunkID: id, Score: score, Seed: false})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Seed != hits[j].Seed {
			return hits[i].Seed // seeds rank before discovered chunks on a tie
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
