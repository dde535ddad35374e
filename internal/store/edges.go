package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"ecm/internal/config"
	"ecm/internal/decay"
	"ecm/internal/errs"
	"ecm/pkg/types"
)

// InsertEdgePair writes both halves of a symmetric edge in one write
// transaction, enforcing the edge-symmetry invariant at the store
// boundary: callers can never persist one half without the other.
func InsertEdgePair(ctx context.Context, w *WriteTx, forward, backward *types.Edge) error {
	if err := forward.Validate(); err != nil {
		return errs.InputError("invalid forward edge: %v", err)
	}
	if err := backward.Validate(); err != nil {
		return errs.InputError("invalid backward edge: %v", err)
	}
	if forward.SourceChunkID != backward.TargetChunkID || forward.TargetChunkID != backward.SourceChunkID {
		return errs.InputError("edge pair endpoints do not mirror each other")
	}
	for _, e := range []*types.Edge{forward, backward} {
		_, err := w.ExecContext(ctx, `
			INSERT OR IGNORE INTO edges
				(id, source_chunk_id, target_chunk_id, direction, type, base_weight, created_at, vector_clock_delta)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.SourceChunkID, e.TargetChunkID, string(e.Direction), string(e.Type),
			e.BaseWeight, e.CreatedAt, e.VectorClockDelta,
		)
		if err != nil {
			return errs.StorageError(err, "inserting edge %s", e.ID)
		}
	}
	return nil
}

// GetOutgoingEdges returns every edge whose source is chunkID, in the given
// direction, without applying decay.
func GetOutgoingEdges(ctx context.Context, q queryer, chunkID string, direction types.EdgeDirection) ([]*types.Edge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, source_chunk_id, target_chunk_id, direction, type, base_weight, created_at, vector_clock_delta
		FROM edges WHERE source_chunk_id = ? AND direction = ?`, chunkID, string(direction))
	if err != nil {
		return nil, errs.StorageError(err, "listing outgoing edges for %s", chunkID)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]*types.Edge, error) {
	var edges []*types.Edge
	for rows.Next() {
		var (
			e         types.Edge
			direction string
			edgeType  string
			hop       sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.SourceChunkID, &e.TargetChunkID, &direction, &edgeType,
			&e.BaseWeight, &e.CreatedAt, &hop); err != nil {
			return nil, errs.StorageError(err, "scanning edge")
		}
		e.Direction = types.EdgeDirection(direction)
		e.Type = types.EdgeType(edgeType)
		if hop.Valid {
			v := int(hop.Int64)
			e.VectorClockDelta = &v
		}
		edges = append(edges, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.StorageError(err, "iterating edges")
	}
	return edges, nil
}

// WeightedEdge pairs a stored edge with its current decay-adjusted weight.
type WeightedEdge struct {
	Edge   *types.Edge
	Weight float64
}

// GetWeightedEdges returns the outgoing edges from chunkID with dead edges
// (weight below shape's configured floor) filtered out, sorted by
// descending weight. Age is measured in whole days since the edge was
// created, the unit the decay shapes' "step" axis maps onto for edges.
func GetWeightedEdges(ctx context.Context, q queryer, chunkID string, direction types.EdgeDirection, now time.Time, cfg config.DecayConfig) ([]WeightedEdge, error) {
	shape, err := decay.NewShape(cfg)
	if err != nil {
		return nil, err
	}

	edges, err := GetOutgoingEdges(ctx, q, chunkID, direction)
	if err != nil {
		return nil, err
	}

	minWeight := cfg.MinWeight
	weighted := make([]WeightedEdge, 0, len(edges))
	for _, e := range edges {
		ageDays := now.Sub(e.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		w := e.BaseWeight * shape.Weight(ageDays)
		if w < minWeight {
			continue
		}
		weighted = append(weighted, WeightedEdge{Edge: e, Weight: w})
	}
	sort.Slice(weighted, func(i, j int) bool { return weighted[i].Weight > weighted[j].Weight })
	return weighted, nil
}

// GetWeightedEdges is the *Store-bound convenience form of the package
// function, reading against the shared connection pool — the shape
// internal/edge's graph expansion depends on.
func (s *Store) GetWeightedEdges(ctx context.Context, chunkID string, direction types.EdgeDirection, now time.Time, cfg config.DecayConfig) ([]WeightedEdge, error) {
	return GetWeightedEdges(ctx, s.db, chunkID, direction, now, cfg)
}

// GetEdgeCount returns the total number of stored edge rows (both halves
// of every pair counted).
func GetEdgeCount(ctx context.Context, q queryer) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&n); err != nil {
		return 0, errs.StorageError(err, "counting edges")
	}
	return n, nil
}

// AllEdges returns every stored edge row, both halves of every pair —
// the complete edge set an archive export serializes to edges.jsonl.
func AllEdges(ctx context.Context, q queryer) ([]*types.Edge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, source_chunk_id, target_chunk_id, direction, type, base_weight, created_at, vector_clock_delta
		FROM edges`)
	if err != nil {
		return nil, errs.StorageError(err, "listing all edges")
	}
	defer rows.Close()
	return scanEdges(rows)
}

// AllEdges is the *Store-bound convenience form of the package function.
func (s *Store) AllEdges(ctx context.Context) ([]*types.Edge, error) {
	return AllEdges(ctx, s.db)
}

// InsertEdgeRaw writes a single edge row exactly as given — id, both
// endpoints, direction, weight and original timestamp preserved. Unlike
// InsertEdgePair it does not reconstruct or validate a mirror half,
// since archive import replays an edge set where both halves of every
// pair are already present as independent rows.
func InsertEdgeRaw(ctx context.Context, w *WriteTx, e *types.Edge) error {
	if err := e.Validate(); err != nil {
		return errs.InputError("invalid edge: %v", err)
	}
	_, err := w.ExecContext(ctx, `
		INSERT OR IGNORE INTO edges
			(id, source_chunk_id, target_chunk_id, direction, type, base_weight, created_at, vector_clock_delta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SourceChunkID, e.TargetChunkID, string(e.Direction), string(e.Type),
		e.BaseWeight, e.CreatedAt, e.VectorClockDelta,
	)
	if err != nil {
		return errs.StorageError(err, "inserting edge %s", e.ID)
	}
	return nil
}
