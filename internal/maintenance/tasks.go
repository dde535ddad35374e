// Package maintenance runs the engine's background upkeep tasks: pruning
// expired vectors, vacuuming the SQLite file, recomputing cluster
// centroids, and scanning for orphaned chunks/vectors.
package maintenance

import (
	"context"
	"time"

	"ecm/internal/cluster"
	"ecm/internal/config"
	"ecm/internal/logging"
	"ecm/internal/store"
)

// TaskResult reports the outcome of a single maintenance task.
type TaskResult struct {
	Name     string                 `json:"name"`
	Success  bool                   `json:"success"`
	Duration time.Duration          `json:"duration"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// Runner executes maintenance tasks against a store.
type Runner struct {
	store  *store.Store
	vector *store.VectorStore
	cfg    config.MaintenanceConfig
	clCfg  config.ClusteringConfig
	log    logging.Logger
}

// NewRunner builds a maintenance Runner.
func NewRunner(s *store.Store, vs *store.VectorStore, cfg config.MaintenanceConfig, clCfg config.ClusteringConfig, log logging.Logger) *Runner {
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Runner{store: s, vector: vs, cfg: cfg, clCfg: clCfg, log: log.WithComponent("maintenance")}
}

// RunAll executes every task in order, continuing past individual
// failures so one broken task doesn't block the rest.
func (r *Runner) RunAll(ctx context.Context) []TaskResult {
	tasks := []func(context.Context) TaskResult{
		r.CleanupVectors,
		r.Vacuum,
		r.UpdateClusters,
		r.ScanOrphans,
	}
	results := make([]TaskResult, 0, len(tasks))
	for _, task := range tasks {
		res := task(ctx)
		if res.Success {
			r.log.Info("maintenance task succeeded", "task", res.Name, "duration", res.Duration.String())
		} else {
			r.log.Warn("maintenance task failed", "task", res.Name, "message", res.Message)
		}
		results = append(results, res)
	}
	return results
}

// CleanupVectors removes embeddings older than the configured TTL and
// trims the store back to the configured maximum count.
func (r *Runner) CleanupVectors(_ context.Context) TaskResult {
	start := time.Now()
	expired, err := r.vector.CleanupExpired(r.cfg.VectorTTLDays)
	if err != nil {
		return TaskResult{Name: "cleanup_vectors", Success: false, Duration: time.Since(start), Message: err.Error()}
	}
	evicted, err := r.vector.EvictOldest(r.cfg.VectorMaxCount)
	if err != nil {
		return TaskResult{Name: "cleanup_vectors", Success: false, Duration: time.Since(start), Message: err.Error()}
	}
	return TaskResult{
		Name: "cleanup_vectors", Success: true, Duration: time.Since(start),
		Message: "vector cleanup complete",
		Details: map[string]interface{}{"expired_removed": expired, "evicted_for_capacity": evicted},
	}
}

// Vacuum reclaims disk space in the SQLite file.
func (r *Runner) Vacuum(ctx context.Context) TaskResult {
	start := time.Now()
	if err := r.store.Vacuum(ctx); err != nil {
		return TaskResult{Name: "vacuum", Success: false, Duration: time.Since(start), Message: err.Error()}
	}
	return TaskResult{Name: "vacuum", Success: true, Duration: time.Since(start), Message: "vacuum complete"}
}

// UpdateClusters re-runs HDBSCAN over every chunk with a stored embedding
// and replaces the cluster assignments atomically.
func (r *Runner) UpdateClusters(ctx context.Context) TaskResult {
	start := time.Now()

	chunkIDs, points := r.vector.All()
	if len(points) < r.clCfg.MinClusterSize {
		return TaskResult{
			Name: "update_clusters", Success: true, Duration: time.Since(start),
			Message: "not enough embedded chunks to cluster",
			Details: map[string]interface{}{"chunk_count": len(points)},
		}
	}

	result, err := cluster.Run(points, r.clCfg)
	if err != nil {
		return TaskResult{Name: "update_clusters", Success: false, Duration: time.Since(start), Message: err.Error()}
	}
	clusters, assignments := cluster.Materialize(result, chunkIDs, points)

	w, err := r.store.BeginWrite(ctx)
	if err != nil {
		return TaskResult{Name: "update_clusters", Success: false, Duration: time.Since(start), Message: err.Error()}
	}
	defer w.Rollback(ctx)

	if err := store.ReplaceClusters(ctx, w, clusters, assignments); err != nil {
		return TaskResult{Name: "update_clusters", Success: false, Duration: time.Since(start), Message: err.Error()}
	}
	if err := w.Commit(ctx); err != nil {
		return TaskResult{Name: "update_clusters", Success: false, Duration: time.Since(start), Message: err.Error()}
	}

	return TaskResult{
		Name: "update_clusters", Success: true, Duration: time.Since(start),
		Message: "reclustered",
		Details: map[string]interface{}{"cluster_count": len(clusters), "noise_count": len(points) - len(assignments)},
	}
}

// ScanOrphans finds vectors whose chunk no longer exists in the
// relational store, and chunks that have no embedding — both integrity
// violations that a maintenance run reports rather than auto-repairs, so
// an operator can decide whether to re-ingest or re-embed.
func (r *Runner) ScanOrphans(ctx context.Context) TaskResult {
	start := time.Now()

	chunkIDs, err := r.store.AllChunkIDs(ctx)
	if err != nil {
		return TaskResult{Name: "scan_orphans", Success: false, Duration: time.Since(start), Message: err.Error()}
	}
	chunkSet := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		chunkSet[id] = true
	}

	vectorIDs, _ := r.vector.All()
	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
	}

	orphanVectors, orphanChunks := 0, 0
	for id := range vectorSet {
		if !chunkSet[id] {
			orphanVectors++
		}
	}
	for id := range chunkSet {
		if !vectorSet[id] {
			orphanChunks++
		}
	}

	return TaskResult{
		Name: "scan_orphans", Success: true, Duration: time.Since(start),
		Message: "orphan scan complete",
		Details: map[string]interface{}{
			"chunks_total":         len(chunkIDs),
			"vectors_total":        len(vectorIDs),
			"orphan_vectors":       orphanVectors,
			"unembedded_chunks":    orphanChunks,
		},
	}
}
