package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"ecm/pkg/types"
)

// Materialize converts a Run result into persistable clusters and a
// chunk-id-to-cluster-id assignment map, skipping noise-labelled points.
// Cluster ids are content-addressed over their sorted member chunk ids so
// re-running HDBSCAN over unchanged data is idempotent.
func Materialize(result *Result, chunkIDs []string, points [][]float32) ([]*types.Cluster, map[string]string) {
	now := time.Now().UTC()
	clusters := make([]*types.Cluster, 0, len(result.Clusters))
	assignments := make(map[string]string)

	for _, rc := range result.Clusters {
		members := make([]string, len(rc.Members))
		for i, idx := range rc.Members {
			members[i] = chunkIDs[idx]
		}
		sort.Strings(members)

		id := clusterID(members)
		centroid := meanCentroid(rc.Members, points)

		clusters = append(clusters, &types.Cluster{
			ID:          id,
			Centroid:    centroid,
			Size:        len(members),
			LambdaBirth: rc.LambdaBirth,
			LambdaDeath: rc.LambdaDeath,
			UpdatedAt:   now,
		})
		for _, chunkID := range members {
			assignments[chunkID] = id
		}
	}
	return clusters, assignments
}

func clusterID(sortedMembers []string) string {
	h := sha256.New()
	for _, m := range sortedMembers {
		h.Write([]byte(m))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func meanCentroid(members []int, points [][]float32) []float32 {
	if len(members) == 0 {
		return nil
	}
	dims := len(points[members[0]])
	sum := make([]float64, dims)
	for _, idx := range members {
		for d := 0; d < dims; d++ {
			sum[d] += float64(points[idx][d])
		}
	}
	var norm float64
	for d := 0; d < dims; d++ {
		sum[d] /= float64(len(members))
		norm += sum[d] * sum[d]
	}
	norm = math.Sqrt(norm)
	centroid := make([]float32, dims)
	if norm == 0 {
		return centroid
	}
	for d := 0; d < dims; d++ {
		centroid[d] = float32(sum[d] / norm)
	}
	return centroid
}
