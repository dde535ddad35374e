// Package cluster implements the HDBSCAN clustering core: core distances
// under mutual reachability, a minimum spanning tree via Prim's algorithm,
// a single-linkage hierarchy condensed with a minimum cluster size, and
// Eom-style stability selection to pick the final disjoint cluster set.
package cluster

import (
	"math"
	"sort"
)

// Metric computes the distance between two equal-length vectors.
type Metric func(a, b []float32) float64

// Euclidean is the L2 distance metric.
func Euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Angular is 1 minus cosine similarity, the metric used when embeddings
// are unit-normalised (the usual case in this engine).
func Angular(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot > 1 {
		dot = 1
	}
	if dot < -1 {
		dot = -1
	}
	return 1 - dot
}

// MetricFor resolves a configured metric name, defaulting to Angular for
// any unrecognised name (config.Validate already rejects those earlier).
func MetricFor(name string) Metric {
	if name == "euclidean" {
		return Euclidean
	}
	return Angular
}

// coreDistances returns, for every point, its distance to its k-th
// nearest neighbour (k = minClusterSize), the radius HDBSCAN treats as
// "how sparse is the neighbourhood around this point".
func coreDistances(points [][]float32, k int, metric Metric) []float64 {
	n := len(points)
	core := make([]float64, n)
	for i := 0; i < n; i++ {
		dists := make([]float64, 0, n-1)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			dists = append(dists, metric(points[i], points[j]))
		}
		sort.Float64s(dists)
		idx := k - 1
		if idx >= len(dists) {
			idx = len(dists) - 1
		}
		if idx < 0 {
			core[i] = 0
		} else {
			core[i] = dists[idx]
		}
	}
	return core
}

// mutualReachability returns MRD(a,b) = max(core(a), core(b), d(a,b)).
func mutualReachability(core []float64, d float64, i, j int) float64 {
	m := d
	if core[i] > m {
		m = core[i]
	}
	if core[j] > m {
		m = core[j]
	}
	return m
}
