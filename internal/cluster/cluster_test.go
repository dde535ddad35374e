package cluster

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"ecm/internal/config"
)

func unitVector(seed int64, dims int) []float32 {
	r := rand.New(rand.NewSource(seed))
	v := make([]float32, dims)
	var norm float64
	for i := range v {
		x := r.Float64()*2 - 1
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// kruskalMST is a brute-force reference MST builder used only to check
// primMST's output weight against an independent algorithm.
func kruskalMST(points [][]float32, core []float64, metric Metric) ([]mstEdge, float64) {
	n := len(points)
	type cand struct {
		u, v   int
		weight float64
	}
	var all []cand
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			all = append(all, cand{i, j, mutualReachability(core, metric(points[i], points[j]), i, j)})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].weight < all[j].weight })

	uf := newUnionFind(n)
	var total float64
	var edges []mstEdge
	for _, c := range all {
		if uf.find(c.u) != uf.find(c.v) {
			uf.union(c.u, c.v)
			edges = append(edges, mstEdge{u: c.u, v: c.v, weight: c.weight})
			total += c.weight
		}
	}
	return edges, total
}

func TestPrimMSTMatchesKruskalWeight(t *testing.T) {
	points := make([][]float32, 12)
	for i := range points {
		points[i] = unitVector(int64(i+1), 8)
	}
	metric := Angular
	core := coreDistances(points, 3, metric)

	primEdges := primMST(points, core, metric)
	if len(primEdges) != len(points)-1 {
		t.Fatalf("expected %d MST edges, got %d", len(points)-1, len(primEdges))
	}
	var primTotal float64
	for _, e := range primEdges {
		primTotal += e.weight
	}

	_, kruskalTotal := kruskalMST(points, core, metric)

	if math.Abs(primTotal-kruskalTotal) > 1e-9 {
		t.Errorf("prim MST weight %v does not match kruskal MST weight %v", primTotal, kruskalTotal)
	}

	// Connectivity check: union-find over prim's edges reaches a single root.
	uf := newUnionFind(len(points))
	for _, e := range primEdges {
		uf.union(e.u, e.v)
	}
	root := uf.find(0)
	for i := 1; i < len(points); i++ {
		if uf.find(i) != root {
			t.Errorf("prim MST is not connected: point %d is in a different component", i)
		}
	}
}

func TestRunProducesDisjointClusters(t *testing.T) {
	points := make([][]float32, 30)
	for i := range points {
		points[i] = unitVector(int64(100+i), 6)
	}
	cfg := config.ClusteringConfig{MinClusterSize: 4, Metric: "angular"}

	result, err := Run(points, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	seen := make(map[int]bool)
	noise := 0
	for _, label := range result.Labels {
		if label == -1 {
			noise++
			continue
		}
		seen[label] = true
	}

	total := noise
	for _, c := range result.Clusters {
		total += len(c.Members)
		members := make(map[int]bool)
		for _, m := range c.Members {
			if members[m] {
				t.Fatalf("cluster has duplicate member %d", m)
			}
			members[m] = true
		}
		if c.LambdaDeath < c.LambdaBirth {
			t.Errorf("cluster has death lambda %v before birth lambda %v", c.LambdaDeath, c.LambdaBirth)
		}
	}
	if total != len(points) {
		t.Errorf("expected every point accounted for exactly once (clusters + noise == %d), got %d", len(points), total)
	}
}

func TestRunFiveRandomVectorsNeverSplitsIntoTwoClusters(t *testing.T) {
	points := make([][]float32, 5)
	for i := range points {
		points[i] = unitVector(int64(7+i), 10)
	}
	cfg := config.ClusteringConfig{MinClusterSize: 4, Metric: "angular"}

	result, err := Run(points, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Clusters) > 1 {
		t.Errorf("expected at most one cluster from 5 points with minClusterSize=4, got %d", len(result.Clusters))
	}
}
