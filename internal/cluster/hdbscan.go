package cluster

import (
	"math"
	"sort"

	"ecm/internal/config"
)

// Result is the outcome of a single HDBSCAN pass: a label per input point
// (index into Clusters, or -1 for noise) plus the selected clusters
// themselves with their stability-weighted member sets.
type Result struct {
	Labels   []int
	Clusters []ResultCluster
}

// ResultCluster is one cluster surviving Eom selection.
type ResultCluster struct {
	LambdaBirth float64
	LambdaDeath float64
	Members     []int // indices into the original points slice, ascending
}

type mstEdge struct {
	u, v   int
	weight float64
}

// Run clusters points with HDBSCAN: core distances under the given metric,
// mutual-reachability MST via Prim, a single-linkage hierarchy condensed
// at minClusterSize, and Eom stability selection of the final clusters.
func Run(points [][]float32, cfg config.ClusteringConfig) (*Result, error) {
	n := len(points)
	if n == 0 {
		return &Result{Labels: nil, Clusters: nil}, nil
	}
	minClusterSize := cfg.MinClusterSize
	if minClusterSize < 2 {
		minClusterSize = 2
	}
	metric := MetricFor(cfg.Metric)

	core := coreDistances(points, minClusterSize, metric)
	edges := primMST(points, core, metric)

	// Sort ascending by weight (already near-sorted by construction order
	// of Prim but relax order is not guaranteed globally, so sort
	// explicitly to guarantee a valid single-linkage processing order).
	// Ties break on ascending (u, v) for determinism.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].weight != edges[j].weight {
			return edges[i].weight < edges[j].weight
		}
		if edges[i].u != edges[j].u {
			return edges[i].u < edges[j].u
		}
		return edges[i].v < edges[j].v
	})

	return condense(n, edges, minClusterSize), nil
}

// primMST builds the minimum spanning tree of the complete mutual-
// reachability graph over n points, using an indexed binary min-heap so
// each of the n-1 relax rounds is O(n) instead of O(n^2) overall being
// dominated by core-distance computation anyway at this data scale.
func primMST(points [][]float32, core []float64, metric Metric) []mstEdge {
	n := len(points)
	if n < 2 {
		return nil
	}

	inTree := make([]bool, n)
	parentEdgeWeight := make([]float64, n)
	parentVertex := make([]int, n)
	for i := range parentVertex {
		parentVertex[i] = -1
	}

	h := newIndexedHeap(n)
	for v := 0; v < n; v++ {
		k := math.Inf(1)
		if v == 0 {
			k = 0
		}
		h.insert(v, k)
	}

	edges := make([]mstEdge, 0, n-1)
	for h.len() > 0 {
		u := h.extractMin()
		inTree[u] = true
		if parentVertex[u] != -1 {
			edges = append(edges, mstEdge{u: parentVertex[u], v: u, weight: parentEdgeWeight[u]})
		}
		for v := 0; v < n; v++ {
			if inTree[v] || v == u {
				continue
			}
			w := mutualReachability(core, metric(points[u], points[v]), u, v)
			if h.contains(v) && w < h.getKey(v) {
				h.decreaseKey(v, w)
				parentVertex[v] = u
				parentEdgeWeight[v] = w
			}
		}
	}
	return edges
}

func lambdaOf(weight float64) float64 {
	if weight <= 1e-12 {
		return math.MaxFloat64 / 2
	}
	return 1 / weight
}

// clusterNode is one node in the (much smaller) tree of named clusters,
// distinct from the point-level single-linkage hierarchy.
type clusterNode struct {
	birth, death float64
	lastEvent    float64 // lambda of the most recent fallout/split applied to this cluster
	parent       int     // -1 for a top-level cluster
	children     []int
	stability    float64
	members      map[int]bool
}

// condense walks the single-linkage hierarchy top-down (equivalently,
// processes MST edges bottom-up in ascending weight order while tracking
// each component's size) and produces the set of candidate clusters with
// their stability, then runs Eom selection and labels every point.
func condense(n int, edges []mstEdge, minClusterSize int) *Result {
	uf := newUnionFind(n)

	// repr[root] is the id of the "current" node representing that
	// component: either a point index (singleton) or a synthetic internal
	// merge id (n + merge index).
	repr := make([]int, n)
	for i := range repr {
		repr[i] = i
	}
	size := make(map[int]int, 2*n)
	for i := 0; i < n; i++ {
		size[i] = 1
	}
	childrenOf := make(map[int][2]int, n)
	weightOf := make(map[int]float64, n)

	nextInternal := n
	for _, e := range edges {
		ru, rv := uf.find(e.u), uf.find(e.v)
		left, right := repr[ru], repr[rv]
		node := nextInternal
		nextInternal++
		childrenOf[node] = [2]int{left, right}
		weightOf[node] = e.weight
		size[node] = size[left] + size[right]

		newRoot, _, _, _, _ := uf.union(e.u, e.v)
		repr[newRoot] = node
	}

	clusters := make(map[int]*clusterNode)
	nextClusterID := 0
	leafOwner := make([]int, n)
	for i := range leafOwner {
		leafOwner[i] = -1
	}

	newCluster := func(birth float64, parent int) int {
		id := nextClusterID
		nextClusterID++
		clusters[id] = &clusterNode{birth: birth, lastEvent: birth, parent: parent, members: make(map[int]bool)}
		if parent != -1 {
			clusters[parent].children = append(clusters[parent].children, id)
		}
		return id
	}

	fallOut := func(leaves []int, owner int, lambda float64) {
		for _, leaf := range leaves {
			leafOwner[leaf] = owner
			if owner != -1 {
				c := clusters[owner]
				c.members[leaf] = true
				c.stability += lambda - c.birth
				c.lastEvent = lambda
			}
		}
	}

	var collectLeaves func(node int) []int
	collectLeaves = func(node int) []int {
		if node < n {
			return []int{node}
		}
		ch := childrenOf[node]
		left := collectLeaves(ch[0])
		right := collectLeaves(ch[1])
		return append(left, right...)
	}

	type frame struct {
		node          int
		parentCluster int
		parentBirth   float64
	}

	var stack []frame
	if len(edges) > 0 {
		root := repr[uf.find(0)]
		stack = append(stack, frame{node: root, parentCluster: -1, parentBirth: 0})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.node < n {
			// A lone surviving point that never triggered its own fallout
			// event: it dies alongside the rest of its cluster's last
			// recorded event, never having separated from it.
			if f.parentCluster != -1 {
				fallOut([]int{f.node}, f.parentCluster, clusters[f.parentCluster].lastEvent)
			}
			continue
		}

		ch := childrenOf[f.node]
		left, right := ch[0], ch[1]
		leftSize, rightSize := size[left], size[right]
		lambda := lambdaOf(weightOf[f.node])

		switch {
		case leftSize >= minClusterSize && rightSize >= minClusterSize:
			lc := newCluster(lambda, f.parentCluster)
			rc := newCluster(lambda, f.parentCluster)
			if f.parentCluster != -1 {
				clusters[f.parentCluster].death = lambda
			}
			stack = append(stack, frame{node: left, parentCluster: lc, parentBirth: lambda})
			stack = append(stack, frame{node: right, parentCluster: rc, parentBirth: lambda})

		case leftSize < minClusterSize && rightSize < minClusterSize:
			stack = append(stack, frame{node: left, parentCluster: f.parentCluster, parentBirth: f.parentBirth})
			stack = append(stack, frame{node: right, parentCluster: f.parentCluster, parentBirth: f.parentBirth})

		default:
			bigChild, smallChild := left, right
			if rightSize >= minClusterSize {
				bigChild, smallChild = right, left
			}
			if f.parentCluster == -1 {
				nc := newCluster(lambda, -1)
				fallOut(collectLeaves(smallChild), -1, lambda) // noise, no prior cluster to belong to
				stack = append(stack, frame{node: bigChild, parentCluster: nc, parentBirth: lambda})
			} else {
				fallOut(collectLeaves(smallChild), f.parentCluster, lambda)
				stack = append(stack, frame{node: bigChild, parentCluster: f.parentCluster, parentBirth: f.parentBirth})
			}
		}
	}

	if n == 1 {
		return &Result{Labels: []int{-1}, Clusters: nil}
	}

	selected := eomSelect(clusters)

	labels := make([]int, n)
	finalClusters := make([]ResultCluster, 0)
	idRemap := make(map[int]int)
	for i := 0; i < n; i++ {
		owner := leafOwner[i]
		anc := nearestSelectedAncestor(clusters, selected, owner)
		if anc == -1 {
			labels[i] = -1
			continue
		}
		idx, ok := idRemap[anc]
		if !ok {
			idx = len(finalClusters)
			idRemap[anc] = idx
			c := clusters[anc]
			death := c.death
			if death == 0 {
				death = c.lastEvent
			}
			finalClusters = append(finalClusters, ResultCluster{LambdaBirth: c.birth, LambdaDeath: death})
		}
		labels[i] = idx
		finalClusters[idx].Members = append(finalClusters[idx].Members, i)
	}

	for i := range finalClusters {
		sort.Ints(finalClusters[i].Members)
	}

	return &Result{Labels: labels, Clusters: finalClusters}
}

// eomSelect runs Excess-of-Mass selection over the cluster tree: a
// cluster is kept if its own stability is at least the sum of its
// (recursively selected) children's stability, otherwise its children's
// selections stand in its place.
func eomSelect(clusters map[int]*clusterNode) map[int]bool {
	selected := make(map[int]bool, len(clusters))
	stabilityOf := make(map[int]float64, len(clusters))

	var visit func(id int) float64
	visit = func(id int) float64 {
		c := clusters[id]
		if len(c.children) == 0 {
			selected[id] = true
			stabilityOf[id] = c.stability
			return c.stability
		}
		childTotal := 0.0
		for _, ch := range c.children {
			childTotal += visit(ch)
		}
		if c.stability >= childTotal {
			selected[id] = true
			stabilityOf[id] = c.stability
			unselectDescendants(clusters, selected, c.children)
		} else {
			selected[id] = false
			stabilityOf[id] = childTotal
		}
		return stabilityOf[id]
	}

	// Top-level clusters (parent == -1) are the roots of independent trees.
	for id, c := range clusters {
		if c.parent == -1 {
			visit(id)
		}
	}
	return selected
}

func unselectDescendants(clusters map[int]*clusterNode, selected map[int]bool, ids []int) {
	for _, id := range ids {
		selected[id] = false
		unselectDescendants(clusters, selected, clusters[id].children)
	}
}

// nearestSelectedAncestor walks from owner up through parent links to the
// nearest (innermost) selected cluster, or -1 if none is selected (noise).
func nearestSelectedAncestor(clusters map[int]*clusterNode, selected map[int]bool, owner int) int {
	for owner != -1 {
		if selected[owner] {
			return owner
		}
		owner = clusters[owner].parent
	}
	return -1
}
