package cluster

// indexedHeap is a binary min-heap over vertex keys, indexed so a vertex's
// key can be decreased in place without a linear scan. This is the
// classic structure behind an O(E log V) Prim's algorithm.
type indexedHeap struct {
	heap []int       // heap[pos] = vertex id
	pos  []int       // pos[vertex] = its position in heap, -1 if absent
	key  []float64   // key[vertex] = current best known weight
}

func newIndexedHeap(n int) *indexedHeap {
	h := &indexedHeap{
		heap: make([]int, 0, n),
		pos:  make([]int, n),
		key:  make([]float64, n),
	}
	for i := range h.pos {
		h.pos[i] = -1
	}
	return h
}

func (h *indexedHeap) len() int { return len(h.heap) }

// insert adds vertex v with the given key. v must not already be present.
func (h *indexedHeap) insert(v int, k float64) {
	h.key[v] = k
	h.heap = append(h.heap, v)
	h.pos[v] = len(h.heap) - 1
	h.siftUp(h.pos[v])
}

// contains reports whether v is currently in the heap.
func (h *indexedHeap) contains(v int) bool {
	return h.pos[v] >= 0
}

// getKey returns v's current key.
func (h *indexedHeap) getKey(v int) float64 {
	return h.key[v]
}

// decreaseKey lowers v's key, if newKey is smaller than its current one.
func (h *indexedHeap) decreaseKey(v int, newKey float64) {
	if newKey >= h.key[v] {
		return
	}
	h.key[v] = newKey
	h.siftUp(h.pos[v])
}

// extractMin removes and returns the vertex with the smallest key.
func (h *indexedHeap) extractMin() int {
	root := h.heap[0]
	last := len(h.heap) - 1
	h.swap(0, last)
	h.heap = h.heap[:last]
	h.pos[root] = -1
	if len(h.heap) > 0 {
		h.siftDown(0)
	}
	return root
}

func (h *indexedHeap) swap(i, j int) {
	h.heap[i], h.heap[j] = h.heap[j], h.heap[i]
	h.pos[h.heap[i]] = i
	h.pos[h.heap[j]] = j
}

func (h *indexedHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.key[h.heap[parent]] <= h.key[h.heap[i]] {
			break
		}
		h.swap(parent, i)
		i = parent
	}
}

func (h *indexedHeap) siftDown(i int) {
	n := len(h.heap)
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && h.key[h.heap[left]] < h.key[h.heap[smallest]] {
			smallest = left
		}
		if right < n && h.key[h.heap[right]] < h.key[h.heap[smallest]] {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.swap(i, smallest)
		i = smallest
	}
}
