package vecstore

import (
	"cmp"
	"container/heap"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
)

// HNSWConfig configures a new [HNSW] index.
type HNSWConfig struct {
	// Dim is the vector dimension. Required.
	Dim int

	// M is the maximum number of links per node on layers above 0. Layer 0
	// allows 2*M. Default: 16.
	M int

	// EfConstruction is the candidate list size while building. Default: 200.
	EfConstruction int

	// EfSearch is the candidate list size while searching. Default: 64.
	EfSearch int

	// Seed drives level assignment. Two indexes with the same seed and the
	// same insert order build the same graph.
	Seed uint64
}

func (c *HNSWConfig) setDefaults() {
	if c.M < 2 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 64
	}
}

func (c *HNSWConfig) maxConns(layer int) int {
	if layer == 0 {
		return c.M * 2
	}
	return c.M
}

type distItem struct {
	id   uint32
	dist float32
}

// less orders by distance, then by insertion order.
func (a distItem) less(b distItem) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.id < b.id
}

type minHeap []distItem

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *minHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

type maxHeap []distItem

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[j].less(h[i]) }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *maxHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

type hnswNode struct {
	id      string
	vector  []float32
	friends [][]uint32 // friends[layer]
}

// HNSW is a Hierarchical Navigable Small World graph index.
type HNSW struct {
	mu       sync.RWMutex
	cfg      HNSWConfig
	nodes    []*hnswNode
	idMap    map[string]uint32
	entry    int32 // -1 when empty
	maxLevel int
	levelMul float64
	rng      *rand.Rand
}

var _ Index = (*HNSW)(nil)

// NewHNSW creates an empty index. It returns an error if cfg.Dim is not positive.
func NewHNSW(cfg HNSWConfig) (*HNSW, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("vecstore: HNSWConfig.Dim must be positive, got %d", cfg.Dim)
	}
	cfg.setDefaults()
	return &HNSW{
		cfg:      cfg,
		idMap:    make(map[string]uint32),
		entry:    -1,
		levelMul: 1 / math.Log(float64(cfg.M)),
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}, nil
}

func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

func (h *HNSW) BatchInsert(ids []string, vectors [][]float32) error {
	return batchInsert(h, ids, vectors)
}

// Insert links a new vector into the graph. Re-inserting an existing ID
// replaces its vector but keeps its links.
func (h *HNSW) Insert(id string, vector []float32) error {
	if len(vector) != h.cfg.Dim {
		return fmt.Errorf("vecstore: dimension mismatch: got %d, want %d", len(vector), h.cfg.Dim)
	}
	vec := slices.Clone(vector)

	h.mu.Lock()
	defer h.mu.Unlock()

	if idx, ok := h.idMap[id]; ok {
		h.nodes[idx].vector = vec
		return nil
	}

	idx := uint32(len(h.nodes))
	level := h.randomLevel()
	nd := &hnswNode{id: id, vector: vec, friends: make([][]uint32, level+1)}
	h.nodes = append(h.nodes, nd)
	h.idMap[id] = idx

	if h.entry < 0 {
		h.entry = int32(idx)
		h.maxLevel = level
		return nil
	}

	cur := h.greedy(vec, uint32(h.entry), h.maxLevel, level)

	ep := []uint32{cur}
	for lev := min(level, h.maxLevel); lev >= 0; lev-- {
		candidates := h.searchLayer(vec, ep, h.cfg.EfConstruction, lev)
		maxC := h.cfg.maxConns(lev)
		nd.friends[lev] = h.closest(vec, candidates, maxC)
		for _, nID := range nd.friends[lev] {
			nn := h.nodes[nID]
			nn.friends[lev] = append(nn.friends[lev], idx)
			if len(nn.friends[lev]) > maxC {
				nn.friends[lev] = h.closest(nn.vector, nn.friends[lev], maxC)
			}
		}
		ep = candidates
	}

	if level > h.maxLevel {
		h.entry = int32(idx)
		h.maxLevel = level
	}
	return nil
}

// Search descends greedily to layer 0 and beam-searches there.
func (h *HNSW) Search(query []float32, topK int) ([]Match, error) {
	if len(query) != h.cfg.Dim {
		return nil, fmt.Errorf("vecstore: dimension mismatch: got %d, want %d", len(query), h.cfg.Dim)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.entry < 0 || topK <= 0 {
		return nil, nil
	}

	cur := h.greedy(query, uint32(h.entry), h.maxLevel, 0)
	found := h.searchLayer(query, []uint32{cur}, max(h.cfg.EfSearch, topK), 0)

	items := make([]distItem, len(found))
	for i, id := range found {
		items[i] = distItem{id: id, dist: Distance(query, h.nodes[id].vector)}
	}
	slices.SortFunc(items, func(a, b distItem) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	if len(items) > topK {
		items = items[:topK]
	}
	out := make([]Match, len(items))
	for i, it := range items {
		out[i] = Match{ID: h.nodes[it.id].id, Distance: it.dist}
	}
	return out, nil
}

// randomLevel draws from the exponential layer distribution
// P(level >= l) = M^-l, capped at 31.
func (h *HNSW) randomLevel() int {
	r := max(h.rng.Float64(), math.SmallestNonzeroFloat64)
	return min(int(-math.Log(r)*h.levelMul), 31)
}

// greedy walks from start down to layer stop+1, keeping only the closest
// node on each layer.
func (h *HNSW) greedy(q []float32, start uint32, top, stop int) uint32 {
	cur := start
	curDist := Distance(q, h.nodes[cur].vector)
	for lev := top; lev > stop; lev-- {
		for changed := true; changed; {
			changed = false
			nd := h.nodes[cur]
			if lev >= len(nd.friends) {
				break
			}
			for _, f := range nd.friends[lev] {
				if d := Distance(q, h.nodes[f].vector); d < curDist {
					cur, curDist, changed = f, d, true
				}
			}
		}
	}
	return cur
}

// searchLayer is the beam search over one layer. It returns up to ef node
// IDs closest to q.
func (h *HNSW) searchLayer(q []float32, entries []uint32, ef, layer int) []uint32 {
	visited := make(map[uint32]struct{}, ef*2)
	var candidates minHeap
	var results maxHeap

	for _, ep := range entries {
		if _, seen := visited[ep]; seen {
			continue
		}
		visited[ep] = struct{}{}
		it := distItem{id: ep, dist: Distance(q, h.nodes[ep].vector)}
		heap.Push(&candidates, it)
		heap.Push(&results, it)
		if results.Len() > ef {
			heap.Pop(&results)
		}
	}

	for candidates.Len() > 0 {
		c := heap.Pop(&candidates).(distItem)
		if results.Len() >= ef && results[0].less(c) {
			break
		}
		nd := h.nodes[c.id]
		if layer >= len(nd.friends) {
			continue
		}
		for _, f := range nd.friends[layer] {
			if _, seen := visited[f]; seen {
				continue
			}
			visited[f] = struct{}{}
			it := distItem{id: f, dist: Distance(q, h.nodes[f].vector)}
			if results.Len() < ef || it.less(results[0]) {
				heap.Push(&candidates, it)
				heap.Push(&results, it)
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := make([]uint32, results.Len())
	for i := range out {
		out[i] = results[i].id
	}
	return out
}

// closest keeps the maxN candidates nearest to q.
func (h *HNSW) closest(q []float32, candidates []uint32, maxN int) []uint32 {
	items := make([]distItem, len(candidates))
	for i, id := range candidates {
		items[i] = distItem{id: id, dist: Distance(q, h.nodes[id].vector)}
	}
	slices.SortFunc(items, func(a, b distItem) int {
		if a.less(b) {
			return -1
		}
		if b.less(a) {
			return 1
		}
		return 0
	})
	out := make([]uint32, 0, min(maxN, len(items)))
	for _, it := range items[:min(maxN, len(items))] {
		out = append(out, it.id)
	}
	return out
}
