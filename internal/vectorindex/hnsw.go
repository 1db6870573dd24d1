package vectorindex

import (
	"math"
	"math/rand"
	"sort"
)

// candidate is one (internal node id, distance score) pair used by both
// the layer search frontier and the final result heap.
type candidate struct {
	id    uint32
	score float64
}

// node is one HNSW graph vertex: its flat vector and its per-layer
// neighbor lists. Arena-addressed by dense uint32 id, never by pointer,
// per spec §9 ("use arena-allocated dense node ids; never pointer
// graphs").
type node struct {
	vec       []float32
	neighbors [][]uint32 // neighbors[level] = neighbor ids at that level
}

// HNSW is a from-scratch hierarchical navigable small-world graph (spec
// SPEC_FULL §4.2: "no pack example ships a production HNSW"). levelMult
// controls the exponential level-assignment distribution from the
// original Malkov/Yashunin construction.
type HNSW struct {
	Metric    Metric
	Dim       int
	M         int
	MMax0     int
	EfBuild   int
	nodes     []node
	entry     int
	levelMult float64
	rng       *rand.Rand
}

func NewHNSW(metric Metric, dim, m, efBuild int, seed int64) *HNSW {
	if m <= 0 {
		m = 16
	}
	return &HNSW{
		Metric:    metric,
		Dim:       dim,
		M:         m,
		MMax0:     m * 2,
		EfBuild:   efBuild,
		entry:     -1,
		levelMult: 1.0 / math.Log(float64(m)),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (h *HNSW) Len() int { return len(h.nodes) }

func (h *HNSW) randomLevel() int {
	r := h.rng.Float64()
	if r <= 0 {
		r = 1e-12
	}
	return int(math.Floor(-math.Log(r) * h.levelMult))
}

// score computes the metric's distance/similarity between two vectors.
// Returns (value, ok); ok is false for a zero-vector cosine comparison
// (spec §4.2 "zero-vector inputs treated as null for cosine").
func (h *HNSW) score(a, b []float32) (float64, bool) {
	switch h.Metric {
	case MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return sum, true
	case MetricIP:
		var sum float64
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		return sum, true
	default: // cosine
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0, false
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
	}
}

// Insert adds vec to the graph, returning its internal node id.
func (h *HNSW) Insert(vec []float32) uint32 {
	id := uint32(len(h.nodes))
	level := h.randomLevel()
	n := node{vec: vec, neighbors: make([][]uint32, level+1)}
	h.nodes = append(h.nodes, n)

	if h.entry == -1 {
		h.entry = int(id)
		return id
	}

	entryID := uint32(h.entry)
	entryLevel := len(h.nodes[h.entry].neighbors) - 1

	// Descend greedily from the top layer down to level+1 with ef=1.
	cur := entryID
	for l := entryLevel; l > level; l-- {
		cur = h.greedyClosest(vec, cur, l)
	}

	for l := min(level, entryLevel); l >= 0; l-- {
		candidates := h.searchLayer(vec, cur, h.EfBuild, l)
		neighbors := h.selectNeighbors(candidates, h.M)
		for _, nb := range neighbors {
			h.connect(id, nb.id, l)
			h.connect(nb.id, id, l)
			h.pruneIfNeeded(nb.id, l)
		}
		if len(neighbors) > 0 {
			cur = neighbors[0].id
		}
	}

	if level > entryLevel {
		h.entry = int(id)
	}
	return id
}

func (h *HNSW) connect(from, to uint32, level int) {
	n := &h.nodes[from]
	for len(n.neighbors) <= level {
		n.neighbors = append(n.neighbors, nil)
	}
	n.neighbors[level] = append(n.neighbors[level], to)
}

func (h *HNSW) pruneIfNeeded(id uint32, level int) {
	n := &h.nodes[id]
	if level >= len(n.neighbors) {
		return
	}
	maxM := h.M
	if level == 0 {
		maxM = h.MMax0
	}
	if len(n.neighbors[level]) <= maxM {
		return
	}
	cands := make([]candidate, 0, len(n.neighbors[level]))
	for _, nb := range n.neighbors[level] {
		s, ok := h.score(n.vec, h.nodes[nb].vec)
		if !ok {
			s = math.Inf(1)
		}
		cands = append(cands, candidate{id: nb, score: s})
	}
	selected := h.selectNeighbors(cands, maxM)
	ids := make([]uint32, len(selected))
	for i, c := range selected {
		ids[i] = c.id
	}
	n.neighbors[level] = ids
}

// selectNeighbors keeps the best up-to-m candidates by this index's
// metric ordering (simple heuristic selection, not the full
// heuristic-with-diversification variant — acceptable at Clarium's scale).
func (h *HNSW) selectNeighbors(cands []candidate, m int) []candidate {
	sorted := append([]candidate(nil), cands...)
	better := h.Metric.Better
	sort.Slice(sorted, func(i, j int) bool { return better(sorted[i].score, sorted[j].score) })
	if len(sorted) > m {
		sorted = sorted[:m]
	}
	return sorted
}

func (h *HNSW) greedyClosest(query []float32, from uint32, level int) uint32 {
	cur := from
	curScore, ok := h.score(query, h.nodes[cur].vec)
	if !ok {
		curScore = math.Inf(1)
	}
	for {
		improved := false
		if level < len(h.nodes[cur].neighbors) {
			for _, nb := range h.nodes[cur].neighbors[level] {
				s, ok := h.score(query, h.nodes[nb].vec)
				if !ok {
					s = math.Inf(1)
				}
				if h.Metric.Better(s, curScore) {
					cur, curScore = nb, s
					improved = true
				}
			}
		}
		if !improved {
			return cur
		}
	}
}

// searchLayer is the ef-bounded beam search over one layer, returning up
// to ef candidates ordered best-first.
func (h *HNSW) searchLayer(query []float32, entry uint32, ef int, level int) []candidate {
	visited := map[uint32]bool{entry: true}
	s0, ok := h.score(query, h.nodes[entry].vec)
	if !ok {
		s0 = math.Inf(1)
	}
	candidates := []candidate{{id: entry, score: s0}}
	result := []candidate{{id: entry, score: s0}}

	better := h.Metric.Better
	for len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return better(candidates[i].score, candidates[j].score) })
		c := candidates[0]
		candidates = candidates[1:]

		sort.Slice(result, func(i, j int) bool { return better(result[i].score, result[j].score) })
		if len(result) >= ef && !better(c.score, result[len(result)-1].score) {
			break
		}

		if level < len(h.nodes[c.id].neighbors) {
			for _, nb := range h.nodes[c.id].neighbors[level] {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				s, ok := h.score(query, h.nodes[nb].vec)
				if !ok {
					s = math.Inf(1)
				}
				candidates = append(candidates, candidate{id: nb, score: s})
				result = append(result, candidate{id: nb, score: s})
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return better(result[i].score, result[j].score) })
	if len(result) > ef {
		result = result[:ef]
	}
	return result
}

// Search returns up to k nearest candidates to query, ef controlling the
// layer-0 beam width (spec §4.2 search(index,qvec,k,ef_search)).
func (h *HNSW) Search(query []float32, k, ef int) []candidate {
	if h.entry == -1 {
		return nil
	}
	cur := uint32(h.entry)
	topLevel := len(h.nodes[h.entry].neighbors) - 1
	for l := topLevel; l > 0; l-- {
		cur = h.greedyClosest(query, cur, l)
	}
	cands := h.searchLayer(query, cur, max(ef, k), 0)
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands
}
