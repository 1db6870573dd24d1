package graphstore

import (
	"container/heap"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"clarium/internal/apperror"
)

// Edge is one materialized out-edge, merged from an immutable segment or
// a partition's live delta.log, filtered to a single read epoch.
type Edge struct {
	Dst       uint64
	EType     string
	TsBegin   uint64
	TsEnd     uint64
	HasWeight bool
	Weight    float64
}

// outEdges merges segment and live-delta edges for node u, both already
// filtered to epoch (spec §4.3 read path "merges the immutable segment
// slices ... with the delta index filtered by ts_begin <= E < ts_end").
func (s *Store) outEdges(u uint64, epoch uint64) ([]Edge, error) {
	key, ok := s.dict.KeyOf(u)
	if !ok {
		return nil, nil
	}
	part := s.manifest.PartitionOf(key, s.manifest.Partitioning.Seed)

	var edges []Edge
	s.mu.RLock()
	segs := s.segments[part]
	s.mu.RUnlock()
	for _, seg := range segs {
		edges = append(edges, seg.OutEdgesAt(u, epoch)...)
	}

	recs, err := ReadAllDelta(s.root, part)
	if err != nil {
		return nil, err
	}
	for _, r := range VisibleAt(recs, epoch) {
		if r.Src != u {
			continue
		}
		e := Edge{Dst: r.Dst, EType: r.EType, TsBegin: r.TsBegin, TsEnd: r.TsEnd, HasWeight: r.HasWeight, Weight: r.Weight}
		if e.TsEnd == 0 {
			e.TsEnd = openEnd
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// NeighborRow is one BFS result row (spec §4.3 "Returns (node_id, prev_id, hop) rows").
type NeighborRow struct {
	NodeID uint64
	NodeKey string
	PrevID uint64
	Hop    int
}

// Neighbors performs k-hop BFS from startKey, deduping per level with a
// roaring-bitmap visited set, optionally filtered by edge type and a
// [tsLo,tsHi] window (spec §4.3). Within each hop, the out-edges of every
// frontier node are fetched concurrently.
func (s *Store) Neighbors(startKey, etype string, maxHops int, tsLo, tsHi *int64) ([]NeighborRow, error) {
	startID, ok := s.dict.Get(startKey)
	if !ok {
		return nil, apperror.NotFound("start_node_not_found", "node key %q not found", startKey)
	}
	epoch := s.Epoch()

	visited := roaring64.New()
	visited.Add(startID)
	frontier := []uint64{startID}
	var out []NeighborRow

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		type result struct {
			from  uint64
			edges []Edge
		}
		results := make([]result, len(frontier))
		var g errgroup.Group
		for i, u := range frontier {
			i, u := i, u
			g.Go(func() error {
				edges, err := s.outEdges(u, epoch)
				if err != nil {
					return err
				}
				results[i] = result{from: u, edges: edges}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var next []uint64
		for _, r := range results {
			for _, e := range r.edges {
				if etype != "" && e.EType != etype {
					continue
				}
				if tsLo != nil && e.TsBegin < uint64(*tsLo) {
					continue
				}
				if tsHi != nil && e.TsBegin > uint64(*tsHi) {
					continue
				}
				if visited.Contains(e.Dst) {
					continue
				}
				visited.Add(e.Dst)
				key, _ := s.dict.KeyOf(e.Dst)
				out = append(out, NeighborRow{NodeID: e.Dst, NodeKey: key, PrevID: r.from, Hop: hop})
				next = append(next, e.Dst)
			}
		}
		frontier = next
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Hop != out[j].Hop {
			return out[i].Hop < out[j].Hop
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out, nil
}

// PathRow is one row of a materialized shortest path (spec §4.3 "Returns
// (path_id, node_id, prev_id, hop)").
type PathRow struct {
	PathID int
	NodeID uint64
	PrevID uint64
	Hop    int
}

// ShortestPath finds the shortest path from src to dst: unweighted
// bounded BFS when no traversed edge carries a weight, otherwise
// Dijkstra's algorithm over a binary heap (spec §4.3 "Dial/Dijkstra ...
// when weights present"; a binary heap substitutes for a pairing heap
// here — no pack example ships one, see DESIGN.md). Ties break by stable
// node_id.
func (s *Store) ShortestPath(srcKey, dstKey string, maxHops int, etype string) ([]PathRow, error) {
	srcID, ok := s.dict.Get(srcKey)
	if !ok {
		return nil, apperror.NotFound("start_node_not_found", "node key %q not found", srcKey)
	}
	dstID, ok := s.dict.Get(dstKey)
	if !ok {
		return nil, apperror.NotFound("end_node_not_found", "node key %q not found", dstKey)
	}
	epoch := s.Epoch()

	prev := map[uint64]uint64{srcID: srcID}
	dist := map[uint64]float64{srcID: 0}
	hopOf := map[uint64]int{srcID: 0}

	pq := &pathHeap{{node: srcID, dist: 0}}
	heap.Init(pq)
	visited := map[uint64]bool{}

	for pq.Len() > 0 {
		top := heap.Pop(pq).(pathItem)
		if visited[top.node] {
			continue
		}
		visited[top.node] = true
		if top.node == dstID {
			break
		}
		if hopOf[top.node] >= maxHops {
			continue
		}
		edges, err := s.outEdges(top.node, epoch)
		if err != nil {
			return nil, err
		}
		sort.Slice(edges, func(i, j int) bool { return edges[i].Dst < edges[j].Dst })
		for _, e := range edges {
			if etype != "" && e.EType != etype {
				continue
			}
			w := 1.0
			if e.HasWeight {
				w = e.Weight
			}
			nd := dist[top.node] + w
			if cur, ok := dist[e.Dst]; !ok || nd < cur {
				dist[e.Dst] = nd
				prev[e.Dst] = top.node
				hopOf[e.Dst] = hopOf[top.node] + 1
				heap.Push(pq, pathItem{node: e.Dst, dist: nd})
			}
		}
	}

	if _, ok := dist[dstID]; !ok {
		return nil, apperror.NotFound("no_path", "no path from %q to %q within %d hops", srcKey, dstKey, maxHops)
	}

	var chain []uint64
	for n := dstID; ; {
		chain = append([]uint64{n}, chain...)
		if n == srcID {
			break
		}
		n = prev[n]
	}
	rows := make([]PathRow, 0, len(chain))
	for i, n := range chain {
		p := n
		if i > 0 {
			p = chain[i-1]
		}
		rows = append(rows, PathRow{PathID: 0, NodeID: n, PrevID: p, Hop: i})
	}
	return rows, nil
}

type pathItem struct {
	node uint64
	dist float64
}

type pathHeap []pathItem

func (h pathHeap) Len() int { return len(h) }
func (h pathHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].node < h[j].node
}
func (h pathHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pathHeap) Push(x any)        { *h = append(*h, x.(pathItem)) }
func (h *pathHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
