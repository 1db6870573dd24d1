package vectorindex

import (
	"math"
	"sort"

	"clarium/internal/apperror"
	"clarium/internal/storage"
	"clarium/pkg/types"
)

// Index is the typed adapter over one (name).vindex + (name).vdata pair,
// implementing the create/build/search/reindex/drop contract of spec §4.2.
type Index struct {
	MetaPath string
	DataPath string
	Seed     int64
}

func Open(layout *storage.Layout, db, schema, name string) *Index {
	return &Index{
		MetaPath: layout.VectorIndexMeta(db, schema, name),
		DataPath: layout.VectorIndexData(db, schema, name),
		Seed:     1,
	}
}

// Create persists .vindex metadata; no data is written (spec §4.2).
func (ix *Index) Create(table, column string, metric Metric, dim int, params Params, mode Mode) error {
	name := table + "." + column
	meta := NewMeta(name, table, column, metric, dim, params, mode)
	return meta.Save(ix.MetaPath)
}

func (ix *Index) LoadMeta() (*Meta, error) { return LoadMeta(ix.MetaPath) }

// RowScore is one (row_id, score) search/build result.
type RowScore struct {
	RowID uint64
	Score float64
}

// Build scans df's source column in row-batches of f32 vectors, validates
// dim, builds the HNSW graph with params M/EfBuild, and persists .vdata +
// the row-id map, updating .vindex.status (spec §4.2).
func (ix *Index) Build(df *storage.DataFrame, elapsedMs int64, buildStartMs int64) error {
	meta, err := ix.LoadMeta()
	if err != nil {
		return err
	}
	if !df.HasColumn(meta.Column) {
		return apperror.NotFound("column_not_found", "column %q not found for vector index build", meta.Column)
	}

	h := NewHNSW(meta.Metric, meta.Dim, meta.Params.M, meta.Params.EfBuild, ix.Seed)
	col := df.Column(meta.Column)

	var rowIDs []uint64
	skipped := 0
	const batchSize = 256
	for start := 0; start < len(col); start += batchSize {
		end := min(start+batchSize, len(col))
		for i := start; i < end; i++ {
			v := col[i]
			if v.Kind != types.KindListFloat64 || len(v.Vec) != meta.Dim {
				skipped++
				continue
			}
			vec32 := make([]float32, meta.Dim)
			for j, f := range v.Vec {
				vec32[j] = float32(f)
			}
			h.Insert(vec32)
			rowIDs = append(rowIDs, uint64(i))
		}
	}

	table := OrdinalRowIDs(len(rowIDs))
	copy(table.Table, rowIDs)

	data, err := EncodeVData(h, table)
	if err != nil {
		return err
	}
	if err := storage.AtomicWriteFile(ix.DataPath, data, 0o644); err != nil {
		return err
	}

	meta.Status = IndexStatus{
		State:       "ready",
		RowsIndexed: h.Len(),
		Bytes:       int64(len(data)),
		BuiltAtMs:   buildStartMs,
		ElapsedMs:   elapsedMs,
	}
	return meta.Save(ix.MetaPath)
}

// Reindex is build() run again from scratch over the current source data
// (spec §4.2: "reindex = build").
func (ix *Index) Reindex(df *storage.DataFrame, elapsedMs, buildStartMs int64) error {
	return ix.Build(df, elapsedMs, buildStartMs)
}

// Drop removes both files (spec §4.2).
func (ix *Index) Drop() error {
	if err := storage.RemoveAll(ix.MetaPath); err != nil {
		return err
	}
	return storage.RemoveAll(ix.DataPath)
}

// Search returns up to k (row_id, score) candidates via the persisted
// HNSW graph. Callers fall back to ExactSearch on error per spec §7
// ("vector index load failure -> fall back to exact scan").
func (ix *Index) Search(query []float64, k, efSearch int) ([]RowScore, error) {
	meta, err := ix.LoadMeta()
	if err != nil {
		return nil, err
	}
	if len(query) != meta.Dim {
		return nil, apperror.Exec("dim_mismatch", "query dim %d does not match index dim %d", len(query), meta.Dim)
	}
	h, rowIDs, err := ReadVData(ix.DataPath, ix.Seed)
	if err != nil {
		return nil, err
	}
	q32 := make([]float32, len(query))
	for i, f := range query {
		q32[i] = float32(f)
	}
	cands := h.Search(q32, k, efSearch)
	out := make([]RowScore, 0, len(cands))
	for _, c := range cands {
		rid := uint64(c.id)
		if int(c.id) < len(rowIDs.Table) {
			rid = rowIDs.Table[c.id]
		}
		out = append(out, RowScore{RowID: rid, Score: c.score})
	}
	return out, nil
}

// ExactSearch computes the metric score against every row of a vector
// column directly (no index), used as both the "no index" fallback path
// and the reference oracle for the ANN≡EXACT parity property (spec §8
// property 3). Ties break by ascending row index — the stable row-id
// ordering spec §4.2 requires.
func ExactSearch(df *storage.DataFrame, column string, query []float64, metric Metric, k int) []RowScore {
	col := df.Column(column)
	type scored struct {
		idx   int
		score float64
		ok    bool
	}
	all := make([]scored, 0, len(col))
	for i, v := range col {
		if v.Kind != types.KindListFloat64 || len(v.Vec) != len(query) {
			continue
		}
		s, ok := scoreVectors(metric, v.Vec, query)
		all = append(all, scored{idx: i, score: s, ok: ok})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].ok && !all[j].ok {
			return all[i].idx < all[j].idx
		}
		if all[i].ok != all[j].ok {
			return all[i].ok // ok scores sort ahead of null (cosine zero-vector) scores
		}
		if all[i].score == all[j].score {
			return all[i].idx < all[j].idx
		}
		return metric.Better(all[i].score, all[j].score)
	})
	if k >= 0 && len(all) > k {
		all = all[:k]
	}
	out := make([]RowScore, len(all))
	for i, s := range all {
		out[i] = RowScore{RowID: uint64(s.idx), Score: s.score}
	}
	return out
}

func scoreVectors(metric Metric, a, b []float64) (float64, bool) {
	switch metric {
	case MetricL2:
		var sum float64
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return sum, true
	case MetricIP:
		var sum float64
		for i := range a {
			sum += a[i] * b[i]
		}
		return sum, true
	default:
		var dot, na, nb float64
		for i := range a {
			dot += a[i] * b[i]
			na += a[i] * a[i]
			nb += b[i] * b[i]
		}
		if na == 0 || nb == 0 {
			return 0, false
		}
		return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
	}
}
