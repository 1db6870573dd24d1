package tschunk

import (
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"clarium/internal/apperror"
	"clarium/internal/storage"
	"clarium/pkg/types"
)

const timeColumn = "_time"

// Table is a typed adapter over one regular- or time-table directory,
// implementing the chunk engine's append/scan/rewrite contract (spec
// §4.1). Storage engines are invoked only through adapters like this one.
type Table struct {
	Dir      string
	IsTime   bool
	Compress bool
}

func Open(dir string, isTime, compress bool) *Table {
	return &Table{Dir: dir, IsTime: isTime, Compress: compress}
}

func (t *Table) schemaPath() string { return filepath.Join(t.Dir, "schema.json") }

// LoadSchema loads schema.json, or returns a fresh empty schema if the
// table directory has not been written to yet.
func (t *Table) LoadSchema() (*storage.Schema, error) {
	if _, err := os.Stat(t.schemaPath()); err != nil {
		if os.IsNotExist(err) {
			return storage.NewSchema(), nil
		}
		return nil, apperror.Io("stat_schema_failed", err)
	}
	return storage.LoadSchema(t.schemaPath())
}

func (t *Table) ext() string {
	if t.Compress {
		return ExtCompressed
	}
	return ExtPlain
}

// Append sorts df by _time (time tables only), widens schema.json
// monotonically for every observed column, writes one new chunk via
// atomic temp-then-rename, and reports which columns widened (spec §4.1,
// SPEC_FULL "schema evolution reporting"). now is the chunk's CreatedTs
// component, supplied by the caller so the engine stays deterministic
// under test.
func (t *Table) Append(df *storage.DataFrame, now int64) (string, []string, error) {
	if t.IsTime && !df.HasColumn(timeColumn) {
		return "", nil, apperror.Exec("missing_time_column", "time table append requires a _time column")
	}
	if err := storage.EnsureDir(t.Dir); err != nil {
		return "", nil, err
	}

	schema, err := t.LoadSchema()
	if err != nil {
		return "", nil, err
	}

	widened := widenSchemaFromFrame(schema, df)

	sorted := df
	if t.IsTime {
		sorted = df.Clone()
		sorted.SortBy([]string{timeColumn}, nil, compareValues)
	}

	minT, maxT := int64(0), int64(0)
	if t.IsTime && sorted.NumRows() > 0 {
		col := sorted.Column(timeColumn)
		minT, maxT = col[0].I, col[0].I
		for _, v := range col {
			if v.I < minT {
				minT = v.I
			}
			if v.I > maxT {
				maxT = v.I
			}
		}
	}

	body := frameToBody(sorted)
	data, err := encodeBody(body, t.Compress)
	if err != nil {
		return "", nil, err
	}

	name := ChunkFileName(minT, maxT, now, t.ext())
	if err := storage.AtomicWriteFile(filepath.Join(t.Dir, name), data, 0o644); err != nil {
		return "", nil, err
	}
	if err := schema.Save(t.schemaPath()); err != nil {
		return "", nil, err
	}
	return name, widened, nil
}

// Rewrite writes df as the table's sole chunk and deletes every prior
// chunk, used by INTO ... REPLACE (spec §4.1).
func (t *Table) Rewrite(df *storage.DataFrame, now int64) error {
	chunks, err := t.listChunks()
	if err != nil {
		return err
	}
	schema, err := t.LoadSchema()
	if err != nil {
		return err
	}
	widenSchemaFromFrame(schema, df)

	sorted := df
	if t.IsTime {
		sorted = df.Clone()
		sorted.SortBy([]string{timeColumn}, nil, compareValues)
	}
	minT, maxT := int64(0), int64(0)
	if t.IsTime && sorted.NumRows() > 0 {
		col := sorted.Column(timeColumn)
		minT, maxT = col[0].I, col[0].I
		for _, v := range col {
			if v.I < minT {
				minT = v.I
			}
			if v.I > maxT {
				maxT = v.I
			}
		}
	}
	body := frameToBody(sorted)
	data, err := encodeBody(body, t.Compress)
	if err != nil {
		return err
	}
	name := ChunkFileName(minT, maxT, now, t.ext())
	newPath := filepath.Join(t.Dir, name)
	if err := storage.AtomicWriteFile(newPath, data, 0o644); err != nil {
		return err
	}
	if err := schema.Save(t.schemaPath()); err != nil {
		return err
	}
	for _, c := range chunks {
		if c.Name == name {
			continue
		}
		_ = os.Remove(filepath.Join(t.Dir, c.Name))
	}
	return nil
}

func (t *Table) listChunks() ([]ChunkInfo, error) {
	entries, err := os.ReadDir(t.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperror.Io("readdir_failed", err)
	}
	var infos []ChunkInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if info, ok := ParseChunkName(e.Name()); ok {
			infos = append(infos, info)
		}
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].MinT < infos[j].MinT })
	return infos, nil
}

// Scan enumerates chunks sorted by minT, prunes whole chunks using their
// filename range, reads surviving chunks concurrently, applies the exact
// per-row predicate, and vertically stacks in filename order — no global
// re-sort (spec §4.1, §5, property 1).
func (t *Table) Scan(pred *TimePredicate) (*storage.DataFrame, error) {
	chunks, err := t.listChunks()
	if err != nil {
		return nil, err
	}

	var candidates []ChunkInfo
	for _, c := range chunks {
		if pred != nil && t.IsTime && !c.Legacy && !pred.OverlapsChunk(c.MinT, c.MaxT) {
			continue
		}
		candidates = append(candidates, c)
	}

	frames := make([]*storage.DataFrame, len(candidates))
	var g errgroup.Group
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			df, err := t.readChunk(c, pred)
			if err != nil {
				return apperror.Io("chunk_read_failed", err).WithDetails(map[string]any{"path": filepath.Join(t.Dir, c.Name)})
			}
			frames[i] = df
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := storage.NewDataFrame()
	for _, df := range frames {
		out = out.Stack(df)
	}
	return out, nil
}

func (t *Table) readChunk(c ChunkInfo, pred *TimePredicate) (*storage.DataFrame, error) {
	data, err := os.ReadFile(filepath.Join(t.Dir, c.Name))
	if err != nil {
		return nil, err
	}
	compressed := !c.Legacy && extIsCompressed(c.Ext)
	body, err := decodeBody(data, compressed)
	if err != nil {
		return nil, err
	}
	df := bodyToFrame(body)
	if pred != nil && t.IsTime && df.HasColumn(timeColumn) {
		col := df.Column(timeColumn)
		mask := make([]bool, len(col))
		for i, v := range col {
			mask[i] = pred.Matches(v.I)
		}
		df = df.Filter(mask)
	}
	return df, nil
}

func widenSchemaFromFrame(schema *storage.Schema, df *storage.DataFrame) []string {
	var widened []string
	for _, name := range df.ColumnNames() {
		if name == timeColumn {
			continue
		}
		ct := df.ColumnType(name)
		existed := schema.Has(name)
		before := schema.Types[name]
		schema.Widen(name, ct)
		after := schema.Types[name]
		if existed && before.Kind != after.Kind {
			widened = append(widened, name)
		}
	}
	return widened
}

func frameToBody(df *storage.DataFrame) chunkBody {
	b := chunkBody{Rows: df.NumRows(), Data: map[string][]types.Value{}}
	for _, name := range df.ColumnNames() {
		b.Columns = append(b.Columns, name)
		ct := df.ColumnType(name)
		b.Kinds = append(b.Kinds, uint8(ct.Kind))
		b.Dims = append(b.Dims, ct.VectorDim)
		b.Data[name] = df.Column(name)
	}
	return b
}

func bodyToFrame(b chunkBody) *storage.DataFrame {
	df := storage.NewDataFrame()
	for i, name := range b.Columns {
		ct := storage.ColumnType{Kind: types.Kind(b.Kinds[i]), VectorDim: b.Dims[i]}
		df.AddColumn(name, ct)
	}
	for r := 0; r < b.Rows; r++ {
		row := make(map[string]types.Value, len(b.Columns))
		for _, name := range b.Columns {
			col := b.Data[name]
			if r < len(col) {
				row[name] = col[r]
			} else {
				row[name] = types.Null()
			}
		}
		df.AppendRow(row)
	}
	return df
}

// compareValues orders two cell values for SortBy, used to keep a time
// table's rows sorted by _time within a chunk (spec §3 invariant).
func compareValues(a, b types.Value) int {
	if a.Kind == types.KindInt64 && b.Kind == types.KindInt64 {
		switch {
		case a.I < b.I:
			return -1
		case a.I > b.I:
			return 1
		default:
			return 0
		}
	}
	af, aok := a.AsFloat64()
	bf, bok := b.AsFloat64()
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	if a.S < b.S {
		return -1
	}
	if a.S > b.S {
		return 1
	}
	return 0
}
