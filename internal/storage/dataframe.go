package storage

import (
	"sort"

	"clarium/pkg/types"
)

// DataFrame is the columnar, typed in-memory working set every stage of
// the executor reads and writes (spec §2 "typed column storage using a
// columnar DataFrame abstraction"). Columns are ordered; cells are boxed
// types.Value so untyped/null handling stays uniform across engines.
type DataFrame struct {
	names []string
	types map[string]ColumnType
	cols  map[string][]types.Value
	rows  int
}

func NewDataFrame() *DataFrame {
	return &DataFrame{types: map[string]ColumnType{}, cols: map[string][]types.Value{}}
}

// NewDataFrameWithSchema pre-declares columns in schema order with zero rows.
func NewDataFrameWithSchema(schema *Schema) *DataFrame {
	df := NewDataFrame()
	for _, c := range schema.Columns {
		df.AddColumn(c, schema.Types[c])
	}
	return df
}

func (df *DataFrame) NumRows() int       { return df.rows }
func (df *DataFrame) ColumnNames() []string {
	out := make([]string, len(df.names))
	copy(out, df.names)
	return out
}
func (df *DataFrame) HasColumn(name string) bool { _, ok := df.cols[name]; return ok }
func (df *DataFrame) ColumnType(name string) ColumnType { return df.types[name] }

func (df *DataFrame) Column(name string) []types.Value { return df.cols[name] }

func (df *DataFrame) AddColumn(name string, ct ColumnType) {
	if df.HasColumn(name) {
		return
	}
	df.names = append(df.names, name)
	df.types[name] = ct
	col := make([]types.Value, df.rows)
	for i := range col {
		col[i] = types.Null()
	}
	df.cols[name] = col
}

// AppendRow appends one row given as a name->Value map; columns missing
// from vals get null. Unknown columns are added on the fly with the
// observed value's kind, in sorted name order (used by ingest paths
// before schema widening).
func (df *DataFrame) AppendRow(vals map[string]types.Value) {
	var added []string
	for name := range vals {
		if !df.HasColumn(name) {
			added = append(added, name)
		}
	}
	sort.Strings(added)
	for _, name := range added {
		df.AddColumn(name, ColumnType{Kind: vals[name].Kind})
	}
	for _, name := range df.names {
		v, ok := vals[name]
		if !ok {
			v = types.Null()
		}
		df.cols[name] = append(df.cols[name], v)
	}
	df.rows++
}

// Clone makes a deep-enough copy (column slices copied; Values themselves
// are immutable-by-convention) so in-place stage transforms never mutate a
// source the caller still holds a reference to.
func (df *DataFrame) Clone() *DataFrame {
	out := NewDataFrame()
	out.names = append([]string{}, df.names...)
	out.rows = df.rows
	for k, v := range df.types {
		out.types[k] = v
	}
	for k, v := range df.cols {
		cp := make([]types.Value, len(v))
		copy(cp, v)
		out.cols[k] = cp
	}
	return out
}

// Filter returns a new DataFrame containing only rows where mask[i] is true.
func (df *DataFrame) Filter(mask []bool) *DataFrame {
	out := NewDataFrame()
	out.names = append([]string{}, df.names...)
	for k, v := range df.types {
		out.types[k] = v
	}
	for _, name := range df.names {
		src := df.cols[name]
		var dst []types.Value
		for i, keep := range mask {
			if keep && i < len(src) {
				dst = append(dst, src[i])
			}
		}
		out.cols[name] = dst
	}
	out.rows = countTrue(mask)
	return out
}

func countTrue(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}

// Select projects a DataFrame down to the given columns in the given
// order, dropping everything else (used by the Project stage once the
// ProjectionContract's final_order is known).
func (df *DataFrame) Select(cols []string) *DataFrame {
	out := NewDataFrame()
	for _, name := range cols {
		ct := df.types[name]
		out.names = append(out.names, name)
		out.types[name] = ct
		src := df.cols[name]
		cp := make([]types.Value, len(src))
		copy(cp, src)
		out.cols[name] = cp
	}
	out.rows = df.rows
	return out
}

// Rename renames a column in place, preserving position.
func (df *DataFrame) Rename(from, to string) {
	if !df.HasColumn(from) || from == to {
		return
	}
	for i, n := range df.names {
		if n == from {
			df.names[i] = to
		}
	}
	df.types[to] = df.types[from]
	df.cols[to] = df.cols[from]
	delete(df.types, from)
	delete(df.cols, from)
}

// Duplicate copies column `from` under a new name `to`, leaving `from`
// in place. Used by the executor's join stage to expose an unambiguous
// source column under both its qualified ("alias.col") and bare name.
func (df *DataFrame) Duplicate(from, to string) {
	if !df.HasColumn(from) || df.HasColumn(to) {
		return
	}
	df.names = append(df.names, to)
	df.types[to] = df.types[from]
	cp := make([]types.Value, len(df.cols[from]))
	copy(cp, df.cols[from])
	df.cols[to] = cp
}

// DropColumns removes the named columns (used by Finalize to drop
// internal `__`-prefixed working columns, spec §4.5).
func (df *DataFrame) DropColumns(names ...string) {
	drop := map[string]bool{}
	for _, n := range names {
		drop[n] = true
	}
	kept := df.names[:0:0]
	for _, n := range df.names {
		if drop[n] {
			delete(df.types, n)
			delete(df.cols, n)
			continue
		}
		kept = append(kept, n)
	}
	df.names = kept
}

// Stack vertically concatenates rhs onto df. Columns present in one but
// not the other are filled with null for the rows that lack them — the
// schema-union-with-nulls behavior UNION requires (spec §4.5, property 5).
func (df *DataFrame) Stack(rhs *DataFrame) *DataFrame {
	out := NewDataFrame()
	seen := map[string]bool{}
	for _, n := range df.names {
		out.names = append(out.names, n)
		out.types[n] = df.types[n]
		seen[n] = true
	}
	for _, n := range rhs.names {
		if seen[n] {
			continue
		}
		out.names = append(out.names, n)
		out.types[n] = rhs.types[n]
	}
	out.rows = df.rows + rhs.rows
	for _, n := range out.names {
		col := make([]types.Value, 0, out.rows)
		if src, ok := df.cols[n]; ok {
			col = append(col, src...)
		} else {
			for i := 0; i < df.rows; i++ {
				col = append(col, types.Null())
			}
		}
		if src, ok := rhs.cols[n]; ok {
			col = append(col, src...)
		} else {
			for i := 0; i < rhs.rows; i++ {
				col = append(col, types.Null())
			}
		}
		out.cols[n] = col
	}
	return out
}

// SortBy stable-sorts rows by the given columns; desc[i] controls the
// direction of keys[i]. Stability matters for ORDER/LIMIT secondary keys
// and for the documented row-id tie-break (spec §4.2/§4.5).
func (df *DataFrame) SortBy(keys []string, desc []bool, less func(a, b types.Value) int) {
	idx := make([]int, df.rows)
	for i := range idx {
		idx[i] = i
	}
	cmp := func(i, j int) bool {
		for k, key := range keys {
			col := df.cols[key]
			c := less(col[idx[i]], col[idx[j]])
			if desc != nil && k < len(desc) && desc[k] {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	}
	sort.SliceStable(idx, cmp)
	df.Reorder(idx)
}

// Reorder permutes every column according to idx (idx[i] = source row for
// destination row i). Used by SortBy and by LIMIT's slicing.
func (df *DataFrame) Reorder(idx []int) {
	for _, name := range df.names {
		src := df.cols[name]
		dst := make([]types.Value, len(idx))
		for i, s := range idx {
			dst[i] = src[s]
		}
		df.cols[name] = dst
	}
	df.rows = len(idx)
}

// Limit applies LIMIT n semantics: positive n -> first n rows, zero ->
// empty, negative -> last |n| rows (spec §4.5).
func (df *DataFrame) Limit(n int) *DataFrame {
	if n == 0 {
		return df.Filter(make([]bool, df.rows))
	}
	idx := make([]int, 0)
	if n > 0 {
		for i := 0; i < df.rows && i < n; i++ {
			idx = append(idx, i)
		}
	} else {
		start := df.rows + n
		if start < 0 {
			start = 0
		}
		for i := start; i < df.rows; i++ {
			idx = append(idx, i)
		}
	}
	out := df.Clone()
	out.Reorder(idx)
	return out
}

// Row materializes row i as a name->Value map, used by ResultSet conversion.
func (df *DataFrame) Row(i int) map[string]types.Value {
	out := make(map[string]types.Value, len(df.names))
	for _, n := range df.names {
		out[n] = df.cols[n][i]
	}
	return out
}
