package tschunk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"clarium/internal/storage"
	"clarium/pkg/types"
)

func rowsFrame(rows []map[string]types.Value) *storage.DataFrame {
	df := storage.NewDataFrame()
	for _, r := range rows {
		df.AppendRow(r)
	}
	return df
}

func TestAppendAndScanTimeWindow(t *testing.T) {
	dir := t.TempDir()
	tbl := Open(dir, true, false)

	_, _, err := tbl.Append(rowsFrame([]map[string]types.Value{
		{"_time": types.Int64(1000), "v": types.Int64(1)},
		{"_time": types.Int64(3000), "v": types.Int64(3)},
	}), 1)
	require.NoError(t, err)
	_, _, err = tbl.Append(rowsFrame([]map[string]types.Value{
		{"_time": types.Int64(2000), "v": types.Int64(2)},
	}), 2)
	require.NoError(t, err)

	out, err := tbl.Scan(&TimePredicate{HasLo: true, Lo: 1500, HasHi: true, Hi: 2500})
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	require.Equal(t, int64(2000), out.Column("_time")[0].I)
	require.Equal(t, int64(2), out.Column("v")[0].I)
}

func TestScanPrunesNonOverlappingChunks(t *testing.T) {
	dir := t.TempDir()
	tbl := Open(dir, true, false)
	_, _, err := tbl.Append(rowsFrame([]map[string]types.Value{
		{"_time": types.Int64(0), "v": types.Int64(1)},
	}), 1)
	require.NoError(t, err)
	_, _, err = tbl.Append(rowsFrame([]map[string]types.Value{
		{"_time": types.Int64(100000), "v": types.Int64(2)},
	}), 2)
	require.NoError(t, err)

	out, err := tbl.Scan(&TimePredicate{HasLo: true, Lo: 90000, HasHi: true, Hi: 110000})
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	require.Equal(t, int64(2), out.Column("v")[0].I)
}

func TestSchemaWidensMonotonically(t *testing.T) {
	dir := t.TempDir()
	tbl := Open(dir, false, false)
	_, widened, err := tbl.Append(rowsFrame([]map[string]types.Value{
		{"v": types.Int64(1)},
	}), 1)
	require.NoError(t, err)
	require.Empty(t, widened)

	_, widened, err = tbl.Append(rowsFrame([]map[string]types.Value{
		{"v": types.Float64(2.5)},
	}), 2)
	require.NoError(t, err)
	require.Contains(t, widened, "v")

	schema, err := tbl.LoadSchema()
	require.NoError(t, err)
	require.Equal(t, types.KindFloat64, schema.Types["v"].Kind)
}

func TestMissingTimeColumnIsExecError(t *testing.T) {
	dir := t.TempDir()
	tbl := Open(dir, true, false)
	_, _, err := tbl.Append(rowsFrame([]map[string]types.Value{{"v": types.Int64(1)}}), 1)
	require.Error(t, err)
}

func TestRewriteReplacesAllChunks(t *testing.T) {
	dir := t.TempDir()
	tbl := Open(dir, false, false)
	_, _, err := tbl.Append(rowsFrame([]map[string]types.Value{{"v": types.Int64(1)}}), 1)
	require.NoError(t, err)
	_, _, err = tbl.Append(rowsFrame([]map[string]types.Value{{"v": types.Int64(2)}}), 2)
	require.NoError(t, err)

	err = tbl.Rewrite(rowsFrame([]map[string]types.Value{{"v": types.Int64(9)}}), 3)
	require.NoError(t, err)

	out, err := tbl.Scan(nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	require.Equal(t, int64(9), out.Column("v")[0].I)
}

func TestBYWindowBucketing(t *testing.T) {
	dir := t.TempDir()
	tbl := Open(dir, true, false)
	_, _, err := tbl.Append(rowsFrame([]map[string]types.Value{
		{"_time": types.Int64(0), "v": types.Int64(1)},
		{"_time": types.Int64(30000), "v": types.Int64(2)},
		{"_time": types.Int64(60000), "v": types.Int64(3)},
		{"_time": types.Int64(90000), "v": types.Int64(4)},
	}), 1)
	require.NoError(t, err)

	out, err := tbl.Scan(nil)
	require.NoError(t, err)

	windowMs := int64(60000)
	buckets := map[int64][]float64{}
	var order []int64
	for i := 0; i < out.NumRows(); i++ {
		tm := out.Column("_time")[i].I
		bucket := tm / windowMs * windowMs
		if _, ok := buckets[bucket]; !ok {
			order = append(order, bucket)
		}
		buckets[bucket] = append(buckets[bucket], float64(out.Column("v")[i].I))
	}
	require.Equal(t, []int64{0, 60000}, order)
	require.InDelta(t, 1.5, avg(buckets[0]), 1e-9)
	require.InDelta(t, 3.5, avg(buckets[60000]), 1e-9)
}

func avg(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
