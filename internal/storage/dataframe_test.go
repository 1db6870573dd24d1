package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clarium/pkg/types"
)

func TestDataFrameAppendAndColumns(t *testing.T) {
	df := NewDataFrame()
	df.AppendRow(map[string]types.Value{"a": types.Int64(1), "b": types.Str("x")})
	df.AppendRow(map[string]types.Value{"a": types.Int64(2)})

	require.Equal(t, 2, df.NumRows())
	assert.Equal(t, []string{"a", "b"}, df.ColumnNames())
	assert.Equal(t, types.Int64(1), df.Column("a")[0])
	assert.True(t, df.Column("b")[1].IsNull())
}

func TestDataFrameFilter(t *testing.T) {
	df := NewDataFrame()
	for i := int64(0); i < 5; i++ {
		df.AppendRow(map[string]types.Value{"n": types.Int64(i)})
	}
	out := df.Filter([]bool{true, false, true, false, true})
	require.Equal(t, 3, out.NumRows())
	assert.Equal(t, types.Int64(0), out.Column("n")[0])
	assert.Equal(t, types.Int64(2), out.Column("n")[1])
	assert.Equal(t, types.Int64(4), out.Column("n")[2])
}

func TestDataFrameSelectAndRename(t *testing.T) {
	df := NewDataFrame()
	df.AppendRow(map[string]types.Value{"a": types.Int64(1), "b": types.Int64(2)})
	out := df.Select([]string{"b"})
	assert.Equal(t, []string{"b"}, out.ColumnNames())
	assert.False(t, out.HasColumn("a"))

	df.Rename("a", "aa")
	assert.True(t, df.HasColumn("aa"))
	assert.False(t, df.HasColumn("a"))
}

func TestDataFrameStackUnionsColumnsWithNull(t *testing.T) {
	left := NewDataFrame()
	left.AppendRow(map[string]types.Value{"a": types.Int64(1)})
	right := NewDataFrame()
	right.AppendRow(map[string]types.Value{"b": types.Str("y")})

	out := left.Stack(right)
	require.Equal(t, 2, out.NumRows())
	assert.True(t, out.Column("b")[0].IsNull())
	assert.True(t, out.Column("a")[1].IsNull())
}

func TestDataFrameSortByStable(t *testing.T) {
	df := NewDataFrame()
	df.AppendRow(map[string]types.Value{"k": types.Int64(2), "tag": types.Str("first")})
	df.AppendRow(map[string]types.Value{"k": types.Int64(1), "tag": types.Str("second")})
	df.AppendRow(map[string]types.Value{"k": types.Int64(1), "tag": types.Str("third")})

	df.SortBy([]string{"k"}, []bool{false}, func(a, b types.Value) int {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	})

	assert.Equal(t, types.Str("second"), df.Column("tag")[0])
	assert.Equal(t, types.Str("third"), df.Column("tag")[1])
	assert.Equal(t, types.Str("first"), df.Column("tag")[2])
}

func TestDataFrameLimitPositiveNegativeZero(t *testing.T) {
	df := NewDataFrame()
	for i := int64(0); i < 5; i++ {
		df.AppendRow(map[string]types.Value{"n": types.Int64(i)})
	}
	assert.Equal(t, 3, df.Limit(3).NumRows())
	assert.Equal(t, 0, df.Limit(0).NumRows())
	last2 := df.Limit(-2)
	require.Equal(t, 2, last2.NumRows())
	assert.Equal(t, types.Int64(3), last2.Column("n")[0])
	assert.Equal(t, types.Int64(4), last2.Column("n")[1])
}

func TestDataFrameDropColumns(t *testing.T) {
	df := NewDataFrame()
	df.AppendRow(map[string]types.Value{"a": types.Int64(1), "__tmp": types.Int64(2)})
	df.DropColumns("__tmp")
	assert.False(t, df.HasColumn("__tmp"))
	assert.True(t, df.HasColumn("a"))
}
