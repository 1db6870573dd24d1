package storage

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clarium/pkg/types"
)

func TestColumnTypeRoundTrip(t *testing.T) {
	for _, s := range []string{"string", "int64", "float64", "bool", "vector(128)"} {
		ct, err := ParseColumnType(s)
		require.NoError(t, err)
		assert.Equal(t, s, ct.String())
	}
	_, err := ParseColumnType("nonsense")
	assert.Error(t, err)
}

func TestSchemaWidenFollowsLattice(t *testing.T) {
	s := NewSchema()
	s.AddColumn("x", ColumnType{Kind: types.KindInt64})
	s.Widen("x", ColumnType{Kind: types.KindFloat64})
	assert.Equal(t, types.KindFloat64, s.Types["x"].Kind)

	s.Widen("x", ColumnType{Kind: types.KindString})
	assert.Equal(t, types.KindString, s.Types["x"].Kind)
}

func TestSchemaWidenNeverChangesVectorColumns(t *testing.T) {
	s := NewSchema()
	s.AddColumn("v", ColumnType{Kind: types.KindListFloat64, VectorDim: 4})
	s.Widen("v", ColumnType{Kind: types.KindString})
	assert.Equal(t, types.KindListFloat64, s.Types["v"].Kind)
	assert.Equal(t, 4, s.Types["v"].VectorDim)
}

func TestSchemaJSONRoundTrip(t *testing.T) {
	s := NewSchema()
	s.AddColumn("id", ColumnType{Kind: types.KindInt64})
	s.AddColumn("name", ColumnType{Kind: types.KindString})
	s.Primary = []string{"id"}
	s.ClassOID = 16412

	data, err := json.Marshal(s)
	require.NoError(t, err)

	got := NewSchema()
	require.NoError(t, json.Unmarshal(data, got))
	assert.ElementsMatch(t, []string{"id", "name"}, got.Columns)
	assert.Equal(t, types.KindInt64, got.Types["id"].Kind)
	assert.Equal(t, []string{"id"}, got.Primary)
	assert.Equal(t, int64(16412), got.ClassOID)
}

func TestSchemaSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewSchema()
	s.AddColumn("v", ColumnType{Kind: types.KindListFloat64, VectorDim: 8})

	path := filepath.Join(dir, "schema.json")
	require.NoError(t, s.Save(path))

	loaded, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.Types["v"].VectorDim)
}

func TestLoadSchemaMissingFileIsNotFound(t *testing.T) {
	_, err := LoadSchema(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
