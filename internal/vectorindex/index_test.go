package vectorindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"clarium/internal/storage"
	"clarium/pkg/types"
)

func buildDocsFrame() *storage.DataFrame {
	df := storage.NewDataFrame()
	df.AppendRow(map[string]types.Value{"id": types.Str("d0"), "vec": types.ListFloat64([]float64{0.1, 0, 0})})
	df.AppendRow(map[string]types.Value{"id": types.Str("d1"), "vec": types.ListFloat64([]float64{0.09, 0.02, 0})})
	df.AppendRow(map[string]types.Value{"id": types.Str("d2"), "vec": types.ListFloat64([]float64{0.5, 0.4, 0.2})})
	return df
}

func TestANNMatchesExactOnSmallN(t *testing.T) {
	dir := t.TempDir()
	layout := storage.NewLayout(dir)
	require.NoError(t, storage.EnsureDir(layout.SchemaDir("main", "public")))

	ix := Open(layout, "main", "public", "docvec")
	require.NoError(t, ix.Create("docs", "vec", MetricL2, 3, DefaultParams(), ModeRebuildOnly))

	df := buildDocsFrame()
	require.NoError(t, ix.Build(df, 5, 1000))

	query := []float64{0.09, 0.01, 0}
	annResults, err := ix.Search(query, 2, 64)
	require.NoError(t, err)
	require.Len(t, annResults, 2)

	exactResults := ExactSearch(df, "vec", query, MetricL2, 2)
	require.Len(t, exactResults, 2)

	require.Equal(t, exactResults[0].RowID, annResults[0].RowID)
	require.Equal(t, exactResults[1].RowID, annResults[1].RowID)
	// d1 (row 1) is closest to the query, d0 (row 0) next, per scenario S3.
	require.Equal(t, uint64(1), annResults[0].RowID)
	require.Equal(t, uint64(0), annResults[1].RowID)
}

func TestDropRemovesBothFiles(t *testing.T) {
	dir := t.TempDir()
	layout := storage.NewLayout(dir)
	require.NoError(t, storage.EnsureDir(layout.SchemaDir("main", "public")))
	ix := Open(layout, "main", "public", "docvec")
	require.NoError(t, ix.Create("docs", "vec", MetricL2, 3, DefaultParams(), ModeRebuildOnly))
	require.NoError(t, ix.Build(buildDocsFrame(), 1, 1))

	require.NoError(t, ix.Drop())
	require.NoFileExists(t, filepath.Join(dir, "main", "public", "docvec.vindex"))
	require.NoFileExists(t, filepath.Join(dir, "main", "public", "docvec.vdata"))
}

func TestCosineZeroVectorIsNull(t *testing.T) {
	s, ok := scoreVectors(MetricCosine, []float64{0, 0, 0}, []float64{1, 0, 0})
	require.False(t, ok)
	require.Equal(t, 0.0, s)
}
