package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clarium/internal/apperror"
	"clarium/internal/config"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Root = t.TempDir()
	eng := New(cfg, func() int64 { return 1000 })
	sessID := "s1"
	eng.OpenSession(sessID, "tester")
	return eng, sessID
}

func TestEngineCreateTableThenDrop(t *testing.T) {
	eng, sess := newTestEngine(t)

	_, aerr := eng.Execute(sess, "CREATE TABLE widgets (id string, score float64)")
	require.Nil(t, aerr)

	_, aerr = eng.Execute(sess, "CREATE TABLE widgets (id string)")
	require.NotNil(t, aerr)
	assert.Equal(t, apperror.KindDdl, aerr.Kind)

	_, aerr = eng.Execute(sess, "CREATE TABLE IF NOT EXISTS widgets (id string)")
	assert.Nil(t, aerr)

	_, aerr = eng.Execute(sess, "DROP TABLE widgets")
	require.Nil(t, aerr)

	_, aerr = eng.Execute(sess, "DROP TABLE widgets")
	require.NotNil(t, aerr)
	assert.Equal(t, apperror.KindNotFound, aerr.Kind)

	_, aerr = eng.Execute(sess, "DROP TABLE IF EXISTS widgets")
	assert.Nil(t, aerr)
}

func TestEngineCreateTimeTableRejectsDuplicateAcrossKinds(t *testing.T) {
	eng, sess := newTestEngine(t)

	_, aerr := eng.Execute(sess, "CREATE TIME TABLE readings (sensor string, value float64)")
	require.Nil(t, aerr)

	_, aerr = eng.Execute(sess, "CREATE TABLE readings (sensor string)")
	require.NotNil(t, aerr)
	assert.Equal(t, apperror.KindDdl, aerr.Kind)
}

func TestEngineCreateViewLifecycle(t *testing.T) {
	eng, sess := newTestEngine(t)

	_, aerr := eng.Execute(sess, "CREATE VIEW widget_names AS SELECT 1")
	require.Nil(t, aerr)

	_, aerr = eng.Execute(sess, "CREATE VIEW widget_names AS SELECT 1")
	require.NotNil(t, aerr)
	assert.Equal(t, apperror.KindDdl, aerr.Kind)

	_, aerr = eng.Execute(sess, "DROP VIEW widget_names")
	require.Nil(t, aerr)
}

func TestEngineCreateIndexLifecycle(t *testing.T) {
	eng, sess := newTestEngine(t)

	_, aerr := eng.Execute(sess, "CREATE TABLE docs (id string, embedding vector(4))")
	require.Nil(t, aerr)

	_, aerr = eng.Execute(sess, "CREATE INDEX docs_embedding ON docs(embedding) USING HNSW (METRIC=l2, DIM=4)")
	require.Nil(t, aerr)

	_, aerr = eng.Execute(sess, "CREATE INDEX docs_embedding ON docs(embedding) USING HNSW (DIM=4)")
	require.NotNil(t, aerr)
	assert.Equal(t, apperror.KindDdl, aerr.Kind)

	_, aerr = eng.Execute(sess, "DROP INDEX docs_embedding")
	require.Nil(t, aerr)

	_, aerr = eng.Execute(sess, "DROP INDEX docs_embedding")
	require.NotNil(t, aerr)

	_, aerr = eng.Execute(sess, "DROP INDEX IF EXISTS docs_embedding")
	assert.Nil(t, aerr)
}

func TestEngineCreateGraphLifecycle(t *testing.T) {
	eng, sess := newTestEngine(t)

	_, aerr := eng.Execute(sess, "CREATE GRAPH social PARTITIONS 4")
	require.Nil(t, aerr)

	_, aerr = eng.Execute(sess, "CREATE GRAPH social PARTITIONS 4")
	require.NotNil(t, aerr)
	assert.Equal(t, apperror.KindDdl, aerr.Kind)

	_, aerr = eng.Execute(sess, "USE GRAPH social")
	require.Nil(t, aerr)

	rs, aerr := eng.Execute(sess, "SHOW CURRENT GRAPH")
	require.Nil(t, aerr)
	require.Equal(t, 1, rs.NumRows())
	assert.Equal(t, "social", rs.Rows[0][0].S)

	_, aerr = eng.Execute(sess, "UNSET GRAPH")
	require.Nil(t, aerr)

	rs, aerr = eng.Execute(sess, "SHOW CURRENT GRAPH")
	require.Nil(t, aerr)
	assert.Equal(t, 0, rs.NumRows())

	_, aerr = eng.Execute(sess, "DROP GRAPH social")
	require.Nil(t, aerr)
}

func TestEngineUseAndSet(t *testing.T) {
	eng, sess := newTestEngine(t)

	_, aerr := eng.Execute(sess, "USE DATABASE analytics")
	require.Nil(t, aerr)

	_, aerr = eng.Execute(sess, "USE SCHEMA reporting")
	require.Nil(t, aerr)

	s, err := eng.Sessions.Get(sess)
	require.NoError(t, err)
	assert.Equal(t, "analytics", s.CurrentDB)
	assert.Equal(t, "reporting", s.CurrentSchema)

	_, aerr = eng.Execute(sess, "SET vector.search.ef_search = 128")
	require.Nil(t, aerr)
	assert.Equal(t, 128, s.Tuning.VectorSearchEfSearch)
}

func TestEngineSelectFromMissingTableFails(t *testing.T) {
	eng, sess := newTestEngine(t)

	_, aerr := eng.Execute(sess, "SELECT * FROM ghosts")
	require.NotNil(t, aerr)
	assert.Equal(t, apperror.KindNotFound, aerr.Kind)
}

func TestEngineUnknownSessionFails(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, aerr := eng.Execute("no-such-session", "SELECT 1")
	require.NotNil(t, aerr)
}
