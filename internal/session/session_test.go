package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"clarium/internal/apperror"
	"clarium/internal/storage"
	"clarium/pkg/types"
)

func TestManagerOpenReusesSession(t *testing.T) {
	m := NewManager()
	s1 := m.Open("conn1", "appdb", "public", "alice")
	s2 := m.Open("conn1", "ignored", "ignored", "ignored")
	require.Same(t, s1, s2)
	require.Equal(t, "appdb", s2.CurrentDB)
}

func TestUseAndUnsetGraph(t *testing.T) {
	s := &Session{Tuning: DefaultTuningConfig()}
	_, ok := s.ShowCurrentGraph()
	require.False(t, ok)

	s.UseGraph("social")
	g, ok := s.ShowCurrentGraph()
	require.True(t, ok)
	require.Equal(t, "social", g)

	s.UnsetGraph()
	_, ok = s.ShowCurrentGraph()
	require.False(t, ok)
}

func TestSetKnobTypedAndRejectsUnknown(t *testing.T) {
	s := &Session{Tuning: DefaultTuningConfig()}

	require.NoError(t, s.SetKnob("vector.hnsw.M", "32"))
	require.Equal(t, 32, s.Tuning.HnswM)

	require.NoError(t, s.SetKnob("strict_projection", true))
	require.True(t, s.Tuning.StrictProjection)

	err := s.SetKnob("not.a.knob", 1)
	require.Error(t, err)
	ae, ok := apperror.As(err)
	require.True(t, ok)
	require.Equal(t, apperror.KindUserInput, ae.Kind)
}

func TestQualifyUsesSessionDefaults(t *testing.T) {
	s := &Session{CurrentDB: "appdb", CurrentSchema: "public"}
	db, schema, obj, err := s.Qualify("", "", "events")
	require.NoError(t, err)
	require.Equal(t, "appdb", db)
	require.Equal(t, "public", schema)
	require.Equal(t, "events", obj)

	db, schema, obj, err = s.Qualify("other", "sch", "t")
	require.NoError(t, err)
	require.Equal(t, "other", db)
	require.Equal(t, "sch", schema)
	require.Equal(t, "t", obj)
}

func TestCatalogRegisterAndMaterialize(t *testing.T) {
	cat := NewCatalog("appdb")
	cols := []CatalogColumn{
		{Name: "id", Type: storage.ColumnType{Kind: types.KindInt64}},
		{Name: "emb", Type: storage.ColumnType{Kind: types.KindListFloat64, VectorDim: 3}},
	}
	tableOID := cat.RegisterTable("public", "docs", cols)
	require.GreaterOrEqual(t, tableOID, uint32(100000))

	viewOID := cat.RegisterView("public", "docs_v", "SELECT id FROM docs", cols[:1])
	def, err := cat.PgGetViewDef(viewOID)
	require.NoError(t, err)
	require.Equal(t, "SELECT id FROM docs", def)

	tables := cat.Tables()
	require.Len(t, tables, 2)
	require.Equal(t, "docs", tables[0].TableName)
	require.Equal(t, "BASE TABLE", tables[0].TableType)
	require.Equal(t, "docs_v", tables[1].TableName)
	require.Equal(t, "VIEW", tables[1].TableType)

	cols2 := cat.Columns()
	require.NotEmpty(t, cols2)
	schemas := cat.Schemata()
	require.Len(t, schemas, 1)
	require.Equal(t, "public", schemas[0].SchemaName)
}

func TestCatalogRegisterTableIsIdempotent(t *testing.T) {
	cat := NewCatalog("appdb")
	cols := []CatalogColumn{{Name: "id", Type: storage.ColumnType{Kind: types.KindInt64}}}
	oid1 := cat.RegisterTable("public", "docs", cols)
	oid2 := cat.RegisterTable("public", "docs", cols)
	require.Equal(t, oid1, oid2)
}
