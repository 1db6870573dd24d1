package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clarium/internal/apperror"
	"clarium/internal/planner"
	"clarium/internal/storage"
	"clarium/internal/vectorindex"
	"clarium/pkg/types"
)

type memStore struct {
	tables map[string]*storage.DataFrame
	times  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{tables: map[string]*storage.DataFrame{}, times: map[string]bool{}}
}

func (m *memStore) put(name string, df *storage.DataFrame, isTime bool) {
	m.tables[name] = df
	m.times[name] = isTime
}

func (m *memStore) ScanTable(db, schema, table string) (*storage.DataFrame, error) {
	df, ok := m.tables[table]
	if !ok {
		return nil, apperror.NotFound("unknown_table", "no such table %q", table)
	}
	return df.Clone(), nil
}

func (m *memStore) AppendInto(db, schema, table string, df *storage.DataFrame, now int64) error {
	existing, ok := m.tables[table]
	if !ok {
		m.tables[table] = df.Clone()
		return nil
	}
	m.tables[table] = existing.Stack(df)
	return nil
}

func (m *memStore) ReplaceInto(db, schema, table string, df *storage.DataFrame, now int64) error {
	m.tables[table] = df.Clone()
	return nil
}

func (m *memStore) IsTimeTable(db, schema, table string) (bool, error) {
	return m.times[table], nil
}

func (m *memStore) VectorIndexFor(db, schema, table, column string) (*vectorindex.Index, error) {
	return nil, apperror.NotFound("no_index", "no vector index configured in this test store")
}

type fakeScope struct{ db, schema string }

func (f fakeScope) Qualify(db, schema, obj string) (string, string, string, error) {
	if db == "" {
		db = f.db
	}
	if schema == "" {
		schema = f.schema
	}
	return db, schema, obj, nil
}

func (f fakeScope) VectorTuning() (int, float64) { return 64, 2.0 }

type fakeCatalog struct{ cols map[string][]string }

func (f fakeCatalog) ColumnsOf(db, schema, table string) ([]string, error) {
	cols, ok := f.cols[table]
	if !ok {
		return nil, apperror.NotFound("unknown_table", "no such table %q", table)
	}
	return cols, nil
}

func eventsFrame() *storage.DataFrame {
	df := storage.NewDataFrame()
	df.AddColumn("id", storage.ColumnType{Kind: types.KindInt64})
	df.AddColumn("name", storage.ColumnType{Kind: types.KindString})
	df.AddColumn("_time", storage.ColumnType{Kind: types.KindInt64})
	for i, n := range []string{"a", "b", "c"} {
		df.AppendRow(map[string]types.Value{
			"id":    types.Int64(int64(i + 1)),
			"name":  types.Str(n),
			"_time": types.Int64(int64(i) * 1000),
		})
	}
	return df
}

func newTestEngine(store *memStore) (planner.SessionScope, planner.CatalogLookup, *Executor) {
	scope := fakeScope{"appdb", "public"}
	cat := fakeCatalog{cols: map[string][]string{
		"events":    {"id", "name", "_time"},
		"customers": {"id", "name"},
		"orders":    {"id", "cust_id", "total"},
		"sensors":   {"dev", "temp", "_time"},
	}}
	exec := NewExecutor(store, nil, func() int64 { return 9999 }, "appdb", "public")
	return scope, cat, exec
}

func TestExecSimpleScanFilterProjectLimit(t *testing.T) {
	store := newMemStore()
	store.put("events", eventsFrame(), true)
	scope, cat, ex := newTestEngine(store)

	plan, err := planner.Build(`SELECT id, name FROM events WHERE id >= 2 ORDER BY id LIMIT 5`, scope, cat)
	require.NoError(t, err)

	out, err := ex.Run(plan)
	require.NoError(t, err)
	require.Equal(t, 2, out.NumRows())
	assert.Equal(t, []string{"id", "name"}, out.ColumnNames())
	assert.Equal(t, int64(2), out.Column("id")[0].I)
	assert.Equal(t, int64(3), out.Column("id")[1].I)
}

func TestExecWildcardProjection(t *testing.T) {
	store := newMemStore()
	store.put("events", eventsFrame(), true)
	scope, cat, ex := newTestEngine(store)

	plan, err := planner.Build(`SELECT * FROM events`, scope, cat)
	require.NoError(t, err)
	out, err := ex.Run(plan)
	require.NoError(t, err)
	require.Equal(t, 3, out.NumRows())
	assert.ElementsMatch(t, []string{"id", "name", "_time"}, out.ColumnNames())
}

func TestExecJoin(t *testing.T) {
	store := newMemStore()
	orders := storage.NewDataFrame()
	orders.AddColumn("id", storage.ColumnType{Kind: types.KindInt64})
	orders.AddColumn("cust_id", storage.ColumnType{Kind: types.KindInt64})
	orders.AppendRow(map[string]types.Value{"id": types.Int64(1), "cust_id": types.Int64(100)})
	orders.AppendRow(map[string]types.Value{"id": types.Int64(2), "cust_id": types.Int64(200)})
	store.put("orders", orders, false)

	customers := storage.NewDataFrame()
	customers.AddColumn("id", storage.ColumnType{Kind: types.KindInt64})
	customers.AddColumn("name", storage.ColumnType{Kind: types.KindString})
	customers.AppendRow(map[string]types.Value{"id": types.Int64(100), "name": types.Str("acme")})
	store.put("customers", customers, false)

	scope, cat, ex := newTestEngine(store)
	plan, err := planner.Build(`SELECT o.id, c.name FROM orders o JOIN customers c ON o.cust_id = c.id`, scope, cat)
	require.NoError(t, err)
	out, err := ex.Run(plan)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	assert.Equal(t, "acme", out.Column("name")[0].S)
}

func TestExecGroupByAggregate(t *testing.T) {
	store := newMemStore()
	sensors := storage.NewDataFrame()
	sensors.AddColumn("dev", storage.ColumnType{Kind: types.KindString})
	sensors.AddColumn("temp", storage.ColumnType{Kind: types.KindFloat64})
	for _, row := range []struct {
		dev  string
		temp float64
	}{{"d1", 10}, {"d1", 20}, {"d2", 5}} {
		sensors.AppendRow(map[string]types.Value{"dev": types.Str(row.dev), "temp": types.Float64(row.temp)})
	}
	store.put("sensors", sensors, false)

	scope, cat, ex := newTestEngine(store)
	plan, err := planner.Build(`SELECT dev, AVG(temp) FROM sensors GROUP BY dev`, scope, cat)
	require.NoError(t, err)
	out, err := ex.Run(plan)
	require.NoError(t, err)
	require.Equal(t, 2, out.NumRows())
}

func TestExecIntoAppendsDestination(t *testing.T) {
	store := newMemStore()
	store.put("events", eventsFrame(), true)
	scope, cat, ex := newTestEngine(store)

	plan, err := planner.Build(`SELECT id, name, _time FROM events INTO archive`, scope, cat)
	require.NoError(t, err)
	_, err = ex.Run(plan)
	require.NoError(t, err)

	archived, ok := store.tables["archive"]
	require.True(t, ok)
	assert.Equal(t, 3, archived.NumRows())
}

func TestExecLimitNegativeReturnsLastRows(t *testing.T) {
	store := newMemStore()
	store.put("events", eventsFrame(), true)
	scope, cat, ex := newTestEngine(store)

	plan, err := planner.Build(`SELECT id FROM events ORDER BY id LIMIT -1`, scope, cat)
	require.NoError(t, err)
	out, err := ex.Run(plan)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	assert.Equal(t, int64(3), out.Column("id")[0].I)
}

func TestExecAnnOrderExactPathWithSecondaryKey(t *testing.T) {
	store := newMemStore()
	docs := storage.NewDataFrame()
	docs.AddColumn("id", storage.ColumnType{Kind: types.KindInt64})
	docs.AddColumn("emb", storage.ColumnType{Kind: types.KindListFloat64})
	rows := []struct {
		id  int64
		emb []float64
	}{
		{3, []float64{1, 0}},
		{1, []float64{1, 0}}, // ties emb distance with id 3; id ASC breaks the tie
		{2, []float64{5, 0}},
	}
	for _, r := range rows {
		docs.AppendRow(map[string]types.Value{"id": types.Int64(r.id), "emb": types.ListFloat64(r.emb)})
	}
	store.put("docs", docs, false)
	cat := fakeCatalog{cols: map[string][]string{"docs": {"id", "emb"}}}
	scope := fakeScope{"appdb", "public"}
	ex := NewExecutor(store, nil, func() int64 { return 0 }, "appdb", "public")

	plan, err := planner.Build(`SELECT id FROM docs ORDER BY vec_l2(emb, (0,0)) USING ANN, id ASC LIMIT 2`, scope, cat)
	require.NoError(t, err)
	out, err := ex.Run(plan)
	require.NoError(t, err)
	require.Equal(t, 2, out.NumRows())
	assert.Equal(t, []string{"id"}, out.ColumnNames())
	assert.Equal(t, int64(1), out.Column("id")[0].I)
	assert.Equal(t, int64(3), out.Column("id")[1].I)
}

func TestExecSliceUnionCoalescesOverlapWithLeftLabelPrecedence(t *testing.T) {
	store := newMemStore()
	sensors := storage.NewDataFrame()
	sensors.AddColumn("dev", storage.ColumnType{Kind: types.KindString})
	sensors.AddColumn("_time", storage.ColumnType{Kind: types.KindInt64})
	for _, row := range []struct {
		dev string
		t   int64
	}{{"d1", 100}, {"d1", 700}, {"d1", 2000}} {
		sensors.AppendRow(map[string]types.Value{"dev": types.Str(row.dev), "_time": types.Int64(row.t)})
	}
	store.put("sensors", sensors, false)
	cat := fakeCatalog{cols: map[string][]string{"sensors": {"dev", "_time"}}}
	scope := fakeScope{"appdb", "public"}
	ex := NewExecutor(store, nil, func() int64 { return 0 }, "appdb", "public")

	plan, err := planner.Build(
		`SELECT dev, region FROM sensors BY SLICE USING LABELS(region) (0,1000,region:='east') UNION (500,1500,region:='west')`,
		scope, cat)
	require.NoError(t, err)
	out, err := ex.Run(plan)
	require.NoError(t, err)
	require.Equal(t, 3, out.NumRows())
	assert.Equal(t, "east", out.Column("region")[0].S) // t=100, inside the coalesced [0,1500) interval, LHS label wins
	assert.Equal(t, "east", out.Column("region")[1].S) // t=700, same coalesced interval
	assert.Equal(t, "", out.Column("region")[2].S)     // t=2000, outside both intervals
}

func TestExecUnionDedupesRows(t *testing.T) {
	store := newMemStore()
	store.put("events", eventsFrame(), true)
	scope, cat, ex := newTestEngine(store)

	plan, err := planner.Build(`SELECT id FROM events WHERE id = 1 UNION SELECT id FROM events WHERE id = 1`, scope, cat)
	require.NoError(t, err)
	out, err := ex.Run(plan)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
}
