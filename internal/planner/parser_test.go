package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOne(t *testing.T, src string) *Statement {
	t.Helper()
	p, err := NewParser(src)
	require.NoError(t, err)
	stmt, err := p.Parse()
	require.NoError(t, err)
	return stmt
}

func TestParseUseAndSet(t *testing.T) {
	stmt := parseOne(t, `USE DATABASE appdb`)
	require.NotNil(t, stmt.Use)
	assert.Equal(t, "DATABASE", stmt.Use.Kind)
	assert.Equal(t, "appdb", stmt.Use.Name)

	stmt = parseOne(t, `UNSET GRAPH`)
	require.NotNil(t, stmt.Use)
	assert.Equal(t, "UNSET_GRAPH", stmt.Use.Kind)

	stmt = parseOne(t, `SHOW CURRENT GRAPH`)
	require.NotNil(t, stmt.Use)
	assert.Equal(t, "SHOW_CURRENT_GRAPH", stmt.Use.Kind)

	stmt = parseOne(t, `SET vector.hnsw.M = 32`)
	require.NotNil(t, stmt.Set)
	assert.Equal(t, "vector.hnsw.M", stmt.Set.Knob)
	assert.Equal(t, float64(32), stmt.Set.Value)
}

func TestParseSimpleSelect(t *testing.T) {
	stmt := parseOne(t, `SELECT id, name AS n FROM events e WHERE e.id = 1 LIMIT 10`)
	sel := stmt.Select
	require.NotNil(t, sel)
	require.Len(t, sel.Items, 2)
	assert.Equal(t, "id", sel.Items[0].Expr.(ColumnRef).Name)
	assert.Equal(t, "n", sel.Items[1].Alias)
	require.NotNil(t, sel.From)
	assert.Equal(t, "events", sel.From.Name)
	assert.Equal(t, "e", sel.From.Alias)
	require.NotNil(t, sel.Where)
	assert.True(t, sel.HasLimit)
	assert.Equal(t, 10, sel.Limit)
}

func TestParseJoinAndWildcard(t *testing.T) {
	stmt := parseOne(t, `SELECT *, a.* FROM orders o JOIN customers c ON o.cust_id = c.id`)
	sel := stmt.Select
	require.Len(t, sel.Items, 2)
	assert.True(t, sel.Items[0].Wildcard)
	assert.Equal(t, "", sel.Items[0].WildcardFrom)
	assert.True(t, sel.Items[1].Wildcard)
	assert.Equal(t, "a", sel.Items[1].WildcardFrom)
	require.Len(t, sel.Joins, 1)
	assert.Equal(t, "INNER", sel.Joins[0].Kind)
	assert.Equal(t, "customers", sel.Joins[0].Table.Name)
}

func TestParseGroupByHavingOrderBy(t *testing.T) {
	stmt := parseOne(t, `SELECT dev, AVG(temp) FROM sensors GROUP BY dev HAVING AVG(temp) > 10 ORDER BY dev DESC`)
	sel := stmt.Select
	require.Len(t, sel.GroupBy, 1)
	require.NotNil(t, sel.Having)
	require.Len(t, sel.OrderBy, 1)
	assert.True(t, sel.OrderBy[0].Desc)
}

func TestParseByWindowAndRolling(t *testing.T) {
	stmt := parseOne(t, `SELECT dev FROM sensors BY 60000`)
	require.NotNil(t, stmt.Select.By)
	assert.Equal(t, int64(60000), stmt.Select.By.IntervalMs)
	assert.False(t, stmt.Select.By.Rolling)

	stmt = parseOne(t, `SELECT dev FROM sensors ROLLING BY 1000`)
	require.NotNil(t, stmt.Select.By)
	assert.True(t, stmt.Select.By.Rolling)

	stmt = parseOne(t, `SELECT dev FROM sensors BY SLICE USING LABELS(region) (0, 1000, region:='east')`)
	require.NotNil(t, stmt.Select.By)
	assert.True(t, stmt.Select.By.Slice)
	assert.Equal(t, []string{"region"}, stmt.Select.By.SliceLabels)
	iv, ok := stmt.Select.By.SliceAlgebra.(SliceInterval)
	require.True(t, ok)
	assert.Equal(t, int64(0), iv.Lo)
	assert.Equal(t, int64(1000), iv.Hi)
	assert.Equal(t, "east", iv.Labels["region"])
}

func TestParseAnnOrderBy(t *testing.T) {
	stmt := parseOne(t, `SELECT id FROM docs ORDER BY vec_l2(emb, (0.1, 0.2, 0.3)) USING ANN LIMIT 5`)
	sel := stmt.Select
	require.NotNil(t, sel.AnnOrder)
	assert.Equal(t, "emb", sel.AnnOrder.Column)
	assert.Equal(t, "L2", sel.AnnOrder.Metric)
	vec, ok := sel.AnnOrder.Query.(VectorLiteral)
	require.True(t, ok)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec.Values)
	assert.True(t, sel.AnnOrder.UsingANN)
	assert.Equal(t, 5, sel.Limit)
}

func TestParseAnnOrderByWithSubqueryAndSecondaryKey(t *testing.T) {
	stmt := parseOne(t, `WITH q AS (SELECT v FROM seed) SELECT id FROM docs ORDER BY cosine_sim(docs.emb,(SELECT v FROM q)) USING ANN, id DESC LIMIT 2`)
	sel := stmt.Select
	require.NotNil(t, sel.AnnOrder)
	assert.Equal(t, "docs.emb", sel.AnnOrder.Column)
	assert.Equal(t, "cosine", sel.AnnOrder.Metric)
	sub, ok := sel.AnnOrder.Query.(ScalarSubquery)
	require.True(t, ok)
	assert.Equal(t, "q", sub.Query.From.Name)
	require.Len(t, sel.OrderBy, 1)
	assert.True(t, sel.OrderBy[0].Desc)
}

func TestParseCTEAndUnion(t *testing.T) {
	stmt := parseOne(t, `WITH recent AS (SELECT id FROM events) SELECT id FROM recent UNION ALL SELECT id FROM archive`)
	sel := stmt.Select
	require.Len(t, sel.CTEs, 1)
	assert.Equal(t, "recent", sel.CTEs[0].Name)
	require.NotNil(t, sel.UnionNext)
	assert.True(t, sel.UnionAll)
}

func TestParseMatchClause(t *testing.T) {
	stmt := parseOne(t, `MATCH SHORTEST (s:N{key:'user:1'})-[:follows*1..2]->(t:N) RETURN t.key, hop ORDER BY hop, node_id`)
	sel := stmt.Select
	require.NotNil(t, sel.Match)
	assert.True(t, sel.Match.Shortest)
	assert.Equal(t, "s", sel.Match.StartAlias)
	assert.Equal(t, "N", sel.Match.StartLabel)
	assert.Equal(t, "user:1", sel.Match.StartKey)
	assert.Equal(t, "follows", sel.Match.EdgeType)
	assert.Equal(t, 1, sel.Match.MinHops)
	assert.Equal(t, 2, sel.Match.MaxHops)
	assert.Equal(t, "t", sel.Match.EndAlias)
	assert.Equal(t, "N", sel.Match.EndLabel)
	require.Len(t, sel.Items, 2)
	assert.Equal(t, ColumnRef{Name: "node_id"}, sel.Items[0].Expr)
	assert.Equal(t, ColumnRef{Name: "hop"}, sel.Items[1].Expr)
	require.Len(t, sel.OrderBy, 2)
}

func TestParseIntoClause(t *testing.T) {
	stmt := parseOne(t, `SELECT id FROM events INTO archive`)
	assert.Equal(t, "archive", stmt.Select.Into)
	assert.False(t, stmt.Select.IntoReplace)

	stmt = parseOne(t, `SELECT id FROM events INTO archive APPEND`)
	assert.Equal(t, "archive", stmt.Select.Into)
	assert.False(t, stmt.Select.IntoReplace)

	stmt = parseOne(t, `SELECT id FROM events INTO snapshot REPLACE`)
	assert.Equal(t, "snapshot", stmt.Select.Into)
	assert.True(t, stmt.Select.IntoReplace)
}

func TestParseExpressionPrecedence(t *testing.T) {
	stmt := parseOne(t, `SELECT id FROM t WHERE a = 1 AND b = 2 OR NOT c = 3`)
	where := stmt.Select.Where
	or, ok := where.(BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "OR", or.Op)
	and, ok := or.Left.(BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "AND", and.Op)
	_, ok = or.Right.(UnaryExpr)
	require.True(t, ok)
}

func TestParseDistinctAndFuncCall(t *testing.T) {
	stmt := parseOne(t, `SELECT DISTINCT COUNT(DISTINCT id) FROM events`)
	sel := stmt.Select
	assert.True(t, sel.Distinct)
	fc, ok := sel.Items[0].Expr.(FuncCall)
	require.True(t, ok)
	assert.Equal(t, "COUNT", fc.Name)
	assert.True(t, fc.Distinct)
}

func TestParseCreateTable(t *testing.T) {
	stmt := parseOne(t, `CREATE TABLE IF NOT EXISTS widgets (id string, score float64, tags vector(8), PRIMARY KEY(id))`)
	require.NotNil(t, stmt.CreateTable)
	ct := stmt.CreateTable
	assert.True(t, ct.IfNotExists)
	assert.False(t, ct.Time)
	assert.Equal(t, "widgets", ct.Name)
	require.Len(t, ct.Columns, 3)
	assert.Equal(t, ColumnDef{Name: "id", Type: "string"}, ct.Columns[0])
	assert.Equal(t, ColumnDef{Name: "score", Type: "float64"}, ct.Columns[1])
	assert.Equal(t, ColumnDef{Name: "tags", Type: "vector(8)"}, ct.Columns[2])
	assert.Equal(t, []string{"id"}, ct.Primary)
}

func TestParseCreateTimeTable(t *testing.T) {
	stmt := parseOne(t, `CREATE TIME TABLE readings (sensor string, value float64)`)
	require.NotNil(t, stmt.CreateTable)
	assert.True(t, stmt.CreateTable.Time)
	assert.Equal(t, "readings", stmt.CreateTable.Name)
}

func TestParseCreateView(t *testing.T) {
	stmt := parseOne(t, `CREATE VIEW recent AS SELECT id FROM events WHERE id > 10`)
	require.NotNil(t, stmt.CreateView)
	assert.Equal(t, "recent", stmt.CreateView.Name)
	assert.Equal(t, "SELECT id FROM events WHERE id > 10", stmt.CreateView.DefinitionSQL)
}

func TestParseCreateIndexWithOptions(t *testing.T) {
	stmt := parseOne(t, `CREATE INDEX docs_vec ON docs(embedding) USING HNSW (METRIC=ip, DIM=16, M=32, EF_BUILD=400, EF_SEARCH=128, MODE=immediate)`)
	require.NotNil(t, stmt.CreateIndex)
	ci := stmt.CreateIndex
	assert.Equal(t, "docs_vec", ci.Name)
	assert.Equal(t, "docs", ci.Table)
	assert.Equal(t, "embedding", ci.Column)
	assert.Equal(t, "IP", ci.Metric)
	assert.Equal(t, 16, ci.Dim)
	assert.Equal(t, 32, ci.M)
	assert.Equal(t, 400, ci.EfBuild)
	assert.Equal(t, 128, ci.EfSearch)
	assert.Equal(t, "IMMEDIATE", ci.Mode)
}

func TestParseCreateIndexDefaults(t *testing.T) {
	stmt := parseOne(t, `CREATE INDEX docs_vec ON docs(embedding)`)
	require.NotNil(t, stmt.CreateIndex)
	ci := stmt.CreateIndex
	assert.Equal(t, "L2", ci.Metric)
	assert.Equal(t, 16, ci.M)
	assert.Equal(t, 200, ci.EfBuild)
	assert.Equal(t, 64, ci.EfSearch)
	assert.Equal(t, "REBUILD_ONLY", ci.Mode)
}

func TestParseCreateGraph(t *testing.T) {
	stmt := parseOne(t, `CREATE GRAPH social PARTITIONS 4`)
	require.NotNil(t, stmt.CreateGraph)
	assert.Equal(t, "social", stmt.CreateGraph.Name)
	assert.Equal(t, 4, stmt.CreateGraph.Partitions)

	stmt = parseOne(t, `CREATE GRAPH social`)
	assert.Equal(t, 8, stmt.CreateGraph.Partitions)
}

func TestParseDrop(t *testing.T) {
	stmt := parseOne(t, `DROP TABLE widgets`)
	require.NotNil(t, stmt.Drop)
	assert.Equal(t, "TABLE", stmt.Drop.Kind)
	assert.Equal(t, "widgets", stmt.Drop.Name)
	assert.False(t, stmt.Drop.IfExists)

	stmt = parseOne(t, `DROP VIEW IF EXISTS recent`)
	assert.Equal(t, "VIEW", stmt.Drop.Kind)
	assert.True(t, stmt.Drop.IfExists)

	stmt = parseOne(t, `DROP INDEX IF EXISTS docs_vec`)
	assert.Equal(t, "INDEX", stmt.Drop.Kind)

	stmt = parseOne(t, `DROP GRAPH social`)
	assert.Equal(t, "GRAPH", stmt.Drop.Kind)
}
