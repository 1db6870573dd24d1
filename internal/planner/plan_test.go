package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clarium/internal/apperror"
)

type fakeScope struct{ db, schema string }

func (f fakeScope) Qualify(db, schema, obj string) (string, string, string, error) {
	if db == "" {
		db = f.db
	}
	if schema == "" {
		schema = f.schema
	}
	if db == "" || schema == "" {
		return "", "", "", apperror.Exec("no_default_scope", "no default database/schema set")
	}
	return db, schema, obj, nil
}

func (f fakeScope) VectorTuning() (int, float64) { return 64, 2.0 }

type fakeCatalog struct {
	cols map[string][]string
}

func (f fakeCatalog) ColumnsOf(db, schema, table string) ([]string, error) {
	cols, ok := f.cols[table]
	if !ok {
		return nil, apperror.NotFound("unknown_table", "no such table %q", table)
	}
	return cols, nil
}

func newTestCatalog() fakeCatalog {
	return fakeCatalog{cols: map[string][]string{
		"events":    {"id", "name", "_time"},
		"orders":    {"id", "cust_id", "total"},
		"customers": {"id", "name"},
		"sensors":   {"dev", "temp", "_time"},
	}}
}

func TestBuildSimpleScanPlan(t *testing.T) {
	plan, err := Build(`SELECT id, name FROM events WHERE id = 1 LIMIT 5`, fakeScope{"appdb", "public"}, newTestCatalog())
	require.NoError(t, err)
	filter, ok := plan.Root.(*FilterNode)
	require.True(t, ok)
	scan, ok := filter.Input.(*ScanNode)
	require.True(t, ok)
	assert.Equal(t, "appdb", scan.DB)
	assert.Equal(t, "public", scan.Schema)
	assert.Equal(t, "events", scan.Table)
	require.Len(t, plan.Projection.FinalOrder, 2)
	assert.True(t, plan.HasLimit)
	assert.Equal(t, 5, plan.Limit)
}

func TestBuildWildcardExpansion(t *testing.T) {
	plan, err := Build(`SELECT * FROM events`, fakeScope{"appdb", "public"}, newTestCatalog())
	require.NoError(t, err)
	names := make([]string, 0, len(plan.Projection.FinalOrder))
	for _, c := range plan.Projection.FinalOrder {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"id", "name", "_time"}, names)
}

func TestBuildWildcardWithGroupByRejected(t *testing.T) {
	_, err := Build(`SELECT * FROM sensors GROUP BY dev`, fakeScope{"appdb", "public"}, newTestCatalog())
	require.Error(t, err)
	ae, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindExec, ae.Kind)
}

func TestBuildJoinPlan(t *testing.T) {
	plan, err := Build(`SELECT o.id, c.name FROM orders o JOIN customers c ON o.cust_id = c.id`, fakeScope{"appdb", "public"}, newTestCatalog())
	require.NoError(t, err)
	join, ok := plan.Root.(*JoinNode)
	require.True(t, ok)
	assert.Equal(t, "INNER", join.Kind_)
	left, ok := join.Left.(*ScanNode)
	require.True(t, ok)
	assert.Equal(t, "orders", left.Table)
}

func TestBuildAggregatePlan(t *testing.T) {
	plan, err := Build(`SELECT dev, AVG(temp) FROM sensors GROUP BY dev HAVING AVG(temp) > 10`, fakeScope{"appdb", "public"}, newTestCatalog())
	require.NoError(t, err)
	agg, ok := plan.Root.(*AggregateNode)
	require.True(t, ok)
	require.Len(t, agg.GroupBy, 1)
	require.NotNil(t, agg.Having)
}

func TestBuildSliceRejectsGroupByCombo(t *testing.T) {
	_, err := Build(`SELECT dev FROM sensors BY SLICE (0,100) GROUP BY dev`, fakeScope{"appdb", "public"}, newTestCatalog())
	require.Error(t, err)
}

func TestBuildSlicePlan(t *testing.T) {
	plan, err := Build(`SELECT dev FROM sensors BY SLICE USING LABELS(region) (0,100,region:='east')`, fakeScope{"appdb", "public"}, newTestCatalog())
	require.NoError(t, err)
	sn, ok := plan.Root.(*SliceNode)
	require.True(t, ok)
	assert.Equal(t, []string{"region"}, sn.Labels)
	_, ok = sn.Algebra.(SliceInterval)
	require.True(t, ok)
}

func TestBuildAnnOrderPlan(t *testing.T) {
	plan, err := Build(`SELECT id FROM events ORDER BY vec_l2(name, (1,2)) USING ANN LIMIT 3`, fakeScope{"appdb", "public"}, newTestCatalog())
	require.NoError(t, err)
	require.NotNil(t, plan.AnnOrder)
	ann, ok := plan.Root.(*AnnOrderNode)
	require.True(t, ok)
	assert.Equal(t, "name", ann.Column)
	assert.Equal(t, "L2", ann.Metric)
	assert.Equal(t, []float64{1, 2}, ann.QueryLiteral)
	assert.Equal(t, 3, ann.K)
	assert.True(t, ann.HasLimit)
	assert.Equal(t, 64, ann.EfSearch)
	assert.Equal(t, 2.0, ann.PreselectAlpha)
	assert.Empty(t, plan.OrderBy)
}

func TestBuildUnqualifiedNameFailsWithoutSessionDefault(t *testing.T) {
	_, err := Build(`SELECT id FROM events`, fakeScope{}, newTestCatalog())
	require.Error(t, err)
}

func TestExplainMatchesExecutedStages(t *testing.T) {
	plan, err := Build(`SELECT id FROM events WHERE id = 1`, fakeScope{"appdb", "public"}, newTestCatalog())
	require.NoError(t, err)
	stages := plan.Explain()
	require.NotEmpty(t, stages)
	kinds := make([]string, 0, len(stages))
	for _, s := range stages {
		kinds = append(kinds, s["kind"].(string))
	}
	assert.Contains(t, kinds, "Filter")
	assert.Contains(t, kinds, "Scan")
	assert.Contains(t, kinds, "Projection")
}

func TestResolverAmbiguousColumn(t *testing.T) {
	r := NewNameResolver()
	r.AddSource(Source{Alias: "a", Columns: []string{"id"}})
	r.AddSource(Source{Alias: "b", Columns: []string{"id"}})
	_, err := r.Resolve(ColumnRef{Name: "id"})
	require.Error(t, err)
	ae, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindExec, ae.Kind)
}

func TestResolverRejectsInternalPrefix(t *testing.T) {
	r := NewNameResolver()
	r.AddSource(Source{Alias: "a", Columns: []string{"__row_id"}})
	_, err := r.Resolve(ColumnRef{Name: "__row_id"})
	require.Error(t, err)
}
