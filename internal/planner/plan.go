package planner

import (
	"clarium/internal/apperror"
)

// planNode is the common base every concrete plan node embeds, the way
// Sneller's query-plan operators embed a `Nonterminal` wrapping a single
// child plus its output ordinal bindings (grounded on
// other_examples/...SnellerInc-sneller__plan-unionmap.go). Clarium's
// stage list is a tree of these rather than Sneller's DAG, since a
// single query runs single-threaded end to end (spec §5), but the
// child-embedding idiom and the `Describe` seam are the same shape.
type planNode struct {
	Children []PlanNode
}

func (n *planNode) children() []PlanNode { return n.Children }

// PlanNode is one node in a built Plan: a scan, a join, a filter, an
// aggregation, a slice algebra evaluation, a graph MATCH rewrite, an ANN
// ORDER BY rewrite, or a UNION. Describe returns the same structured
// fields EXPLAIN surfaces, so EXPLAIN can never drift from what the
// executor actually consults (spec §4.5 supplemental "EXPLAIN as a
// first-class plan stage").
type PlanNode interface {
	Kind() string
	Describe() map[string]any
}

// ScanNode reads from a base table, time table, view, KV namespace, or
// a materialized subquery/CTE.
type ScanNode struct {
	planNode
	Source Source
	DB     string
	Schema string
	Table  string
	IsTime bool
	IsView bool
	Pred   Expr // pushdown candidate; the From/Where stage still re-evaluates it
}

func (n *ScanNode) Kind() string { return "Scan" }
func (n *ScanNode) Describe() map[string]any {
	return map[string]any{"kind": "Scan", "db": n.DB, "schema": n.Schema, "table": n.Table, "is_time": n.IsTime, "is_view": n.IsView}
}

// JoinNode composes a left and right source with a typed ON predicate.
type JoinNode struct {
	planNode
	Kind_ string // INNER, LEFT, RIGHT, FULL
	Left  PlanNode
	Right PlanNode
	On    Expr
}

func (n *JoinNode) Kind() string { return "Join" }
func (n *JoinNode) Describe() map[string]any {
	return map[string]any{"kind": "Join", "join_kind": n.Kind_}
}

// FilterNode evaluates the WHERE boolean mask exactly once (spec §4.5
// From/Where stage rule).
type FilterNode struct {
	planNode
	Input PlanNode
	Pred  Expr
}

func (n *FilterNode) Kind() string { return "Filter" }
func (n *FilterNode) Describe() map[string]any {
	return map[string]any{"kind": "Filter"}
}

// AggregateNode covers BY <window>, ROLLING BY <window>, and GROUP BY.
type AggregateNode struct {
	planNode
	Input      PlanNode
	GroupBy    []Expr
	By         *ByClause
	Having     Expr
	Aggregates []FuncCall
}

func (n *AggregateNode) Kind() string { return "Aggregate" }
func (n *AggregateNode) Describe() map[string]any {
	mode := "group_by"
	if n.By != nil {
		if n.By.Rolling {
			mode = "rolling_by"
		} else if n.By.Slice {
			mode = "by_slice"
		} else {
			mode = "by_window"
		}
	}
	return map[string]any{"kind": "Aggregate", "mode": mode}
}

// SliceNode evaluates a slice algebra (BY SLICE, with USING LABELS/
// INTERSECT/UNION composition) producing label columns.
type SliceNode struct {
	planNode
	Input   PlanNode
	Algebra SliceExpr
	Labels  []string
}

func (n *SliceNode) Kind() string { return "Slice" }
func (n *SliceNode) Describe() map[string]any {
	return map[string]any{"kind": "Slice", "labels": n.Labels}
}

// MatchNode is the graph_neighbors TVF a MATCH clause rewrites to (spec
// §4.5 step 4). Neighbors' BFS already dedups to each node's minimal hop
// count, so Shortest needs no separate algorithm — it is carried through
// only so EXPLAIN can report it.
type MatchNode struct {
	planNode
	StartKey string
	EdgeType string
	MinHops  int
	MaxHops  int
	Alias    string
	Shortest bool
}

func (n *MatchNode) Kind() string { return "Match" }
func (n *MatchNode) Describe() map[string]any {
	return map[string]any{"kind": "Match", "edge_type": n.EdgeType, "min_hops": n.MinHops, "max_hops": n.MaxHops, "shortest": n.Shortest}
}

// AnnOrderNode is the vector-index TVF an ANN ORDER BY rewrites to (spec
// §4.2 "Planner integration — ANN ORDER BY"). The query vector is either
// a literal bound at plan time (QueryLiteral) or the result of a scalar
// subquery plan the executor must run first (QuerySubquery). When
// HasLimit is false, the executor rescores the full candidate set
// instead of preselecting alpha*k — there is no k to preselect against.
type AnnOrderNode struct {
	planNode
	Input          PlanNode
	Column         string
	Metric         string
	QueryLiteral   []float64
	QuerySubquery  *Plan
	K              int
	HasLimit       bool
	UsingANN       bool
	EfSearch       int
	PreselectAlpha float64
	SecondaryOrder []OrderItem
	Path           string // "ANN" or "EXACT", filled in by the executor and echoed by EXPLAIN
}

func (n *AnnOrderNode) Kind() string { return "AnnOrder" }
func (n *AnnOrderNode) Describe() map[string]any {
	return map[string]any{
		"kind": "AnnOrder", "column": n.Column, "metric": n.Metric, "k": n.K, "has_limit": n.HasLimit,
		"using_ann": n.UsingANN, "ef_search": n.EfSearch, "preselect_alpha": n.PreselectAlpha, "path": n.Path,
	}
}

// UnionNode implements top-level UNION [ALL] chaining.
type UnionNode struct {
	planNode
	Left  PlanNode
	Right PlanNode
	All   bool
}

func (n *UnionNode) Kind() string { return "Union" }
func (n *UnionNode) Describe() map[string]any {
	return map[string]any{"kind": "Union", "all": n.All}
}

// Plan is the resolved, rewritten output of planning: a root node plus
// the projection/order/limit/into metadata the executor's later stages
// consume directly (spec §4.5 steps 3 and 5).
type Plan struct {
	Root       PlanNode
	Projection *ProjectionContract
	OrderBy    []OrderItem
	AnnOrder   *AnnOrderClause
	Limit      int
	HasLimit   bool
	Into        string
	IntoReplace bool
	Distinct    bool
}

// CatalogLookup supplies each referenced table's column list so wildcard
// expansion and name resolution can see it.
type CatalogLookup interface {
	// ColumnsOf returns the column names of db.schema.table, or an error
	// if it is not a known relation.
	ColumnsOf(db, schema, table string) ([]string, error)
}

// Build parses src, resolves identifiers against scope, rewrites MATCH
// and ANN ORDER BY clauses to TVF nodes, and assembles the typed Plan
// (spec §4.5 steps 1-5).
func Build(src string, scope SessionScope, cat CatalogLookup) (*Plan, error) {
	p, err := NewParser(src)
	if err != nil {
		return nil, err
	}
	stmt, err := p.Parse()
	if err != nil {
		return nil, err
	}
	if stmt.Select == nil {
		return nil, apperror.Exec("not_a_plan", "statement is not a SELECT; Build only plans queries")
	}
	return buildSelect(stmt.Select, scope, cat, nil)
}

// buildTableSource resolves one FROM/JOIN table reference, binding it to
// a CTE's sub-plan when name matches one in scope (spec §3 "WITH ...
// SELECT" CTE chaining, §8 scenario S3), or to a catalog scan otherwise.
func buildTableSource(tbl *TableRef, scope SessionScope, cat CatalogLookup, ctes map[string]*SelectStmt) (PlanNode, Source, error) {
	if tbl.Subquery != nil {
		sub, err := buildSelect(tbl.Subquery, scope, cat, ctes)
		if err != nil {
			return nil, Source{}, err
		}
		cols := make([]string, 0, len(sub.Projection.FinalOrder))
		for _, c := range sub.Projection.FinalOrder {
			cols = append(cols, c.Name)
		}
		alias := tbl.Alias
		return sub.Root, Source{Alias: alias, Name: alias, Columns: cols}, nil
	}
	if tbl.Schema == "" {
		if cteSel, ok := ctes[tbl.Name]; ok {
			sub, err := buildSelect(cteSel, scope, cat, ctes)
			if err != nil {
				return nil, Source{}, err
			}
			cols := make([]string, 0, len(sub.Projection.FinalOrder))
			for _, c := range sub.Projection.FinalOrder {
				cols = append(cols, c.Name)
			}
			alias := tbl.Alias
			if alias == "" {
				alias = tbl.Name
			}
			return sub.Root, Source{Alias: alias, Name: tbl.Name, Columns: cols}, nil
		}
	}
	db, schema, obj, err := QualifyTableRef(scope, tbl)
	if err != nil {
		return nil, Source{}, err
	}
	cols, err := cat.ColumnsOf(db, schema, obj)
	if err != nil {
		return nil, Source{}, err
	}
	alias := tbl.Alias
	if alias == "" {
		alias = obj
	}
	src := Source{Alias: alias, Name: obj, Columns: cols}
	return &ScanNode{DB: db, Schema: schema, Table: obj, Source: src}, src, nil
}

func buildSelect(sel *SelectStmt, scope SessionScope, cat CatalogLookup, parentCTEs map[string]*SelectStmt) (*Plan, error) {
	ctes := make(map[string]*SelectStmt, len(parentCTEs)+len(sel.CTEs))
	for name, s := range parentCTEs {
		ctes[name] = s
	}
	for _, c := range sel.CTEs {
		ctes[c.Name] = c.Query
	}

	resolver := NewNameResolver()
	var root PlanNode
	var sources []Source

	switch {
	case sel.Match != nil:
		mn := &MatchNode{
			StartKey: sel.Match.StartKey,
			EdgeType: sel.Match.EdgeType,
			MinHops:  sel.Match.MinHops,
			MaxHops:  sel.Match.MaxHops,
			Alias:    sel.Match.EndAlias,
			Shortest: sel.Match.Shortest,
		}
		root = mn
		src := Source{Alias: sel.Match.EndAlias, Name: sel.Match.EndAlias, Columns: []string{"node_id", "prev_id", "hop"}}
		sources = append(sources, src)
		resolver.AddSource(src)

	case sel.From != nil:
		fromRoot, fromSrc, err := buildTableSource(sel.From, scope, cat, ctes)
		if err != nil {
			return nil, err
		}
		root = fromRoot
		sources = append(sources, fromSrc)
		resolver.AddSource(fromSrc)

		for _, j := range sel.Joins {
			jTbl := j.Table
			rightRoot, rightSrc, err := buildTableSource(&jTbl, scope, cat, ctes)
			if err != nil {
				return nil, err
			}
			sources = append(sources, rightSrc)
			resolver.AddSource(rightSrc)
			if err := resolveExprColumns(resolver, j.On); err != nil {
				return nil, err
			}
			root = &JoinNode{Kind_: j.Kind, Left: root, Right: rightRoot, On: j.On}
		}

	default:
		return nil, apperror.Exec("no_from_clause", "SELECT without FROM/MATCH is not supported")
	}

	if sel.Where != nil {
		if err := resolveExprColumns(resolver, sel.Where); err != nil {
			return nil, err
		}
		root = &FilterNode{Input: root, Pred: sel.Where}
	}

	hasGrouping := sel.By != nil || len(sel.GroupBy) > 0
	if sel.By != nil && sel.By.Slice {
		if len(sel.GroupBy) > 0 {
			return nil, apperror.Exec("slice_with_group_by", "mixing SLICE with GROUP BY is rejected")
		}
		root = &SliceNode{Input: root, Algebra: sel.By.SliceAlgebra, Labels: sel.By.SliceLabels}
	} else if hasGrouping {
		var aggs []FuncCall
		for _, it := range sel.Items {
			if fc, ok := it.Expr.(FuncCall); ok {
				aggs = append(aggs, fc)
			}
		}
		root = &AggregateNode{Input: root, GroupBy: sel.GroupBy, By: sel.By, Having: sel.Having, Aggregates: aggs}
	}

	proj, err := BuildProjectionContract(sel.Items, sources, hasGrouping)
	if err != nil {
		return nil, err
	}

	orderBy := sel.OrderBy
	if sel.AnnOrder != nil {
		efSearch, alpha := scope.VectorTuning()
		an := &AnnOrderNode{
			Input:          root,
			Column:         sel.AnnOrder.Column,
			Metric:         sel.AnnOrder.Metric,
			UsingANN:       sel.AnnOrder.UsingANN,
			EfSearch:       efSearch,
			PreselectAlpha: alpha,
			HasLimit:       sel.HasLimit,
			K:              sel.Limit,
			SecondaryOrder: sel.OrderBy,
		}
		switch q := sel.AnnOrder.Query.(type) {
		case VectorLiteral:
			an.QueryLiteral = q.Values
		case ScalarSubquery:
			subPlan, err := buildSelect(q.Query, scope, cat, ctes)
			if err != nil {
				return nil, err
			}
			an.QuerySubquery = subPlan
		default:
			return nil, apperror.Exec("bad_ann_query", "ANN ORDER BY query must be a vector literal or scalar subquery")
		}
		root = an
		// The secondary sort keys are applied inside AnnOrderNode's own
		// evaluation, against a dataframe that still carries the score
		// column; the generic Order/Limit stage must not re-sort.
		orderBy = nil
	}

	plan := &Plan{
		Root:       root,
		Projection: proj,
		OrderBy:    orderBy,
		AnnOrder:   sel.AnnOrder,
		Limit:      sel.Limit,
		HasLimit:   sel.HasLimit,
		Into:        sel.Into,
		IntoReplace: sel.IntoReplace,
		Distinct:    sel.Distinct,
	}

	if sel.UnionNext != nil {
		rhs, err := buildSelect(sel.UnionNext, scope, cat, ctes)
		if err != nil {
			return nil, err
		}
		plan.Root = &UnionNode{Left: plan.Root, Right: rhs.Root, All: sel.UnionAll}
		// UNION's own projection is the left side's; the executor unions
		// schemas at execution time per spec §4.5 "UNION" rule.
	}

	return plan, nil
}

// resolveExprColumns walks expr and validates every ColumnRef against
// resolver (spec §4.5 step 2), surfacing unknown-source/unknown-column/
// ambiguous-column errors at plan time rather than at execution time.
// It is applied to WHERE and JOIN...ON, where every referenced column
// must already be a real source column; HAVING/ORDER BY may reference
// aggregate aliases that only exist after the Aggregate/Project stages
// run, so those are resolved later, by the executor.
func resolveExprColumns(resolver *NameResolver, expr Expr) error {
	switch v := expr.(type) {
	case ColumnRef:
		_, err := resolver.Resolve(v)
		return err
	case BinaryExpr:
		if err := resolveExprColumns(resolver, v.Left); err != nil {
			return err
		}
		return resolveExprColumns(resolver, v.Right)
	case UnaryExpr:
		return resolveExprColumns(resolver, v.Expr)
	case FuncCall:
		for _, a := range v.Args {
			if err := resolveExprColumns(resolver, a); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// Explain walks the built stage list and returns the structured
// description spec §4.5 requires for EXPLAIN, without executing
// anything. It reuses exactly the metadata each PlanNode.Describe()
// exposes, so EXPLAIN output can never drift from what the executor
// consults (spec §4.5 supplemental feature).
func (p *Plan) Explain() []map[string]any {
	var out []map[string]any
	var walk func(n PlanNode)
	walk = func(n PlanNode) {
		if n == nil {
			return
		}
		out = append(out, n.Describe())
		switch v := n.(type) {
		case *FilterNode:
			walk(v.Input)
		case *AggregateNode:
			walk(v.Input)
		case *SliceNode:
			walk(v.Input)
		case *AnnOrderNode:
			walk(v.Input)
		case *JoinNode:
			walk(v.Left)
			walk(v.Right)
		case *UnionNode:
			walk(v.Left)
			walk(v.Right)
		}
	}
	walk(p.Root)
	out = append(out, map[string]any{
		"kind":       "Projection",
		"limit":      p.Limit,
		"has_limit":  p.HasLimit,
		"into":       p.Into,
		"distinct":   p.Distinct,
		"num_output": len(p.Projection.FinalOrder),
	})
	return out
}
