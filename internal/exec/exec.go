package exec

import (
	"sort"
	"strings"

	"clarium/internal/apperror"
	"clarium/internal/graphstore"
	"clarium/internal/planner"
	"clarium/internal/storage"
	"clarium/internal/vectorindex"
	"clarium/pkg/types"
)

// Executor runs a built planner.Plan through the seven documented
// stages (spec §4.5 stage table), invoking tschunk/vectorindex/
// graphstore only through the TableStore/Graph adapters.
type Executor struct {
	Store  TableStore
	Graph  *graphstore.Store // nil when the session has no graph open
	Now    func() int64      // injected for determinism in tests
	DB     string            // session default database, used to qualify INTO destinations
	Schema string            // session default schema, used to qualify INTO destinations
}

func NewExecutor(store TableStore, graph *graphstore.Store, now func() int64, db, schema string) *Executor {
	return &Executor{Store: store, Graph: graph, Now: now, DB: db, Schema: schema}
}

// Run executes plan end to end and returns the finalized result
// DataFrame (after Finalize has dropped internal `__`-prefixed columns).
func (e *Executor) Run(plan *planner.Plan) (*storage.DataFrame, error) {
	df, sources, err := e.evalNode(plan.Root)
	if err != nil {
		return nil, err
	}

	// Having: filter groups by a predicate that may reference aggregate
	// output aliases, which by now are plain columns on df.
	if agg := findAggregateNode(plan.Root); agg != nil && agg.Having != nil {
		mask, err := Mask(df, agg.Having, func(i int) Row { return rowOf(df, i, sources) })
		if err != nil {
			return nil, err
		}
		df = df.Filter(mask)
	}

	// Project: emit columns strictly per ProjectionContract.FinalOrder
	// (spec §4.5 Project stage).
	projected, err := e.project(df, sources, plan.Projection)
	if err != nil {
		return nil, err
	}
	df = projected

	// Order/Limit.
	if len(plan.OrderBy) > 0 {
		keys := make([]string, len(plan.OrderBy))
		desc := make([]bool, len(plan.OrderBy))
		for i, o := range plan.OrderBy {
			name, err := orderKeyColumn(o.Expr, plan.Projection)
			if err != nil {
				return nil, err
			}
			keys[i] = name
			desc[i] = o.Desc
		}
		df.SortBy(keys, desc, compareValues)
	}
	if plan.HasLimit {
		df = df.Limit(plan.Limit)
	}
	if plan.Distinct {
		df = distinctRows(df)
	}

	if plan.Into != "" {
		if err := e.into(plan.Into, df, plan.IntoReplace); err != nil {
			return nil, err
		}
	}

	// Finalize: drop internal-prefixed working columns and display in
	// contract order (spec §4.5 Finalize stage).
	return finalize(df, plan.Projection), nil
}

func (e *Executor) evalNode(node planner.PlanNode) (*storage.DataFrame, []planner.Source, error) {
	switch n := node.(type) {
	case *planner.ScanNode:
		raw, err := e.Store.ScanTable(n.DB, n.Schema, n.Table)
		if err != nil {
			return nil, nil, err
		}
		alias := n.Source.Alias
		if alias == "" {
			alias = n.Source.Name
		}
		df := qualifyFrame(raw, alias)
		sources := []planner.Source{n.Source}
		addBareAliases(df, sources)
		return df, sources, nil

	case *planner.MatchNode:
		return e.evalMatch(n)

	case *planner.JoinNode:
		return e.evalJoin(n)

	case *planner.FilterNode:
		df, sources, err := e.evalNode(n.Input)
		if err != nil {
			return nil, nil, err
		}
		mask, err := Mask(df, n.Pred, func(i int) Row { return rowOf(df, i, sources) })
		if err != nil {
			return nil, nil, err
		}
		return df.Filter(mask), sources, nil

	case *planner.AggregateNode:
		return e.evalAggregate(n)

	case *planner.SliceNode:
		return e.evalSlice(n)

	case *planner.AnnOrderNode:
		return e.evalAnnOrder(n)

	case *planner.UnionNode:
		return e.evalUnion(n)

	default:
		return nil, nil, apperror.Exec("unsupported_plan_node", "unsupported plan node %T", node)
	}
}

func qualifyFrame(df *storage.DataFrame, alias string) *storage.DataFrame {
	out := df.Clone()
	for _, name := range df.ColumnNames() {
		out.Rename(name, alias+"."+name)
	}
	return out
}

// addBareAliases exposes every source column that is unambiguous across
// all visible sources under its bare name too, so unqualified ColumnRefs
// resolve directly against the combined DataFrame.
func addBareAliases(df *storage.DataFrame, sources []planner.Source) {
	counts := map[string]int{}
	for _, s := range sources {
		for _, c := range s.Columns {
			counts[c]++
		}
	}
	for _, s := range sources {
		alias := s.Alias
		if alias == "" {
			alias = s.Name
		}
		for _, c := range s.Columns {
			if counts[c] == 1 {
				df.Duplicate(alias+"."+c, c)
			}
		}
	}
}

func rowOf(df *storage.DataFrame, i int, sources []planner.Source) Row {
	full := df.Row(i)
	return Row(full)
}

// evalJoin implements JOIN via nested-loop evaluation of the typed ON
// predicate (spec §4.5 "RIGHT/FULL joins require at least one equality
// predicate unless a general nested-loop fallback is enabled" — Clarium
// always enables the fallback, since it runs single-threaded per query
// and a missing index is not a correctness concern, only a cost one).
func (e *Executor) evalJoin(n *planner.JoinNode) (*storage.DataFrame, []planner.Source, error) {
	leftDF, leftSrc, err := e.evalNode(n.Left)
	if err != nil {
		return nil, nil, err
	}
	rightDF, rightSrc, err := e.evalNode(n.Right)
	if err != nil {
		return nil, nil, err
	}
	sources := append(append([]planner.Source{}, leftSrc...), rightSrc...)

	out := storage.NewDataFrame()
	for _, name := range leftDF.ColumnNames() {
		out.AddColumn(name, leftDF.ColumnType(name))
	}
	for _, name := range rightDF.ColumnNames() {
		out.AddColumn(name, rightDF.ColumnType(name))
	}

	matchedRight := make([]bool, rightDF.NumRows())
	emit := func(li, ri int) {
		vals := map[string]types.Value{}
		if li >= 0 {
			for k, v := range leftDF.Row(li) {
				vals[k] = v
			}
		}
		if ri >= 0 {
			for k, v := range rightDF.Row(ri) {
				vals[k] = v
			}
		}
		out.AppendRow(vals)
	}

	for li := 0; li < leftDF.NumRows(); li++ {
		matchedLeft := false
		for ri := 0; ri < rightDF.NumRows(); ri++ {
			row := Row{}
			for k, v := range leftDF.Row(li) {
				row[k] = v
			}
			for k, v := range rightDF.Row(ri) {
				row[k] = v
			}
			v, err := Eval(n.On, row)
			if err != nil {
				return nil, nil, err
			}
			if truthy(v) {
				emit(li, ri)
				matchedLeft = true
				matchedRight[ri] = true
			}
		}
		if !matchedLeft && (n.Kind_ == "LEFT" || n.Kind_ == "FULL") {
			emit(li, -1)
		}
	}
	if n.Kind_ == "RIGHT" || n.Kind_ == "FULL" {
		for ri, m := range matchedRight {
			if !m {
				emit(-1, ri)
			}
		}
	}

	addBareAliases(out, sources)
	return out, sources, nil
}

// evalMatch runs the graph_neighbors TVF a MATCH pattern rewrites to
// (spec §4.3 "Returns (node_id, prev_id, hop) rows", §4.5 step 4). Per
// spec §8 scenario S4's rewrite table, the returned `node_id` column
// carries the node's external key (what `t.key` was rewritten to), not
// the graph store's internal u64 id — Neighbors already resolves it.
// MinHops filters out hops the pattern's `*min..max` bound excludes;
// Shortest needs no separate traversal since Neighbors' BFS already
// dedups each node to its minimal hop.
func (e *Executor) evalMatch(n *planner.MatchNode) (*storage.DataFrame, []planner.Source, error) {
	if e.Graph == nil {
		return nil, nil, apperror.Exec("no_graph_open", "MATCH requires an open graph (USE GRAPH <name>)")
	}
	rows, err := e.Graph.Neighbors(n.StartKey, n.EdgeType, n.MaxHops, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	alias := n.Alias
	if alias == "" {
		alias = "m"
	}
	df := storage.NewDataFrame()
	df.AddColumn("node_id", storage.ColumnType{Kind: types.KindString})
	df.AddColumn("prev_id", storage.ColumnType{Kind: types.KindInt64})
	df.AddColumn("hop", storage.ColumnType{Kind: types.KindInt64})
	for _, r := range rows {
		if r.Hop < n.MinHops {
			continue
		}
		df.AppendRow(map[string]types.Value{
			"node_id": types.Str(r.NodeKey),
			"prev_id": types.Int64(int64(r.PrevID)),
			"hop":     types.Int64(int64(r.Hop)),
		})
	}
	qualified := qualifyFrame(df, alias)
	src := []planner.Source{{Alias: alias, Name: alias, Columns: []string{"node_id", "prev_id", "hop"}}}
	addBareAliases(qualified, src)
	return qualified, src, nil
}

// evalAggregate implements BY <window>/ROLLING BY/GROUP BY grouping plus
// the aggregate catalog (spec §4.5 By/GroupBy/Slice stage, aggregate
// catalog list).
func (e *Executor) evalAggregate(n *planner.AggregateNode) (*storage.DataFrame, []planner.Source, error) {
	df, sources, err := e.evalNode(n.Input)
	if err != nil {
		return nil, nil, err
	}

	groupKeyFor := func(i int) (string, Row) {
		row := rowOf(df, i, sources)
		if n.By != nil && !n.By.Slice {
			tcol := df.Column("_time")
			var t int64
			if tcol != nil {
				t = tcol[i].I
			}
			bucket := t / n.By.IntervalMs
			return keyFromInt(bucket), row
		}
		var sb []byte
		for _, g := range n.GroupBy {
			v, gerr := Eval(g, row)
			if gerr != nil {
				err = gerr
				return "", row
			}
			sb = append(sb, []byte(v.String())...)
			sb = append(sb, 0)
		}
		return string(sb), row
	}

	order := []string{}
	groups := map[string][]Row{}
	groupKeyExprs := map[string]Row{}
	for i := 0; i < df.NumRows(); i++ {
		k, row := groupKeyFor(i)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
			groupKeyExprs[k] = row
		}
		groups[k] = append(groups[k], row)
	}
	sort.Strings(order)

	out := storage.NewDataFrame()
	for _, k := range order {
		group := groups[k]
		vals := map[string]types.Value{}
		rep := groupKeyExprs[k]
		if n.By != nil && !n.By.Slice {
			bucket := rep["_time"].I / n.By.IntervalMs * n.By.IntervalMs
			vals["_time"] = types.Int64(bucket)
		}
		for _, g := range n.GroupBy {
			v, _ := Eval(g, rep)
			name, _ := exprDisplayName(g)
			vals[name] = v
		}
		for _, agg := range n.Aggregates {
			v, aerr := applyAggregate(agg, group)
			if aerr != nil {
				return nil, nil, aerr
			}
			vals[funcDisplayName(agg)] = v
		}
		out.AppendRow(vals)
	}
	newSources := []planner.Source{{Alias: "", Name: "", Columns: out.ColumnNames()}}
	return out, newSources, nil
}

func keyFromInt(v int64) string {
	return types.Int64(v).String()
}

func exprDisplayName(e planner.Expr) (string, bool) {
	switch v := e.(type) {
	case planner.ColumnRef:
		return v.Name, true
	default:
		return "?column?", false
	}
}

// funcDisplayName names an aggregate's output column the same way
// BuildProjectionContract names an unaliased function-call SELECT item
// (lowercased), so the Project stage can find it by name.
func funcDisplayName(fc planner.FuncCall) string {
	return strings.ToLower(fc.Name)
}

// sliceInterval is one evaluated labeled time interval [Lo, Hi).
type sliceInterval struct {
	Lo, Hi int64
	Labels map[string]string
}

// evalSliceAlgebra flattens a SliceExpr into its resulting interval set
// (spec §4.5 "BY SLICE(plan) evaluates a slice algebra", §8 property 6):
// UNION coalesces overlapping intervals, preferring the left operand's
// labels on conflict; INTERSECT keeps only the strict overlap of every
// left/right pair, with the right operand's labels overwriting the
// left's on conflict.
func evalSliceAlgebra(expr planner.SliceExpr) []sliceInterval {
	switch v := expr.(type) {
	case planner.SliceInterval:
		labels := make(map[string]string, len(v.Labels))
		for k, val := range v.Labels {
			labels[k] = val
		}
		return []sliceInterval{{Lo: v.Lo, Hi: v.Hi, Labels: labels}}
	case planner.SliceSetOp:
		left := evalSliceAlgebra(v.Left)
		right := evalSliceAlgebra(v.Right)
		if v.Op == "INTERSECT" {
			return intersectSliceIntervals(left, right)
		}
		return unionSliceIntervals(left, right)
	default:
		return nil
	}
}

func unionSliceIntervals(left, right []sliceInterval) []sliceInterval {
	all := make([]sliceInterval, 0, len(left)+len(right))
	all = append(all, left...)
	all = append(all, right...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Lo < all[j].Lo })
	var out []sliceInterval
	for _, iv := range all {
		if len(out) > 0 && iv.Lo <= out[len(out)-1].Hi {
			last := &out[len(out)-1]
			if iv.Hi > last.Hi {
				last.Hi = iv.Hi
			}
			continue
		}
		out = append(out, sliceInterval{Lo: iv.Lo, Hi: iv.Hi, Labels: map[string]string{}})
	}
	for _, side := range [][]sliceInterval{left, right} {
		for _, iv := range side {
			for i := range out {
				if iv.Lo >= out[i].Lo && iv.Lo <= out[i].Hi {
					for k, v := range iv.Labels {
						if _, ok := out[i].Labels[k]; !ok {
							out[i].Labels[k] = v
						}
					}
				}
			}
		}
	}
	return out
}

func intersectSliceIntervals(left, right []sliceInterval) []sliceInterval {
	var out []sliceInterval
	for _, a := range left {
		for _, b := range right {
			lo, hi := a.Lo, a.Hi
			if b.Lo > lo {
				lo = b.Lo
			}
			if b.Hi < hi {
				hi = b.Hi
			}
			if lo >= hi {
				continue
			}
			labels := make(map[string]string, len(a.Labels)+len(b.Labels))
			for k, v := range a.Labels {
				labels[k] = v
			}
			for k, v := range b.Labels {
				labels[k] = v
			}
			out = append(out, sliceInterval{Lo: lo, Hi: hi, Labels: labels})
		}
	}
	return out
}

// evalSlice evaluates a BY SLICE clause's interval algebra and stamps
// each row with the declared USING LABELS(...) columns from whichever
// interval its `_time` value falls into (spec §4.5, §8 scenario S6).
// Rows matching no interval get empty-string labels.
func (e *Executor) evalSlice(n *planner.SliceNode) (*storage.DataFrame, []planner.Source, error) {
	df, sources, err := e.evalNode(n.Input)
	if err != nil {
		return nil, nil, err
	}
	intervals := evalSliceAlgebra(n.Algebra)

	rebuilt := storage.NewDataFrame()
	for _, name := range df.ColumnNames() {
		rebuilt.AddColumn(name, df.ColumnType(name))
	}
	for _, label := range n.Labels {
		rebuilt.AddColumn(label, storage.ColumnType{Kind: types.KindString})
	}
	tcol := df.Column("_time")
	for i := 0; i < df.NumRows(); i++ {
		row := df.Row(i)
		var t int64
		if tcol != nil {
			t = tcol[i].I
		}
		var matched *sliceInterval
		for j := range intervals {
			if t >= intervals[j].Lo && t < intervals[j].Hi {
				matched = &intervals[j]
				break
			}
		}
		for _, label := range n.Labels {
			if matched != nil {
				row[label] = types.Str(matched.Labels[label])
			} else {
				row[label] = types.Str("")
			}
		}
		rebuilt.AppendRow(row)
	}
	return rebuilt, sources, nil
}

// resolveAnnQuery produces the query vector for an ANN ORDER BY: either
// the literal bound at plan time, or the first row's first column of an
// already-planned scalar subquery (spec §8 scenario S3).
func (e *Executor) resolveAnnQuery(n *planner.AnnOrderNode) ([]float64, error) {
	if n.QuerySubquery != nil {
		res, err := e.Run(n.QuerySubquery)
		if err != nil {
			return nil, err
		}
		if res.NumRows() == 0 || len(res.ColumnNames()) == 0 {
			return nil, apperror.Exec("empty_ann_subquery", "ANN ORDER BY scalar subquery returned no rows")
		}
		v := res.Row(0)[res.ColumnNames()[0]]
		if v.Kind != types.KindListFloat64 {
			return nil, apperror.Exec("bad_ann_subquery_type", "ANN ORDER BY scalar subquery must return a vector column")
		}
		return v.Vec, nil
	}
	return n.QueryLiteral, nil
}

// evalAnnOrder resolves the vector index for Column, searches it, and
// falls back to exact scan on any index error (spec §7 "vector index
// load failure -> fall back to exact scan", §8 property 3 ANN/EXACT
// parity oracle). It stamps the plan node's Path field so EXPLAIN can
// report which path actually ran, and applies the secondary ORDER BY
// keys itself, since Project strips the score column the generic
// Order/Limit stage would otherwise need (spec §4.2 "Planner
// integration — ANN ORDER BY").
func (e *Executor) evalAnnOrder(n *planner.AnnOrderNode) (*storage.DataFrame, []planner.Source, error) {
	df, sources, err := e.evalNode(n.Input)
	if err != nil {
		return nil, nil, err
	}
	query, err := e.resolveAnnQuery(n)
	if err != nil {
		return nil, nil, err
	}
	metric := vectorindex.Metric(n.Metric)
	if metric == "" {
		metric = vectorindex.MetricL2
	}

	k := n.K
	if !n.HasLimit || k <= 0 {
		k = -1 // no LIMIT: rescore/return the full candidate set (spec §8 S3 "k absent -> full rescore")
	}

	var scores []vectorindex.RowScore
	if n.UsingANN {
		table := findScanTable(n.Input)
		ix, ierr := e.Store.VectorIndexFor(e.DB, e.Schema, table, n.Column)
		if ierr == nil {
			if meta, merr := ix.LoadMeta(); merr == nil && meta.Metric == metric && meta.Dim == len(query) {
				searchK := k
				efSearch := n.EfSearch
				if k > 0 {
					// Two-phase preselect: widen the candidate set by
					// preselect_alpha before the executor's own exact
					// secondary-key sort narrows it back to k.
					alpha := n.PreselectAlpha
					if alpha < 1 {
						alpha = 1
					}
					searchK = int(float64(k) * alpha)
					if searchK < k {
						searchK = k
					}
				} else {
					searchK = df.NumRows()
				}
				if s, serr := ix.Search(query, searchK, efSearch); serr == nil {
					scores = s
					n.Path = "ANN"
				}
			}
		}
	}
	if scores == nil {
		scores = vectorindex.ExactSearch(df, n.Column, query, metric, -1)
		n.Path = "EXACT"
	}

	out := storage.NewDataFrame()
	for _, name := range df.ColumnNames() {
		out.AddColumn(name, df.ColumnType(name))
	}
	out.AddColumn("__ann_score", storage.ColumnType{Kind: types.KindFloat64})
	for _, sc := range scores {
		if int(sc.RowID) >= df.NumRows() {
			continue
		}
		row := df.Row(int(sc.RowID))
		row["__ann_score"] = types.Float64(sc.Score)
		out.AppendRow(row)
	}

	rowOfOut := func(i int) Row { return rowOf(out, i, sources) }
	idx := make([]int, out.NumRows())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		sa := out.Column("__ann_score")[idx[a]].F
		sb := out.Column("__ann_score")[idx[b]].F
		if sa != sb {
			return metric.Better(sa, sb)
		}
		ra, rb := rowOfOut(idx[a]), rowOfOut(idx[b])
		for _, ord := range n.SecondaryOrder {
			va, verr := Eval(ord.Expr, ra)
			if verr != nil {
				continue
			}
			vb, verr := Eval(ord.Expr, rb)
			if verr != nil {
				continue
			}
			c := compareValues(va, vb)
			if c == 0 {
				continue
			}
			if ord.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	reordered := storage.NewDataFrame()
	for _, name := range out.ColumnNames() {
		reordered.AddColumn(name, out.ColumnType(name))
	}
	for _, i := range idx {
		reordered.AppendRow(out.Row(i))
	}
	if n.HasLimit && n.K > 0 {
		reordered = reordered.Limit(n.K)
	}
	return reordered, sources, nil
}

// findAggregateNode locates the AggregateNode in a plan subtree, since
// an ANN ORDER BY rewrite can wrap it at the root (spec §4.5 step 4 runs
// after grouping).
func findAggregateNode(node planner.PlanNode) *planner.AggregateNode {
	switch n := node.(type) {
	case *planner.AggregateNode:
		return n
	case *planner.AnnOrderNode:
		return findAggregateNode(n.Input)
	case *planner.FilterNode:
		return findAggregateNode(n.Input)
	case *planner.SliceNode:
		return findAggregateNode(n.Input)
	default:
		return nil
	}
}

// findScanTable walks down a plan subtree to find the base table an ANN
// ORDER BY clause's column belongs to, since AnnOrderNode itself only
// carries the column name (the rewrite happens after FROM/WHERE, spec
// §4.5 step 4).
func findScanTable(node planner.PlanNode) string {
	switch n := node.(type) {
	case *planner.ScanNode:
		return n.Table
	case *planner.FilterNode:
		return findScanTable(n.Input)
	case *planner.AggregateNode:
		return findScanTable(n.Input)
	case *planner.SliceNode:
		return findScanTable(n.Input)
	case *planner.JoinNode:
		return findScanTable(n.Left)
	default:
		return ""
	}
}

func (e *Executor) evalUnion(n *planner.UnionNode) (*storage.DataFrame, []planner.Source, error) {
	left, sources, err := e.evalNode(n.Left)
	if err != nil {
		return nil, nil, err
	}
	right, _, err := e.evalNode(n.Right)
	if err != nil {
		return nil, nil, err
	}
	stacked := left.Stack(right)
	if !n.All {
		stacked = distinctRows(stacked)
	}
	return stacked, sources, nil
}

func distinctRows(df *storage.DataFrame) *storage.DataFrame {
	out := storage.NewDataFrame()
	for _, name := range df.ColumnNames() {
		out.AddColumn(name, df.ColumnType(name))
	}
	seen := map[string]bool{}
	for i := 0; i < df.NumRows(); i++ {
		row := df.Row(i)
		key := rowKey(df.ColumnNames(), row)
		if seen[key] {
			continue
		}
		seen[key] = true
		out.AppendRow(row)
	}
	return out
}

func rowKey(names []string, row map[string]types.Value) string {
	var sb []byte
	for _, n := range names {
		sb = append(sb, []byte(row[n].String())...)
		sb = append(sb, 0)
	}
	return string(sb)
}

// project emits columns strictly in ProjectionContract.FinalOrder (spec
// §4.5 Project stage).
func (e *Executor) project(df *storage.DataFrame, sources []planner.Source, contract *planner.ProjectionContract) (*storage.DataFrame, error) {
	out := storage.NewDataFrame()
	names := make([]string, len(contract.FinalOrder))
	for i, col := range contract.FinalOrder {
		names[i] = col.Name
		ct := storage.ColumnType{Kind: types.KindString}
		if cr, ok := col.Expr.(planner.ColumnRef); ok {
			qualified := cr.Name
			if cr.Qualifier != "" {
				qualified = cr.Qualifier + "." + cr.Name
			}
			if df.HasColumn(qualified) {
				ct = df.ColumnType(qualified)
			} else if df.HasColumn(cr.Name) {
				ct = df.ColumnType(cr.Name)
			}
		} else if fc, ok := col.Expr.(planner.FuncCall); ok && isAggregateName(fc.Name) && df.HasColumn(funcDisplayName(fc)) {
			ct = df.ColumnType(funcDisplayName(fc))
		} else if df.HasColumn(col.Name) {
			ct = df.ColumnType(col.Name)
		}
		out.AddColumn(col.Name, ct)
	}
	for i := 0; i < df.NumRows(); i++ {
		row := rowOf(df, i, sources)
		vals := map[string]types.Value{}
		for _, col := range contract.FinalOrder {
			var v types.Value
			// An aggregate call's result was already materialized by
			// evalAggregate into a plain column under funcDisplayName;
			// Eval can't recompute it (there's no group to aggregate over
			// on a single post-aggregation row), so look it up by name
			// instead, independent of whatever alias the contract gave it.
			if fc, ok := col.Expr.(planner.FuncCall); ok && isAggregateName(fc.Name) {
				v = row[funcDisplayName(fc)]
			} else {
				var err error
				v, err = Eval(col.Expr, row)
				if err != nil {
					return nil, err
				}
			}
			vals[col.Name] = v
		}
		out.AppendRow(vals)
	}
	return out, nil
}

func orderKeyColumn(e planner.Expr, contract *planner.ProjectionContract) (string, error) {
	if cr, ok := e.(planner.ColumnRef); ok {
		name := cr.Name
		if cr.Qualifier != "" {
			name = cr.Qualifier + "." + cr.Name
		}
		for _, c := range contract.FinalOrder {
			if c.Name == cr.Name || c.Name == name {
				return c.Name, nil
			}
		}
		return cr.Name, nil
	}
	return "", apperror.Exec("unsupported_order_key", "ORDER BY currently supports simple column references only")
}

// into implements the Into stage's APPEND and REPLACE paths (spec §4.5
// Into stage): time tables require APPEND (REPLACE rejected by
// TableStore.ReplaceInto); regular tables support both.
func (e *Executor) into(dest string, df *storage.DataFrame, replace bool) error {
	now := int64(0)
	if e.Now != nil {
		now = e.Now()
	}
	if replace {
		return e.Store.ReplaceInto(e.DB, e.Schema, dest, df, now)
	}
	return e.Store.AppendInto(e.DB, e.Schema, dest, df, now)
}

// finalize drops internal `__`-prefixed working columns and returns
// columns in contract order (spec §4.5 Finalize stage).
func finalize(df *storage.DataFrame, contract *planner.ProjectionContract) *storage.DataFrame {
	var internalCols []string
	for _, name := range df.ColumnNames() {
		if len(name) >= 2 && name[:2] == "__" {
			internalCols = append(internalCols, name)
		}
	}
	if len(internalCols) > 0 {
		df.DropColumns(internalCols...)
	}
	order := make([]string, len(contract.FinalOrder))
	for i, c := range contract.FinalOrder {
		order[i] = c.Name
	}
	return df.Select(order)
}
