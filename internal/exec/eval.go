// Package exec implements Clarium's staged executor (spec §4.5): the
// seven-stage pipeline (From/Where, By/GroupBy/Slice, Having, Project,
// Order/Limit, Into, Finalize) that turns a planner.Plan into a
// storage.DataFrame, invoking tschunk, vectorindex, graphstore, and
// kvstore only through their typed adapters.
package exec

import (
	"encoding/json"
	"math"
	"strings"

	"clarium/internal/apperror"
	"clarium/internal/planner"
	"clarium/internal/storage"
	"clarium/pkg/types"
)

// Row is one materialized row, keyed by output column name with each
// source's columns available both bare and alias-qualified
// ("alias.col") so expressions can resolve either form the way
// planner.NameResolver already did at plan time.
type Row map[string]types.Value

func lookup(row Row, ref planner.ColumnRef) types.Value {
	if ref.Qualifier != "" {
		if v, ok := row[ref.Qualifier+"."+ref.Name]; ok {
			return v
		}
	}
	if v, ok := row[ref.Name]; ok {
		return v
	}
	return types.Null()
}

// Eval evaluates a scalar expression against one row. Aggregates
// (FuncCall names in the aggregate catalog) are not evaluated here —
// by the time Eval runs on a post-aggregation row, the aggregate's
// result has already been materialized into a plain column under the
// call's display name, matching the Having stage's "can reference
// aggregates/aliases" rule (spec §4.5).
func Eval(e planner.Expr, row Row) (types.Value, error) {
	switch v := e.(type) {
	case planner.ColumnRef:
		return lookup(row, v), nil

	case planner.Literal:
		switch {
		case v.IsNull:
			return types.Null(), nil
		case v.IsStr:
			return types.Str(v.Str), nil
		case v.IsNum:
			return types.Float64(v.Num), nil
		case v.IsBool:
			return types.Bool(v.Bool), nil
		default:
			return types.Null(), nil
		}

	case planner.UnaryExpr:
		inner, err := Eval(v.Expr, row)
		if err != nil {
			return types.Value{}, err
		}
		switch v.Op {
		case "NOT":
			return types.Bool(!truthy(inner)), nil
		case "-":
			f, ok := inner.AsFloat64()
			if !ok {
				return types.Value{}, apperror.Exec("bad_operand", "unary - requires a numeric operand")
			}
			return types.Float64(-f), nil
		default:
			return types.Value{}, apperror.Exec("bad_unary_op", "unsupported unary operator %q", v.Op)
		}

	case planner.BinaryExpr:
		return evalBinary(v, row)

	case planner.FuncCall:
		return evalScalarFunc(v, row)

	default:
		return types.Value{}, apperror.Exec("bad_expr", "unsupported expression node %T", e)
	}
}

func truthy(v types.Value) bool {
	switch v.Kind {
	case types.KindBool:
		return v.B
	case types.KindNull:
		return false
	default:
		f, ok := v.AsFloat64()
		return ok && f != 0
	}
}

func evalBinary(b planner.BinaryExpr, row Row) (types.Value, error) {
	switch b.Op {
	case "AND":
		l, err := Eval(b.Left, row)
		if err != nil {
			return types.Value{}, err
		}
		if !truthy(l) {
			return types.Bool(false), nil
		}
		r, err := Eval(b.Right, row)
		if err != nil {
			return types.Value{}, err
		}
		return types.Bool(truthy(r)), nil

	case "OR":
		l, err := Eval(b.Left, row)
		if err != nil {
			return types.Value{}, err
		}
		if truthy(l) {
			return types.Bool(true), nil
		}
		r, err := Eval(b.Right, row)
		if err != nil {
			return types.Value{}, err
		}
		return types.Bool(truthy(r)), nil
	}

	l, err := Eval(b.Left, row)
	if err != nil {
		return types.Value{}, err
	}
	r, err := Eval(b.Right, row)
	if err != nil {
		return types.Value{}, err
	}

	switch b.Op {
	case "=", "!=", "<>", "<", "<=", ">", ">=":
		return types.Bool(compareOp(b.Op, l, r)), nil
	case "+", "-", "*", "/":
		lf, lok := l.AsFloat64()
		rf, rok := r.AsFloat64()
		if !lok || !rok {
			if b.Op == "+" && l.Kind == types.KindString && r.Kind == types.KindString {
				return types.Str(l.S + r.S), nil
			}
			return types.Null(), nil
		}
		switch b.Op {
		case "+":
			return types.Float64(lf + rf), nil
		case "-":
			return types.Float64(lf - rf), nil
		case "*":
			return types.Float64(lf * rf), nil
		case "/":
			if rf == 0 {
				return types.Null(), nil
			}
			return types.Float64(lf / rf), nil
		}
	}
	return types.Value{}, apperror.Exec("bad_binary_op", "unsupported operator %q", b.Op)
}

func compareOp(op string, l, r types.Value) bool {
	if l.IsNull() || r.IsNull() {
		return false
	}
	c := compareValues(l, r)
	switch op {
	case "=":
		return c == 0
	case "!=", "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

// compareValues orders values the same way storage.DataFrame.SortBy's
// caller-supplied comparator is expected to: numeric kinds compare
// numerically, strings lexically, bool false<true, else falls back to
// the rendered string form.
func compareValues(a, b types.Value) int {
	if af, aok := a.AsFloat64(); aok {
		if bf, bok := b.AsFloat64(); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if a.Kind == types.KindString && b.Kind == types.KindString {
		switch {
		case a.S < b.S:
			return -1
		case a.S > b.S:
			return 1
		default:
			return 0
		}
	}
	as, bs := a.String(), b.String()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func evalScalarFunc(fc planner.FuncCall, row Row) (types.Value, error) {
	args := make([]types.Value, len(fc.Args))
	for i, a := range fc.Args {
		v, err := Eval(a, row)
		if err != nil {
			return types.Value{}, err
		}
		args[i] = v
	}
	switch fc.Name {
	case "ABS":
		if len(args) != 1 {
			return types.Value{}, apperror.Exec("bad_arity", "ABS takes exactly 1 argument")
		}
		f, ok := args[0].AsFloat64()
		if !ok {
			return types.Null(), nil
		}
		return types.Float64(math.Abs(f)), nil
	case "COALESCE":
		for _, a := range args {
			if !a.IsNull() {
				return a, nil
			}
		}
		return types.Null(), nil
	case "LOWER":
		if len(args) != 1 {
			return types.Value{}, apperror.Exec("bad_arity", "LOWER takes exactly 1 argument")
		}
		return types.Str(strings.ToLower(args[0].S)), nil
	case "TO_VEC":
		if len(args) != 1 || args[0].Kind != types.KindString {
			return types.Value{}, apperror.Exec("bad_arity", "TO_VEC takes exactly 1 string argument")
		}
		var vec []float64
		if err := json.Unmarshal([]byte(args[0].S), &vec); err != nil {
			return types.Value{}, apperror.UserInput("bad_vector_json", "TO_VEC argument is not a JSON number array: %v", err)
		}
		return types.ListFloat64(vec), nil
	default:
		if isAggregateName(fc.Name) {
			return types.Value{}, apperror.Exec("aggregate_outside_aggregation", "%s() used outside an aggregated stage", fc.Name)
		}
		return types.Value{}, apperror.Exec("unknown_function", "unresolved scalar function %q", fc.Name)
	}
}

// Mask evaluates expr against every row of df and returns the boolean
// filter mask, computed exactly once per the From/Where stage's rule
// (spec §4.5).
func Mask(df *storage.DataFrame, expr planner.Expr, rowBuilder func(i int) Row) ([]bool, error) {
	n := df.NumRows()
	mask := make([]bool, n)
	for i := 0; i < n; i++ {
		v, err := Eval(expr, rowBuilder(i))
		if err != nil {
			return nil, err
		}
		mask[i] = truthy(v)
	}
	return mask, nil
}
