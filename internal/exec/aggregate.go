package exec

import (
	"math"
	"sort"
	"strings"

	"clarium/internal/apperror"
	"clarium/internal/planner"
	"clarium/pkg/types"
)

var aggregateNames = map[string]bool{
	"AVG": true, "SUM": true, "MIN": true, "MAX": true, "COUNT": true,
	"FIRST": true, "LAST": true, "STDEV": true, "QUANTILE": true,
	"DELTA": true, "HEIGHT": true, "GRADIENT": true, "ARRAY_AGG": true,
}

func isAggregateName(name string) bool { return aggregateNames[strings.ToUpper(name)] }

// applyAggregate computes one aggregate.catalog function (spec §4.5
// "Aggregate catalog: AVG, SUM, MIN, MAX, COUNT, FIRST, LAST, STDEV,
// QUANTILE(p), DELTA, HEIGHT, GRADIENT, ARRAY_AGG") over the given group
// of rows for one FuncCall, e.g. AVG(temp) evaluated within a single
// GROUP BY bucket.
func applyAggregate(fc planner.FuncCall, group []Row) (types.Value, error) {
	name := strings.ToUpper(fc.Name)
	if name == "COUNT" {
		if len(fc.Args) == 0 {
			return types.Int64(int64(len(group))), nil
		}
		n := 0
		seen := map[string]bool{}
		for _, row := range group {
			v, err := Eval(fc.Args[0], row)
			if err != nil {
				return types.Value{}, err
			}
			if v.IsNull() {
				continue
			}
			if fc.Distinct {
				k := v.String()
				if seen[k] {
					continue
				}
				seen[k] = true
			}
			n++
		}
		return types.Int64(int64(n)), nil
	}

	if len(fc.Args) != 1 && name != "ARRAY_AGG" && !(name == "QUANTILE" && len(fc.Args) == 2) {
		return types.Value{}, apperror.Exec("bad_arity", "%s takes exactly one argument", name)
	}

	vals := make([]types.Value, 0, len(group))
	for _, row := range group {
		v, err := Eval(fc.Args[0], row)
		if err != nil {
			return types.Value{}, err
		}
		vals = append(vals, v)
	}

	switch name {
	case "FIRST":
		if len(vals) == 0 {
			return types.Null(), nil
		}
		return vals[0], nil

	case "LAST":
		if len(vals) == 0 {
			return types.Null(), nil
		}
		return vals[len(vals)-1], nil

	case "ARRAY_AGG":
		return types.ListAny(append([]types.Value{}, vals...)), nil

	case "SUM", "AVG", "MIN", "MAX", "STDEV", "DELTA", "HEIGHT", "GRADIENT":
		nums := make([]float64, 0, len(vals))
		for _, v := range vals {
			if f, ok := v.AsFloat64(); ok {
				nums = append(nums, f)
			}
		}
		if len(nums) == 0 {
			return types.Null(), nil
		}
		switch name {
		case "SUM":
			return types.Float64(sumFloats(nums)), nil
		case "AVG":
			return types.Float64(sumFloats(nums) / float64(len(nums))), nil
		case "MIN":
			return types.Float64(minFloat(nums)), nil
		case "MAX":
			return types.Float64(maxFloat(nums)), nil
		case "STDEV":
			return types.Float64(stdev(nums)), nil
		case "DELTA":
			return types.Float64(nums[len(nums)-1] - nums[0]), nil
		case "HEIGHT":
			return types.Float64(maxFloat(nums) - minFloat(nums)), nil
		case "GRADIENT":
			if len(nums) < 2 {
				return types.Float64(0), nil
			}
			return types.Float64((nums[len(nums)-1] - nums[0]) / float64(len(nums)-1)), nil
		}

	case "QUANTILE":
		p := 0.5
		if len(fc.Args) == 2 {
			pv, err := Eval(fc.Args[1], group[0])
			if err != nil {
				return types.Value{}, err
			}
			if f, ok := pv.AsFloat64(); ok {
				p = f
			}
			nums := make([]float64, 0, len(group))
			for _, row := range group {
				v, err := Eval(fc.Args[0], row)
				if err != nil {
					return types.Value{}, err
				}
				if f, ok := v.AsFloat64(); ok {
					nums = append(nums, f)
				}
			}
			return types.Float64(quantile(nums, p)), nil
		}
		nums := make([]float64, 0, len(vals))
		for _, v := range vals {
			if f, ok := v.AsFloat64(); ok {
				nums = append(nums, f)
			}
		}
		return types.Float64(quantile(nums, p)), nil
	}

	return types.Value{}, apperror.Exec("unknown_aggregate", "unrecognized aggregate function %q", fc.Name)
}

func sumFloats(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func minFloat(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxFloat(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := sumFloats(xs) / float64(len(xs))
	var acc float64
	for _, x := range xs {
		d := x - mean
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(xs)-1))
}

func quantile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64{}, xs...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
