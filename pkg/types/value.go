// Package types holds the value and wire-contract types shared across
// Clarium's storage engines, planner, and executor.
package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// Kind tags a Value's dynamic type. Columns carry a single Kind per row
// (or, for typed columns, a single Kind for the whole column); conversions
// happen only at ingest, projection, and wire-serialization boundaries.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt64
	KindFloat64
	KindBool
	KindString
	KindBytes
	KindListFloat64
	KindListAny
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindListFloat64:
		return "list<float64>"
	case KindListAny:
		return "list<any>"
	default:
		return "unknown"
	}
}

// Value is a single cell. Exactly one of the typed fields is meaningful,
// selected by Kind; Any carries KindListAny payloads (heterogeneous 1-D
// arrays per spec's Open Question on ARRAY[...] literals).
type Value struct {
	Kind Kind
	I    int64
	F    float64
	B    bool
	S    string
	Byt  []byte
	Vec  []float64
	Any  []Value
}

func Null() Value                  { return Value{Kind: KindNull} }
func Int64(v int64) Value          { return Value{Kind: KindInt64, I: v} }
func Float64(v float64) Value      { return Value{Kind: KindFloat64, F: v} }
func Bool(v bool) Value            { return Value{Kind: KindBool, B: v} }
func Str(v string) Value           { return Value{Kind: KindString, S: v} }
func Bytes(v []byte) Value         { return Value{Kind: KindBytes, Byt: v} }
func ListFloat64(v []float64) Value { return Value{Kind: KindListFloat64, Vec: v} }
func ListAny(v []Value) Value      { return Value{Kind: KindListAny, Any: v} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsFloat64 coerces numeric-ish kinds to float64 for scoring/aggregation;
// used by the executor's aggregate catalog and the vector engine's exact
// re-score path. Returns (0, false) for kinds with no numeric meaning.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindInt64:
		return float64(v.I), true
	case KindFloat64:
		return v.F, true
	case KindBool:
		if v.B {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// LUB computes the least upper bound of two column types under the
// widening lattice i64 <= f64 <= string (bool incomparable with anything
// but itself; mixing bool with any other kind widens to string). This is
// the engine used by schema.json widening (spec property 2).
func (k Kind) LUB(other Kind) Kind {
	if k == other {
		return k
	}
	if k == KindNull {
		return other
	}
	if other == KindNull {
		return k
	}
	rank := func(x Kind) int {
		switch x {
		case KindInt64:
			return 1
		case KindFloat64:
			return 2
		case KindString:
			return 3
		default:
			return -1
		}
	}
	rk, ro := rank(k), rank(other)
	if rk < 0 || ro < 0 {
		// bool vs. anything else (including vectors) widens to string.
		return KindString
	}
	if rk > ro {
		return k
	}
	return other
}

// Equal reports cell equality used by UNION's duplicate-row removal and
// GROUP BY key comparison. NaN is never equal to anything, including
// itself, matching float semantics used by ORDER BY tie-breaking.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindInt64:
		return v.I == o.I
	case KindFloat64:
		if math.IsNaN(v.F) || math.IsNaN(o.F) {
			return false
		}
		return v.F == o.F
	case KindBool:
		return v.B == o.B
	case KindString:
		return v.S == o.S
	case KindBytes:
		if len(v.Byt) != len(o.Byt) {
			return false
		}
		for i := range v.Byt {
			if v.Byt[i] != o.Byt[i] {
				return false
			}
		}
		return true
	case KindListFloat64:
		if len(v.Vec) != len(o.Vec) {
			return false
		}
		for i := range v.Vec {
			if v.Vec[i] != o.Vec[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON renders a Value as a plain JSON scalar/array for the HTTP
// wire surface (spec §6 "HTTP success: {\"status\":\"ok\",\"results\":...}"):
// bytes are base64 text since JSON has no byte-string type, matching the
// teacher's convention for opaque binary fields in its own API responses.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindInt64:
		return json.Marshal(v.I)
	case KindFloat64:
		return json.Marshal(v.F)
	case KindBool:
		return json.Marshal(v.B)
	case KindString:
		return json.Marshal(v.S)
	case KindBytes:
		return json.Marshal(base64.StdEncoding.EncodeToString(v.Byt))
	case KindListFloat64:
		return json.Marshal(v.Vec)
	case KindListAny:
		return json.Marshal(v.Any)
	default:
		return []byte("null"), nil
	}
}

// String renders a Value for diagnostics and text-mode logging.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt64:
		return fmt.Sprintf("%d", v.I)
	case KindFloat64:
		return fmt.Sprintf("%g", v.F)
	case KindBool:
		return fmt.Sprintf("%t", v.B)
	case KindString:
		return v.S
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.Byt))
	case KindListFloat64:
		return fmt.Sprintf("vec[%d]", len(v.Vec))
	case KindListAny:
		return fmt.Sprintf("list[%d]", len(v.Any))
	default:
		return "?"
	}
}
