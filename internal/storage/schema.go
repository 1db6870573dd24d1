package storage

import (
	"encoding/json"
	"fmt"

	"clarium/internal/apperror"
	"clarium/pkg/types"
)

// ColumnType is a schema.json column type: one of
// string|int64|float64|bool|vector(dim), per spec §3/§6.
type ColumnType struct {
	Kind      types.Kind
	VectorDim int // > 0 only when Kind == KindListFloat64
}

func (c ColumnType) String() string {
	switch c.Kind {
	case types.KindInt64:
		return "int64"
	case types.KindFloat64:
		return "float64"
	case types.KindBool:
		return "bool"
	case types.KindString:
		return "string"
	case types.KindListFloat64:
		return fmt.Sprintf("vector(%d)", c.VectorDim)
	default:
		return "string"
	}
}

func ParseColumnType(s string) (ColumnType, error) {
	switch s {
	case "string":
		return ColumnType{Kind: types.KindString}, nil
	case "int64":
		return ColumnType{Kind: types.KindInt64}, nil
	case "float64":
		return ColumnType{Kind: types.KindFloat64}, nil
	case "bool":
		return ColumnType{Kind: types.KindBool}, nil
	default:
		var dim int
		if n, err := fmt.Sscanf(s, "vector(%d)", &dim); err == nil && n == 1 {
			return ColumnType{Kind: types.KindListFloat64, VectorDim: dim}, nil
		}
		return ColumnType{}, apperror.Ddl("bad_column_type", "unrecognized column type %q", s)
	}
}

// Schema is the ordered map column -> type from schema.json, plus the
// optional PRIMARY marker and the stable class OID, per spec §6.
type Schema struct {
	Columns []string
	Types   map[string]ColumnType
	Primary []string
	ClassOID int64
}

func NewSchema() *Schema {
	return &Schema{Types: make(map[string]ColumnType)}
}

func (s *Schema) Has(col string) bool {
	_, ok := s.Types[col]
	return ok
}

func (s *Schema) AddColumn(name string, ct ColumnType) {
	if !s.Has(name) {
		s.Columns = append(s.Columns, name)
	}
	s.Types[name] = ct
}

// Widen applies the LUB lattice to an existing column's type, per spec
// property 2 ("declared type is the least upper bound of observed types").
// Vector columns never widen (dim must already match; mismatches are a
// planner/executor Exec error, not a storage-level widening decision).
func (s *Schema) Widen(name string, observed ColumnType) {
	existing, ok := s.Types[name]
	if !ok {
		s.AddColumn(name, observed)
		return
	}
	if existing.Kind == types.KindListFloat64 || observed.Kind == types.KindListFloat64 {
		return
	}
	lub := existing.Kind.LUB(observed.Kind)
	if lub != existing.Kind {
		s.Types[name] = ColumnType{Kind: lub}
	}
}

// MarshalJSON writes schema.json as the ordered-looking object described
// in spec §6: a flat column->typekey map plus the two reserved keys.
// Go's encoding/json does not preserve map order, but the spec only
// requires that DataFrame column order (tracked separately in Columns) be
// stable — schema.json's own key order is not load-bearing.
func (s *Schema) MarshalJSON() ([]byte, error) {
	raw := map[string]any{}
	for _, c := range s.Columns {
		raw[c] = s.Types[c].String()
	}
	if len(s.Primary) > 0 {
		raw["PRIMARY"] = s.Primary
	}
	if s.ClassOID != 0 {
		raw["__clarium_oids__"] = map[string]int64{"class_oid": s.ClassOID}
	}
	return json.Marshal(raw)
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = *NewSchema()
	for k, v := range raw {
		switch k {
		case "PRIMARY":
			var p []string
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			s.Primary = p
		case "__clarium_oids__":
			var oids map[string]int64
			if err := json.Unmarshal(v, &oids); err != nil {
				return err
			}
			s.ClassOID = oids["class_oid"]
		default:
			var typeStr string
			if err := json.Unmarshal(v, &typeStr); err != nil {
				return err
			}
			ct, err := ParseColumnType(typeStr)
			if err != nil {
				return err
			}
			s.AddColumn(k, ct)
		}
	}
	return nil
}

func LoadSchema(path string) (*Schema, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s := NewSchema()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, apperror.Ddl("bad_schema_json", "parsing %s: %v", path, err)
	}
	return s, nil
}

func (s *Schema) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return apperror.Internal("schema_marshal_failed", "%v", err)
	}
	return AtomicWriteFile(path, data, 0o644)
}
