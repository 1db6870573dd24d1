package storage

import (
	"encoding/json"

	"clarium/internal/apperror"
)

// ViewColumn is one [name, typekey] pair in a view file's columns list
// (spec §6 "View file": `{ "name", "columns": [[name,typekey],...],
// "definition_sql", "__clarium_oids__" }`).
type ViewColumn struct {
	Name string
	Type string
}

// View is the on-disk shape of a `.view` file (spec §3 "View").
type View struct {
	Name          string
	Columns       []ViewColumn
	DefinitionSQL string
	OID           int64
}

type viewJSON struct {
	Name          string     `json:"name"`
	Columns       [][]string `json:"columns"`
	DefinitionSQL string     `json:"definition_sql"`
	OIDs          map[string]int64 `json:"__clarium_oids__,omitempty"`
}

func (v *View) MarshalJSON() ([]byte, error) {
	cols := make([][]string, len(v.Columns))
	for i, c := range v.Columns {
		cols[i] = []string{c.Name, c.Type}
	}
	raw := viewJSON{Name: v.Name, Columns: cols, DefinitionSQL: v.DefinitionSQL}
	if v.OID != 0 {
		raw.OIDs = map[string]int64{"class_oid": v.OID}
	}
	return json.Marshal(raw)
}

func (v *View) UnmarshalJSON(data []byte) error {
	var raw viewJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Name = raw.Name
	v.DefinitionSQL = raw.DefinitionSQL
	v.Columns = make([]ViewColumn, len(raw.Columns))
	for i, c := range raw.Columns {
		if len(c) == 2 {
			v.Columns[i] = ViewColumn{Name: c[0], Type: c[1]}
		}
	}
	if raw.OIDs != nil {
		v.OID = raw.OIDs["class_oid"]
	}
	return nil
}

func LoadView(path string) (*View, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	v := &View{}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, apperror.Ddl("bad_view_json", "parsing %s: %v", path, err)
	}
	return v, nil
}

func (v *View) Save(path string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperror.Internal("view_marshal_failed", "%v", err)
	}
	return AtomicWriteFile(path, data, 0o644)
}
