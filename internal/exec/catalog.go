package exec

import (
	"clarium/internal/apperror"
	"clarium/internal/storage"
	"clarium/internal/tschunk"
)

// SchemaCatalog implements planner.CatalogLookup by reading schema.json
// off disk through the same storage.Layout the executor itself uses —
// the planner never talks to tschunk directly, only through this narrow
// adapter (spec §4 "Storage engines are invoked only through typed
// adapters").
type SchemaCatalog struct {
	Layout *storage.Layout
}

func NewSchemaCatalog(layout *storage.Layout) *SchemaCatalog {
	return &SchemaCatalog{Layout: layout}
}

func (c *SchemaCatalog) ColumnsOf(db, schema, table string) ([]string, error) {
	kind, path, err := c.Layout.ResolveKind(db, schema, table)
	if err != nil {
		return nil, apperror.NotFound("unknown_relation", "%s/%s/%s: %v", db, schema, table, err)
	}
	switch kind {
	case storage.KindRegularTable, storage.KindTimeTable:
		tbl := tschunk.Open(path, kind == storage.KindTimeTable, false)
		sch, err := tbl.LoadSchema()
		if err != nil {
			return nil, err
		}
		cols := append([]string{}, sch.Columns...)
		if kind == storage.KindTimeTable {
			cols = append(cols, "_time")
		}
		return cols, nil
	default:
		return nil, apperror.Exec("not_a_relation", "%s/%s/%s is not a scannable relation (kind %s)", db, schema, table, kind)
	}
}
