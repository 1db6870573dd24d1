package exec

import (
	"clarium/internal/apperror"
	"clarium/internal/storage"
	"clarium/internal/tschunk"
	"clarium/internal/vectorindex"
)

// TableStore is the typed storage adapter the executor's From/Where and
// Into stages go through (spec §4 "Storage engines are invoked only
// through typed adapters"). DiskTableStore backs it with tschunk.Table
// (which already handles both regular and time tables, compressed or
// not) resolved through a storage.Layout.
type TableStore interface {
	ScanTable(db, schema, table string) (*storage.DataFrame, error)
	AppendInto(db, schema, table string, df *storage.DataFrame, now int64) error
	ReplaceInto(db, schema, table string, df *storage.DataFrame, now int64) error
	IsTimeTable(db, schema, table string) (bool, error)
	VectorIndexFor(db, schema, table, column string) (*vectorindex.Index, error)
}

type DiskTableStore struct {
	Layout   *storage.Layout
	Compress bool
}

func NewDiskTableStore(layout *storage.Layout, compress bool) *DiskTableStore {
	return &DiskTableStore{Layout: layout, Compress: compress}
}

func (d *DiskTableStore) resolve(db, schema, table string) (*tschunk.Table, bool, error) {
	kind, path, err := d.Layout.ResolveKind(db, schema, table)
	switch kind {
	case storage.KindTimeTable:
		return tschunk.Open(path, true, d.Compress), true, nil
	case storage.KindRegularTable:
		return tschunk.Open(path, false, d.Compress), false, nil
	case storage.KindUnknown:
		// auto-create as a regular table, per spec §4.5 Into stage
		// "Missing destinations are auto-created with inferred schema."
		return tschunk.Open(d.Layout.RegularTableDir(db, schema, table), false, d.Compress), false, nil
	default:
		return nil, false, apperror.Exec("not_a_table", "object %s/%s/%s is not a table (kind %s)", db, schema, table, kind)
	}
}

func (d *DiskTableStore) ScanTable(db, schema, table string) (*storage.DataFrame, error) {
	tbl, _, err := d.resolve(db, schema, table)
	if err != nil {
		return nil, err
	}
	return tbl.Scan(nil)
}

func (d *DiskTableStore) IsTimeTable(db, schema, table string) (bool, error) {
	_, isTime, err := d.resolve(db, schema, table)
	return isTime, err
}

func (d *DiskTableStore) AppendInto(db, schema, table string, df *storage.DataFrame, now int64) error {
	tbl, isTime, err := d.resolve(db, schema, table)
	if err != nil {
		return err
	}
	if isTime && !df.HasColumn("_time") {
		return apperror.Exec("missing_time_column", "APPEND into a time table requires a _time column")
	}
	_, _, err = tbl.Append(df, now)
	return err
}

func (d *DiskTableStore) ReplaceInto(db, schema, table string, df *storage.DataFrame, now int64) error {
	tbl, isTime, err := d.resolve(db, schema, table)
	if err != nil {
		return err
	}
	if isTime {
		return apperror.Exec("replace_not_allowed_for_time_table", "REPLACE is not allowed for time tables")
	}
	return tbl.Rewrite(df, now)
}

func (d *DiskTableStore) VectorIndexFor(db, schema, table, column string) (*vectorindex.Index, error) {
	name := table + "." + column
	return vectorindex.Open(d.Layout, db, schema, name), nil
}
