package session

import (
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgtype"

	"clarium/internal/apperror"
	"clarium/internal/storage"
	"clarium/pkg/types"
)

// clariumOIDBase is where Clarium-assigned OIDs start, kept clear of the
// reserved Postgres builtin range so a real psql client's `\dT` output
// never collides with a Clarium vector/composite type (spec §4.6).
const clariumOIDBase = 100000

// builtinOID maps a column's types.Kind to the matching real Postgres
// OID from pgx/v5/pgtype, so pg_type.oid matches what a real psql client
// expects for scalar columns (spec §4.6). types.KindListFloat64 (vector
// columns) and anything else falls through to a Clarium-assigned OID.
var builtinOID = map[types.Kind]uint32{
	types.KindInt64:   pgtype.Int8OID,
	types.KindFloat64: pgtype.Float8OID,
	types.KindBool:    pgtype.BoolOID,
	types.KindString:  pgtype.TextOID,
	types.KindBytes:   pgtype.ByteaOID,
}

// CatalogColumn is the minimal column shape RegisterTable/RegisterView
// need: enough to assign an attribute OID and print a type name.
type CatalogColumn struct {
	Name string
	Type storage.ColumnType
}

// PgType is one pg_catalog.pg_type row (spec §4.6).
type PgType struct {
	OID     uint32
	TypName string
}

// PgNamespace is one pg_catalog.pg_namespace row.
type PgNamespace struct {
	OID  uint32
	Nspname string
}

// PgClass is one pg_catalog.pg_class row (relation = table or view).
type PgClass struct {
	OID       uint32
	Relname   string
	Relnamespace uint32
	Relkind   string // "r" table, "v" view
}

// PgAttribute is one pg_catalog.pg_attribute row.
type PgAttribute struct {
	Attrelid   uint32
	Attname    string
	Atttypid   uint32
	Atttypname string
	Attnum     int16
}

// PgView is one pg_catalog.pg_views row plus its stored definition, the
// backing data for the pg_get_viewdef(oid) scalar (spec §4.6).
type PgView struct {
	OID        uint32
	Schemaname string
	Viewname   string
	Definition string
}

// SchemaRow is one information_schema.schemata row.
type SchemaRow struct {
	CatalogName string
	SchemaName  string
}

// TableRow is one information_schema.tables row.
type TableRow struct {
	TableCatalog string
	TableSchema  string
	TableName    string
	TableType    string // "BASE TABLE" | "VIEW"
}

// ColumnRow is one information_schema.columns row.
type ColumnRow struct {
	TableCatalog string
	TableSchema  string
	TableName    string
	ColumnName   string
	OrdinalPos   int
	DataType     string
}

// Catalog materializes pg_catalog/information_schema rows over objects
// registered with RegisterTable/RegisterView, assigning each a stable
// OID on first registration (spec §4.6 "computing stable OIDs persisted
// in object metadata").
type Catalog struct {
	mu       sync.Mutex
	nextOID  uint32
	namespaces map[string]uint32 // schema name -> oid
	classes    []PgClass
	classOID   map[string]uint32 // "schema.name" -> oid
	attrs      map[uint32][]PgAttribute
	views      map[uint32]PgView
	dbName     string
}

func NewCatalog(dbName string) *Catalog {
	return &Catalog{
		nextOID:    clariumOIDBase,
		namespaces: make(map[string]uint32),
		classOID:   make(map[string]uint32),
		attrs:      make(map[uint32][]PgAttribute),
		views:      make(map[uint32]PgView),
		dbName:     dbName,
	}
}

func (c *Catalog) allocOID() uint32 {
	oid := c.nextOID
	c.nextOID++
	return oid
}

func (c *Catalog) namespaceOID(schema string) uint32 {
	if oid, ok := c.namespaces[schema]; ok {
		return oid
	}
	oid := c.allocOID()
	c.namespaces[schema] = oid
	return oid
}

// RegisterTable assigns (or returns the existing) OID for a base table
// and materializes its pg_attribute rows from the column list.
func (c *Catalog) RegisterTable(schema, name string, columns []CatalogColumn) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registerRelation(schema, name, "r", columns)
}

// RegisterView assigns an OID for a view, records its definition for
// pg_get_viewdef, and materializes its pg_attribute rows.
func (c *Catalog) RegisterView(schema, name, definition string, columns []CatalogColumn) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	oid := c.registerRelation(schema, name, "v", columns)
	c.views[oid] = PgView{OID: oid, Schemaname: schema, Viewname: name, Definition: definition}
	return oid
}

func (c *Catalog) registerRelation(schema, name, kind string, columns []CatalogColumn) uint32 {
	key := schema + "." + name
	if oid, ok := c.classOID[key]; ok {
		return oid
	}
	nsOID := c.namespaceOID(schema)
	oid := c.allocOID()
	c.classOID[key] = oid
	c.classes = append(c.classes, PgClass{OID: oid, Relname: name, Relnamespace: nsOID, Relkind: kind})

	attrs := make([]PgAttribute, 0, len(columns))
	for i, col := range columns {
		typOID, ok := builtinOID[col.Type.Kind]
		if !ok {
			typOID = c.allocOID() // vector(N)/composite: Clarium-assigned range
		}
		attrs = append(attrs, PgAttribute{Attrelid: oid, Attname: col.Name, Atttypid: typOID, Atttypname: col.Type.String(), Attnum: int16(i + 1)})
	}
	c.attrs[oid] = attrs
	return oid
}

// PgGetViewDef implements the `pg_get_viewdef(oid)` scalar (spec §4.6).
func (c *Catalog) PgGetViewDef(oid uint32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[oid]
	if !ok {
		return "", apperror.NotFound("view_not_found", "no view with oid %d", oid)
	}
	return v.Definition, nil
}

// Schemata materializes information_schema.schemata.
func (c *Catalog) Schemata() []SchemaRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]SchemaRow, 0, len(c.namespaces))
	for schema := range c.namespaces {
		rows = append(rows, SchemaRow{CatalogName: c.dbName, SchemaName: schema})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SchemaName < rows[j].SchemaName })
	return rows
}

// Tables materializes information_schema.tables.
func (c *Catalog) Tables() []TableRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	schemaByOID := map[uint32]string{}
	for name, oid := range c.namespaces {
		schemaByOID[oid] = name
	}
	rows := make([]TableRow, 0, len(c.classes))
	for _, cl := range c.classes {
		tt := "BASE TABLE"
		if cl.Relkind == "v" {
			tt = "VIEW"
		}
		rows = append(rows, TableRow{TableCatalog: c.dbName, TableSchema: schemaByOID[cl.Relnamespace], TableName: cl.Relname, TableType: tt})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TableSchema != rows[j].TableSchema {
			return rows[i].TableSchema < rows[j].TableSchema
		}
		return rows[i].TableName < rows[j].TableName
	})
	return rows
}

// Columns materializes information_schema.columns.
func (c *Catalog) Columns() []ColumnRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	schemaByOID := map[uint32]string{}
	for name, oid := range c.namespaces {
		schemaByOID[oid] = name
	}
	var rows []ColumnRow
	for _, cl := range c.classes {
		for _, a := range c.attrs[cl.OID] {
			rows = append(rows, ColumnRow{
				TableCatalog: c.dbName,
				TableSchema:  schemaByOID[cl.Relnamespace],
				TableName:    cl.Relname,
				ColumnName:   a.Attname,
				OrdinalPos:   int(a.Attnum),
				DataType:     a.Atttypname,
			})
		}
	}
	return rows
}

// Views materializes pg_catalog.pg_views.
func (c *Catalog) Views() []PgView {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]PgView, 0, len(c.views))
	for _, v := range c.views {
		rows = append(rows, v)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Viewname < rows[j].Viewname })
	return rows
}

// PgClasses exposes the raw pg_class rows.
func (c *Catalog) PgClasses() []PgClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PgClass, len(c.classes))
	copy(out, c.classes)
	return out
}
