// Package engine assembles the storage substrate, planner, and staged
// executor behind the single statement-ingress function spec §6
// describes: `(session, sql) -> Result<ResultSet, AppError>`. It is the
// thin top-level glue `cmd/clariumd` drives; it holds no query logic of
// its own beyond dispatching a parsed Statement to the right
// component — DDL straight to the storage engines, session commands to
// internal/session, and SELECT through internal/planner + internal/exec.
package engine

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"clarium/internal/apperror"
	"clarium/internal/config"
	"clarium/internal/exec"
	"clarium/internal/filestore"
	"clarium/internal/graphstore"
	"clarium/internal/planner"
	"clarium/internal/session"
	"clarium/internal/storage"
	"clarium/internal/vectorindex"
	"clarium/pkg/types"
)

// Engine owns the storage layout, the session manager, and the open
// graph handles a running USE GRAPH session needs. One Engine serves
// many sessions, mirroring spec §5 "multi-threaded ... one worker per
// query" at the package level (methods are safe for concurrent callers;
// per-table/per-partition serialization happens inside the storage
// engines themselves).
type Engine struct {
	Config   *config.Config
	Layout   *storage.Layout
	Sessions *session.Manager
	Catalog  *session.Catalog
	Now      func() int64

	mu     sync.Mutex
	graphs map[string]*graphstore.Store // db/schema/name -> open handle
	fs     map[string]*filestore.Store
}

func New(cfg *config.Config, now func() int64) *Engine {
	if now == nil {
		now = defaultNow
	}
	return &Engine{
		Config:   cfg,
		Layout:   storage.NewLayout(cfg.Storage.Root),
		Sessions: session.NewManager(),
		Catalog:  session.NewCatalog(cfg.Storage.DefaultDatabase),
		Now:      now,
		graphs:   map[string]*graphstore.Store{},
		fs:       map[string]*filestore.Store{},
	}
}

func defaultNow() int64 { return time.Now().UnixMilli() }

// OpenSession opens (or returns the existing) session under id, seeded
// with the engine's configured default database/schema/user (spec §6
// session commands act on the session this returns).
func (e *Engine) OpenSession(id, user string) *session.Session {
	return e.Sessions.Open(id, e.Config.Storage.DefaultDatabase, e.Config.Storage.DefaultSchema, user)
}

// Execute is the §6 statement-ingress function: it parses exactly one
// statement and dispatches it, returning a ResultSet on success or an
// *apperror.AppError on failure. Panics on any user-visible path are
// caught here and remapped to Internal (spec §7).
func (e *Engine) Execute(sessionID, sql string) (rs *types.ResultSet, aerr *apperror.AppError) {
	aerr = apperror.Recover(func() *apperror.AppError {
		r, err := e.execute(sessionID, sql)
		if err != nil {
			ae, ok := apperror.As(err)
			if !ok {
				ae = apperror.Internal("unexpected_error", "%v", err)
			}
			return ae
		}
		rs = r
		return nil
	})
	return rs, aerr
}

func (e *Engine) execute(sessionID, sql string) (*types.ResultSet, error) {
	sess, err := e.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	p, err := planner.NewParser(sql)
	if err != nil {
		return nil, err
	}
	stmt, err := p.Parse()
	if err != nil {
		return nil, err
	}

	switch {
	case stmt.Use != nil:
		return e.execUse(sess, stmt.Use)
	case stmt.Set != nil:
		if err := sess.SetKnob(stmt.Set.Knob, stmt.Set.Value); err != nil {
			return nil, err
		}
		return emptyResultSet(), nil
	case stmt.CreateTable != nil:
		return e.execCreateTable(sess, stmt.CreateTable)
	case stmt.CreateView != nil:
		return e.execCreateView(sess, stmt.CreateView)
	case stmt.CreateIndex != nil:
		return e.execCreateIndex(sess, stmt.CreateIndex)
	case stmt.CreateGraph != nil:
		return e.execCreateGraph(sess, stmt.CreateGraph)
	case stmt.Drop != nil:
		return e.execDrop(sess, stmt.Drop)
	case stmt.Select != nil:
		return e.execSelect(sess, sql)
	default:
		return nil, apperror.Internal("empty_statement", "parsed statement carries no recognized form")
	}
}

func (e *Engine) execUse(sess *session.Session, u *planner.UseStmt) (*types.ResultSet, error) {
	switch u.Kind {
	case "DATABASE":
		sess.UseDatabase(u.Name)
	case "SCHEMA":
		sess.UseSchema(u.Name)
	case "GRAPH":
		sess.UseGraph(u.Name)
	case "UNSET_GRAPH":
		sess.UnsetGraph()
	case "SHOW_CURRENT_GRAPH":
		name, ok := sess.ShowCurrentGraph()
		if !ok {
			return &types.ResultSet{Columns: []types.Column{{Name: "graph", TypeKey: "string"}}, Rows: [][]types.Value{}}, nil
		}
		return &types.ResultSet{
			Columns: []types.Column{{Name: "graph", TypeKey: "string"}},
			Rows:    [][]types.Value{{types.Str(name)}},
		}, nil
	default:
		return nil, apperror.Internal("bad_use_kind", "unrecognized USE kind %q", u.Kind)
	}
	return emptyResultSet(), nil
}

func emptyResultSet() *types.ResultSet {
	return &types.ResultSet{Columns: nil, Rows: [][]types.Value{}}
}

// execSelect plans and runs one SELECT against the session's current
// scope, converting the finalized DataFrame into a ResultSet (spec §6).
// It re-parses sql (rather than reusing the Statement already parsed in
// execute) because planner.Build owns the parse-resolve-rewrite pipeline
// end to end and must see the original source text.
func (e *Engine) execSelect(sess *session.Session, sql string) (*types.ResultSet, error) {
	db := sess.CurrentDB
	schema := sess.CurrentSchema
	store := exec.NewDiskTableStore(e.Layout, e.Config.Storage.CompressChunks)
	catalog := exec.NewSchemaCatalog(e.Layout)

	plan, err := planner.Build(sql, sess, catalog)
	if err != nil {
		return nil, err
	}

	var graph *graphstore.Store
	if sess.CurrentGraph != "" {
		g, err := e.openGraph(db, schema, sess.CurrentGraph)
		if err != nil {
			return nil, err
		}
		graph = g
	}

	ex := exec.NewExecutor(store, graph, e.Now, db, schema)
	df, err := ex.Run(plan)
	if err != nil {
		return nil, err
	}
	return dataFrameToResultSet(df), nil
}

func dataFrameToResultSet(df *storage.DataFrame) *types.ResultSet {
	names := df.ColumnNames()
	cols := make([]types.Column, len(names))
	for i, n := range names {
		cols[i] = types.Column{Name: n, TypeKey: df.ColumnType(n).String()}
	}
	rows := make([][]types.Value, df.NumRows())
	for i := 0; i < df.NumRows(); i++ {
		row := df.Row(i)
		vals := make([]types.Value, len(names))
		for j, n := range names {
			vals[j] = row[n]
		}
		rows[i] = vals
	}
	return &types.ResultSet{Columns: cols, Rows: rows}
}

func (e *Engine) openGraph(db, schema, name string) (*graphstore.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := db + "/" + schema + "/" + name
	if g, ok := e.graphs[key]; ok {
		return g, nil
	}
	dir := e.Layout.GraphStoreDir(db, schema, name)
	g, err := graphstore.Open(dir, e.Config.Graph.DefaultPartitions, 1, e.Config.Graph.SyncPolicy)
	if err != nil {
		return nil, err
	}
	e.graphs[key] = g
	return g, nil
}

func (e *Engine) openFilestore(db, schema, name string) (*filestore.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := db + "/" + schema + "/" + name
	if s, ok := e.fs[key]; ok {
		return s, nil
	}
	s, err := filestore.Open(e.Layout.FilestoreDir(db, schema, name))
	if err != nil {
		return nil, err
	}
	e.fs[key] = s
	return s, nil
}

func (e *Engine) execCreateTable(sess *session.Session, ct *planner.CreateTableStmt) (*types.ResultSet, error) {
	db, schema, name, err := sess.Qualify(ct.DB, ct.Schema, ct.Name)
	if err != nil {
		return nil, err
	}
	kind, _, kerr := e.Layout.ResolveKind(db, schema, name)
	if kerr == nil && kind != storage.KindUnknown {
		if ct.IfNotExists {
			return emptyResultSet(), nil
		}
		return nil, apperror.Ddl("object_exists", "an object named %s already exists in %s/%s", name, db, schema)
	}
	dir := e.Layout.RegularTableDir(db, schema, name)
	if ct.Time {
		dir = e.Layout.TimeTableDir(db, schema, name)
	}
	if err := storage.EnsureDir(dir); err != nil {
		return nil, err
	}
	sch := storage.NewSchema()
	for _, c := range ct.Columns {
		ctype, terr := storage.ParseColumnType(c.Type)
		if terr != nil {
			return nil, terr
		}
		sch.AddColumn(c.Name, ctype)
	}
	sch.Primary = ct.Primary
	sch.ClassOID = int64(e.Catalog.RegisterTable(schema, name, catalogColumns(ct.Columns)))
	if err := sch.Save(filepath.Join(dir, "schema.json")); err != nil {
		return nil, err
	}
	return emptyResultSet(), nil
}

func catalogColumns(cols []planner.ColumnDef) []session.CatalogColumn {
	out := make([]session.CatalogColumn, len(cols))
	for i, c := range cols {
		ct, _ := storage.ParseColumnType(c.Type)
		out[i] = session.CatalogColumn{Name: c.Name, Type: ct}
	}
	return out
}

func (e *Engine) execCreateView(sess *session.Session, cv *planner.CreateViewStmt) (*types.ResultSet, error) {
	db, schema, name, err := sess.Qualify(cv.DB, cv.Schema, cv.Name)
	if err != nil {
		return nil, err
	}
	path := e.Layout.ViewFile(db, schema, name)
	if _, serr := os.Stat(path); serr == nil {
		if cv.IfNotExists {
			return emptyResultSet(), nil
		}
		return nil, apperror.Ddl("object_exists", "a view named %s already exists in %s/%s", name, db, schema)
	}
	view := &storage.View{Name: db + "/" + schema + "/" + name, DefinitionSQL: cv.DefinitionSQL}
	view.OID = int64(e.Catalog.RegisterView(schema, name, cv.DefinitionSQL, nil))
	if err := view.Save(path); err != nil {
		return nil, err
	}
	return emptyResultSet(), nil
}

func (e *Engine) execCreateIndex(sess *session.Session, ci *planner.CreateIndexStmt) (*types.ResultSet, error) {
	db, schema, name, err := sess.Qualify(ci.DB, ci.Schema, ci.Name)
	if err != nil {
		return nil, err
	}
	if _, serr := os.Stat(e.Layout.VectorIndexMeta(db, schema, name)); serr == nil {
		if ci.IfNotExists {
			return emptyResultSet(), nil
		}
		return nil, apperror.Ddl("object_exists", "an index named %s already exists in %s/%s", name, db, schema)
	}
	ix := vectorindex.Open(e.Layout, db, schema, name)
	params := vectorindex.Params{M: ci.M, EfBuild: ci.EfBuild, EfSearch: ci.EfSearch}
	if err := ix.Create(ci.Table, ci.Column, vectorindex.Metric(ci.Metric), ci.Dim, params, vectorindex.Mode(ci.Mode)); err != nil {
		return nil, err
	}
	return emptyResultSet(), nil
}

func (e *Engine) execCreateGraph(sess *session.Session, cg *planner.CreateGraphStmt) (*types.ResultSet, error) {
	db, schema, name, err := sess.Qualify(cg.DB, cg.Schema, cg.Name)
	if err != nil {
		return nil, err
	}
	dir := e.Layout.GraphStoreDir(db, schema, name)
	if _, serr := os.Stat(dir); serr == nil {
		if cg.IfNotExists {
			return emptyResultSet(), nil
		}
		return nil, apperror.Ddl("object_exists", "a graph named %s already exists in %s/%s", name, db, schema)
	}
	g, err := graphstore.Open(dir, cg.Partitions, 1, e.Config.Graph.SyncPolicy)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.graphs[db+"/"+schema+"/"+name] = g
	e.mu.Unlock()
	return emptyResultSet(), nil
}

func (e *Engine) execDrop(sess *session.Session, d *planner.DropStmt) (*types.ResultSet, error) {
	db, schema, name, err := sess.Qualify(d.DB, d.Schema, d.Name)
	if err != nil {
		return nil, err
	}
	var path string
	switch d.Kind {
	case "TABLE":
		kind, p, kerr := e.Layout.ResolveKind(db, schema, name)
		if kerr != nil || (kind != storage.KindRegularTable && kind != storage.KindTimeTable) {
			return e.dropMissing(d)
		}
		path = p
	case "VIEW":
		path = e.Layout.ViewFile(db, schema, name)
	case "INDEX":
		path = e.Layout.VectorIndexMeta(db, schema, name)
	case "GRAPH":
		path = e.Layout.GraphStoreDir(db, schema, name)
	}
	if _, serr := os.Stat(path); serr != nil {
		return e.dropMissing(d)
	}
	switch d.Kind {
	case "INDEX":
		ix := vectorindex.Open(e.Layout, db, schema, name)
		if err := ix.Drop(); err != nil {
			return nil, err
		}
	case "GRAPH":
		e.mu.Lock()
		delete(e.graphs, db+"/"+schema+"/"+name)
		e.mu.Unlock()
		if err := os.RemoveAll(path); err != nil {
			return nil, apperror.Io("drop_failed", err)
		}
	default:
		if err := os.RemoveAll(path); err != nil {
			return nil, apperror.Io("drop_failed", err)
		}
	}
	return emptyResultSet(), nil
}

func (e *Engine) dropMissing(d *planner.DropStmt) (*types.ResultSet, error) {
	if d.IfExists {
		return emptyResultSet(), nil
	}
	return nil, apperror.NotFound("object_not_found", "no %s named %s", d.Kind, d.Name)
}

