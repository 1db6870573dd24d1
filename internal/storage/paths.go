// Package storage implements Clarium's storage substrate: the on-disk
// layout, typed columnar DataFrame, and atomic file-swap primitive every
// higher engine (tschunk, vectorindex, graphstore, filestore) is built on
// top of through narrow, typed adapters (spec §2 layer 1, §4 "Storage
// engines are invoked only through typed adapters").
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"clarium/internal/apperror"
)

// ObjectKind identifies what on-disk suffix an object resolves to.
type ObjectKind string

const (
	KindRegularTable ObjectKind = "table"
	KindTimeTable    ObjectKind = "time_table"
	KindView         ObjectKind = "view"
	KindVectorIndex  ObjectKind = "vector_index"
	KindGraph        ObjectKind = "graph"
	KindGraphStore   ObjectKind = "graph_store"
	KindFilestore    ObjectKind = "filestore"
	KindUnknown      ObjectKind = ""
)

// Suffixes used to type on-disk entries, per spec §2/§3.
const (
	SuffixTime       = ".time"
	SuffixView       = ".view"
	SuffixVIndexMeta = ".vindex"
	SuffixVIndexData = ".vdata"
	SuffixGraph      = ".graph"
	SuffixGStore     = ".gstore"
	SuffixFilestore  = ".fs"
)

// Layout resolves the <root>/<db>/<schema>/<object> path scheme from spec §2.
type Layout struct {
	Root string
}

func NewLayout(root string) *Layout { return &Layout{Root: root} }

func (l *Layout) SchemaDir(db, schema string) string {
	return filepath.Join(l.Root, NormalizeIdent(db, false), NormalizeIdent(schema, false))
}

func (l *Layout) RegularTableDir(db, schema, table string) string {
	return filepath.Join(l.SchemaDir(db, schema), NormalizeIdent(table, false))
}

func (l *Layout) TimeTableDir(db, schema, table string) string {
	return filepath.Join(l.SchemaDir(db, schema), NormalizeIdent(table, false)+SuffixTime)
}

func (l *Layout) ViewFile(db, schema, name string) string {
	return filepath.Join(l.SchemaDir(db, schema), NormalizeIdent(name, false)+SuffixView)
}

func (l *Layout) VectorIndexMeta(db, schema, name string) string {
	return filepath.Join(l.SchemaDir(db, schema), NormalizeIdent(name, false)+SuffixVIndexMeta)
}

func (l *Layout) VectorIndexData(db, schema, name string) string {
	return filepath.Join(l.SchemaDir(db, schema), NormalizeIdent(name, false)+SuffixVIndexData)
}

func (l *Layout) GraphFile(db, schema, name string) string {
	return filepath.Join(l.SchemaDir(db, schema), NormalizeIdent(name, false)+SuffixGraph)
}

func (l *Layout) GraphStoreDir(db, schema, name string) string {
	return filepath.Join(l.SchemaDir(db, schema), NormalizeIdent(name, false)+SuffixGStore)
}

func (l *Layout) FilestoreDir(db, schema, name string) string {
	return filepath.Join(l.SchemaDir(db, schema), NormalizeIdent(name, false)+SuffixFilestore)
}

// NormalizeIdent case-folds an identifier unless it was written quoted
// (spec §3 "Names are normalized (case-fold unless quoted)").
func NormalizeIdent(name string, quoted bool) string {
	if quoted {
		return name
	}
	return strings.ToLower(name)
}

// ResolveKind determines an object's on-disk kind by probing suffixed
// paths, per spec §3 "Object kind is determined by on-disk suffix."
func (l *Layout) ResolveKind(db, schema, name string) (ObjectKind, string, error) {
	base := l.SchemaDir(db, schema)
	norm := NormalizeIdent(name, false)

	candidates := []struct {
		kind ObjectKind
		path string
		dir  bool
	}{
		{KindTimeTable, filepath.Join(base, norm+SuffixTime), true},
		{KindView, filepath.Join(base, norm+SuffixView), false},
		{KindVectorIndex, filepath.Join(base, norm+SuffixVIndexMeta), false},
		{KindGraphStore, filepath.Join(base, norm+SuffixGStore), true},
		{KindGraph, filepath.Join(base, norm+SuffixGraph), false},
		{KindFilestore, filepath.Join(base, norm+SuffixFilestore), true},
		{KindRegularTable, filepath.Join(base, norm), true},
	}

	var found []struct {
		kind ObjectKind
		path string
	}
	for _, c := range candidates {
		info, err := os.Stat(c.path)
		if err != nil {
			continue
		}
		if info.IsDir() != c.dir {
			continue
		}
		found = append(found, struct {
			kind ObjectKind
			path string
		}{c.kind, c.path})
	}
	if len(found) == 0 {
		return KindUnknown, "", fmt.Errorf("object %s/%s/%s not found", db, schema, name)
	}
	if len(found) > 1 {
		// spec §3: "An object name must not conflict with a sibling of
		// another kind" — this should never be reachable if DDL enforced
		// the invariant, so treat it as an internal consistency failure.
		return KindUnknown, "", apperror.Internal("conflicting_object_kinds", "object %s/%s/%s resolves to %d conflicting kinds", db, schema, name, len(found))
	}
	return found[0].kind, found[0].path, nil
}
