package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIdentCaseFoldsUnlessQuoted(t *testing.T) {
	assert.Equal(t, "mytable", NormalizeIdent("MyTable", false))
	assert.Equal(t, "MyTable", NormalizeIdent("MyTable", true))
}

func TestLayoutPathBuilders(t *testing.T) {
	l := NewLayout("/data")
	assert.Equal(t, "/data/db/pub", l.SchemaDir("DB", "Pub"))
	assert.Equal(t, "/data/db/pub/events.time", l.TimeTableDir("db", "pub", "Events"))
	assert.Equal(t, "/data/db/pub/v.view", l.ViewFile("db", "pub", "v"))
	assert.Equal(t, "/data/db/pub/idx.vindex", l.VectorIndexMeta("db", "pub", "idx"))
	assert.Equal(t, "/data/db/pub/idx.vdata", l.VectorIndexData("db", "pub", "idx"))
	assert.Equal(t, "/data/db/pub/g.graph", l.GraphFile("db", "pub", "g"))
	assert.Equal(t, "/data/db/pub/g.gstore", l.GraphStoreDir("db", "pub", "g"))
	assert.Equal(t, "/data/db/pub/f.fs", l.FilestoreDir("db", "pub", "f"))
}

func TestResolveKindNotFound(t *testing.T) {
	l := NewLayout(t.TempDir())
	_, _, err := l.ResolveKind("db", "pub", "nope")
	assert.Error(t, err)
}

func TestResolveKindFindsRegularTable(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	tableDir := filepath.Join(root, "db", "pub", "orders")
	require.NoError(t, os.MkdirAll(tableDir, 0o755))

	kind, path, err := l.ResolveKind("db", "pub", "orders")
	require.NoError(t, err)
	assert.Equal(t, KindRegularTable, kind)
	assert.Equal(t, tableDir, path)
}

func TestResolveKindFindsView(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	base := filepath.Join(root, "db", "pub")
	require.NoError(t, os.MkdirAll(base, 0o755))
	viewPath := filepath.Join(base, "v.view")
	require.NoError(t, os.WriteFile(viewPath, []byte("{}"), 0o644))

	kind, path, err := l.ResolveKind("db", "pub", "v")
	require.NoError(t, err)
	assert.Equal(t, KindView, kind)
	assert.Equal(t, viewPath, path)
}

func TestResolveKindConflictingSiblings(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	base := filepath.Join(root, "db", "pub")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "x.view"), []byte("{}"), 0o644))

	_, _, err := l.ResolveKind("db", "pub", "x")
	assert.Error(t, err)
}
