package filestore

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"clarium/internal/apperror"
)

func TestIngestThenUpdateWithETag(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	pe, err := s.Ingest("/docs/a.txt", "text/plain", []byte("hello"))
	require.NoError(t, err)
	e1 := pe.ETag

	pe2, err := s.Update("/docs/a.txt", e1, "text/plain", []byte("hello world"))
	require.NoError(t, err)
	require.NotEqual(t, e1, pe2.ETag)

	// S5: immediate re-update with the stale ETag fails precondition_failed.
	_, err = s.Update("/docs/a.txt", e1, "text/plain", []byte("stale write"))
	require.Error(t, err)
	ae, ok := apperror.As(err)
	require.True(t, ok)
	require.Equal(t, apperror.KindConflict, ae.Kind)

	_, body, err := s.ReadManifest(pe2.HeadManifest)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
}

// TestConcurrentUpdateCAS is property 9: two concurrent updates against
// the same starting ETag yield exactly one ok and one precondition_failed.
func TestConcurrentUpdateCAS(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	pe, err := s.Ingest("/docs/b.txt", "text/plain", []byte("v0"))
	require.NoError(t, err)
	e0 := pe.ETag

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.Update("/docs/b.txt", e0, "text/plain", []byte("v1"))
		}(i)
	}
	wg.Wait()

	oks, conflicts := 0, 0
	for _, err := range results {
		if err == nil {
			oks++
		} else if ae, ok := apperror.As(err); ok && ae.Kind == apperror.KindConflict {
			conflicts++
		}
	}
	require.Equal(t, 1, oks)
	require.Equal(t, 1, conflicts)
}

func TestRenameAndDelete(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = s.Ingest("/a", "text/plain", []byte("x"))
	require.NoError(t, err)

	pe, err := s.Rename("/a", "/b")
	require.NoError(t, err)
	require.Equal(t, "/b", pe.Path)
	_, err = s.loadPathEntry("/a")
	require.Error(t, err)

	require.NoError(t, s.Delete("/b"))
	got, err := s.loadPathEntry("/b")
	require.NoError(t, err)
	require.True(t, got.Tombstoned)
}

// TestCloneVisibility is property 10: immediately after a follow_head
// clone, every source path resolves to the same content under the dest
// prefix.
func TestCloneVisibility(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = s.Ingest("/src/sub", "text/plain", []byte("payload"))
	require.NoError(t, err)

	_, err = s.Clone("/dest", AliasFollowHead, "/src", "", false)
	require.NoError(t, err)

	mid, err := s.ResolveToManifest("/dest/sub")
	require.NoError(t, err)
	_, body, err := s.ReadManifest(mid)
	require.NoError(t, err)
	require.Equal(t, "payload", string(body))
}

func TestClonePinnedTreeFreezesView(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = s.Ingest("/src/file", "text/plain", []byte("v1"))
	require.NoError(t, err)

	tree, err := s.CreateTree("/src")
	require.NoError(t, err)
	_, err = s.Clone("/frozen", AliasPinnedTree, "/src", tree.ID, false)
	require.NoError(t, err)

	e1, err := s.loadPathEntry("/src/file")
	require.NoError(t, err)
	_, err = s.Update("/src/file", e1.ETag, "text/plain", []byte("v2"))
	require.NoError(t, err)

	mid, err := s.ResolveToManifest("/frozen/file")
	require.NoError(t, err)
	_, body, err := s.ReadManifest(mid)
	require.NoError(t, err)
	require.Equal(t, "v1", string(body), "pinned_tree clone must not see the later update")
}

func TestCloneCycleRejected(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = s.Clone("/a", AliasFollowHead, "/b", "", false)
	require.NoError(t, err)
	_, err = s.Clone("/b", AliasFollowHead, "/a", "", false)
	require.Error(t, err)
}

func TestCreateTreeAndCommit(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = s.Ingest("/proj/readme.md", "text/markdown", []byte("# hi"))
	require.NoError(t, err)

	tree, err := s.CreateTree("/proj")
	require.NoError(t, err)
	require.Contains(t, tree.Entries, "readme.md")

	commit, err := s.CommitTree(tree.ID, nil, "main", "tester", "initial", nil, 1)
	require.NoError(t, err)
	require.NotEmpty(t, commit.ID)

	commit2, err := s.CommitTree(tree.ID, []string{commit.ID}, "main", "tester", "second", nil, 2)
	require.NoError(t, err)
	require.Equal(t, []string{commit.ID}, commit2.Parents)
}

func TestIngestHostRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	target := dir + "/real.txt"
	require.NoError(t, os.WriteFile(target, []byte("data"), 0o644))
	link := dir + "/link.txt"
	require.NoError(t, os.Symlink(target, link))

	_, err = s.IngestHost("/x", link, "text/plain")
	require.Error(t, err)
}
