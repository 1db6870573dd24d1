package graphstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustCommitEdges(t *testing.T, s *Store, edges [][2]string) {
	t.Helper()
	txn := s.Begin()
	for _, e := range edges {
		require.NoError(t, txn.AddEdge(e[0], e[1], "E", 0, 0))
	}
	require.NoError(t, txn.Prepare())
	require.NoError(t, txn.Commit())
}

func TestNeighborsBFSOrdering(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 4, 1, "always")
	require.NoError(t, err)
	defer s.Close()

	mustCommitEdges(t, s, [][2]string{{"a", "b"}, {"b", "c"}, {"b", "d"}})

	rows, err := s.Neighbors("a", "E", 2, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "b", rows[0].NodeKey)
	require.Equal(t, 1, rows[0].Hop)
	require.Equal(t, "c", rows[1].NodeKey)
	require.Equal(t, 2, rows[1].Hop)
	require.Equal(t, "d", rows[2].NodeKey)
	require.Equal(t, 2, rows[2].Hop)
}

func TestShortestPath(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 4, 1, "always")
	require.NoError(t, err)
	defer s.Close()

	mustCommitEdges(t, s, [][2]string{{"a", "b"}, {"b", "d"}, {"a", "c"}, {"c", "d"}})

	rows, err := s.ShortestPath("a", "d", 5, "E")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 2)
	require.Equal(t, rows[0].Hop, 0)
	require.Equal(t, rows[len(rows)-1].Hop, len(rows)-1)
}

func TestCommittedTxnSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 4, 1, "always")
	require.NoError(t, err)
	mustCommitEdges(t, s, [][2]string{{"a", "b"}})
	require.NoError(t, s.Close())

	reopened, err := Open(dir, 4, 1, "always")
	require.NoError(t, err)
	defer reopened.Close()
	rows, err := reopened.Neighbors("a", "", 1, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "b", rows[0].NodeKey)
}

func TestPreparedWithoutCommitIsDropped(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 4, 1, "always")
	require.NoError(t, err)
	txn := s.Begin()
	require.NoError(t, txn.AddEdge("x", "y", "E", 0, 0))
	require.NoError(t, txn.Prepare())
	// never commit or abort: simulate a crash mid-prepare.
	require.NoError(t, s.Close())

	reopened, err := Open(dir, 4, 1, "always")
	require.NoError(t, err)
	defer reopened.Close()
	_, err = reopened.Neighbors("x", "", 1, nil, nil)
	require.Error(t, err) // node never got created: txn's writes are absent
}

func TestCompactionPreservesReadableState(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 2, 1, "always")
	require.NoError(t, err)
	defer s.Close()

	mustCommitEdges(t, s, [][2]string{{"a", "b"}, {"b", "c"}})
	require.NoError(t, s.Compact())

	rows, err := s.Neighbors("a", "", 2, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}
