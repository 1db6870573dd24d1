package kvstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clarium/internal/apperror"
)

func rawString(t *testing.T, s string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return b
}

func TestPutGetDelete(t *testing.T) {
	s, err := Open(t.TempDir(), "cache")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("ns", "k1", KindString, rawString(t, "v1"), 0, false))
	kind, raw, err := s.Get("ns", "k1")
	require.NoError(t, err)
	require.Equal(t, KindString, kind)
	v, err := ToValue(kind, raw)
	require.NoError(t, err)
	require.Equal(t, "v1", v.S)

	require.NoError(t, s.Delete("ns", "k1"))
	_, _, err = s.Get("ns", "k1")
	require.Error(t, err)
	ae, ok := apperror.As(err)
	require.True(t, ok)
	require.Equal(t, apperror.KindNotFound, ae.Kind)
}

func TestTTLExpiry(t *testing.T) {
	s, err := Open(t.TempDir(), "ttl")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("ns", "k", KindString, rawString(t, "v"), 1, false))
	time.Sleep(5 * time.Millisecond)
	_, _, err = s.Get("ns", "k")
	require.Error(t, err)
}

func TestResetOnAccessExtendsTTL(t *testing.T) {
	s, err := Open(t.TempDir(), "reset")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("ns", "k", KindString, rawString(t, "v"), 50, true))
	time.Sleep(20 * time.Millisecond)
	_, _, err = s.Get("ns", "k") // refreshes expiry
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, _, err = s.Get("ns", "k") // would have expired without the refresh
	require.NoError(t, err)
}

func TestScanSkipsExpired(t *testing.T) {
	s, err := Open(t.TempDir(), "scan")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("ns", "live", KindString, rawString(t, "v"), 0, false))
	require.NoError(t, s.Put("ns", "dead", KindString, rawString(t, "v"), 1, false))
	time.Sleep(5 * time.Millisecond)

	keys, err := s.Scan("ns")
	require.NoError(t, err)
	require.Equal(t, []string{"live"}, keys)
}
