package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsUUIDLike(t *testing.T) {
	id := Default()
	require.Len(t, id, 36)
	require.NotEqual(t, id, Default())
}

func TestNowMillisMonotonic(t *testing.T) {
	var last int64
	for i := 0; i < 1000; i++ {
		n := NowMillis()
		require.Greater(t, n, last)
		last = n
	}
}

func TestGenerateHashIDDeterministic(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6*1_000_000, time.UTC)
	a := GenerateHashID("doc", "title", "desc", "me", ts, 6, 0)
	b := GenerateHashID("doc", "title", "desc", "me", ts, 6, 0)
	require.Equal(t, a, b)

	c := GenerateHashID("doc", "title", "desc", "me", ts, 6, 1)
	require.NotEqual(t, a, c)
}

func TestHashFactoryAdvancesNonce(t *testing.T) {
	f := HashFactory("doc", 6, func() (string, string, string) { return "t", "d", "c" })
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		id := f()
		require.False(t, seen[id], "expected unique id, got repeat %s", id)
		seen[id] = true
	}
}
