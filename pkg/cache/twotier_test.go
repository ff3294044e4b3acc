package cache

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbcv/engine/pkg/store"
	"github.com/tbcv/engine/pkg/testutil"
)

func openTestCache(t *testing.T, maxEntries int, maxBytes, compressAbove int64) *TwoTierCache {
	t.Helper()
	dir := testutil.TempDir(t, "cache")
	s, err := store.Open(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c, err := New(s, maxEntries, maxBytes, compressAbove)
	require.NoError(t, err)
	return c
}

func TestPutThenGetReturnsStoredValueFromL1(t *testing.T) {
	c := openTestCache(t, 10, 1<<20, 1<<20)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k1", []byte("hello"), time.Hour))

	value, level, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, L1Hit, level)
	assert.Equal(t, []byte("hello"), value)
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := openTestCache(t, 10, 1<<20, 1<<20)
	_, level, ok := c.Get(context.Background(), "nonexistent")
	assert.False(t, ok)
	assert.Equal(t, Miss, level)
}

func TestL2HitAfterL1Eviction(t *testing.T) {
	c := openTestCache(t, 1, 1<<20, 1<<20) // L1 holds only one entry
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k1", []byte("first"), time.Hour))
	require.NoError(t, c.Put(ctx, "k2", []byte("second"), time.Hour)) // evicts k1 from L1

	value, level, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, L2Hit, level)
	assert.Equal(t, []byte("first"), value)
}

func TestExpiredEntryIsTreatedAsMiss(t *testing.T) {
	c := openTestCache(t, 10, 1<<20, 1<<20)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k1", []byte("value"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, _, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestCompressionAboveThresholdRoundTrips(t *testing.T) {
	c := openTestCache(t, 1, 1<<20, 8) // threshold tiny so this value compresses
	ctx := context.Background()

	large := []byte(strings.Repeat("abcdefgh", 64))
	require.NoError(t, c.Put(ctx, "big", large, time.Hour))
	require.NoError(t, c.Put(ctx, "other", []byte("x"), time.Hour)) // evict "big" from L1

	value, level, ok := c.Get(ctx, "big")
	require.True(t, ok)
	assert.Equal(t, L2Hit, level)
	assert.Equal(t, large, value)
}

func TestInvalidateRemovesByPrefix(t *testing.T) {
	c := openTestCache(t, 10, 1<<20, 1<<20)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "fuzzy:a", []byte("1"), time.Hour))
	require.NoError(t, c.Put(ctx, "fuzzy:b", []byte("2"), time.Hour))
	require.NoError(t, c.Put(ctx, "truth:c", []byte("3"), time.Hour))

	n, err := c.Invalidate(ctx, "fuzzy:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, _, ok := c.Get(ctx, "fuzzy:a")
	assert.False(t, ok)
	_, _, ok = c.Get(ctx, "truth:c")
	assert.True(t, ok)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	c := openTestCache(t, 10, 1<<20, 1<<20)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "stale", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestStatsTrackHitsAndMisses(t *testing.T) {
	c := openTestCache(t, 10, 1<<20, 1<<20)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v"), time.Hour))
	_, _, _ = c.Get(ctx, "k")
	_, _, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Puts)
	assert.Equal(t, int64(1), stats.L1Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestDeriveKeyIsStableUnderMapOrderingAndWhitespace(t *testing.T) {
	a := DeriveKey("agent-1", "validate", map[string]any{"path": "docs/a.md  ", "mode": "strict"})
	b := DeriveKey("agent-1", "validate", map[string]any{"mode": "strict", "path": "docs/a.md"})
	assert.Equal(t, a, b)
}

func TestDeriveKeyDiffersOnInput(t *testing.T) {
	a := DeriveKey("agent-1", "validate", map[string]any{"path": "docs/a.md"})
	b := DeriveKey("agent-1", "validate", map[string]any{"path": "docs/b.md"})
	assert.NotEqual(t, a, b)
}
