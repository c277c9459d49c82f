package shard_test

import (
	"fmt"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/push-worker/internal/shard"
)

func TestOf_SingleShardIsAlwaysZero(t *testing.T) {
	for _, id := range []string{"", "u1", "another-user", "日本語"} {
		assert.Equal(t, 0, shard.Of(id, 1))
		assert.Equal(t, 0, shard.Of(id, 0))
		assert.Equal(t, 0, shard.Of(id, -3))
	}
}

func TestOf_DeterministicAndInRange(t *testing.T) {
	for _, count := range []int{2, 3, 7, 20, 64} {
		for i := 0; i < 500; i++ {
			id := fmt.Sprintf("user-%d", i)
			got := shard.Of(id, count)
			require.GreaterOrEqual(t, got, 0)
			require.Less(t, got, count)
			require.Equal(t, got, shard.Of(id, count), "shard must be deterministic")
		}
	}
}

// Pins the FNV-1a 32 values so the routing never silently changes between
// releases (tasks already in the store carry the old shard numbers).
func TestOf_KnownValues(t *testing.T) {
	// fnv1a32("a") = 0xe40c292c, fnv1a32("foobar") = 0xbf9cf968
	assert.Equal(t, int(uint32(0xe40c292c)%20), shard.Of("a", 20))
	assert.Equal(t, int(uint32(0xbf9cf968)%7), shard.Of("foobar", 7))
}

// Non-ASCII ids hash their UTF-16 code units, not their UTF-8 bytes, so they
// land where a JavaScript producer puts them. Surrogate pairs count as two
// units.
func TestOf_NonASCIIUsesUTF16CodeUnits(t *testing.T) {
	// fnv1a32 over UTF-16: "日本語" = 0x5406374e, "ユーザー1" = 0x508df8cc, "😀" = 0xcb31c4b8
	assert.Equal(t, 18, shard.Of("日本語", 20))
	assert.Equal(t, 8, shard.Of("ユーザー1", 20))
	assert.Equal(t, 12, shard.Of("😀", 20))

	// the UTF-8 byte hash would have routed "日本語" to 11
	h := fnv.New32a()
	_, _ = h.Write([]byte("日本語"))
	assert.NotEqual(t, int(h.Sum32()%20), shard.Of("日本語", 20))
}

func TestOf_ASCIIMatchesByteHash(t *testing.T) {
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("user-%d", i)
		h := fnv.New32a()
		_, _ = h.Write([]byte(id))
		require.Equal(t, int(h.Sum32()%64), shard.Of(id, 64))
	}
}

func TestOf_SpreadsAcrossShards(t *testing.T) {
	const count = 8
	seen := make(map[int]int)
	for i := 0; i < 4000; i++ {
		seen[shard.Of(fmt.Sprintf("recipient-%d", i), count)]++
	}
	require.Len(t, seen, count)
	for s, n := range seen {
		assert.Greater(t, n, 250, "shard %d is badly underused", s)
	}
}

func TestValid(t *testing.T) {
	assert.True(t, shard.Valid(0, 1))
	assert.True(t, shard.Valid(3, 4))
	assert.False(t, shard.Valid(4, 4))
	assert.False(t, shard.Valid(-1, 4))
}
