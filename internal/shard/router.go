// Package shard maps recipients onto a fixed number of queue partitions.
package shard

import "unicode/utf16"

const (
	offset32 = 0x811c9dc5
	prime32  = 0x01000193
)

// Of returns the shard for recipientID: a 32-bit FNV-1a hash modulo
// shardCount, stable across processes and restarts. The hash runs over
// UTF-16 code units, matching producers that hash JavaScript strings, so
// non-ASCII ids route the same way on both sides. For ASCII ids this is
// identical to hash/fnv's New32a.
// shardCount <= 1 always yields 0.
func Of(recipientID string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	return int(hash(recipientID) % uint32(shardCount))
}

func hash(s string) uint32 {
	h := uint32(offset32)
	for _, u := range utf16.Encode([]rune(s)) {
		h ^= uint32(u)
		h *= prime32
	}
	return h
}

// Valid reports whether s is a shard number in [0, shardCount).
func Valid(s, shardCount int) bool {
	return s >= 0 && s < shardCount
}
