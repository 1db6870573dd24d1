package graphstore

import "hash/fnv"

// hashKey is the partitioning function hash(src_key, seed) mod partitions
// (spec §4.3 write path step 2).
func hashKey(key string, seed int64) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	var seedBytes [8]byte
	s := uint64(seed)
	for i := 0; i < 8; i++ {
		seedBytes[i] = byte(s >> (8 * i))
	}
	_, _ = h.Write(seedBytes[:])
	return h.Sum64()
}
