package hash

import "github.com/zeebo/xxh3"

// Key32 hashes b to a 32-bit signed key. Collisions are expected and must be
// resolved by the caller.
func Key32(b []byte) int32 {
	h := xxh3.Hash(b)
	return int32(uint32(h) ^ uint32(h>>32)) //nolint:gosec // G115: folding is intended
}

// KeyString32 is Key32 for strings without a copy.
func KeyString32(s string) int32 {
	h := xxh3.HashString(s)
	return int32(uint32(h) ^ uint32(h>>32)) //nolint:gosec // G115: folding is intended
}
