// Package kvstore is a block-allocated key/value store for small, frequently
// rewritten values such as counters.
//
// Values are codec-encoded and written as block chains in data.mghf; a
// non-duplicate page index (keys.mgidx) maps each key to the head block of
// its current chain. Every chain payload starts with a u64 generation, one
// above the chain it replaces. Rewriting a key writes a new chain and
// releases the old one, deleting it rewrites the head as a tombstone.
//
// The store creates a temp.$ marker on its first write and removes it on
// Close. Opening a directory that still holds the marker rebuilds the key
// index and the free list by scanning every block; when a key heads several
// live chains the highest generation wins.
//
//	kv, err := kvstore.Open("data/stats")
//	n, err := kv.Increment("queries", 1)
package kvstore
