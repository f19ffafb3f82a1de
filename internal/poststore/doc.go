// Package poststore persists postings sets addressed by integer handles.
//
// Two files back a store named n:
//
//	n.mgbmp  append-only blob of records "BM" | count:u32 | kind:u8 | 0 | words[count]:u32
//	n.mgbmr  one little-endian int64 blob offset per handle, -1 when unassigned
//
// Commits append a new record for every dirty set and repoint its handle, so
// the blob accumulates stale records until [Store.Optimize] rewrites it.
// Handles are never reused.
package poststore
