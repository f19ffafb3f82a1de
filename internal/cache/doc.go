// Package cache provides the in-memory arenas that hold loaded pages and
// postings sets between saves.
//
// Unlike a bounded block cache, an [Arena] never drops an entry on its own:
// cached values may be dirty and only their owner knows how to persist them.
// Owners call [Arena.EvictIf] (oldest first) with a predicate that accepts
// clean entries only. Memory is charged to an optional resource.Controller;
// when a charge is refused the arena reports [Arena.UnderPressure] so the
// owner can flush and evict.
package cache
