// Package pageindex implements an ordered key index over a page file.
//
// The page list is kept in memory, sorted by each page's first key, and a
// key is routed to the last page whose first key is not greater than it.
// Pages are cached in an arena and split at their sorted midpoint once they
// exceed the page capacity.
//
// With duplicates enabled every key owns a postings set in a companion
// postings store holding every record number ever set for it, which is what
// range queries OR together.
package pageindex
