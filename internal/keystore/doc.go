// Package keystore couples an append-only archive with an ordered page index
// and a deletion bitmap.
//
// Every write appends a record and points the key at it; deletes append a
// tombstone. The index is saved periodically and on Close together with the
// number of archive records it covers, so opening after a crash replays the
// archive tail into the index.
package keystore
