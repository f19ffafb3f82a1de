// Package archive is the append-only record log behind a record store.
//
// dir/name.mgdat holds the records, dir/name.mgrec one int64 offset per
// record number:
//
//	header  "MGDA" | version:u8 | reserved:3
//	record  "RC" | flags:u8 | keyLen:u16 | dataLen:u32 | crc32c(key|data):u32 | key | data
//
// Records are never rewritten. Deleting a key appends a tombstone record
// carrying FlagDeleted.
package archive
