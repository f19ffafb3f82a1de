// Package hash holds the checksums and key hashes used by the storage layers.
//
// Record checksums use CRC32-Castagnoli, which the Go runtime accelerates on
// amd64 and arm64. String keys of the record store are reduced to 32-bit
// integers with XXH3 folded to its low and high halves.
package hash
