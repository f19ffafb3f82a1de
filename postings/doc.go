// Package postings implements the compressed document-number sets that back
// every term and every duplicate key of the index.
//
// A [Set] lives in one of three representations and moves between them on
// demand:
//
//   - sparse: a sorted list of member offsets, used while the set is small
//   - raw: an uncompressed bit array of 32-bit words
//   - WAH: word-aligned hybrid compression of the raw array
//
// Bits are addressed most-significant first: offset i lives in word i/32 at
// mask 1<<(31-i%32). A WAH word with the top bit clear is a literal holding
// the next 31 bits. A word with the top bit set is a run of 31-bit groups,
// all ones when bit 30 is set and all zeros otherwise, with the group count
// in the low 30 bits.
//
// Boolean operations accept operands of different lengths by padding the
// shorter with zeros and always return a new raw set.
package postings
