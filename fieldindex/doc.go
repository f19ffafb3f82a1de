// Package fieldindex provides per-field secondary indexes that answer
// comparison queries with postings sets of record numbers.
//
// Every kind implements Index:
//
//   - Typed: an ordered page index over one key type (OpenInt64, OpenString, ...)
//   - Bool: a single persisted bitmap of the records whose value is true
//   - FullText: an inkdex index in record mode, queried with the inkdex
//     query language
//   - Enum: an ordered string index over the printed value
//   - None: indexes nothing and matches every record
//
// Values are passed as any and converted to the index key type the way a
// loosely typed caller expects: an Int64 index accepts int, uint8, float64
// with an integral value or a numeric string.
package fieldindex
