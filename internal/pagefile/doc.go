// Package pagefile stores the fixed-size pages of an ordered page index.
//
// File layout:
//
//	header  "MGI" | keyWidth:u8 | capacity:u16 | root:i32 | keyType:u8 | lastIndexed:i32
//	page n  at 15 + n*pageSize
//
// Every page starts with "PAGE" | kind:u8 | count:u16 | reserved:4 | next:i32
// followed by capacity slots of keyLen:u8 | key[keyWidth] | a:i32 | b:i32.
// In leaf pages a and b are the record number and the duplicate handle of
// the key. Page 0 is the first page of the page list, whose slots hold the
// first key of a leaf page, its page number and its unique-key count; list
// pages continue through next.
//
// Keys of an external codec (strings) are not stored in the slots. The page's
// sorted key list is written as one block chain in <name>.strings and every
// slot holds the chain's head block.
package pagefile
