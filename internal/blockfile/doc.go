// Package blockfile stores variable-length values as chains of fixed-size
// blocks in a single file.
//
// The file starts with an 8-byte header "MGHF" | version:u8 | blockSize:u16 |
// keyType:u8; block n starts at 8 + n*blockSize. Every block of a chain
// begins with a 15-byte header
//
//	index:u32 | next:i32 | flags:u8 | dataLen:u32 | keyLen:u8 | keyType:u8
//
// where index is the block's position in its chain, next is the following
// block or -1, and dataLen is the payload length of the whole chain. The head
// block (index 0) carries the key bytes after its header; continuation blocks
// carry payload only.
//
// Released blocks are kept in a free list that is reused before the file
// grows. The list is written to <path>.free on Close and removed again when
// the file is reopened.
package blockfile
