package blockfile

import (
	"encoding/binary"

	"github.com/hupe1980/inkdex/internal/storeerr"
)

// BlockHeaderSize is the size of the per-block chain header.
const BlockHeaderSize = 15

// MaxKeyLen is the longest key a head block can carry.
const MaxKeyLen = 255

// Flags describe a chain's payload.
type Flags uint8

const (
	FlagCompressed Flags = 1 << iota
	FlagBinary
	FlagDeleted
	FlagZSTD
)

// Header is the decoded header of one block.
type Header struct {
	Index   uint32
	Next    int32
	Flags   Flags
	DataLen uint32
	KeyType byte
	Key     []byte // head blocks only
}

// IsHead reports whether the block starts a chain.
func (h Header) IsHead() bool { return h.Index == 0 }

// Deleted reports whether the chain is a tombstone.
func (h Header) Deleted() bool { return h.Flags&FlagDeleted != 0 }

func putHeader(dst []byte, h Header, keyLen int) {
	binary.LittleEndian.PutUint32(dst[0:], h.Index)
	binary.LittleEndian.PutUint32(dst[4:], uint32(h.Next)) //nolint:gosec // G115: -1 sentinel
	dst[8] = byte(h.Flags)
	binary.LittleEndian.PutUint32(dst[9:], h.DataLen)
	dst[13] = byte(keyLen)
	dst[14] = h.KeyType
}

func parseHeader(src []byte, blockSize int) (Header, error) {
	h := Header{
		Index:   binary.LittleEndian.Uint32(src[0:]),
		Next:    int32(binary.LittleEndian.Uint32(src[4:])), //nolint:gosec // G115: -1 sentinel
		Flags:   Flags(src[8]),
		DataLen: binary.LittleEndian.Uint32(src[9:]),
		KeyType: src[14],
	}
	keyLen := int(src[13])
	if h.Index == 0 {
		if BlockHeaderSize+keyLen > blockSize {
			return Header{}, storeerr.Corrupt.New("key length %d exceeds block", keyLen)
		}
		h.Key = append([]byte(nil), src[BlockHeaderSize:BlockHeaderSize+keyLen]...)
	}
	return h, nil
}

// ReadHeader decodes the header of block n.
func (b *File) ReadHeader(n int) (Header, error) {
	buf := make([]byte, b.blockSize)
	if err := b.ReadBlock(n, buf); err != nil {
		return Header{}, err
	}
	return parseHeader(buf, b.blockSize)
}

// ReadPrefix returns the head header of the chain at first and up to n
// leading payload bytes held by the head block.
func (b *File) ReadPrefix(first, n int) (Header, []byte, error) {
	buf := make([]byte, b.blockSize)
	if err := b.ReadBlock(first, buf); err != nil {
		return Header{}, nil, err
	}
	h, err := parseHeader(buf, b.blockSize)
	if err != nil {
		return Header{}, nil, err
	}
	if !h.IsHead() {
		return Header{}, nil, storeerr.Corrupt.New("block %d is not a chain head", first)
	}
	pos := BlockHeaderSize + len(h.Key)
	k := min(n, int(h.DataLen), b.blockSize-pos)
	return h, append([]byte(nil), buf[pos:pos+k]...), nil
}

// WriteChain stores data under key in newly allocated blocks and returns
// the head block number.
func (b *File) WriteChain(key []byte, keyType byte, flags Flags, data []byte) (int, error) {
	if len(key) > MaxKeyLen {
		return -1, storeerr.Precondition.New("key length %d exceeds %d", len(key), MaxKeyLen)
	}

	headCap := b.blockSize - BlockHeaderSize - len(key)
	restCap := b.blockSize - BlockHeaderSize

	count := 1
	if len(data) > headCap {
		count += (len(data) - headCap + restCap - 1) / restCap
	}

	b.mu.Lock()
	blocks := make([]int, count)
	for i := range blocks {
		blocks[i] = b.alloc()
	}
	b.mu.Unlock()

	buf := make([]byte, b.blockSize)
	rest := data
	for i, n := range blocks {
		next := int32(-1)
		if i+1 < len(blocks) {
			next = int32(blocks[i+1]) //nolint:gosec // G115: block numbers fit
		}

		h := Header{
			Index:   uint32(i), //nolint:gosec // G115: chain length fits
			Next:    next,
			Flags:   flags,
			DataLen: uint32(len(data)), //nolint:gosec // G115: bounded
			KeyType: keyType,
		}

		clear(buf)
		pos := BlockHeaderSize
		capacity := restCap
		if i == 0 {
			putHeader(buf, h, len(key))
			pos += copy(buf[pos:], key)
			capacity = headCap
		} else {
			putHeader(buf, h, 0)
		}

		k := min(capacity, len(rest))
		copy(buf[pos:], rest[:k])
		rest = rest[k:]

		if err := b.WriteBlock(n, buf[:pos+k]); err != nil {
			b.Release(blocks...)
			return -1, err
		}
	}

	return blocks[0], nil
}

// ReadChain returns the head header and the payload of the chain starting
// at first. The chain is validated block by block.
func (b *File) ReadChain(first int) (Header, []byte, error) {
	head, data, _, err := b.walk(first, true)
	return head, data, err
}

// ChainBlocks returns the block numbers of the chain starting at first.
func (b *File) ChainBlocks(first int) ([]int, error) {
	_, _, blocks, err := b.walk(first, false)
	return blocks, err
}

// FreeChain releases every block of the chain starting at first.
func (b *File) FreeChain(first int) error {
	blocks, err := b.ChainBlocks(first)
	if err != nil {
		return err
	}
	b.Release(blocks...)
	return nil
}

func (b *File) walk(first int, collect bool) (Header, []byte, []int, error) {
	buf := make([]byte, b.blockSize)
	limit := b.NumBlocks()

	var (
		head   Header
		data   []byte
		blocks []int
	)
	n := first
	for i := 0; ; i++ {
		if i > limit {
			return Header{}, nil, nil, storeerr.Corrupt.New("chain at %d loops", first)
		}
		if err := b.ReadBlock(n, buf); err != nil {
			return Header{}, nil, nil, err
		}
		h, err := parseHeader(buf, b.blockSize)
		if err != nil {
			return Header{}, nil, nil, err
		}
		if h.Index != uint32(i) { //nolint:gosec // G115: loop bounded by limit
			return Header{}, nil, nil, storeerr.Corrupt.New("block %d has chain index %d, want %d", n, h.Index, i)
		}

		pos := BlockHeaderSize
		if i == 0 {
			head = h
			pos += len(h.Key)
			if collect {
				data = make([]byte, 0, h.DataLen)
			}
		} else if h.DataLen != head.DataLen {
			return Header{}, nil, nil, storeerr.Corrupt.New("block %d length %d disagrees with head %d", n, h.DataLen, head.DataLen)
		}
		blocks = append(blocks, n)

		remaining := int(head.DataLen) - len(data)
		if !collect {
			remaining = int(head.DataLen) - chainCapacity(b.blockSize, len(head.Key), i)
		} else {
			k := min(b.blockSize-pos, remaining)
			data = append(data, buf[pos:pos+k]...)
			remaining -= k
		}

		if remaining <= 0 || h.Next < 0 {
			if remaining > 0 {
				return Header{}, nil, nil, storeerr.Corrupt.New("chain at %d ends early", first)
			}
			return head, data, blocks, nil
		}
		n = int(h.Next)
	}
}

// chainCapacity returns the payload bytes held by blocks 0..i of a chain.
func chainCapacity(blockSize, keyLen, i int) int {
	return blockSize - BlockHeaderSize - keyLen + i*(blockSize-BlockHeaderSize)
}

// WriteTombstone rewrites the head block at n as a deleted, empty chain and
// returns the continuation blocks it no longer references.
func (b *File) WriteTombstone(n int) ([]int, error) {
	blocks, err := b.ChainBlocks(n)
	if err != nil {
		return nil, err
	}
	head, err := b.ReadHeader(n)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, BlockHeaderSize+len(head.Key))
	putHeader(buf, Header{
		Next:    -1,
		Flags:   FlagDeleted,
		KeyType: head.KeyType,
	}, len(head.Key))
	copy(buf[BlockHeaderSize:], head.Key)

	if err := b.WriteBlock(n, buf); err != nil {
		return nil, err
	}
	return blocks[1:], nil
}

// Discard scrubs the head block of the chain at first and releases every
// block of it. A scrubbed head is a keyless tombstone that a rebuild scan
// treats as free space.
func (b *File) Discard(first int) error {
	blocks, err := b.ChainBlocks(first)
	if err != nil {
		return err
	}

	var buf [BlockHeaderSize]byte
	putHeader(buf[:], Header{Next: -1, Flags: FlagDeleted}, 0)
	if err := b.WriteBlock(first, buf[:]); err != nil {
		return err
	}
	b.Release(blocks...)
	return nil
}
