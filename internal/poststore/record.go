package poststore

import (
	"encoding/binary"

	"github.com/hupe1980/inkdex/internal/storeerr"
	"github.com/hupe1980/inkdex/postings"
)

const recordHeaderSize = 8

var recordMagic = [2]byte{'B', 'M'}

func appendRecord(dst []byte, kind postings.Kind, words []uint32) []byte {
	dst = append(dst, recordMagic[0], recordMagic[1])
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(words))) //nolint:gosec // G115: bounded by memory
	dst = append(dst, byte(kind), 0)
	for _, w := range words {
		dst = binary.LittleEndian.AppendUint32(dst, w)
	}
	return dst
}

// parseHeader validates a record header and returns the word count and kind.
func parseHeader(hdr []byte) (int, postings.Kind, error) {
	if len(hdr) < recordHeaderSize || hdr[0] != recordMagic[0] || hdr[1] != recordMagic[1] {
		return 0, 0, storeerr.Corrupt.New("postings record: bad magic")
	}
	kind := postings.Kind(hdr[6])
	if kind > postings.KindSparse {
		return 0, 0, storeerr.Corrupt.New("postings record: unknown kind %d", hdr[6])
	}
	return int(binary.LittleEndian.Uint32(hdr[2:6])), kind, nil
}

func decodeWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}
