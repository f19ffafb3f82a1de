package inkdex

import (
	"encoding/binary"
	"errors"
	"maps"
	"os"
	"slices"

	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/storeerr"
)

// The vocabulary file is a flat sequence of
//
//	termLen uint16 | term | handle int32
//
// entries in term order.

const maxTermLen = 0xFFFF

func readWords(fsys fs.FileSystem, path string) (map[string]int, error) {
	words := make(map[string]int)

	b, err := fs.ReadFile(fsys, path)
	if errors.Is(err, os.ErrNotExist) {
		return words, nil
	}
	if err != nil {
		return nil, storeerr.IO.Wrap(err)
	}

	for len(b) > 0 {
		if len(b) < 2 {
			return nil, storeerr.Corrupt.New("%s: truncated term length", path)
		}
		n := int(binary.LittleEndian.Uint16(b))
		b = b[2:]
		if len(b) < n+4 {
			return nil, storeerr.Corrupt.New("%s: truncated entry", path)
		}
		term := string(b[:n])
		h := int(int32(binary.LittleEndian.Uint32(b[n:]))) //nolint:gosec // G115: handles are int32 on disk
		if h < 0 {
			return nil, storeerr.Corrupt.New("%s: negative handle for %q", path, term)
		}
		words[term] = h
		b = b[n+4:]
	}
	return words, nil
}

func encodeWords(words map[string]int) []byte {
	size := 0
	for w := range words {
		size += 6 + len(w)
	}
	out := make([]byte, 0, size)
	for _, w := range slices.Sorted(maps.Keys(words)) {
		out = binary.LittleEndian.AppendUint16(out, uint16(len(w))) //nolint:gosec // G115: terms are capped at maxTermLen
		out = append(out, w...)
		out = binary.LittleEndian.AppendUint32(out, uint32(words[w])) //nolint:gosec // G115: handles fit int32
	}
	return out
}

func writeWords(fsys fs.FileSystem, path string, words map[string]int) error {
	return storeerr.Classify(fs.WriteFileAtomic(fsys, path, encodeWords(words)))
}
