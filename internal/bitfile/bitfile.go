// Package bitfile persists a single postings set as one file: a kind byte
// followed by the little-endian words of the set's persisted form. Files
// whose length is a multiple of four carry no kind byte and hold WAH words.
//
// It backs the deletion bitmaps of the record store and the index, and the
// free-block list of block files.
package bitfile

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/storeerr"
	"github.com/hupe1980/inkdex/postings"
)

// Encode serialises set.
func Encode(set *postings.Set) []byte {
	kind, words := set.Words()
	out := make([]byte, 1, 1+4*len(words))
	out[0] = byte(kind)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

// Decode parses the output of Encode.
func Decode(b []byte) (*postings.Set, error) {
	if len(b) == 0 {
		return postings.New(), nil
	}

	kind := postings.KindWAH
	switch len(b) % 4 {
	case 0:
	case 1:
		kind = postings.Kind(b[0])
		if kind > postings.KindSparse {
			return nil, storeerr.Corrupt.New("bit file: unknown kind %d", b[0])
		}
		b = b[1:]
	default:
		return nil, storeerr.Corrupt.New("bit file: length %d", len(b))
	}

	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return postings.FromWords(kind, words), nil
}

// ReadFile loads a set. A missing file yields an empty set and ok=false.
func ReadFile(fsys fs.FileSystem, path string) (set *postings.Set, ok bool, err error) {
	data, err := fs.ReadFile(fsys, path)
	if errors.Is(err, os.ErrNotExist) {
		return postings.New(), false, nil
	}
	if err != nil {
		return nil, false, storeerr.IO.Wrap(err)
	}
	set, err = Decode(data)
	return set, err == nil, err
}

// WriteFile atomically replaces path with set.
func WriteFile(fsys fs.FileSystem, path string, set *postings.Set) error {
	return storeerr.Classify(fs.WriteFileAtomic(fsys, path, Encode(set)))
}

// Options configures a Flags file.
type Options struct {
	FS     fs.FileSystem
	Logger *slog.Logger
}

// DefaultOptions are used by Open.
var DefaultOptions = Options{FS: fs.Default}

// Flags is a persisted set of record numbers, such as the deleted records of
// a store.
type Flags struct {
	mu     sync.Mutex
	path   string
	fsys   fs.FileSystem
	set    *postings.Set
	logger *slog.Logger
}

// Open loads path or starts empty.
func Open(path string, optFns ...func(o *Options)) (*Flags, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	set, _, err := ReadFile(opts.FS, path)
	if err != nil {
		return nil, err
	}
	set.MarkClean()

	return &Flags{path: path, fsys: opts.FS, set: set, logger: opts.Logger}, nil
}

// Set flags or clears rec.
func (f *Flags) Set(rec int, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set.Set(rec, v)
}

// Get reports whether rec is flagged.
func (f *Flags) Get(rec int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set.Get(rec)
}

// Bits returns a copy of the flagged records.
func (f *Flags) Bits() *postings.Set {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set.Copy()
}

// CountOnes returns the number of flagged records.
func (f *Flags) CountOnes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set.CountOnes()
}

// OrWith flags every member of o.
func (f *Flags) OrWith(o *postings.Set) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set.OrWith(o)
}

// Save writes the set if it changed.
func (f *Flags) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.set.IsDirty() {
		return nil
	}
	if err := WriteFile(f.fsys, f.path, f.set); err != nil {
		f.logger.Error("bit file save failed", "path", f.path, "error", err)
		return err
	}
	f.set.MarkClean()
	return nil
}

// FreeMemory compresses the in-memory set.
func (f *Flags) FreeMemory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set.FreeMemory()
}

// Close saves the set.
func (f *Flags) Close() error {
	return f.Save()
}
