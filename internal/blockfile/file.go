package blockfile

import (
	"encoding/binary"
	"log/slog"
	"os"
	"sync"

	"github.com/zeebo/errs"

	"github.com/hupe1980/inkdex/internal/bitfile"
	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/storeerr"
	"github.com/hupe1980/inkdex/postings"
)

const (
	fileHeaderSize = 8
	fileVersion    = 1
	freeExt        = ".free"

	// MinBlockSize leaves room for a block header and the longest key.
	MinBlockSize = 512
)

var fileMagic = [4]byte{'M', 'G', 'H', 'F'}

// Options configures a File.
type Options struct {
	FS        fs.FileSystem
	Logger    *slog.Logger
	BlockSize int
	KeyType   byte
}

// DefaultOptions are used by Open.
var DefaultOptions = Options{
	FS:        fs.Default,
	BlockSize: 2048,
}

// File is a block file with a free list.
type File struct {
	mu        sync.Mutex
	path      string
	fsys      fs.FileSystem
	logger    *slog.Logger
	f         fs.File
	blockSize int
	keyType   byte
	next      int
	free      *postings.Set
	closed    bool
}

// Open opens or creates the block file at path. An existing file keeps the
// block size it was created with.
func Open(path string, optFns ...func(o *Options)) (*File, error) {
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
	if opts.BlockSize < MinBlockSize || opts.BlockSize > 0xFFFF {
		return nil, storeerr.Precondition.New("block size %d outside [%d, 65535]", opts.BlockSize, MinBlockSize)
	}

	f, err := opts.FS.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, storeerr.IO.Wrap(err)
	}

	bf := &File{
		path:      path,
		fsys:      opts.FS,
		logger:    opts.Logger,
		f:         f,
		blockSize: opts.BlockSize,
		keyType:   opts.KeyType,
	}

	if err := bf.init(); err != nil {
		return nil, errs.Combine(err, f.Close())
	}
	return bf, nil
}

func (b *File) init() error {
	fi, err := b.f.Stat()
	if err != nil {
		return storeerr.IO.Wrap(err)
	}

	if fi.Size() == 0 {
		var hdr [fileHeaderSize]byte
		copy(hdr[:4], fileMagic[:])
		hdr[4] = fileVersion
		binary.LittleEndian.PutUint16(hdr[5:], uint16(b.blockSize)) //nolint:gosec // G115: checked in Open
		hdr[7] = b.keyType
		if _, err := b.f.WriteAt(hdr[:], 0); err != nil {
			return storeerr.IO.Wrap(err)
		}
		b.free = postings.New()
		return nil
	}

	var hdr [fileHeaderSize]byte
	if _, err := b.f.ReadAt(hdr[:], 0); err != nil {
		return storeerr.Corrupt.New("block file %s: short header", b.path)
	}
	if [4]byte(hdr[:4]) != fileMagic {
		return storeerr.Corrupt.New("block file %s: bad magic %q", b.path, hdr[:4])
	}
	if hdr[4] != fileVersion {
		return storeerr.Corrupt.New("block file %s: unsupported version %d", b.path, hdr[4])
	}
	b.blockSize = int(binary.LittleEndian.Uint16(hdr[5:]))
	b.keyType = hdr[7]
	if b.blockSize < MinBlockSize {
		return storeerr.Corrupt.New("block file %s: block size %d", b.path, b.blockSize)
	}

	data := fi.Size() - fileHeaderSize
	b.next = int((data + int64(b.blockSize) - 1) / int64(b.blockSize))

	free, ok, err := bitfile.ReadFile(b.fsys, b.path+freeExt)
	if err != nil {
		return err
	}
	if ok {
		if err := b.fsys.Remove(b.path + freeExt); err != nil {
			return storeerr.IO.Wrap(err)
		}
	}
	free.MarkClean()
	b.free = free
	return nil
}

// BlockSize returns the block size in bytes.
func (b *File) BlockSize() int { return b.blockSize }

// KeyType returns the key type recorded in the header.
func (b *File) KeyType() byte { return b.keyType }

// Path returns the file path.
func (b *File) Path() string { return b.path }

// NumBlocks returns the number of blocks the file spans.
func (b *File) NumBlocks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// FreeCount returns the number of blocks in the free list.
func (b *File) FreeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.free.CountOnes()
}

// IsFree reports whether block n is in the free list.
func (b *File) IsFree(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.free.Get(n)
}

// Alloc returns the lowest free block, or appends a new one.
func (b *File) Alloc() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alloc()
}

func (b *File) alloc() int {
	if n := b.free.First(); n >= 0 {
		b.free.Set(n, false)
		return n
	}
	n := b.next
	b.next++
	return n
}

// Release puts blocks on the free list.
func (b *File) Release(blocks ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, n := range blocks {
		if n >= 0 && n < b.next {
			b.free.Set(n, true)
		}
	}
}

// SetFreeList replaces the free list.
func (b *File) SetFreeList(free *postings.Set) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.free = free.Copy()
}

// ReadBlock reads block n into buf, which must be BlockSize long. A block
// at the end of the file may be short; the rest of buf is zeroed.
func (b *File) ReadBlock(n int, buf []byte) error {
	if n < 0 || n >= b.NumBlocks() {
		return storeerr.Corrupt.New("block %d out of range", n)
	}
	k, err := b.f.ReadAt(buf[:b.blockSize], b.offset(n))
	if k < b.blockSize {
		if k == 0 && err != nil {
			return storeerr.Corrupt.New("block %d unreadable: %v", n, err)
		}
		clear(buf[k:b.blockSize])
	}
	return nil
}

// WriteBlock writes data, at most BlockSize bytes, at block n.
func (b *File) WriteBlock(n int, data []byte) error {
	if len(data) > b.blockSize {
		return storeerr.Precondition.New("block payload %d exceeds block size %d", len(data), b.blockSize)
	}
	if _, err := b.f.WriteAt(data, b.offset(n)); err != nil {
		return storeerr.IO.Wrap(err)
	}
	return nil
}

func (b *File) offset(n int) int64 {
	return fileHeaderSize + int64(n)*int64(b.blockSize)
}

// Sync flushes the file.
func (b *File) Sync() error {
	return storeerr.Classify(b.f.Sync())
}

// Close writes the free list next to the file and closes it.
func (b *File) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if !b.free.IsEmpty() {
		err = bitfile.WriteFile(b.fsys, b.path+freeExt, b.free)
	}
	return errs.Combine(err, storeerr.Classify(b.f.Sync()), storeerr.Classify(b.f.Close()))
}
