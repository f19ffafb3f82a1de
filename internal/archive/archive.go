package archive

import (
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/errs"

	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/hash"
	"github.com/hupe1980/inkdex/internal/storeerr"
)

const (
	dataExt   = ".mgdat"
	offsetExt = ".mgrec"

	fileHeaderSize   = 8
	recordHeaderSize = 13
	version          = 1

	// MaxKeyLen is the longest key a record can carry.
	MaxKeyLen = 0xFFFF
)

var (
	fileMagic   = [4]byte{'M', 'G', 'D', 'A'}
	recordMagic = [2]byte{'R', 'C'}
)

// Flags describe a record.
type Flags uint8

const (
	// FlagDeleted marks a tombstone.
	FlagDeleted Flags = 1 << iota
	// FlagObject marks data encoded with a codec rather than raw bytes.
	FlagObject
)

// Record is one decoded archive record.
type Record struct {
	Num   int
	Flags Flags
	Key   []byte
	Data  []byte
}

// Deleted reports whether the record is a tombstone.
func (r Record) Deleted() bool { return r.Flags&FlagDeleted != 0 }

// Options configures an Archive.
type Options struct {
	FS     fs.FileSystem
	Logger *slog.Logger
}

// DefaultOptions are used by Open.
var DefaultOptions = Options{
	FS: fs.Default,
}

// Archive is an append-only record log.
type Archive struct {
	mu       sync.Mutex
	name     string
	logger   *slog.Logger
	data     fs.File
	offs     fs.File
	dataSize int64
	count    int
	closed   bool
}

// Open opens or creates the archive dir/name. A torn tail left by a crash
// during an append is truncated.
func Open(dir, name string, optFns ...func(o *Options)) (*Archive, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	data, err := opts.FS.OpenFile(filepath.Join(dir, name+dataExt), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, storeerr.IO.Wrap(err)
	}
	offs, err := opts.FS.OpenFile(filepath.Join(dir, name+offsetExt), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.Combine(storeerr.IO.Wrap(err), data.Close())
	}

	a := &Archive{
		name:   name,
		logger: logger.With("archive", name),
		data:   data,
		offs:   offs,
	}
	if err := a.recover(); err != nil {
		return nil, errs.Combine(err, data.Close(), offs.Close())
	}
	return a, nil
}

func (a *Archive) recover() error {
	fi, err := a.data.Stat()
	if err != nil {
		return storeerr.IO.Wrap(err)
	}

	if fi.Size() == 0 {
		var hdr [fileHeaderSize]byte
		copy(hdr[:], fileMagic[:])
		hdr[4] = version
		if _, err := a.data.WriteAt(hdr[:], 0); err != nil {
			return storeerr.IO.Wrap(err)
		}
		a.dataSize = fileHeaderSize
		return storeerr.Classify(a.offs.Truncate(0))
	}

	var hdr [fileHeaderSize]byte
	if _, err := a.data.ReadAt(hdr[:], 0); err != nil {
		return storeerr.Corrupt.New("archive %s: short header", a.name)
	}
	if [4]byte(hdr[:4]) != fileMagic || hdr[4] != version {
		return storeerr.Corrupt.New("archive %s: bad header %q", a.name, hdr[:5])
	}
	a.dataSize = fi.Size()

	oi, err := a.offs.Stat()
	if err != nil {
		return storeerr.IO.Wrap(err)
	}
	a.count = int(oi.Size() / 8)

	// Drop offsets whose record did not make it to disk in full.
	end := int64(fileHeaderSize)
	for a.count > 0 {
		off, err := a.offset(a.count - 1)
		if err != nil {
			return err
		}
		size, err := a.recordSize(off)
		if err == nil {
			end = off + size
			break
		}
		a.count--
	}

	if torn := oi.Size() - int64(a.count)*8; torn > 0 {
		a.logger.Warn("truncating torn archive tail", "offsets", torn/8, "bytes", a.dataSize-end)
		if err := a.offs.Truncate(int64(a.count) * 8); err != nil {
			return storeerr.IO.Wrap(err)
		}
	}
	if a.dataSize > end {
		if err := a.data.Truncate(end); err != nil {
			return storeerr.IO.Wrap(err)
		}
		a.dataSize = end
	}
	return nil
}

func (a *Archive) offset(n int) (int64, error) {
	var b [8]byte
	if _, err := a.offs.ReadAt(b[:], int64(n)*8); err != nil {
		return 0, storeerr.IO.Wrap(err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil //nolint:gosec // G115: offsets are positive
}

// recordSize validates the header at off and returns the record length.
func (a *Archive) recordSize(off int64) (int64, error) {
	if off < fileHeaderSize || off+recordHeaderSize > a.dataSize {
		return 0, storeerr.Corrupt.New("record offset %d outside archive", off)
	}
	var hdr [recordHeaderSize]byte
	if _, err := a.data.ReadAt(hdr[:], off); err != nil {
		return 0, storeerr.IO.Wrap(err)
	}
	if [2]byte(hdr[:2]) != recordMagic {
		return 0, storeerr.Corrupt.New("record at %d: bad magic", off)
	}
	size := recordHeaderSize + int64(binary.LittleEndian.Uint16(hdr[3:])) + int64(binary.LittleEndian.Uint32(hdr[5:]))
	if off+size > a.dataSize {
		return 0, storeerr.Corrupt.New("record at %d extends past archive end", off)
	}
	return size, nil
}

// Append writes a record and returns its record number.
func (a *Archive) Append(key, data []byte, flags Flags) (int, error) {
	if len(key) > MaxKeyLen {
		return -1, storeerr.Precondition.New("key length %d exceeds %d", len(key), MaxKeyLen)
	}

	buf := make([]byte, recordHeaderSize, recordHeaderSize+len(key)+len(data))
	copy(buf, recordMagic[:])
	buf[2] = byte(flags)
	binary.LittleEndian.PutUint16(buf[3:], uint16(len(key)))  //nolint:gosec // G115: checked above
	binary.LittleEndian.PutUint32(buf[5:], uint32(len(data))) //nolint:gosec // G115: records stay below 4 GiB
	buf = append(buf, key...)
	buf = append(buf, data...)
	binary.LittleEndian.PutUint32(buf[9:], hash.CRC32C(buf[recordHeaderSize:]))

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return -1, storeerr.Closed.New("archive %s", a.name)
	}

	off := a.dataSize
	if _, err := a.data.WriteAt(buf, off); err != nil {
		return -1, storeerr.IO.Wrap(err)
	}

	var ob [8]byte
	binary.LittleEndian.PutUint64(ob[:], uint64(off)) //nolint:gosec // G115: offsets are positive
	if _, err := a.offs.WriteAt(ob[:], int64(a.count)*8); err != nil {
		return -1, storeerr.IO.Wrap(err)
	}

	a.dataSize += int64(len(buf))
	n := a.count
	a.count++
	return n, nil
}

// Tombstone appends a deletion record for key.
func (a *Archive) Tombstone(key []byte) (int, error) {
	return a.Append(key, nil, FlagDeleted)
}

// Read returns record n. A checksum mismatch is reported as corruption.
func (a *Archive) Read(n int) (Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Record{}, storeerr.Closed.New("archive %s", a.name)
	}
	if n < 0 || n >= a.count {
		return Record{}, storeerr.Precondition.New("record %d out of range [0, %d)", n, a.count)
	}

	off, err := a.offset(n)
	if err != nil {
		return Record{}, err
	}
	size, err := a.recordSize(off)
	if err != nil {
		return Record{}, err
	}

	buf := make([]byte, size)
	if _, err := a.data.ReadAt(buf, off); err != nil {
		return Record{}, storeerr.IO.Wrap(err)
	}
	if hash.CRC32C(buf[recordHeaderSize:]) != binary.LittleEndian.Uint32(buf[9:]) {
		return Record{}, storeerr.Corrupt.New("record %d: checksum mismatch", n)
	}

	keyLen := int(binary.LittleEndian.Uint16(buf[3:]))
	return Record{
		Num:   n,
		Flags: Flags(buf[2]),
		Key:   buf[recordHeaderSize : recordHeaderSize+keyLen],
		Data:  buf[recordHeaderSize+keyLen:],
	}, nil
}

// Count returns the number of records, tombstones included.
func (a *Archive) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Size returns the size of the data file in bytes.
func (a *Archive) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dataSize
}

// Sync flushes both files.
func (a *Archive) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	return errs.Combine(storeerr.Classify(a.data.Sync()), storeerr.Classify(a.offs.Sync()))
}

// Close syncs and closes the archive.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	return errs.Combine(
		storeerr.Classify(a.data.Sync()),
		storeerr.Classify(a.offs.Sync()),
		storeerr.Classify(a.data.Close()),
		storeerr.Classify(a.offs.Close()),
	)
}
