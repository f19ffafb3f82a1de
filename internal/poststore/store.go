package poststore

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/zeebo/errs"

	"github.com/hupe1980/inkdex/internal/cache"
	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/mmap"
	"github.com/hupe1980/inkdex/internal/resource"
	"github.com/hupe1980/inkdex/internal/storeerr"
	"github.com/hupe1980/inkdex/postings"
)

const (
	blobExt    = ".mgbmp"
	offsetExt  = ".mgbmr"
	tempSuffix = "$"
)

// Options configures a Store.
type Options struct {
	FS        fs.FileSystem
	Logger    *slog.Logger
	Resources *resource.Controller
}

// DefaultOptions are the options used by Open.
var DefaultOptions = Options{
	FS: fs.Default,
}

// Store maps handles to postings sets.
type Store struct {
	dir, name string
	opts      Options
	logger    *slog.Logger

	blob     fs.File
	offs     fs.File
	blobSize atomic.Int64
	offsSize int64 // guarded by readMu

	next  atomic.Int64
	cache *cache.Arena[int, *postings.Set]

	// opMu is the maintenance barrier. Readers and writers only count
	// themselves in working unless stopping is set, then they queue on opMu.
	opMu     sync.Mutex
	readMu   sync.Mutex
	writeMu  sync.Mutex
	working  atomic.Int64
	stopping atomic.Bool
	closed   atomic.Bool
}

// Open opens or creates the store files dir/name.mgbmp and dir/name.mgbmr.
func Open(dir, name string, optFns ...func(o *Options)) (*Store, error) {
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

	s := &Store{
		dir:    dir,
		name:   name,
		opts:   opts,
		logger: logger.With("store", name),
		cache:  cache.NewArena[int, *postings.Set](opts.Resources, (*postings.Set).SizeBytes),
	}

	if err := s.openFiles(); err != nil {
		return nil, err
	}

	s.next.Store(s.offsSize / 8)
	return s, nil
}

func (s *Store) path(suffix, ext string) string {
	return filepath.Join(s.dir, s.name+suffix+ext)
}

func (s *Store) openFiles() error {
	if err := s.opts.FS.MkdirAll(s.dir, 0o755); err != nil {
		return storeerr.IO.Wrap(err)
	}

	blob, err := s.opts.FS.OpenFile(s.path("", blobExt), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return storeerr.IO.Wrap(err)
	}
	offs, err := s.opts.FS.OpenFile(s.path("", offsetExt), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		_ = blob.Close()
		return storeerr.IO.Wrap(err)
	}

	bi, err := blob.Stat()
	if err != nil {
		return errs.Combine(storeerr.IO.Wrap(err), blob.Close(), offs.Close())
	}
	oi, err := offs.Stat()
	if err != nil {
		return errs.Combine(storeerr.IO.Wrap(err), blob.Close(), offs.Close())
	}

	s.blob, s.offs = blob, offs
	s.blobSize.Store(bi.Size())
	s.offsSize = oi.Size() - oi.Size()%8
	return nil
}

func (s *Store) enter() error {
	for {
		s.working.Add(1)
		if !s.stopping.Load() {
			break
		}
		s.working.Add(-1)
		s.opMu.Lock()
		s.opMu.Unlock() //nolint:staticcheck // SA2001: waiting for maintenance to finish
	}
	if s.closed.Load() {
		s.working.Add(-1)
		return storeerr.Closed.New("postings store %s", s.name)
	}
	return nil
}

func (s *Store) exit() { s.working.Add(-1) }

// Len returns the number of handles handed out.
func (s *Store) Len() int { return int(s.next.Load()) }

// FreeHandle allocates a handle bound to a new empty set.
func (s *Store) FreeHandle() (int, error) {
	if err := s.enter(); err != nil {
		return -1, err
	}
	defer s.exit()

	h := int(s.next.Add(1) - 1)
	set := postings.New()
	set.MarkDirty()
	s.cache.Put(h, set)
	return h, nil
}

// Get returns the set bound to h. The returned set is shared: mutations are
// persisted by the next Commit.
func (s *Store) Get(h int) (*postings.Set, error) {
	if h < 0 || h >= s.Len() {
		return nil, storeerr.Precondition.New("postings handle %d out of range", h)
	}
	if err := s.enter(); err != nil {
		return nil, err
	}
	defer s.exit()

	set, err := s.cache.GetOrPut(h, func() (*postings.Set, error) { return s.load(h) })
	if err != nil {
		return nil, err
	}
	if s.cache.UnderPressure() {
		s.evictClean()
	}
	return set, nil
}

// SetDuplicate adds rec to the set bound to h.
func (s *Store) SetDuplicate(h, rec int) error {
	set, err := s.Get(h)
	if err != nil {
		return err
	}
	set.Set(rec, true)
	return nil
}

func (s *Store) load(h int) (*postings.Set, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	off, err := s.offset(h)
	if err != nil {
		return nil, err
	}
	if off < 0 {
		return postings.New(), nil
	}

	var hdr [recordHeaderSize]byte
	if _, err := s.blob.ReadAt(hdr[:], off); err != nil {
		return nil, storeerr.Corrupt.New("postings handle %d: short header at %d: %v", h, off, err)
	}
	count, kind, err := parseHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	if off+recordHeaderSize+int64(count)*4 > s.blobSize.Load() {
		return nil, storeerr.Corrupt.New("postings handle %d: record exceeds blob", h)
	}

	buf := make([]byte, count*4)
	if _, err := s.blob.ReadAt(buf, off+recordHeaderSize); err != nil {
		return nil, storeerr.IO.Wrap(err)
	}
	return postings.FromWords(kind, decodeWords(buf)), nil
}

func (s *Store) offset(h int) (int64, error) {
	pos := int64(h) * 8
	if pos+8 > s.offsSize {
		return -1, nil
	}
	var b [8]byte
	if _, err := s.offs.ReadAt(b[:], pos); err != nil {
		return 0, storeerr.IO.Wrap(err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil //nolint:gosec // G115: stored signed
}

// Commit persists every dirty set in handle order. With evict, clean sets
// are dropped from memory afterwards.
func (s *Store) Commit(evict bool) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.exit()

	if err := s.commit(); err != nil {
		return err
	}
	if evict {
		s.evictClean()
	}
	return nil
}

func (s *Store) commit() error {
	snapshot := s.cache.Snapshot()
	handles := make([]int, 0, len(snapshot))
	for h, set := range snapshot {
		if set.IsDirty() {
			handles = append(handles, h)
		}
	}
	if len(handles) == 0 {
		return nil
	}
	slices.Sort(handles)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rec []byte
	for _, h := range handles {
		set := snapshot[h]
		set.MarkClean()
		kind, words := set.Words()

		rec = appendRecord(rec[:0], kind, words)
		off := s.blobSize.Load()
		if _, err := s.blob.WriteAt(rec, off); err != nil {
			set.MarkDirty()
			return storeerr.IO.Wrap(err)
		}
		s.blobSize.Add(int64(len(rec)))
		if err := s.writeOffset(h, off); err != nil {
			set.MarkDirty()
			return err
		}
	}

	if err := s.blob.Sync(); err != nil {
		return storeerr.IO.Wrap(err)
	}
	if err := s.offs.Sync(); err != nil {
		return storeerr.IO.Wrap(err)
	}

	s.logger.Debug("postings committed", "sets", len(handles), "blob_bytes", s.blobSize.Load())
	return nil
}

// writeOffset points h at off, filling skipped handles with -1.
func (s *Store) writeOffset(h int, off int64) error {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	pos := int64(h) * 8

	var buf []byte
	start := pos
	if pos > s.offsSize {
		start = s.offsSize
		for p := s.offsSize; p < pos; p += 8 {
			buf = binary.LittleEndian.AppendUint64(buf, ^uint64(0))
		}
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(off)) //nolint:gosec // G115: stored signed

	if _, err := s.offs.WriteAt(buf, start); err != nil {
		return storeerr.IO.Wrap(err)
	}
	s.offsSize = max(s.offsSize, pos+8)
	return nil
}

func (s *Store) evictClean() int {
	return s.cache.EvictIf(func(_ int, set *postings.Set) bool {
		if set.IsDirty() {
			set.FreeMemory()
			return false
		}
		return true
	})
}

// FreeMemory drops clean sets from memory and compresses the dirty ones.
func (s *Store) FreeMemory() {
	if err := s.enter(); err != nil {
		return
	}
	defer s.exit()

	n := s.evictClean()
	s.logger.Debug("postings evicted", "sets", n)
}

// Optimize commits pending changes and rewrites the blob so it holds exactly
// one record per handle. On failure the original files are left in place.
func (s *Store) Optimize(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopping.Store(true)
	defer s.stopping.Store(false)
	for s.working.Load() > 0 {
		runtime.Gosched()
	}

	if s.closed.Load() {
		return storeerr.Closed.New("postings store %s", s.name)
	}

	if err := s.commit(); err != nil {
		return err
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	before := s.blobSize.Load()
	if err := s.rewrite(ctx); err != nil {
		_ = fs.RemoveIfExists(s.opts.FS, s.path(tempSuffix, blobExt))
		_ = fs.RemoveIfExists(s.opts.FS, s.path(tempSuffix, offsetExt))
		s.logger.Error("postings optimize failed", "error", err)
		return err
	}

	if err := errs.Combine(s.blob.Close(), s.offs.Close()); err != nil {
		return storeerr.IO.Wrap(err)
	}
	if err := s.opts.FS.Rename(s.path(tempSuffix, blobExt), s.path("", blobExt)); err != nil {
		return errs.Combine(storeerr.IO.Wrap(err), s.openFiles())
	}
	if err := s.opts.FS.Rename(s.path(tempSuffix, offsetExt), s.path("", offsetExt)); err != nil {
		return errs.Combine(storeerr.IO.Wrap(err), s.openFiles())
	}
	if err := s.openFiles(); err != nil {
		return err
	}

	s.logger.Info("postings optimized", "handles", s.Len(), "bytes_before", before, "bytes_after", s.blobSize.Load())
	return nil
}

func (s *Store) rewrite(ctx context.Context) error {
	if err := s.blob.Sync(); err != nil {
		return storeerr.IO.Wrap(err)
	}

	m, err := mmap.Open(s.path("", blobExt))
	if err != nil {
		return storeerr.IO.Wrap(err)
	}
	defer m.Close()
	_ = m.Advise(mmap.AccessRandom)

	blobTmp, err := s.opts.FS.OpenFile(s.path(tempSuffix, blobExt), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return storeerr.IO.Wrap(err)
	}
	defer blobTmp.Close()
	offsTmp, err := s.opts.FS.OpenFile(s.path(tempSuffix, offsetExt), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return storeerr.IO.Wrap(err)
	}
	defer offsTmp.Close()

	bw := bufio.NewWriter(resource.NewRateLimitedWriter(ctx, blobTmp, s.opts.Resources))
	ow := bufio.NewWriter(offsTmp)

	var (
		pos int64
		b8  [8]byte
	)
	n := s.Len()
	for h := range n {
		off, err := s.offset(h)
		if err != nil {
			return err
		}
		if off < 0 {
			binary.LittleEndian.PutUint64(b8[:], ^uint64(0))
			if _, err := ow.Write(b8[:]); err != nil {
				return storeerr.IO.Wrap(err)
			}
			continue
		}

		rec, err := recordAt(m, off)
		if err != nil {
			return err
		}
		if _, err := bw.Write(rec); err != nil {
			return storeerr.IO.Wrap(err)
		}
		binary.LittleEndian.PutUint64(b8[:], uint64(pos)) //nolint:gosec // G115: positive
		if _, err := ow.Write(b8[:]); err != nil {
			return storeerr.IO.Wrap(err)
		}
		pos += int64(len(rec))
	}

	for _, step := range []func() error{bw.Flush, ow.Flush, blobTmp.Sync, offsTmp.Sync} {
		if err := step(); err != nil {
			return storeerr.IO.Wrap(err)
		}
	}
	return nil
}

func recordAt(m *mmap.Mapping, off int64) ([]byte, error) {
	hdr, err := m.Slice(off, recordHeaderSize)
	if err != nil {
		return nil, storeerr.Corrupt.New("postings record at %d: %v", off, err)
	}
	count, _, err := parseHeader(hdr)
	if err != nil {
		return nil, err
	}
	rec, err := m.Slice(off, recordHeaderSize+count*4)
	if err != nil {
		return nil, storeerr.Corrupt.New("postings record at %d: %v", off, err)
	}
	return rec, nil
}

// Close commits pending sets and closes the files.
func (s *Store) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed.Load() {
		return nil
	}

	s.stopping.Store(true)
	for s.working.Load() > 0 {
		runtime.Gosched()
	}
	err := s.commit()
	s.closed.Store(true)
	s.stopping.Store(false)
	s.cache.Clear()

	return errs.Combine(err, storeerr.Classify(s.blob.Close()), storeerr.Classify(s.offs.Close()))
}

var _ io.Closer = (*Store)(nil)
