package kvstore

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/goccy/go-json"
	"github.com/zeebo/errs"

	"github.com/hupe1980/inkdex/codec"
	"github.com/hupe1980/inkdex/internal/blockfile"
	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/keys"
	"github.com/hupe1980/inkdex/internal/pageindex"
	"github.com/hupe1980/inkdex/internal/storeerr"
	"github.com/hupe1980/inkdex/postings"
)

const (
	dataFile    = "data.mghf"
	keysName    = "keys"
	dirtyMarker = "temp.$"
	compactDir  = "temp"

	keyTypeString byte = 1

	// genSize is the length of the generation prefix of every payload.
	genSize = 8
)

var (
	// ErrKeyTooLong is returned for keys longer than MaxKeyLen bytes.
	ErrKeyTooLong = errors.New("kvstore: key too long")
	// ErrEmptyKey is returned for the empty key.
	ErrEmptyKey = errors.New("kvstore: empty key")
	// ErrNotNumeric is returned when incrementing a non-numeric value.
	ErrNotNumeric = errors.New("kvstore: value is not numeric")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("kvstore: closed")
)

// Store is a block key/value store rooted at one directory.
type Store struct {
	mu     sync.Mutex
	dir    string
	opts   Options
	logger *slog.Logger
	data   *blockfile.File
	keys   *pageindex.Index[string]
	dirty  bool
	closed bool
}

// Open opens or creates the store in dir, rebuilding it when the previous
// process did not close it.
func Open(dir string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := opts.FS.MkdirAll(dir, 0o755); err != nil {
		return nil, storeerr.IO.Wrap(err)
	}

	s := &Store{
		dir:    dir,
		opts:   opts,
		logger: logger.With("kvstore", filepath.Base(dir)),
	}

	rebuild := fs.Exists(opts.FS, s.path(dirtyMarker))
	if rebuild {
		s.logger.Warn("previous shutdown was not clean, rebuilding")
		if err := s.removeKeyFiles(); err != nil {
			return nil, err
		}
	}

	if err := s.openFiles(); err != nil {
		return nil, err
	}

	if rebuild {
		if err := s.rebuild(); err != nil {
			return nil, errs.Combine(err, s.closeFiles())
		}
		s.dirty = true
	}
	return s, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) openFiles() error {
	var err error
	s.data, err = blockfile.Open(s.path(dataFile), func(o *blockfile.Options) {
		o.FS = s.opts.FS
		o.Logger = s.logger
		o.BlockSize = s.opts.BlockSize
		o.KeyType = keyTypeString
	})
	if err != nil {
		return err
	}

	s.keys, err = pageindex.Open(s.dir, keysName, keys.String{}, func(o *pageindex.Options) {
		o.FS = s.opts.FS
		o.Logger = s.logger
		o.Resources = s.opts.Resources
		o.PageCapacity = s.opts.PageCapacity
		o.Codec = s.opts.Codec
		o.AllowDuplicates = false
	})
	if err != nil {
		return errs.Combine(err, s.data.Close())
	}
	return nil
}

func (s *Store) closeFiles() error {
	return errs.Combine(s.keys.Close(), s.data.Close())
}

func (s *Store) removeKeyFiles() error {
	for _, name := range []string{keysName + ".mgidx", keysName + ".strings", keysName + ".strings.free"} {
		if err := fs.RemoveIfExists(s.opts.FS, s.path(name)); err != nil {
			return storeerr.IO.Wrap(err)
		}
	}
	return nil
}

type chain struct {
	gen    uint64
	blocks []int
}

// rebuild scans every block, re-indexes the valid chains and frees the rest.
// A live chain shadows any tombstone of the same key. When a key heads
// several live chains the highest generation wins. Tombstone heads stay
// allocated until Compact.
func (s *Store) rebuild() error {
	n := s.data.NumBlocks()
	used := roaring.New()
	chains := make(map[string]chain)
	broken := 0

	for i := range n {
		h, err := s.data.ReadHeader(i)
		if err != nil || !h.IsHead() || len(h.Key) == 0 {
			continue
		}
		if h.Deleted() {
			used.Add(uint32(i)) //nolint:gosec // G115: block numbers fit
			continue
		}
		gen, err := s.generation(i)
		if err != nil {
			broken++
			continue
		}
		blocks, err := s.data.ChainBlocks(i)
		if err != nil {
			broken++
			continue
		}
		if prev, ok := chains[string(h.Key)]; ok && prev.gen > gen {
			continue
		}
		chains[string(h.Key)] = chain{gen: gen, blocks: blocks}
	}

	for key, c := range chains {
		for _, b := range c.blocks {
			used.Add(uint32(b)) //nolint:gosec // G115: block numbers fit
		}
		if err := s.keys.Set(key, c.blocks[0]); err != nil {
			return err
		}
	}

	free := roaring.Flip(used, 0, uint64(n)) //nolint:gosec // G115: n is non-negative
	s.data.SetFreeList(postings.FromRoaring(free))

	if err := s.keys.SaveIndex(); err != nil {
		return err
	}
	s.logger.Info("rebuild done", "keys", len(chains), "blocks", n, "free", free.GetCardinality(), "broken", broken)
	return nil
}

func checkKey(key string) error {
	if key == "" {
		return storeerr.Precondition.Wrap(ErrEmptyKey)
	}
	if len(key) > MaxKeyLen {
		return storeerr.Precondition.Wrap(ErrKeyTooLong)
	}
	return nil
}

// markDirty creates the unclean-shutdown marker before the first write.
func (s *Store) markDirty() error {
	if s.dirty {
		return nil
	}
	f, err := s.opts.FS.OpenFile(s.path(dirtyMarker), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return storeerr.IO.Wrap(err)
	}
	if _, err := f.Write([]byte("dirty")); err != nil {
		return errs.Combine(storeerr.IO.Wrap(err), f.Close())
	}
	if err := f.Close(); err != nil {
		return storeerr.IO.Wrap(err)
	}
	s.dirty = true
	return nil
}

func (s *Store) check() error {
	if s.closed {
		return storeerr.Closed.Wrap(ErrClosed)
	}
	return nil
}

// generation reads the generation prefix of the live chain headed at block n.
func (s *Store) generation(n int) (uint64, error) {
	h, prefix, err := s.data.ReadPrefix(n, genSize)
	if err != nil {
		return 0, err
	}
	if h.Deleted() {
		return 0, nil
	}
	if len(prefix) < genSize {
		return 0, storeerr.Corrupt.New("chain at %d holds %d bytes, want a generation", n, h.DataLen)
	}
	return binary.LittleEndian.Uint64(prefix), nil
}

// put writes data as a new chain for key, one generation above the chain it
// replaces, and then discards the replaced chain.
func (s *Store) put(key string, data []byte) error {
	if err := s.markDirty(); err != nil {
		return err
	}

	old, ok, err := s.keys.Get(key)
	if err != nil {
		return err
	}
	var gen uint64
	if ok {
		prev, err := s.generation(old)
		if err != nil {
			return err
		}
		gen = prev + 1
	}

	flags := blockfile.FlagBinary
	if len(data) > s.opts.CompressAbove {
		packed, f, err := blockfile.Compress(s.opts.Compression, data)
		if err != nil {
			return err
		}
		data = packed
		flags |= f
	}
	payload := make([]byte, genSize, genSize+len(data))
	binary.LittleEndian.PutUint64(payload, gen)
	payload = append(payload, data...)

	head, err := s.data.WriteChain([]byte(key), keyTypeString, flags, payload)
	if err != nil {
		return err
	}
	if err := s.keys.Set(key, head); err != nil {
		return err
	}
	if ok {
		if err := s.data.Discard(old); err != nil {
			s.logger.Error("discarding replaced chain failed", "key", key, "block", old, "error", err)
			return storeerr.Classify(err)
		}
	}
	return nil
}

func (s *Store) get(key string) ([]byte, bool, error) {
	head, ok, err := s.keys.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	h, data, err := s.data.ReadChain(head)
	if err != nil {
		return nil, false, err
	}
	if h.Deleted() {
		return nil, false, nil
	}
	if string(h.Key) != key {
		return nil, false, storeerr.Corrupt.New("block %d holds key %q, index says %q", head, h.Key, key)
	}
	if len(data) < genSize {
		return nil, false, storeerr.Corrupt.New("chain at %d holds %d bytes, want a generation", head, len(data))
	}
	data, err = blockfile.Decompress(h.Flags, data[genSize:])
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores v under key.
func (s *Store) Set(key string, v any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := s.opts.Codec.Marshal(v)
	if err != nil {
		return storeerr.Precondition.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	return s.put(key, data)
}

// Get decodes the value of key into v.
func (s *Store) Get(key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return false, err
	}
	data, ok, err := s.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := s.opts.Codec.Unmarshal(data, v); err != nil {
		return false, storeerr.Corrupt.Wrap(err)
	}
	return true, nil
}

// Contains reports whether key is present.
func (s *Store) Contains(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return false, err
	}
	_, ok, err := s.keys.Get(key)
	return ok, err
}

// Delete removes key. Its head block is kept as a tombstone until the next
// Compact.
func (s *Store) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return false, err
	}
	head, ok, err := s.keys.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := s.markDirty(); err != nil {
		return false, err
	}

	rest, err := s.data.WriteTombstone(head)
	if err != nil {
		return false, err
	}
	s.data.Release(rest...)

	if _, err := s.keys.RemoveKey(key); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) number(key string) (json.Number, bool, error) {
	data, ok, err := s.get(key)
	if err != nil || !ok {
		return "", false, err
	}
	var n json.Number
	if err := s.opts.Codec.Unmarshal(data, &n); err != nil {
		return "", false, storeerr.Precondition.Wrap(errs.Combine(ErrNotNumeric, err))
	}
	return n, true, nil
}

// Increment adds amount to the integer stored under key and returns the new
// value. A missing key starts from zero.
func (s *Store) Increment(key string, amount int64) (int64, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return 0, err
	}

	n, ok, err := s.number(key)
	if err != nil {
		return 0, err
	}
	var cur int64
	if ok {
		if cur, err = n.Int64(); err != nil {
			return 0, storeerr.Precondition.Wrap(errs.Combine(ErrNotNumeric, err))
		}
	}
	cur += amount

	data, err := s.opts.Codec.Marshal(cur)
	if err != nil {
		return 0, storeerr.Precondition.Wrap(err)
	}
	return cur, s.put(key, data)
}

// Decrement subtracts amount from the integer stored under key.
func (s *Store) Decrement(key string, amount int64) (int64, error) {
	return s.Increment(key, -amount)
}

// IncrementFloat adds amount to the number stored under key.
func (s *Store) IncrementFloat(key string, amount float64) (float64, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return 0, err
	}

	n, ok, err := s.number(key)
	if err != nil {
		return 0, err
	}
	var cur float64
	if ok {
		if cur, err = n.Float64(); err != nil {
			return 0, storeerr.Precondition.Wrap(errs.Combine(ErrNotNumeric, err))
		}
	}
	cur += amount

	data, err := s.opts.Codec.Marshal(cur)
	if err != nil {
		return 0, storeerr.Precondition.Wrap(err)
	}
	return cur, s.put(key, data)
}

// DecrementFloat subtracts amount from the number stored under key.
func (s *Store) DecrementFloat(key string, amount float64) (float64, error) {
	return s.IncrementFloat(key, -amount)
}

// Count returns the number of keys.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return 0, err
	}
	return s.keys.Count()
}

// Keys returns every key in order.
func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return nil, err
	}
	return s.keys.Keys()
}

// Stats reports block usage.
type Stats struct {
	Keys       int
	Blocks     int
	FreeBlocks int
	BlockSize  int
}

// Stats returns block usage.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return Stats{}, err
	}
	n, err := s.keys.Count()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Keys:       n,
		Blocks:     s.data.NumBlocks(),
		FreeBlocks: s.data.FreeCount(),
		BlockSize:  s.data.BlockSize(),
	}, nil
}

// FreeMemory drops cached key pages.
func (s *Store) FreeMemory() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.keys.FreeMemory()
}

// Save flushes the key index and the data file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	return errs.Combine(s.keys.SaveIndex(), s.data.Sync())
}

// Close saves and closes the store and removes the unclean-shutdown marker.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.closeFiles(); err != nil {
		return err
	}
	if s.dirty {
		return storeerr.Classify(fs.RemoveIfExists(s.opts.FS, s.path(dirtyMarker)))
	}
	return nil
}

// Compact rewrites every live value into a fresh store and moves its files
// over the current ones, dropping tombstones and fragmentation.
func (s *Store) Compact(ctx context.Context) error {
	if err := s.opts.Resources.AcquireBackground(ctx); err != nil {
		return err
	}
	defer s.opts.Resources.ReleaseBackground()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	if err := s.markDirty(); err != nil {
		return err
	}

	tmp := s.path(compactDir)
	if err := removeDir(s.opts.FS, tmp); err != nil {
		return err
	}

	keys, err := s.keys.Keys()
	if err != nil {
		return err
	}

	s.logger.Info("compacting", "keys", len(keys))
	fresh, err := Open(tmp, func(o *Options) { *o = s.opts })
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return errs.Combine(err, fresh.Close(), removeDir(s.opts.FS, tmp))
		}
		data, ok, err := s.get(k)
		if err != nil {
			return errs.Combine(err, fresh.Close(), removeDir(s.opts.FS, tmp))
		}
		if !ok {
			continue
		}
		if err := fresh.put(k, data); err != nil {
			return errs.Combine(err, fresh.Close(), removeDir(s.opts.FS, tmp))
		}
	}
	if err := fresh.Close(); err != nil {
		return errs.Combine(err, removeDir(s.opts.FS, tmp))
	}

	if err := s.closeFiles(); err != nil {
		return err
	}
	if err := fs.RemoveIfExists(s.opts.FS, s.path(dataFile+".free")); err != nil {
		return storeerr.IO.Wrap(err)
	}
	if err := s.removeKeyFiles(); err != nil {
		return err
	}

	// The data file goes first: a crash after it leaves the marker behind
	// and the next Open rebuilds the keys from it.
	entries, err := s.opts.FS.ReadDir(tmp)
	if err != nil {
		return storeerr.IO.Wrap(err)
	}
	names := []string{dataFile}
	for _, e := range entries {
		if e.Name() != dataFile && !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	for _, name := range names {
		if err := s.opts.FS.Rename(filepath.Join(tmp, name), s.path(name)); err != nil {
			return storeerr.IO.Wrap(err)
		}
	}
	if err := removeDir(s.opts.FS, tmp); err != nil {
		return err
	}

	if err := s.openFiles(); err != nil {
		s.closed = true
		return err
	}
	s.logger.Info("compaction done", "blocks", s.data.NumBlocks())
	return nil
}

func removeDir(fsys fs.FileSystem, dir string) error {
	entries, err := fsys.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return storeerr.IO.Wrap(err)
	}
	for _, e := range entries {
		if err := fsys.Remove(filepath.Join(dir, e.Name())); err != nil {
			return storeerr.IO.Wrap(err)
		}
	}
	return storeerr.Classify(fs.RemoveIfExists(fsys, dir))
}
