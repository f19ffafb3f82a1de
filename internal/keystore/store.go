package keystore

import (
	"cmp"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/errs"

	"github.com/hupe1980/inkdex/codec"
	"github.com/hupe1980/inkdex/internal/archive"
	"github.com/hupe1980/inkdex/internal/bitfile"
	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/keys"
	"github.com/hupe1980/inkdex/internal/pageindex"
	"github.com/hupe1980/inkdex/internal/pagefile"
	"github.com/hupe1980/inkdex/internal/resource"
	"github.com/hupe1980/inkdex/internal/storeerr"
	"github.com/hupe1980/inkdex/postings"
)

const deletedSuffix = "_deleted.idx"

// Options configures a Store.
type Options struct {
	FS           fs.FileSystem
	Logger       *slog.Logger
	Resources    *resource.Controller
	Codec        codec.Codec
	PageCapacity int
	// AutoSaveInterval is the period of the background index save. Zero
	// disables it.
	AutoSaveInterval time.Duration
	AllowDuplicates  bool

	// indexTombstones points keys at their tombstone record instead of
	// removing them from the index.
	indexTombstones bool
}

// DefaultOptions are used by Open.
var DefaultOptions = Options{
	FS:               fs.Default,
	Codec:            codec.Default,
	PageCapacity:     pagefile.DefaultPageCapacity,
	AutoSaveInterval: time.Minute,
	AllowDuplicates:  true,
}

// Record is an archive record with its key decoded.
type Record[K cmp.Ordered] struct {
	Num     int
	Key     K
	Data    []byte
	Deleted bool
	Object  bool
}

// Store is a record store keyed by K.
type Store[K cmp.Ordered] struct {
	// mu orders archive appends with index updates and saves.
	mu      sync.Mutex
	name    string
	logger  *slog.Logger
	kc      keys.Codec[K]
	enc     codec.Codec
	opts    Options
	archive *archive.Archive
	index   *pageindex.Index[K]
	deleted *bitfile.Flags

	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

// Open opens or creates the store dir/name and replays archive records the
// index has not seen yet.
func Open[K cmp.Ordered](dir, name string, kc keys.Codec[K], optFns ...func(o *Options)) (*Store[K], error) {
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
	logger = logger.With("store", name)

	if err := opts.FS.MkdirAll(dir, 0o755); err != nil {
		return nil, storeerr.IO.Wrap(err)
	}

	s := &Store[K]{
		name:   name,
		logger: logger,
		kc:     kc,
		enc:    opts.Codec,
		opts:   opts,
	}

	var err error
	s.archive, err = archive.Open(dir, name, func(o *archive.Options) {
		o.FS = opts.FS
		o.Logger = logger
	})
	if err != nil {
		return nil, err
	}

	s.index, err = pageindex.Open(dir, name, kc, func(o *pageindex.Options) {
		o.FS = opts.FS
		o.Logger = logger
		o.Resources = opts.Resources
		o.PageCapacity = opts.PageCapacity
		o.Codec = opts.Codec
		o.AllowDuplicates = opts.AllowDuplicates
	})
	if err != nil {
		return nil, errs.Combine(err, s.archive.Close())
	}

	s.deleted, err = bitfile.Open(filepath.Join(dir, name+deletedSuffix), func(o *bitfile.Options) {
		o.FS = opts.FS
		o.Logger = logger
	})
	if err != nil {
		return nil, errs.Combine(err, s.index.Close(), s.archive.Close())
	}

	if err := s.replay(); err != nil {
		return nil, errs.Combine(err, s.closeParts())
	}

	logger.Info("record store opened", "records", s.archive.Count(), "deleted", s.deleted.CountOnes())

	if opts.AutoSaveInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.autoSave(opts.AutoSaveInterval)
	}
	return s, nil
}

// replay indexes the archive records past the index's last save. The last
// record of a key in archive order decides whether it is indexed.
func (s *Store[K]) replay() error {
	last := max(s.index.LastIndexed(), 0)
	count := s.archive.Count()
	if last >= count {
		return nil
	}

	s.logger.Info("replaying archive into index", "from", last, "to", count)
	for n := last; n < count; n++ {
		r, err := s.ReadRecord(n)
		if err != nil {
			return err
		}
		if err := s.apply(r); err != nil {
			return err
		}
	}

	if err := s.save(); err != nil {
		return err
	}
	s.logger.Info("replay done", "records", count-last)
	return nil
}

func (s *Store[K]) apply(r Record[K]) error {
	if !r.Deleted {
		return s.index.Set(r.Key, r.Num)
	}
	s.deleted.Set(r.Num, true)
	if s.opts.indexTombstones {
		return s.index.Set(r.Key, r.Num)
	}
	_, err := s.index.RemoveKey(r.Key)
	return err
}

func (s *Store[K]) autoSave(every time.Duration) {
	defer close(s.done)

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if err := s.SaveIndex(); err != nil {
				s.logger.Error("periodic index save failed", "error", err)
			}
		}
	}
}

func (s *Store[K]) write(key K, data []byte, flags archive.Flags) (int, error) {
	if s.closed.Load() {
		return -1, storeerr.Closed.New("store %s", s.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.archive.Append(s.kc.Encode(key), data, flags)
	if err != nil {
		return -1, err
	}
	return n, s.apply(Record[K]{Num: n, Key: key, Deleted: flags&archive.FlagDeleted != 0})
}

// SetBytes stores val under key and returns its record number.
func (s *Store[K]) SetBytes(key K, val []byte) (int, error) {
	return s.write(key, val, 0)
}

// SetObject encodes v with the store codec and stores it under key.
func (s *Store[K]) SetObject(key K, v any) (int, error) {
	data, err := s.enc.Marshal(v)
	if err != nil {
		return -1, storeerr.Precondition.Wrap(err)
	}
	return s.write(key, data, archive.FlagObject)
}

// GetBytes returns the current value of key.
func (s *Store[K]) GetBytes(key K) ([]byte, bool, error) {
	n, ok, err := s.index.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	r, err := s.ReadRecord(n)
	if err != nil {
		return nil, false, err
	}
	if r.Deleted {
		return nil, false, nil
	}
	return r.Data, true, nil
}

// GetObject decodes the current value of key into v.
func (s *Store[K]) GetObject(key K, v any) (bool, error) {
	data, ok, err := s.GetBytes(key)
	if err != nil || !ok {
		return false, err
	}
	if err := s.enc.Unmarshal(data, v); err != nil {
		return false, storeerr.Corrupt.Wrap(err)
	}
	return true, nil
}

// Current returns the record number key points at.
func (s *Store[K]) Current(key K) (int, bool, error) {
	return s.index.Get(key)
}

// Delete writes a tombstone for key and drops it from the index.
func (s *Store[K]) Delete(key K) (bool, error) {
	if _, ok, err := s.index.Get(key); err != nil || !ok {
		return false, err
	}
	_, err := s.write(key, nil, archive.FlagDeleted)
	return err == nil, err
}

// tombstone appends a deletion record carrying data.
func (s *Store[K]) tombstone(key K, data []byte) (int, error) {
	return s.write(key, data, archive.FlagDeleted)
}

// ReadRecord returns record n, tombstones included.
func (s *Store[K]) ReadRecord(n int) (Record[K], error) {
	r, err := s.archive.Read(n)
	if err != nil {
		return Record[K]{}, err
	}
	key, err := s.kc.Decode(r.Key)
	if err != nil {
		return Record[K]{}, err
	}
	return Record[K]{
		Num:     n,
		Key:     key,
		Data:    r.Data,
		Deleted: r.Deleted(),
		Object:  r.Flags&archive.FlagObject != 0,
	}, nil
}

// ReadObject decodes record n into v and reports whether it is a tombstone.
func (s *Store[K]) ReadObject(n int, v any) (bool, error) {
	r, err := s.ReadRecord(n)
	if err != nil {
		return false, err
	}
	if r.Deleted {
		return true, nil
	}
	if err := s.enc.Unmarshal(r.Data, v); err != nil {
		return false, storeerr.Corrupt.Wrap(err)
	}
	return false, nil
}

// Meta returns record n without its data.
func (s *Store[K]) Meta(n int) (Record[K], error) {
	r, err := s.ReadRecord(n)
	r.Data = nil
	return r, err
}

// History returns every record number written for key.
func (s *Store[K]) History(key K) ([]int, error) {
	return s.index.Duplicates(key)
}

// Query evaluates key op k against the index.
func (s *Store[K]) Query(op pageindex.Op, key K, size int) (*postings.Set, error) {
	return s.index.Query(op, key, size)
}

// Keys returns the indexed keys in order.
func (s *Store[K]) Keys() ([]K, error) {
	return s.index.Keys()
}

// Deleted returns a copy of the deleted record numbers.
func (s *Store[K]) Deleted() *postings.Set {
	return s.deleted.Bits()
}

// Count returns the live key count, treating every deletion as a record plus
// its tombstone.
func (s *Store[K]) Count() int {
	return s.archive.Count() - 2*s.deleted.CountOnes()
}

// RecordCount returns the number of archive records.
func (s *Store[K]) RecordCount() int {
	return s.archive.Count()
}

// SaveIndex persists the index and the deletion bitmap and records how many
// archive records they cover.
func (s *Store[K]) SaveIndex() error {
	if s.closed.Load() {
		return storeerr.Closed.New("store %s", s.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *Store[K]) save() error {
	count := s.archive.Count()
	if err := s.archive.Sync(); err != nil {
		return err
	}
	if err := s.index.SaveIndex(); err != nil {
		return err
	}
	if err := s.deleted.Save(); err != nil {
		return err
	}
	if err := s.index.SaveLastIndexed(count); err != nil {
		return err
	}
	s.logger.Debug("index saved", "records", count)
	return nil
}

// FreeMemory releases cached index pages and postings.
func (s *Store[K]) FreeMemory() {
	s.index.FreeMemory()
	s.deleted.FreeMemory()
}

// Optimize compacts the index postings.
func (s *Store[K]) Optimize(ctx context.Context) error {
	return s.index.Optimize(ctx)
}

// Close stops the periodic save, saves and closes every file.
func (s *Store[K]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if s.stop != nil {
		close(s.stop)
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("closing record store")
	return errs.Combine(s.save(), s.closeParts())
}

func (s *Store[K]) closeParts() error {
	return errs.Combine(s.deleted.Close(), s.index.Close(), s.archive.Close())
}
