package pageindex

import (
	"cmp"
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/zeebo/errs"

	"github.com/hupe1980/inkdex/codec"
	"github.com/hupe1980/inkdex/internal/cache"
	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/keys"
	"github.com/hupe1980/inkdex/internal/pagefile"
	"github.com/hupe1980/inkdex/internal/poststore"
	"github.com/hupe1980/inkdex/internal/resource"
	"github.com/hupe1980/inkdex/internal/storeerr"
	"github.com/hupe1980/inkdex/postings"
)

const pageFileExt = ".mgidx"

// Options configures an Index.
type Options struct {
	FS        fs.FileSystem
	Logger    *slog.Logger
	Resources *resource.Controller
	// PageCapacity only applies to new page files.
	PageCapacity int
	Codec        codec.Codec
	// AllowDuplicates keeps a postings set of every record number per key.
	// Without it equality queries return the key's current record only.
	AllowDuplicates bool
}

// DefaultOptions are used by Open.
var DefaultOptions = Options{
	FS:              fs.Default,
	PageCapacity:    pagefile.DefaultPageCapacity,
	Codec:           codec.Default,
	AllowDuplicates: true,
}

// Index is an ordered key to record number index.
type Index[K cmp.Ordered] struct {
	mu       sync.Mutex
	name     string
	logger   *slog.Logger
	pf       *pagefile.File[K]
	dups     *poststore.Store
	dir      []pagefile.DirEntry[K]
	pages    *cache.Arena[int, *pagefile.Page[K]]
	capacity int
	closed   bool
}

// Open opens or creates the index dir/name.mgidx. With duplicates enabled
// the postings files dir/name.mgbmp and dir/name.mgbmr are opened as well.
func Open[K cmp.Ordered](dir, name string, kc keys.Codec[K], optFns ...func(o *Options)) (*Index[K], error) {
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
	logger = logger.With("index", name)

	pf, err := pagefile.Open(filepath.Join(dir, name+pageFileExt), kc, func(o *pagefile.Options) {
		o.FS = opts.FS
		o.Logger = logger
		o.PageCapacity = opts.PageCapacity
		o.Codec = opts.Codec
	})
	if err != nil {
		return nil, err
	}

	x := &Index[K]{
		name:     name,
		logger:   logger,
		pf:       pf,
		pages:    cache.NewArena[int, *pagefile.Page[K]](opts.Resources, (*pagefile.Page[K]).SizeBytes),
		capacity: pf.PageCapacity(),
	}

	if opts.AllowDuplicates {
		x.dups, err = poststore.Open(dir, name, func(o *poststore.Options) {
			o.FS = opts.FS
			o.Logger = logger
			o.Resources = opts.Resources
		})
		if err != nil {
			return nil, errs.Combine(err, pf.Close())
		}
	}

	x.dir, err = pf.LoadPageList()
	if err != nil {
		return nil, errs.Combine(err, x.closeFiles())
	}
	if len(x.dir) == 0 {
		var zero K
		page := pagefile.NewPage[K](pf.NewPageNumber())
		x.dir = []pagefile.DirEntry[K]{{Key: zero, Info: pagefile.PageInfo{Page: page.Number}}}
		x.pages.Put(page.Number, page)
	}

	logger.Info("page index opened", "pages", len(x.dir), "duplicates", opts.AllowDuplicates)
	return x, nil
}

// floor returns the position of the last page whose first key is not
// greater than key, or 0.
func (x *Index[K]) floor(key K) int {
	i, found := slices.BinarySearchFunc(x.dir, key, func(e pagefile.DirEntry[K], k K) int {
		return cmp.Compare(e.Key, k)
	})
	if found {
		return i
	}
	return max(i-1, 0)
}

func (x *Index[K]) page(pos int) (*pagefile.Page[K], error) {
	n := x.dir[pos].Info.Page
	return x.pages.GetOrPut(n, func() (*pagefile.Page[K], error) { return x.pf.LoadPage(n) })
}

// Set binds key to rec. An existing key keeps its earlier record numbers in
// its duplicates set.
func (x *Index[K]) Set(key K, rec int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return storeerr.Closed.New("index %s", x.name)
	}

	pos := x.floor(key)
	page, err := x.page(pos)
	if err != nil {
		return err
	}

	var marks []int
	ki, ok := page.Items[key]
	if !ok {
		ki = pagefile.KeyInfo{Rec: rec, Dup: -1}
		x.dir[pos].Info.UniqueCount++
	} else {
		marks = append(marks, ki.Rec)
		ki.Rec = rec
	}

	if x.dups != nil {
		if ki.Dup < 0 {
			if ki.Dup, err = x.dups.FreeHandle(); err != nil {
				return err
			}
		}
		for _, r := range append(marks, rec) {
			if err := x.dups.SetDuplicate(ki.Dup, r); err != nil {
				return err
			}
		}
	}

	page.Items[key] = ki
	page.Dirty = true

	if len(page.Items) > x.capacity {
		x.split(pos, page)
	}
	if x.pages.UnderPressure() {
		x.evictClean()
	}
	return nil
}

func (x *Index[K]) split(pos int, page *pagefile.Page[K]) {
	ks := page.SortedKeys()
	mid := len(ks) / 2

	upper := pagefile.NewPage[K](x.pf.NewPageNumber())
	upper.Right = page.Right
	page.Right = upper.Number
	for _, k := range ks[mid:] {
		upper.Items[k] = page.Items[k]
		delete(page.Items, k)
	}
	page.Dirty = true

	x.dir[pos] = pagefile.DirEntry[K]{Key: ks[0], Info: pagefile.PageInfo{Page: page.Number, UniqueCount: len(page.Items)}}
	x.dir = slices.Insert(x.dir, pos+1, pagefile.DirEntry[K]{
		Key:  ks[mid],
		Info: pagefile.PageInfo{Page: upper.Number, UniqueCount: len(upper.Items)},
	})
	x.pages.Put(upper.Number, upper)
}

// Get returns the current record number of key.
func (x *Index[K]) Get(key K) (int, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return -1, false, storeerr.Closed.New("index %s", x.name)
	}

	page, err := x.page(x.floor(key))
	if err != nil {
		return -1, false, err
	}
	ki, ok := page.Items[key]
	if !ok {
		return -1, false, nil
	}
	return ki.Rec, true, nil
}

// RemoveKey drops key from the index. Its duplicates set stays in the
// postings store until the next optimize.
func (x *Index[K]) RemoveKey(key K) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return false, storeerr.Closed.New("index %s", x.name)
	}

	pos := x.floor(key)
	page, err := x.page(pos)
	if err != nil {
		return false, err
	}
	if _, ok := page.Items[key]; !ok {
		return false, nil
	}
	delete(page.Items, key)
	page.Dirty = true
	x.dir[pos].Info.UniqueCount--
	return true, nil
}

type ref struct {
	dup, rec int
}

func (x *Index[K]) collect(pos int, keep func(K) bool, out []ref) ([]ref, error) {
	page, err := x.page(pos)
	if err != nil {
		return nil, err
	}
	for k, ki := range page.Items {
		if keep == nil || keep(k) {
			out = append(out, ref{dup: ki.Dup, rec: ki.Rec})
		}
	}
	return out, nil
}

// resolve ORs the postings of refs. It runs without the index lock.
func (x *Index[K]) resolve(refs []ref) (*postings.Set, error) {
	out := postings.New()
	for _, r := range refs {
		if r.dup < 0 || x.dups == nil {
			out.Set(r.rec, true)
			continue
		}
		s, err := x.dups.Get(r.dup)
		if err != nil {
			return nil, err
		}
		out.OrWith(s)
	}
	return out, nil
}

// Query evaluates key op k over all keys. Not-equal results are complemented
// against size.
func (x *Index[K]) Query(op Op, key K, size int) (*postings.Set, error) {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil, storeerr.Closed.New("index %s", x.name)
	}

	var (
		refs []ref
		err  error
	)
	pos := x.floor(key)
	switch op {
	case Equal, NotEqual:
		refs, err = x.collect(pos, func(k K) bool { return k == key }, nil)
	case Less, LessEqual:
		for i := range pos {
			if refs, err = x.collect(i, nil, refs); err != nil {
				break
			}
		}
		if err == nil {
			refs, err = x.collect(pos, func(k K) bool {
				return k < key || (op == LessEqual && k == key)
			}, refs)
		}
	case Greater, GreaterEqual:
		for i := pos + 1; i < len(x.dir); i++ {
			if refs, err = x.collect(i, nil, refs); err != nil {
				break
			}
		}
		if err == nil {
			refs, err = x.collect(pos, func(k K) bool {
				return k > key || (op == GreaterEqual && k == key)
			}, refs)
		}
	default:
		err = storeerr.Precondition.New("unsupported operator %s", op)
	}
	x.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if op == NotEqual {
		if len(refs) == 0 {
			return postings.Fill(size), nil
		}
		s, err := x.resolve(refs)
		if err != nil {
			return nil, err
		}
		return s.Not(size), nil
	}
	return x.resolve(refs)
}

// Between returns the records of every key in [from, to]. Reversed bounds
// are swapped.
func (x *Index[K]) Between(from, to K) (*postings.Set, error) {
	if from > to {
		from, to = to, from
	}

	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil, storeerr.Closed.New("index %s", x.name)
	}

	var (
		refs []ref
		err  error
	)
	for i := x.floor(from); i <= x.floor(to); i++ {
		refs, err = x.collect(i, func(k K) bool { return k >= from && k <= to }, refs)
		if err != nil {
			break
		}
	}
	x.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return x.resolve(refs)
}

// Duplicates returns every record number set for key in ascending order.
func (x *Index[K]) Duplicates(key K) ([]int, error) {
	s, err := x.Query(Equal, key, 0)
	if err != nil {
		return nil, err
	}
	return s.Slice(), nil
}

// Keys returns all keys in order.
func (x *Index[K]) Keys() ([]K, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil, storeerr.Closed.New("index %s", x.name)
	}

	var out []K
	for i := range x.dir {
		page, err := x.page(i)
		if err != nil {
			return nil, err
		}
		out = append(out, page.SortedKeys()...)
	}
	return out, nil
}

// Count returns the number of keys.
func (x *Index[K]) Count() (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return 0, storeerr.Closed.New("index %s", x.name)
	}

	n := 0
	for i := range x.dir {
		page, err := x.page(i)
		if err != nil {
			return 0, err
		}
		n += len(page.Items)
	}
	return n, nil
}

// PageCount returns the number of leaf pages.
func (x *Index[K]) PageCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.dir)
}

// CacheStats reports the page cache.
func (x *Index[K]) CacheStats() cache.Stats { return x.pages.Stats() }

// LastIndexed returns the record count last stored with SaveLastIndexed.
func (x *Index[K]) LastIndexed() int { return x.pf.LastIndexed() }

// SaveLastIndexed stores n in the page file header.
func (x *Index[K]) SaveLastIndexed(n int) error { return x.pf.SetLastIndexed(n) }

// SaveIndex writes dirty pages, the page list and dirty postings.
func (x *Index[K]) SaveIndex() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return storeerr.Closed.New("index %s", x.name)
	}
	return x.save()
}

func (x *Index[K]) save() error {
	snapshot := x.pages.Snapshot()
	nums := make([]int, 0, len(snapshot))
	for n, p := range snapshot {
		if p.Dirty {
			nums = append(nums, n)
		}
	}
	slices.Sort(nums)

	for _, n := range nums {
		if err := x.pf.SavePage(snapshot[n]); err != nil {
			return err
		}
	}
	if err := x.pf.SavePageList(x.dir); err != nil {
		return err
	}
	if err := x.pf.Sync(); err != nil {
		return err
	}
	if x.dups != nil {
		return x.dups.Commit(false)
	}
	return nil
}

func (x *Index[K]) evictClean() int {
	return x.pages.EvictIf(func(_ int, p *pagefile.Page[K]) bool { return !p.Dirty })
}

// FreeMemory drops clean pages and clean postings from memory.
func (x *Index[K]) FreeMemory() {
	x.mu.Lock()
	defer x.mu.Unlock()

	total := x.pages.Len()
	n := x.evictClean()
	if x.dups != nil {
		x.dups.FreeMemory()
	}
	x.logger.Debug("released pages", "released", n, "cached", total)
}

// Optimize compacts the duplicates postings store.
func (x *Index[K]) Optimize(ctx context.Context) error {
	if x.dups == nil {
		return nil
	}
	return x.dups.Optimize(ctx)
}

// Close saves the index and closes its files.
func (x *Index[K]) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true

	err := x.save()
	x.pages.Clear()
	return errs.Combine(err, x.closeFiles())
}

func (x *Index[K]) closeFiles() error {
	var err error
	if x.dups != nil {
		err = x.dups.Close()
	}
	return errs.Combine(err, x.pf.Close())
}
