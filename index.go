package inkdex

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/errs"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/inkdex/internal/bitfile"
	"github.com/hupe1980/inkdex/internal/keystore"
	"github.com/hupe1980/inkdex/internal/poststore"
	"github.com/hupe1980/inkdex/internal/storeerr"
	"github.com/hupe1980/inkdex/kvstore"
	"github.com/hupe1980/inkdex/postings"
)

const (
	wordsExt       = ".words"
	postingsSuffix = "_uhoo"
	deletedSuffix  = "_deleted.idx"
	docsName       = "files.docs"
	statsDir       = "stats"
)

// Counter keys of the statistics store.
const (
	counterIndexed  = "documents_indexed"
	counterRemoved  = "documents_removed"
	counterQueries  = "queries"
	savedRecordsKey = "saved_records"
)

// Index is an inverted index over documents or raw record numbers.
//
// It keeps the vocabulary (term to postings handle) in memory, the postings
// sets in a postings store and, in document mode, the documents in a record
// store next to a bitmap of deleted document numbers.
type Index struct {
	// mu guards words and version and serialises indexing so document
	// numbers follow archive order.
	mu      sync.RWMutex
	words   map[string]int
	version uint64

	saveMu sync.Mutex
	saved  uint64

	dir    string
	opts   options
	logger *Logger

	postings *poststore.Store
	docs     *keystore.StringStore
	deleted  *bitfile.Flags
	stats    *kvstore.Store

	closed atomic.Bool
}

// Open opens or creates the index in dir.
//
// In document mode, documents stored after the last Save are re-indexed from
// the document store, so a crash loses at most the removals made since then.
func Open(dir string, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)

	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, translateError(storeerr.IO.Wrap(err))
	}

	x := &Index{
		dir:    dir,
		opts:   o,
		logger: o.logger.WithIndex(o.name),
	}
	if err := x.open(); err != nil {
		return nil, translateError(errs.Combine(err, x.closeParts()))
	}

	x.logger.Info("index opened",
		"dir", dir,
		"words", len(x.words),
		"documents", x.documentCount(),
	)
	return x, nil
}

func (x *Index) path(name string) string {
	return filepath.Join(x.dir, name)
}

func (x *Index) open() error {
	o := x.opts
	slogger := x.logger.Logger

	words, err := readWords(o.fs, x.path(o.name+wordsExt))
	if err != nil {
		return err
	}
	x.words = words

	x.postings, err = poststore.Open(x.dir, o.name+postingsSuffix, func(po *poststore.Options) {
		po.FS = o.fs
		po.Logger = slogger
		po.Resources = o.resources
	})
	if err != nil {
		return err
	}
	for w, h := range x.words {
		if h >= x.postings.Len() {
			return storeerr.Corrupt.New("term %q points at postings handle %d of %d", w, h, x.postings.Len())
		}
	}

	if !o.documents {
		return nil
	}

	x.deleted, err = bitfile.Open(x.path(o.name+deletedSuffix), func(bo *bitfile.Options) {
		bo.FS = o.fs
		bo.Logger = slogger
	})
	if err != nil {
		return err
	}

	x.docs, err = keystore.OpenStringStore(x.dir, docsName, false, func(ko *keystore.Options) {
		ko.FS = o.fs
		ko.Logger = slogger
		ko.Resources = o.resources
		ko.Codec = o.codec
		ko.PageCapacity = o.pageCapacity
		ko.AutoSaveInterval = o.autoSaveInterval
	})
	if err != nil {
		return err
	}

	x.stats, err = kvstore.Open(x.path(statsDir), func(ko *kvstore.Options) {
		ko.FS = o.fs
		ko.Logger = slogger
		ko.Resources = o.resources
		ko.Codec = o.codec
	})
	if err != nil {
		return err
	}

	return x.recover()
}

// recover re-indexes the documents stored after the last save and flags the
// versions they superseded.
func (x *Index) recover() error {
	var from int
	if _, err := x.stats.Get(savedRecordsKey, &from); err != nil {
		return err
	}
	n := x.docs.RecordCount()
	if from >= n {
		return nil
	}

	replayed := 0
	for rec := from; rec < n; rec++ {
		var doc Document
		key, tombstone, err := x.docs.ReadObject(rec, &doc)
		if err != nil {
			x.logger.LogRecovery(replayed, err)
			return err
		}
		if tombstone {
			continue
		}

		hist, err := x.docs.History(key)
		if err != nil {
			x.logger.LogRecovery(replayed, err)
			return err
		}
		if len(hist) > 0 {
			for _, h := range hist[:len(hist)-1] {
				x.deleted.Set(h, true)
			}
		}

		if err := x.addTerms(rec, x.opts.tokenizer.Terms(doc.Text)); err != nil {
			x.logger.LogRecovery(replayed, err)
			return err
		}
		replayed++
	}

	x.logger.LogRecovery(replayed, nil)
	return nil
}

func (x *Index) check() error {
	if x.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (x *Index) requireDocs() error {
	if err := x.check(); err != nil {
		return err
	}
	if x.docs == nil {
		return ErrNoDocuments
	}
	return nil
}

// addTerms flags rec in the postings of every term. Callers hold mu or own x
// exclusively.
func (x *Index) addTerms(rec int, terms []string) error {
	changed := false
	for _, term := range terms {
		if term == "" || len(term) > maxTermLen {
			continue
		}
		if h, ok := x.words[term]; ok {
			if err := x.postings.SetDuplicate(h, rec); err != nil {
				return err
			}
			continue
		}

		h, err := x.postings.FreeHandle()
		if err != nil {
			return err
		}
		if err := x.postings.SetDuplicate(h, rec); err != nil {
			return err
		}
		x.words[term] = h
		changed = true
	}
	if changed {
		x.version++
	}
	return nil
}

// IndexText flags rec in the postings of every term of text. It is the
// record-mode entry point; document indexes use Index.
func (x *Index) IndexText(rec int, text string) error {
	if err := x.check(); err != nil {
		return err
	}
	if x.docs != nil {
		return fmt.Errorf("%w: IndexText on a document index", ErrPrecondition)
	}
	if rec < 0 {
		return fmt.Errorf("%w: negative record number %d", ErrPrecondition, rec)
	}

	terms := x.opts.tokenizer.Terms(text)

	x.mu.Lock()
	defer x.mu.Unlock()

	return translateError(x.addTerms(rec, terms))
}

// Index stores doc and indexes its text under a new document number, which
// it returns. A document already stored under the same key is flagged
// deleted.
func (x *Index) Index(doc Document) (int, error) {
	start := time.Now()
	n, terms, err := x.index(doc)
	x.opts.metricsCollector.RecordIndex(time.Since(start), err)
	x.logger.LogIndex(doc.Key, n, terms, err)
	if err != nil {
		return -1, translateError(err)
	}
	x.bump(counterIndexed)
	return n, nil
}

func (x *Index) index(doc Document) (int, int, error) {
	if err := x.requireDocs(); err != nil {
		return -1, 0, err
	}
	if doc.Key == "" {
		return -1, 0, fmt.Errorf("%w: document without key", ErrPrecondition)
	}

	terms := x.opts.tokenizer.Terms(doc.Text)

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.check(); err != nil {
		return -1, 0, err
	}

	prev, ok, err := x.docs.Lookup(doc.Key)
	if err != nil {
		return -1, 0, err
	}
	if ok {
		x.deleted.Set(prev, true)
	}

	doc.DocNumber = x.docs.RecordCount()
	rec, err := x.docs.SetObject(doc.Key, doc)
	if err != nil {
		return -1, 0, err
	}
	if rec != doc.DocNumber {
		return -1, 0, storeerr.Corrupt.New("document %q stored as record %d, expected %d", doc.Key, rec, doc.DocNumber)
	}

	if err := x.addTerms(rec, terms); err != nil {
		return -1, 0, err
	}
	return rec, len(terms), nil
}

// IndexBatch indexes docs one by one. Documents that fail are logged and
// skipped; the returned error combines their failures.
func (x *Index) IndexBatch(docs []Document) (int, error) {
	start := time.Now()
	var group errs.Group
	indexed := 0
	for _, doc := range docs {
		if _, err := x.Index(doc); err != nil {
			if x.closed.Load() {
				group.Add(err)
				break
			}
			group.Add(fmt.Errorf("document %q: %w", doc.Key, err))
			continue
		}
		indexed++
	}

	failed := len(docs) - indexed
	x.opts.metricsCollector.RecordBatchIndex(len(docs), failed, time.Since(start))
	x.logger.LogBatchIndex(len(docs), failed)
	return indexed, group.Err()
}

// Query evaluates filter against the postings and returns the matching
// record numbers. NOT clauses complement against maxSize records. In
// document mode deleted documents are removed from the result.
func (x *Index) Query(filter string, maxSize int) (*postings.Set, error) {
	if err := x.check(); err != nil {
		return nil, err
	}
	if maxSize < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrInvalidQuery, maxSize)
	}

	start := time.Now()
	set, err := x.execute(filter, maxSize)
	took := time.Since(start)

	n := 0
	if set != nil {
		n = set.CountOnes()
	}
	x.opts.metricsCollector.RecordQuery(n, took, err)
	x.logger.LogQuery(filter, n, took, err)
	if err != nil {
		return nil, translateError(err)
	}
	x.bump(counterQueries)
	return set, nil
}

// FindRows returns the numbers of the live documents matching filter.
func (x *Index) FindRows(filter string) ([]int, error) {
	if err := x.requireDocs(); err != nil {
		return nil, err
	}
	records := x.docs.RecordCount()
	set, err := x.Query(filter, records)
	if err != nil {
		return nil, err
	}
	rows := make([]int, 0, set.CountOnes())
	for r := range set.Indexes() {
		if r >= records {
			break
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// FindDocuments returns the live documents matching filter.
func (x *Index) FindDocuments(filter string) ([]Document, error) {
	return Find[Document](x, filter)
}

// Find decodes the live documents matching filter into T, which lets callers
// read their own document shape or only some fields.
func Find[T any](x *Index, filter string) ([]T, error) {
	rows, err := x.FindRows(filter)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		var v T
		if _, _, err := x.docs.ReadObject(r, &v); err != nil {
			return nil, translateError(err)
		}
		out = append(out, v)
	}
	return out, nil
}

// FindDocumentKeys returns the keys of the live documents matching filter.
func (x *Index) FindDocumentKeys(filter string) ([]string, error) {
	rows, err := x.FindRows(filter)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		key, _, _, err := x.docs.ReadRecord(r)
		if err != nil {
			return nil, translateError(err)
		}
		out = append(out, key)
	}
	return out, nil
}

// Fetch returns document docNum, deleted or not.
func (x *Index) Fetch(docNum int) (Document, error) {
	if err := x.requireDocs(); err != nil {
		return Document{}, err
	}
	var doc Document
	if _, _, err := x.docs.ReadObject(docNum, &doc); err != nil {
		return Document{}, translateError(err)
	}
	return doc, nil
}

// RemoveDocument flags docNum deleted.
func (x *Index) RemoveDocument(docNum int) error {
	start := time.Now()
	err := x.remove(docNum)
	x.opts.metricsCollector.RecordDelete(time.Since(start), err)
	x.logger.LogDelete(docNum, err)
	if err != nil {
		return translateError(err)
	}
	x.bump(counterRemoved)
	return nil
}

func (x *Index) remove(docNum int) error {
	if err := x.requireDocs(); err != nil {
		return err
	}
	if docNum < 0 || docNum >= x.docs.RecordCount() {
		return fmt.Errorf("%w: document %d out of range", ErrPrecondition, docNum)
	}
	x.deleted.Set(docNum, true)
	return nil
}

// RemoveDocumentByKey flags the current document stored under key deleted.
// It reports false when there is no live document for key.
func (x *Index) RemoveDocumentByKey(key string) (bool, error) {
	rec, ok, err := x.current(key)
	if err != nil || !ok {
		return false, err
	}
	return true, x.RemoveDocument(rec)
}

// IsIndexed reports whether a live document is stored under key.
func (x *Index) IsIndexed(key string) (bool, error) {
	_, ok, err := x.current(key)
	return ok, err
}

func (x *Index) current(key string) (int, bool, error) {
	if err := x.requireDocs(); err != nil {
		return -1, false, err
	}
	rec, ok, err := x.docs.Lookup(key)
	if err != nil {
		return -1, false, translateError(err)
	}
	if !ok || x.deleted.Get(rec) {
		return -1, false, nil
	}
	return rec, true, nil
}

// Words returns the vocabulary in ascending order.
func (x *Index) Words() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Sorted(maps.Keys(x.words))
}

// WordCount returns the vocabulary size.
func (x *Index) WordCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.words)
}

// DocumentCount returns the number of live documents.
func (x *Index) DocumentCount() int {
	return x.documentCount()
}

func (x *Index) documentCount() int {
	if x.docs == nil {
		return 0
	}
	return x.docs.RecordCount() - x.deleted.CountOnes()
}

// Stats describes the index.
type Stats struct {
	Words     int
	Handles   int
	Documents int
	Records   int
	Deleted   int

	// Lifetime counters kept in the statistics store.
	Indexed int64
	Removed int64
	Queries int64
}

// Stats returns the current index statistics.
func (x *Index) Stats() (Stats, error) {
	if err := x.check(); err != nil {
		return Stats{}, err
	}
	st := Stats{
		Words:   x.WordCount(),
		Handles: x.postings.Len(),
	}
	if x.docs == nil {
		return st, nil
	}
	st.Records = x.docs.RecordCount()
	st.Deleted = x.deleted.CountOnes()
	st.Documents = st.Records - st.Deleted

	for key, dst := range map[string]*int64{
		counterIndexed: &st.Indexed,
		counterRemoved: &st.Removed,
		counterQueries: &st.Queries,
	} {
		if _, err := x.stats.Get(key, dst); err != nil {
			return Stats{}, translateError(err)
		}
	}
	return st, nil
}

func (x *Index) bump(key string) {
	if x.stats == nil {
		return
	}
	if _, err := x.stats.Increment(key, 1); err != nil {
		x.logger.Warn("statistics update failed", "counter", key, "error", err)
	}
}

// Save persists the vocabulary, the postings, the deletion bitmap and the
// document key index.
func (x *Index) Save() error {
	if err := x.check(); err != nil {
		return err
	}
	return x.saveAndRecord()
}

func (x *Index) saveAndRecord() error {
	start := time.Now()
	words, err := x.save()
	took := time.Since(start)
	x.opts.metricsCollector.RecordSave(took, err)
	x.logger.LogSave(words, took, err)
	return translateError(err)
}

func (x *Index) save() (int, error) {
	x.saveMu.Lock()
	defer x.saveMu.Unlock()

	x.mu.RLock()
	version := x.version
	var words map[string]int
	if version != x.saved {
		words = maps.Clone(x.words)
	}
	count := len(x.words)
	records := 0
	if x.docs != nil {
		records = x.docs.RecordCount()
	}
	x.mu.RUnlock()

	var g errgroup.Group
	g.Go(func() error { return x.postings.Commit(x.opts.freeMemoryOnSave) })
	if x.docs != nil {
		g.Go(x.deleted.Save)
		g.Go(x.docs.SaveIndex)
	}
	if err := g.Wait(); err != nil {
		return count, err
	}

	// Every handle in words is committed by now, so the vocabulary on disk
	// never names a handle the offsets file does not hold.
	if words != nil {
		if err := writeWords(x.opts.fs, x.path(x.opts.name+wordsExt), words); err != nil {
			return count, err
		}
	}
	x.saved = version

	if x.stats != nil {
		if err := x.stats.Set(savedRecordsKey, records); err != nil {
			return count, err
		}
		if err := x.stats.Save(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// FreeMemory saves the index and drops cached postings and pages.
func (x *Index) FreeMemory() error {
	if err := x.Save(); err != nil {
		return err
	}
	x.postings.FreeMemory()
	if x.docs != nil {
		x.deleted.FreeMemory()
		x.docs.FreeMemory()
		x.stats.FreeMemory()
	}
	return nil
}

// Optimize saves the index and then rewrites the postings files, the
// document key index postings and the statistics store compactly.
func (x *Index) Optimize(ctx context.Context) error {
	if err := x.Save(); err != nil {
		return err
	}

	start := time.Now()
	err := x.postings.Optimize(ctx)
	if err == nil && x.docs != nil {
		err = errs.Combine(x.docs.Optimize(ctx), x.stats.Compact(ctx))
	}
	x.logger.LogOptimize(time.Since(start), err)
	return translateError(err)
}

// Close saves and closes the index. It is safe to call more than once.
func (x *Index) Close() error {
	if !x.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Wait for in-flight indexing.
	x.mu.Lock()
	x.mu.Unlock() //nolint:staticcheck // SA2001: barrier

	saveErr := x.saveAndRecord()
	closeErr := translateError(x.closeParts())
	x.logger.Info("index closed")
	return errs.Combine(saveErr, closeErr)
}

func (x *Index) closeParts() error {
	var g errgroup.Group
	if x.postings != nil {
		g.Go(x.postings.Close)
	}
	if x.docs != nil {
		g.Go(x.docs.Close)
	}
	if x.deleted != nil {
		g.Go(x.deleted.Close)
	}
	if x.stats != nil {
		g.Go(x.stats.Close)
	}
	return g.Wait()
}
