package pagefile

import (
	"cmp"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zeebo/errs"

	"github.com/hupe1980/inkdex/codec"
	"github.com/hupe1980/inkdex/internal/blockfile"
	"github.com/hupe1980/inkdex/internal/fs"
	"github.com/hupe1980/inkdex/internal/keys"
	"github.com/hupe1980/inkdex/internal/storeerr"
)

const (
	fileHeaderSize = 15
	pageHeaderSize = 15

	kindLeaf byte = 0
	kindList byte = 1

	stringsExt = ".strings"

	// DefaultPageCapacity is the number of slots per page.
	DefaultPageCapacity = 10000
)

var (
	fileMagic = [3]byte{'M', 'G', 'I'}
	pageMagic = [4]byte{'P', 'A', 'G', 'E'}
)

// Options configures a File.
type Options struct {
	FS           fs.FileSystem
	Logger       *slog.Logger
	PageCapacity int
	// Codec encodes the key lists of external pages.
	Codec codec.Codec
}

// DefaultOptions are used by Open.
var DefaultOptions = Options{
	FS:           fs.Default,
	PageCapacity: DefaultPageCapacity,
	Codec:        codec.Default,
}

// File is a page file for keys of type K.
type File[K cmp.Ordered] struct {
	mu       sync.Mutex
	path     string
	fsys     fs.FileSystem
	logger   *slog.Logger
	f        fs.File
	keys     keys.Codec[K]
	enc      codec.Codec
	capacity int
	keyWidth int
	slotSize int
	pageSize int
	last     int32
	next     atomic.Int64
	strings  *blockfile.File

	listPages []int
}

// Open opens or creates the page file at path.
func Open[K cmp.Ordered](path string, kc keys.Codec[K], optFns ...func(o *Options)) (*File[K], error) {
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
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.PageCapacity <= 0 || opts.PageCapacity > 0xFFFF {
		return nil, storeerr.Precondition.New("page capacity %d outside [1, 65535]", opts.PageCapacity)
	}

	f, err := opts.FS.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, storeerr.IO.Wrap(err)
	}

	pf := &File[K]{
		path:      path,
		fsys:      opts.FS,
		logger:    opts.Logger,
		f:         f,
		keys:      kc,
		enc:       opts.Codec,
		capacity:  opts.PageCapacity,
		keyWidth:  kc.Size(),
		listPages: []int{0},
	}

	if err := pf.init(); err != nil {
		return nil, errs.Combine(err, f.Close())
	}

	if kc.External() {
		pf.strings, err = blockfile.Open(strings.TrimSuffix(path, filepath.Ext(path))+stringsExt, func(o *blockfile.Options) {
			o.FS = opts.FS
			o.Logger = opts.Logger
			o.KeyType = byte(kc.Type())
		})
		if err != nil {
			return nil, errs.Combine(err, f.Close())
		}
	}

	return pf, nil
}

func (p *File[K]) init() error {
	fi, err := p.f.Stat()
	if err != nil {
		return storeerr.IO.Wrap(err)
	}

	if fi.Size() == 0 {
		p.layout()
		p.next.Store(1)
		if err := p.writeHeader(); err != nil {
			return err
		}
		return p.writeListPage(0, nil, -1)
	}

	var hdr [fileHeaderSize]byte
	if _, err := p.f.ReadAt(hdr[:], 0); err != nil {
		return storeerr.Corrupt.New("page file %s: short header", p.path)
	}
	if [3]byte(hdr[:3]) != fileMagic {
		return storeerr.Corrupt.New("page file %s: bad magic %q", p.path, hdr[:3])
	}
	if int(hdr[3]) != p.keyWidth || keys.Type(hdr[10]) != p.keys.Type() {
		return storeerr.Precondition.New("page file %s: key type %d/%d, opened as %d/%d",
			p.path, hdr[10], hdr[3], p.keys.Type(), p.keyWidth)
	}
	p.capacity = int(binary.LittleEndian.Uint16(hdr[4:]))
	p.last = int32(binary.LittleEndian.Uint32(hdr[11:])) //nolint:gosec // G115: stored signed
	p.layout()

	n := (fi.Size() - fileHeaderSize + int64(p.pageSize) - 1) / int64(p.pageSize)
	p.next.Store(max(n, 1))
	return nil
}

func (p *File[K]) layout() {
	p.slotSize = 1 + p.keyWidth + 8
	p.pageSize = pageHeaderSize + p.capacity*p.slotSize
}

func (p *File[K]) writeHeader() error {
	var hdr [fileHeaderSize]byte
	copy(hdr[:3], fileMagic[:])
	hdr[3] = byte(p.keyWidth)
	binary.LittleEndian.PutUint16(hdr[4:], uint16(p.capacity)) //nolint:gosec // G115: checked in Open
	hdr[10] = byte(p.keys.Type())
	binary.LittleEndian.PutUint32(hdr[11:], uint32(p.last)) //nolint:gosec // G115: stored signed
	if _, err := p.f.WriteAt(hdr[:], 0); err != nil {
		return storeerr.IO.Wrap(err)
	}
	return nil
}

// PageCapacity returns the number of slots per page.
func (p *File[K]) PageCapacity() int { return p.capacity }

// LastIndexed returns the record count stored in the header, 0 for a new
// file.
func (p *File[K]) LastIndexed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.last)
}

// SetLastIndexed stores n in the header.
func (p *File[K]) SetLastIndexed(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = int32(n) //nolint:gosec // G115: record numbers fit in int32
	return p.writeHeader()
}

// NewPageNumber reserves a page number.
func (p *File[K]) NewPageNumber() int {
	return int(p.next.Add(1) - 1)
}

func (p *File[K]) pageOffset(n int) int64 {
	return fileHeaderSize + int64(n)*int64(p.pageSize)
}

type rawSlot struct {
	key  []byte
	a, b int32
}

// readPage returns the kind, next pointer and slots of page n.
func (p *File[K]) readPage(n int) (byte, int, []rawSlot, error) {
	buf := make([]byte, p.pageSize)
	k, err := p.f.ReadAt(buf, p.pageOffset(n))
	if k < pageHeaderSize {
		return 0, 0, nil, storeerr.Corrupt.New("page %d unreadable: %v", n, err)
	}
	if [4]byte(buf[:4]) != pageMagic {
		return 0, 0, nil, storeerr.Corrupt.New("page %d: bad magic %q", n, buf[:4])
	}

	kind := buf[4]
	count := int(binary.LittleEndian.Uint16(buf[5:]))
	next := int(int32(binary.LittleEndian.Uint32(buf[11:]))) //nolint:gosec // G115: stored signed
	if count > p.capacity {
		return 0, 0, nil, storeerr.Corrupt.New("page %d holds %d slots, capacity %d", n, count, p.capacity)
	}
	if pageHeaderSize+count*p.slotSize > k {
		return 0, 0, nil, storeerr.Corrupt.New("page %d truncated", n)
	}

	slots := make([]rawSlot, count)
	pos := pageHeaderSize
	for i := range slots {
		kl := int(buf[pos])
		if kl > p.keyWidth {
			return 0, 0, nil, storeerr.Corrupt.New("page %d slot %d: key length %d", n, i, kl)
		}
		slots[i] = rawSlot{
			key: buf[pos+1 : pos+1+kl],
			a:   int32(binary.LittleEndian.Uint32(buf[pos+1+p.keyWidth:])),   //nolint:gosec // G115: stored signed
			b:   int32(binary.LittleEndian.Uint32(buf[pos+1+p.keyWidth+4:])), //nolint:gosec // G115: stored signed
		}
		pos += p.slotSize
	}
	return kind, next, slots, nil
}

func (p *File[K]) writePage(n int, kind byte, next int, slots []rawSlot) error {
	if len(slots) > p.capacity {
		return storeerr.Precondition.New("page %d: %d slots exceed capacity %d", n, len(slots), p.capacity)
	}

	buf := make([]byte, p.pageSize)
	copy(buf, pageMagic[:])
	buf[4] = kind
	binary.LittleEndian.PutUint16(buf[5:], uint16(len(slots)))  //nolint:gosec // G115: bounded by capacity
	binary.LittleEndian.PutUint32(buf[11:], uint32(int32(next))) //nolint:gosec // G115: -1 sentinel

	pos := pageHeaderSize
	for _, s := range slots {
		buf[pos] = byte(len(s.key))
		copy(buf[pos+1:pos+1+p.keyWidth], s.key)
		binary.LittleEndian.PutUint32(buf[pos+1+p.keyWidth:], uint32(s.a))   //nolint:gosec // G115: stored signed
		binary.LittleEndian.PutUint32(buf[pos+1+p.keyWidth+4:], uint32(s.b)) //nolint:gosec // G115: stored signed
		pos += p.slotSize
	}

	if _, err := p.f.WriteAt(buf, p.pageOffset(n)); err != nil {
		return storeerr.IO.Wrap(err)
	}
	return nil
}

func blockRef(n int) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(n)) //nolint:gosec // G115: block numbers fit
}

func chainKey(kind byte, page int) []byte {
	return binary.LittleEndian.AppendUint32([]byte{kind}, uint32(page)) //nolint:gosec // G115: page numbers fit
}

// encodeKeys turns ks into slot keys, writing an external chain if needed.
// It returns the slot keys and the chain head (-1 for inline keys).
func (p *File[K]) encodeKeys(kind byte, page int, ks []K) ([][]byte, int, error) {
	out := make([][]byte, len(ks))
	if !p.keys.External() {
		for i, k := range ks {
			out[i] = p.keys.Encode(k)
		}
		return out, -1, nil
	}

	if len(ks) == 0 {
		return out, -1, nil
	}

	data, err := p.enc.Marshal(ks)
	if err != nil {
		return nil, -1, storeerr.Precondition.Wrap(err)
	}
	head, err := p.strings.WriteChain(chainKey(kind, page), byte(p.keys.Type()), blockfile.FlagBinary, data)
	if err != nil {
		return nil, -1, err
	}
	ref := blockRef(head)
	for i := range out {
		out[i] = ref
	}
	return out, head, nil
}

// decodeKeys turns slot keys back into keys, returning the chain head.
func (p *File[K]) decodeKeys(slots []rawSlot) ([]K, int, error) {
	out := make([]K, len(slots))
	if !p.keys.External() {
		for i, s := range slots {
			k, err := p.keys.Decode(s.key)
			if err != nil {
				return nil, -1, err
			}
			out[i] = k
		}
		return out, -1, nil
	}

	if len(slots) == 0 {
		return out, -1, nil
	}
	if len(slots[0].key) != 4 {
		return nil, -1, storeerr.Corrupt.New("external key reference of %d bytes", len(slots[0].key))
	}

	head := int(binary.LittleEndian.Uint32(slots[0].key))
	_, data, err := p.strings.ReadChain(head)
	if err != nil {
		return nil, -1, err
	}
	var ks []K
	if err := p.enc.Unmarshal(data, &ks); err != nil {
		return nil, -1, storeerr.Corrupt.Wrap(err)
	}
	if len(ks) != len(slots) {
		return nil, -1, storeerr.Corrupt.New("external key list holds %d keys for %d slots", len(ks), len(slots))
	}
	return ks, head, nil
}

// LoadPage reads leaf page n.
func (p *File[K]) LoadPage(n int) (*Page[K], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kind, next, slots, err := p.readPage(n)
	if err != nil {
		return nil, err
	}
	if kind != kindLeaf {
		return nil, storeerr.Corrupt.New("page %d is not a leaf page", n)
	}

	ks, head, err := p.decodeKeys(slots)
	if err != nil {
		return nil, err
	}

	page := &Page[K]{
		Number:  n,
		Right:   next,
		Items:   make(map[K]KeyInfo, len(slots)),
		extHead: head,
	}
	for i, s := range slots {
		page.Items[ks[i]] = KeyInfo{Rec: int(s.a), Dup: int(s.b)}
	}
	return page, nil
}

// SavePage writes a leaf page and clears its dirty flag.
func (p *File[K]) SavePage(page *Page[K]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(page.Items) > p.capacity {
		return storeerr.Precondition.New("page %d: %d keys exceed capacity %d", page.Number, len(page.Items), p.capacity)
	}

	ks := page.SortedKeys()
	encoded, head, err := p.encodeKeys(kindLeaf, page.Number, ks)
	if err != nil {
		return err
	}

	slots := make([]rawSlot, len(ks))
	for i, k := range ks {
		ki := page.Items[k]
		slots[i] = rawSlot{key: encoded[i], a: int32(ki.Rec), b: int32(ki.Dup)} //nolint:gosec // G115: record numbers fit
	}
	if err := p.writePage(page.Number, kindLeaf, page.Right, slots); err != nil {
		return err
	}

	if page.extHead >= 0 {
		if err := p.strings.FreeChain(page.extHead); err != nil {
			p.logger.Error("free external keys failed", "page", page.Number, "error", err)
		}
	}
	page.extHead = head
	page.Dirty = false
	return nil
}

// LoadPageList reads the page list.
func (p *File[K]) LoadPageList() ([]DirEntry[K], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		out   []DirEntry[K]
		pages []int
	)
	for n := 0; n >= 0; {
		if len(pages) > int(p.next.Load()) {
			return nil, storeerr.Corrupt.New("page list loops")
		}
		kind, next, slots, err := p.readPage(n)
		if err != nil {
			return nil, err
		}
		if kind != kindList {
			return nil, storeerr.Corrupt.New("page %d is not a page list page", n)
		}
		ks, _, err := p.decodeKeys(slots)
		if err != nil {
			return nil, err
		}
		for i, s := range slots {
			out = append(out, DirEntry[K]{Key: ks[i], Info: PageInfo{Page: int(s.a), UniqueCount: int(s.b)}})
		}
		pages = append(pages, n)
		n = next
	}

	p.listPages = pages
	return out, nil
}

// SavePageList writes the page list, reusing the list pages of the previous
// save and chaining new ones as needed.
func (p *File[K]) SavePageList(entries []DirEntry[K]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	chunks := max(1, (len(entries)+p.capacity-1)/p.capacity)
	for len(p.listPages) < chunks {
		p.listPages = append(p.listPages, p.NewPageNumber())
	}

	for c := range chunks {
		lo := c * p.capacity
		hi := min(lo+p.capacity, len(entries))
		next := -1
		if c+1 < chunks {
			next = p.listPages[c+1]
		}
		if err := p.writeListPage(p.listPages[c], entries[lo:hi], next); err != nil {
			return err
		}
	}
	return nil
}

func (p *File[K]) writeListPage(n int, entries []DirEntry[K], next int) error {
	old := -1
	if p.strings != nil {
		if _, _, slots, err := p.readPage(n); err == nil && len(slots) > 0 && len(slots[0].key) == 4 {
			old = int(binary.LittleEndian.Uint32(slots[0].key))
		}
	}

	ks := make([]K, len(entries))
	for i, e := range entries {
		ks[i] = e.Key
	}
	encoded, _, err := p.encodeKeys(kindList, n, ks)
	if err != nil {
		return err
	}

	slots := make([]rawSlot, len(entries))
	for i, e := range entries {
		slots[i] = rawSlot{key: encoded[i], a: int32(e.Info.Page), b: int32(e.Info.UniqueCount)} //nolint:gosec // G115: page numbers fit
	}
	if err := p.writePage(n, kindList, next, slots); err != nil {
		return err
	}

	if old >= 0 {
		if err := p.strings.FreeChain(old); err != nil {
			p.logger.Error("free external keys failed", "page", n, "error", err)
		}
	}
	return nil
}

// Sync flushes the page file and its external keys.
func (p *File[K]) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := storeerr.Classify(p.f.Sync())
	if p.strings != nil {
		err = errs.Combine(err, p.strings.Sync())
	}
	return err
}

// Close closes the page file.
func (p *File[K]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.strings != nil {
		err = p.strings.Close()
	}
	return errs.Combine(err, storeerr.Classify(p.f.Sync()), storeerr.Classify(p.f.Close()))
}
