package sirixdb

import (
	"github.com/pkg/errors"

	"sirixdb/internal/page"
	"sirixdb/internal/storage"
)

// ReadTrx is a read-only view of one committed revision. Record lookups
// walk the indirect trie to a leaf reference, collect the leaf's version
// history, and combine it per the resource's revisioning policy.
//
// A ReadTrx is not safe for concurrent use; open one per goroutine.
type ReadTrx struct {
	res        *Resource
	reader     storage.Reader
	ownsReader bool

	uber     *page.UberPage
	revision int32
	root     *page.RevisionRootPage
	namePage *page.NamePage

	// memo keeps the most recently combined record page; sequential reads
	// within one leaf skip the trie walk and history merge.
	memo struct {
		valid   bool
		pageKey int64
		kind    page.Kind
		page    *page.KeyValuePage
	}

	closed bool
}

func newReadTrx(res *Resource, reader storage.Reader, ownsReader bool,
	uber *page.UberPage, revision int32) *ReadTrx {
	return &ReadTrx{
		res:        res,
		reader:     reader,
		ownsReader: ownsReader,
		uber:       uber,
		revision:   revision,
	}
}

// Revision returns the revision this transaction observes.
func (t *ReadTrx) Revision() int32 { return t.revision }

// UberPage returns the uber page anchoring this snapshot.
func (t *ReadTrx) UberPage() *page.UberPage { return t.uber }

// MaxRecordKey returns the highest allocated record key of a subtree in
// this revision, -1 when the subtree is empty.
func (t *ReadTrx) MaxRecordKey(kind page.Kind) (int64, error) {
	if t.closed {
		return 0, ErrTrxClosed
	}
	if !kind.IsRecordKind() {
		return 0, errors.Wrapf(ErrNotRecordKind, "%s", kind)
	}
	return t.root.MaxRecordKey(kind), nil
}

// GetRecord resolves a record in the given subtree. Absent and tombstoned
// records both surface as ErrNotFound.
func (t *ReadTrx) GetRecord(recordKey int64, kind page.Kind) (*page.Record, error) {
	if t.closed {
		return nil, ErrTrxClosed
	}
	if recordKey < 0 {
		return nil, errors.Wrapf(ErrNegativeKey, "record key %d", recordKey)
	}
	if !kind.IsRecordKind() {
		return nil, errors.Wrapf(ErrNotRecordKind, "%s", kind)
	}

	kv, err := t.recordPage(page.PageKeyOf(recordKey), kind)
	if err != nil {
		return nil, err
	}
	if kv == nil {
		return nil, ErrNotFound
	}
	rec := kv.Value(recordKey)
	if rec == nil || rec.Deleted() {
		return nil, ErrNotFound
	}
	return rec, nil
}

// GetName resolves an interned name from this revision's name page.
func (t *ReadTrx) GetName(nameKey int32, nodeKind uint8) (string, error) {
	if t.closed {
		return "", ErrTrxClosed
	}
	np, err := t.loadNamePage()
	if err != nil {
		return "", err
	}
	name := np.Name(nameKey, nodeKind)
	if name == "" {
		return "", ErrNotFound
	}
	return name, nil
}

// Close releases the transaction's reader.
func (t *ReadTrx) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.memo.valid = false
	if t.ownsReader {
		return t.reader.Close()
	}
	return nil
}

// loadRevisionRoot resolves this transaction's revision root. The
// memory-mapped reader uses the revisions-offset file as a dense index;
// the buffered reader walks the uber trie.
func (t *ReadTrx) loadRevisionRoot() error {
	if _, mmap := t.reader.(interface{ SetDataSegment() error }); mmap {
		root, err := t.reader.ReadRevisionRootPage(t.revision)
		if err != nil {
			return err
		}
		t.root = root
		return nil
	}

	leaf, err := resolveTriePath(t.uber.IndirectRef, int64(t.revision),
		t.uber.PageCountExp(page.KindUber), t.dereference)
	if err != nil {
		return err
	}
	if leaf == nil || leaf.IsNull() {
		return errors.Wrapf(ErrInvalidRevision, "revision %d", t.revision)
	}
	p, err := t.dereference(leaf)
	if err != nil {
		return err
	}
	root, ok := p.(*page.RevisionRootPage)
	if !ok {
		return errors.Wrapf(ErrCorruptPage, "revision %d resolves to %s page", t.revision, p.Kind())
	}
	t.root = root
	return nil
}

// dereference loads the page behind a reference, consulting the shared
// page cache first. Persisted pages are immutable so cached entries never
// go stale.
func (t *ReadTrx) dereference(ref *page.Reference) (page.Page, error) {
	if ref.Page != nil {
		return ref.Page, nil
	}
	if ref.Key == page.NullID {
		return nil, errors.Wrap(ErrNotFound, "dangling page reference")
	}
	if p, ok := t.res.cache.Get(ref.Key); ok {
		return p, nil
	}
	p, err := t.reader.Read(ref)
	if err != nil {
		return nil, err
	}
	t.res.cache.Put(ref.Key, p)
	return p, nil
}

// recordPage materializes the combined view of one record page, or nil if
// the leaf was never written in this revision's history.
func (t *ReadTrx) recordPage(pageKey int64, kind page.Kind) (*page.KeyValuePage, error) {
	if t.memo.valid && t.memo.pageKey == pageKey && t.memo.kind == kind {
		return t.memo.page, nil
	}

	leaf, err := resolveTriePath(t.root.SubtreeReference(kind), pageKey,
		t.uber.PageCountExp(kind), t.dereference)
	if err != nil {
		return nil, err
	}
	if leaf == nil || leaf.IsNull() {
		return nil, nil
	}

	versions, _, err := t.collectHistory(leaf.Key)
	if err != nil {
		return nil, err
	}
	combined := t.res.opts.policy.CombineForRead(versions)

	t.memo.valid = true
	t.memo.pageKey = pageKey
	t.memo.kind = kind
	t.memo.page = combined
	return combined, nil
}

// historyOffsets records where each collected version lives on disk.
type historyOffsets struct {
	prev     int64 // newest version
	lastFull int64 // newest full dump, NullID if outside the window
}

// collectHistory reads the version chain of a record page newest-first,
// following back-pointers until a full dump or the policy's window bound.
func (t *ReadTrx) collectHistory(offset int64) ([]*page.KeyValuePage, historyOffsets, error) {
	offsets := historyOffsets{prev: offset, lastFull: page.NullID}
	maxHistory := t.res.opts.policy.MaxHistory(t.res.opts.revisionsToRestore)

	var versions []*page.KeyValuePage
	for offset != page.NullID && len(versions) < maxHistory {
		ref := page.NewReference()
		ref.Key = offset
		p, err := t.dereference(ref)
		if err != nil {
			return nil, offsets, err
		}
		kv, ok := p.(*page.KeyValuePage)
		if !ok {
			return nil, offsets, errors.Wrapf(ErrCorruptPage, "history holds %s page", p.Kind())
		}
		versions = append(versions, kv)
		if kv.FullDump {
			offsets.lastFull = offset
			break
		}
		offset = kv.Previous
	}
	return versions, offsets, nil
}

// loadNamePage lazily materializes the revision's name page.
func (t *ReadTrx) loadNamePage() (*page.NamePage, error) {
	if t.namePage != nil {
		return t.namePage, nil
	}
	if t.root.NameRef.IsNull() {
		t.namePage = page.NewNamePage()
		return t.namePage, nil
	}
	p, err := t.dereference(t.root.NameRef)
	if err != nil {
		return nil, err
	}
	np, ok := p.(*page.NamePage)
	if !ok {
		return nil, errors.Wrapf(ErrCorruptPage, "name reference holds %s page", p.Kind())
	}
	t.namePage = np
	return np, nil
}
